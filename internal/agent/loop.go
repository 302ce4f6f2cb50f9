package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
	"github.com/syne-agent/syne/internal/tools"
)

// MaxToolIterations bounds one turn's tool loop. When the model is still
// requesting tools at the limit, a final call without tools forces text.
const MaxToolIterations = 10

// providerTimeout bounds one completion call.
const providerTimeout = 120 * time.Second

// LoopRequest is one turn through the tool loop.
type LoopRequest struct {
	Model   string
	System  string
	History []providers.ChatMessage
	Params  providers.GenParams
	Inv     *tools.Invocation

	// OnChunk receives streaming text deltas of the final answer.
	OnChunk func(string)
}

// LoopResult is the turn's outcome plus the message rows to persist.
type LoopResult struct {
	Text        string
	Thinking    string
	NewMessages []*store.Message
	Usage       providers.Usage
}

// Loop drives provider completions and tool dispatch for one turn.
type Loop struct {
	registry *tools.Registry
	models   *providers.Registry
}

// NewLoop wires the loop.
func NewLoop(registry *tools.Registry, models *providers.Registry) *Loop {
	return &Loop{registry: registry, models: models}
}

// Run executes the tool loop until the model produces text or the iteration
// cap trips. Every assistant and tool message generated along the way is
// returned for persistence whether or not the turn succeeds downstream.
func (l *Loop) Run(ctx context.Context, req *LoopRequest) (*LoopResult, error) {
	provider, _, err := l.models.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	history := append([]providers.ChatMessage(nil), req.History...)
	specs := l.registry.Specs(req.Inv.Access, req.Inv.IsGroup)
	result := &LoopResult{}

	for iteration := 0; ; iteration++ {
		chatReq := &providers.ChatRequest{
			Model:    req.Model,
			System:   req.System,
			Messages: sanitizeHistory(history),
			Tools:    specs,
			Params:   req.Params,
		}
		if iteration >= MaxToolIterations {
			// Force a text answer. The error row makes the truncated
			// loop visible in the session record.
			chatReq.Tools = nil
			if iteration == MaxToolIterations {
				slog.Warn("tool iteration cap reached", "cap", MaxToolIterations)
				result.NewMessages = append(result.NewMessages, &store.Message{
					SessionID: req.Inv.SessionID,
					Role:      store.RoleTool,
					ToolName:  "loop",
					Content: fmt.Sprintf("Error: tool loop exceeded %d iterations; answering from what was gathered",
						MaxToolIterations),
				})
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, providerTimeout)
		resp, err := provider.ChatStream(callCtx, chatReq, req.OnChunk)
		cancel()
		if err != nil {
			return result, err
		}
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		if resp.Thinking != "" {
			result.Thinking = resp.Thinking
		}

		if !resp.HasToolCalls() {
			result.Text = resp.Content
			result.NewMessages = append(result.NewMessages, &store.Message{
				SessionID: req.Inv.SessionID,
				Role:      store.RoleAssistant,
				Content:   resp.Content,
			})
			return result, nil
		}

		// Record the assistant turn that requested tools.
		assistantRow := &store.Message{
			SessionID: req.Inv.SessionID,
			Role:      store.RoleAssistant,
			Content:   resp.Content,
			Metadata:  toolCallMeta(resp.ToolCalls),
		}
		result.NewMessages = append(result.NewMessages, assistantRow)
		history = append(history, providers.ChatMessage{
			Role:      providers.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		toolMsgs := l.runToolCalls(ctx, req.Inv, resp.ToolCalls)
		for _, tm := range toolMsgs {
			history = append(history, tm)
			args := json.RawMessage(argsFor(resp.ToolCalls, tm.ToolCallID))
			result.NewMessages = append(result.NewMessages, &store.Message{
				SessionID:  req.Inv.SessionID,
				Role:       store.RoleTool,
				Content:    tm.Content,
				ToolCallID: tm.ToolCallID,
				ToolName:   tm.ToolName,
				ToolArgs:   args,
			})
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}
}

// runToolCalls executes requested tools concurrently and returns results in
// request order so replay is deterministic.
func (l *Loop) runToolCalls(ctx context.Context, inv *tools.Invocation, calls []providers.ToolCall) []providers.ChatMessage {
	type indexed struct {
		i   int
		msg providers.ChatMessage
	}
	results := make([]indexed, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call providers.ToolCall) {
			defer wg.Done()
			start := time.Now()

			args, err := call.RawArguments()
			var res tools.Result
			if err != nil {
				res = tools.Errf("Error: arguments are not valid JSON: %v", err)
			} else {
				res = l.registry.Dispatch(ctx, inv, call.Name, args)
			}
			slog.Info("tool call", "tool", call.Name, "error", res.IsError,
				"duration", time.Since(start).Round(time.Millisecond))

			results[i] = indexed{i, providers.ChatMessage{
				Role:       providers.RoleTool,
				Content:    res.ForLLM,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			}}
		}(i, call)
	}
	wg.Wait()

	out := make([]providers.ChatMessage, len(calls))
	for _, r := range results {
		out[r.i] = r.msg
	}
	return out
}

// sanitizeHistory repairs tool call pairing before a provider sees the
// history: results without a matching call are dropped, calls without a
// result get a synthetic one. Providers reject mismatched pairs outright.
func sanitizeHistory(history []providers.ChatMessage) []providers.ChatMessage {
	calls := make(map[string]bool)
	for _, m := range history {
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = true
		}
	}

	answered := make(map[string]bool)
	var out []providers.ChatMessage
	for _, m := range history {
		if m.Role == providers.RoleTool {
			if !calls[m.ToolCallID] {
				continue
			}
			answered[m.ToolCallID] = true
		}
		out = append(out, m)

		// Synthesize results immediately after an assistant message whose
		// calls were never answered (crash mid-turn).
		if m.Role == providers.RoleAssistant && len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				if hasResultAfter(history, tc.ID) {
					continue
				}
				out = append(out, providers.ChatMessage{
					Role:       providers.RoleTool,
					Content:    "Error: tool execution was interrupted",
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
				})
			}
		}
	}
	return out
}

func hasResultAfter(history []providers.ChatMessage, callID string) bool {
	for _, m := range history {
		if m.Role == providers.RoleTool && m.ToolCallID == callID {
			return true
		}
	}
	return false
}

func toolCallMeta(calls []providers.ToolCall) map[string]any {
	list := make([]any, 0, len(calls))
	for _, c := range calls {
		list = append(list, map[string]any{
			"id": c.ID, "name": c.Name, "arguments": c.Arguments,
		})
	}
	return map[string]any{"tool_calls": list}
}

func argsFor(calls []providers.ToolCall, id string) string {
	for _, c := range calls {
		if c.ID == id {
			if c.Arguments == "" {
				return "{}"
			}
			return c.Arguments
		}
	}
	return "{}"
}

package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
	"github.com/syne-agent/syne/internal/tools"
)

// scriptedProvider replays canned responses and records each request.
type scriptedProvider struct {
	script   []*providers.ChatResponse
	requests []*providers.ChatRequest
	// whenNoTools overrides the script once the request carries no tools.
	whenNoTools *providers.ChatResponse
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Chat(_ context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if s.whenNoTools != nil && req.Tools == nil {
		return s.whenNoTools, nil
	}
	if len(s.script) == 0 {
		return nil, fmt.Errorf("script exhausted after %d calls", len(s.requests))
	}
	resp := s.script[0]
	s.script = s.script[1:]
	return resp, nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, req *providers.ChatRequest, onChunk func(string)) (*providers.ChatResponse, error) {
	resp, err := s.Chat(ctx, req)
	if err == nil && onChunk != nil && resp.Content != "" {
		onChunk(resp.Content)
	}
	return resp, err
}

func loopFixture(p providers.Provider) (*Loop, *tools.Registry) {
	models := providers.NewRegistry(providers.Credentials{}, nil, "test-model")
	models.AddModel(providers.ModelInfo{Name: "test-model", Provider: "scripted",
		ContextWindow: 100000, ReservedOutput: 4096})
	models.Register("scripted", p)

	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name:      "echo",
		MinAccess: store.AccessPublic,
		Handler: func(_ context.Context, _ *tools.Invocation, args map[string]any) tools.Result {
			text, _ := args["text"].(string)
			return tools.Ok("echo: %s", text)
		},
	})
	return NewLoop(reg, models), reg
}

func TestLoopToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{script: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`}},
			Usage: providers.Usage{InputTokens: 10, OutputTokens: 5}},
		{Content: "done", Usage: providers.Usage{InputTokens: 20, OutputTokens: 3}},
	}}
	loop, _ := loopFixture(p)

	result, err := loop.Run(context.Background(), &LoopRequest{
		Model:   "test-model",
		History: []providers.ChatMessage{{Role: providers.RoleUser, Content: "say hi"}},
		Inv:     &tools.Invocation{Access: store.AccessOwner},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "done" {
		t.Fatalf("Text = %q, want %q", result.Text, "done")
	}
	if result.Usage.InputTokens != 30 || result.Usage.OutputTokens != 8 {
		t.Fatalf("Usage = %+v, want 30/8", result.Usage)
	}

	// Rows to persist: assistant tool request, tool result, final assistant.
	if len(result.NewMessages) != 3 {
		t.Fatalf("NewMessages = %d rows, want 3", len(result.NewMessages))
	}
	if result.NewMessages[0].Role != store.RoleAssistant || result.NewMessages[0].Metadata == nil {
		t.Errorf("first row should be assistant with tool_calls metadata, got %+v", result.NewMessages[0])
	}
	toolRow := result.NewMessages[1]
	if toolRow.Role != store.RoleTool || toolRow.ToolCallID != "c1" || toolRow.ToolName != "echo" {
		t.Errorf("tool row = %+v", toolRow)
	}
	if toolRow.Content != "echo: hi" {
		t.Errorf("tool row content = %q", toolRow.Content)
	}
	if result.NewMessages[2].Content != "done" {
		t.Errorf("final row content = %q", result.NewMessages[2].Content)
	}

	// Second provider call must have seen the tool result.
	second := p.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != providers.RoleTool || last.Content != "echo: hi" {
		t.Errorf("second request last message = %+v", last)
	}
}

func TestLoopIterationCapForcesText(t *testing.T) {
	// Always asks for a tool while tools are offered; answers once they are
	// withheld.
	p := &scriptedProvider{whenNoTools: &providers.ChatResponse{Content: "forced answer"}}
	for i := 0; i < MaxToolIterations; i++ {
		p.script = append(p.script, &providers.ChatResponse{
			ToolCalls: []providers.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: "echo", Arguments: `{"text":"x"}`}},
		})
	}
	loop, _ := loopFixture(p)

	result, err := loop.Run(context.Background(), &LoopRequest{
		Model:   "test-model",
		History: []providers.ChatMessage{{Role: providers.RoleUser, Content: "loop forever"}},
		Inv:     &tools.Invocation{Access: store.AccessOwner},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "forced answer" {
		t.Fatalf("Text = %q, want forced answer", result.Text)
	}
	if got := len(p.requests); got != MaxToolIterations+1 {
		t.Fatalf("provider calls = %d, want %d", got, MaxToolIterations+1)
	}
	final := p.requests[len(p.requests)-1]
	if final.Tools != nil {
		t.Error("final request still offered tools")
	}

	// The truncation is recorded in the session as a tool error row right
	// before the forced answer.
	n := len(result.NewMessages)
	if n < 2 {
		t.Fatalf("NewMessages = %d rows", n)
	}
	capRow := result.NewMessages[n-2]
	if capRow.Role != store.RoleTool || !strings.Contains(capRow.Content, "tool loop exceeded") {
		t.Errorf("cap row = %+v, want tool error row", capRow)
	}
	if result.NewMessages[n-1].Content != "forced answer" {
		t.Errorf("final row = %+v", result.NewMessages[n-1])
	}
}

func TestLoopBadToolArguments(t *testing.T) {
	p := &scriptedProvider{script: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "echo", Arguments: `{not json`}}},
		{Content: "recovered"},
	}}
	loop, _ := loopFixture(p)

	result, err := loop.Run(context.Background(), &LoopRequest{
		Model:   "test-model",
		History: []providers.ChatMessage{{Role: providers.RoleUser, Content: "hi"}},
		Inv:     &tools.Invocation{Access: store.AccessOwner},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	toolRow := result.NewMessages[1]
	if toolRow.Role != store.RoleTool || toolRow.Content == "" {
		t.Fatalf("tool row = %+v", toolRow)
	}
	if got := toolRow.Content[:6]; got != "Error:" {
		t.Errorf("tool row should carry an error, got %q", toolRow.Content)
	}
	if result.Text != "recovered" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestSanitizeHistory(t *testing.T) {
	history := []providers.ChatMessage{
		{Role: providers.RoleUser, Content: "q1"},
		// Orphan result with no matching call anywhere.
		{Role: providers.RoleTool, Content: "stale", ToolCallID: "ghost"},
		// Call that never got a result.
		{Role: providers.RoleAssistant, ToolCalls: []providers.ToolCall{{ID: "c9", Name: "echo"}}},
		{Role: providers.RoleUser, Content: "q2"},
	}
	out := sanitizeHistory(history)

	for _, m := range out {
		if m.ToolCallID == "ghost" {
			t.Error("orphan tool result survived")
		}
	}
	found := false
	for i, m := range out {
		if m.Role == providers.RoleTool && m.ToolCallID == "c9" {
			found = true
			if m.Content != "Error: tool execution was interrupted" {
				t.Errorf("synthetic result content = %q", m.Content)
			}
			if out[i-1].Role != providers.RoleAssistant {
				t.Error("synthetic result not adjacent to its call")
			}
		}
	}
	if !found {
		t.Error("unanswered call got no synthetic result")
	}
}

func TestSanitizeHistoryKeepsValidPairs(t *testing.T) {
	history := []providers.ChatMessage{
		{Role: providers.RoleAssistant, ToolCalls: []providers.ToolCall{{ID: "c1", Name: "echo"}}},
		{Role: providers.RoleTool, Content: "ok", ToolCallID: "c1"},
	}
	out := sanitizeHistory(history)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2 (no synthesis, no drops)", len(out))
	}
}

package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/providers"
)

// autoCapturePrompt instructs a cheap evaluator model to mine a finished
// exchange for durable facts. The evaluator runs at temperature 0 so the
// same exchange yields the same extraction.
const autoCapturePrompt = `You extract durable facts about people from a conversation exchange.

Return a JSON array. Each element: {"content": "...", "category": "...", "importance": 0.0-1.0}.
Categories: personal_info, family, health, medical, preferences, facts, events, work.

Only include facts worth remembering for months: names, relationships, health
conditions, strong preferences, important dates, ongoing projects. Skip
small talk, transient states, and anything the agent said about itself.
Return [] when nothing qualifies.`

// AutoCapture runs the evaluator over one exchange and stores whatever it
// extracts through the dedup path. Failures are logged and swallowed; memory
// capture never breaks a conversation turn.
func (e *Engine) AutoCapture(ctx context.Context, provider providers.Provider, model, userText, assistantText string, userID *uuid.UUID) {
	if !e.Enabled() || provider == nil || model == "" {
		return
	}

	temp := 0.0
	resp, err := provider.Chat(ctx, &providers.ChatRequest{
		Model:  model,
		System: autoCapturePrompt,
		Messages: []providers.ChatMessage{{
			Role:    providers.RoleUser,
			Content: "User said:\n" + userText + "\n\nAgent replied:\n" + assistantText,
		}},
		Params: providers.GenParams{Temperature: &temp, MaxTokens: 1024},
	})
	if err != nil {
		slog.Debug("memory auto-capture skipped", "error", err)
		return
	}

	var facts []struct {
		Content    string  `json:"content"`
		Category   string  `json:"category"`
		Importance float64 `json:"importance"`
	}
	raw := extractJSONArray(resp.Content)
	if err := json.Unmarshal([]byte(raw), &facts); err != nil {
		slog.Debug("memory auto-capture unparseable", "error", err)
		return
	}

	for _, f := range facts {
		if strings.TrimSpace(f.Content) == "" || f.Category == "" {
			continue
		}
		if f.Importance <= 0 {
			f.Importance = 0.5
		}
		res, err := e.StoreIfNew(ctx, f.Content, f.Category, "auto", userID, f.Importance)
		if err != nil {
			slog.Warn("memory auto-capture store failed", "error", err)
			continue
		}
		slog.Debug("memory auto-capture", "action", res.Action, "category", f.Category)
	}
}

// extractJSONArray pulls the first JSON array out of model output that may
// be wrapped in prose or a code fence.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return "[]"
	}
	return s[start : end+1]
}

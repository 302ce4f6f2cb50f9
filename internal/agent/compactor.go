package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
)

// Compaction keeps this many trailing messages verbatim.
const keepTail = 25

// summaryMaxChars caps the stored summary row.
const summaryMaxChars = 2000

const summarizePrompt = `Summarize this conversation prefix for the agent's own future reference.
Keep: facts learned, decisions made, open commitments, people mentioned, emotional tone.
Drop: greetings, filler, tool mechanics. Write plain prose, at most 1800 characters.`

// Compactor shrinks heavy sessions by summarizing the aged prefix. Per
// session a mutex ensures one compaction at a time; concurrent turns skip
// rather than queue.
type Compactor struct {
	sessions *store.SessionStore
	models   *providers.Registry
	model    string // summarizer model; empty means the session's model

	locks sync.Map // session id to *sync.Mutex
}

// NewCompactor wires the compactor. summarizerModel may be empty.
func NewCompactor(sessions *store.SessionStore, models *providers.Registry, summarizerModel string) *Compactor {
	return &Compactor{sessions: sessions, models: models, model: summarizerModel}
}

func (c *Compactor) lock(id uuid.UUID) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Compact summarizes everything but the last keepTail messages of a session
// and replaces it with one summary row. Returns true when compaction ran.
func (c *Compactor) Compact(ctx context.Context, sessionID uuid.UUID, fallbackModel string) (bool, error) {
	mu := c.lock(sessionID)
	if !mu.TryLock() {
		return false, nil
	}
	defer mu.Unlock()

	msgs, err := c.sessions.Messages(ctx, sessionID)
	if err != nil {
		return false, err
	}
	cut := compactionCut(msgs)
	if cut == 0 {
		return false, nil
	}
	prefix := msgs[:cut]

	summary, err := c.summarize(ctx, prefix, fallbackModel)
	if err != nil {
		return false, fmt.Errorf("summarize session %s: %w", sessionID, err)
	}
	if len(summary) > summaryMaxChars {
		summary = summary[:summaryMaxChars]
	}

	count, err := c.sessions.Compact(ctx, sessionID, prefix[len(prefix)-1].ID, summary)
	if err != nil {
		return false, err
	}
	slog.Info("session compacted", "session", sessionID,
		"summarized", len(prefix), "remaining", count)
	return true, nil
}

// compactionCut returns the index where the summarized prefix ends, or 0
// when the session is not worth compacting. The cut never splits a tool
// call from its result: it moves earlier until the tail starts at a user or
// assistant text message.
func compactionCut(msgs []*store.Message) int {
	if len(msgs) <= keepTail {
		return 0
	}
	cut := len(msgs) - keepTail
	for cut > 0 && msgs[cut].Role == store.RoleTool {
		cut--
	}
	return cut
}

func (c *Compactor) summarize(ctx context.Context, msgs []*store.Message, fallbackModel string) (string, error) {
	model := c.model
	if model == "" {
		model = fallbackModel
	}
	provider, _, err := c.models.Resolve(model)
	if err != nil {
		return "", err
	}

	var transcript strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case store.RoleTool:
			fmt.Fprintf(&transcript, "[tool %s]: %s\n", m.ToolName, clip(m.Content, 300))
		default:
			fmt.Fprintf(&transcript, "%s: %s\n", m.Role, clip(m.Content, 2000))
		}
	}

	temp := 0.0
	resp, err := provider.Chat(ctx, &providers.ChatRequest{
		Model:  model,
		System: summarizePrompt,
		Messages: []providers.ChatMessage{{
			Role: providers.RoleUser, Content: transcript.String(),
		}},
		Params: providers.GenParams{Temperature: &temp, MaxTokens: 1024},
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summarizer returned nothing")
	}
	return "[Conversation summary] " + summary, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package agent

import (
	"strings"
	"testing"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
)

func msgsOf(n, chars int) []*store.Message {
	out := make([]*store.Message, n)
	for i := range out {
		out[i] = &store.Message{Role: store.RoleUser, Content: strings.Repeat("a", chars)}
	}
	return out
}

func TestEstimateTokens(t *testing.T) {
	// 350 chars at 3.5 chars per token is 100 tokens, plus 4 overhead.
	got := EstimateTokens("", msgsOf(1, 350))
	if got != 104 {
		t.Fatalf("EstimateTokens = %d, want 104", got)
	}
	// System prompt counts but carries no per-message overhead.
	got = EstimateTokens(strings.Repeat("b", 35), nil)
	if got != 10 {
		t.Fatalf("EstimateTokens system only = %d, want 10", got)
	}
	// Rounding is always up.
	got = EstimateTokens("ab", nil)
	if got != 1 {
		t.Fatalf("EstimateTokens(2 chars) = %d, want 1", got)
	}
}

func TestNeedsCompaction(t *testing.T) {
	model := providers.ModelInfo{ContextWindow: 10000, ReservedOutput: 2000}
	limits := DefaultLimits()

	tests := []struct {
		name   string
		msgs   []*store.Message
		want   bool
		reason string
	}{
		{"light", msgsOf(10, 100), false, ""},
		{"message count", msgsOf(100, 10), true, "message_count"},
		{"char count", msgsOf(20, 8000), true, "char_count"},
		// 90% of (10000-2000) = 7200 tokens; 30 messages of 900 chars is
		// roughly 7834 tokens, over budget but under the char cap.
		{"token budget", msgsOf(30, 900), true, "token_budget"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := NeedsCompaction("", tt.msgs, 0, model, limits)
			if got != tt.want {
				t.Fatalf("NeedsCompaction = %v, want %v (reason %q)", got, tt.want, reason)
			}
			if tt.want && reason != tt.reason {
				t.Fatalf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestNeedsCompactionPrefersReportedUsage(t *testing.T) {
	model := providers.ModelInfo{ContextWindow: 10000, ReservedOutput: 2000}
	limits := DefaultLimits()
	// Budget is 7200 tokens. A short history estimates far below it.
	msgs := msgsOf(10, 100)

	got, reason := NeedsCompaction("", msgs, 7500, model, limits)
	if !got || reason != "token_budget" {
		t.Fatalf("got %v/%q, want true/token_budget from reported usage", got, reason)
	}

	// A long history that the estimator would flag passes when the
	// provider reports it actually fits.
	heavy := msgsOf(30, 900)
	got, _ = NeedsCompaction("", heavy, 3000, model, limits)
	if got {
		t.Fatal("reported usage below budget still triggered compaction")
	}

	// Zero reported usage falls back to the estimate.
	got, reason = NeedsCompaction("", heavy, 0, model, limits)
	if !got || reason != "token_budget" {
		t.Fatalf("fallback estimate: got %v/%q", got, reason)
	}
}

func TestNeedsCompactionZeroLimitsUseDefaults(t *testing.T) {
	model := providers.ModelInfo{ContextWindow: 200000, ReservedOutput: 8192}
	got, reason := NeedsCompaction("", msgsOf(150, 10), 0, model, Limits{})
	if !got || reason != "message_count" {
		t.Fatalf("got %v/%q, want true/message_count", got, reason)
	}
}

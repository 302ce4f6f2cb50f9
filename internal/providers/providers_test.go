package providers

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestToolCallAccumulator(t *testing.T) {
	var acc toolCallAccumulator
	acc.add(1, "call_b", "web_fetch", `{"url":`)
	acc.add(0, "call_a", "memory_search", `{"query"`)
	acc.add(0, "", "", `:"coffee"}`)
	acc.add(1, "", "", `"https://example.com"}`)

	calls := acc.finish()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].ID != "call_a" || calls[0].Name != "memory_search" {
		t.Errorf("first call = %+v, want call_a/memory_search", calls[0])
	}
	if calls[0].Arguments != `{"query":"coffee"}` {
		t.Errorf("first call args = %q", calls[0].Arguments)
	}
	if calls[1].Arguments != `{"url":"https://example.com"}` {
		t.Errorf("second call args = %q", calls[1].Arguments)
	}
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindRateLimit},
		{401, KindAuth},
		{403, KindAuth},
		{400, KindBadRequest},
		{404, KindBadRequest},
		{500, KindUnavailable},
		{503, KindUnavailable},
	}
	for _, tt := range tests {
		e := classifyHTTP("test", tt.status, "boom", http.Header{})
		if e.Kind != tt.want {
			t.Errorf("status %d classified as %s, want %s", tt.status, e.Kind, tt.want)
		}
	}
}

func TestRetryAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	e := classifyHTTP("test", 429, "slow down", h)
	if e.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", e.RetryAfter)
	}
	if !e.Retryable() {
		t.Error("rate limit should be retryable")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := errors.Join(errors.New("outer"), &Error{Kind: KindTimeout, Provider: "openai"})
	if got := KindOf(wrapped); got != KindTimeout {
		t.Errorf("KindOf = %s, want timeout", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %s, want unknown", got)
	}
}

func TestRegistryInfoFallback(t *testing.T) {
	r := NewRegistry(Credentials{OpenAIKey: "sk-test"}, nil, "gpt-4o-mini")

	tests := []struct {
		model    string
		provider string
	}{
		{"gpt-4o", "openai"},
		{"claude-sonnet-4-20250514", "anthropic"},
		{"claude-next-unknown", "anthropic"},
		{"meta-llama/llama-3-70b", "openrouter"},
		{"some-local-model", "openai"},
	}
	for _, tt := range tests {
		if info := r.Info(tt.model); info.Provider != tt.provider {
			t.Errorf("Info(%q).Provider = %q, want %q", tt.model, info.Provider, tt.provider)
		}
	}
}

func TestRegistryResolveMissingCreds(t *testing.T) {
	r := NewRegistry(Credentials{OpenAIKey: "sk-test"}, nil, "")
	if _, _, err := r.Resolve("claude-sonnet-4-20250514"); KindOf(err) != KindAuth {
		t.Errorf("resolving anthropic model without key: kind = %s, want auth", KindOf(err))
	}
	if _, _, err := r.Resolve("gpt-4o"); err != nil {
		t.Errorf("resolving openai model: %v", err)
	}
}

func TestAnthropicThinkingBudget(t *testing.T) {
	p := NewAnthropic("key", "")
	dynamic := -1
	body := p.buildBody(&ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
		Params:   GenParams{ThinkingBudget: &dynamic},
	}, false)

	thinking, ok := body["thinking"].(map[string]any)
	if !ok {
		t.Fatal("thinking block missing for dynamic budget")
	}
	if thinking["budget_tokens"].(int) < 1024 {
		t.Errorf("budget_tokens = %v, want >= 1024", thinking["budget_tokens"])
	}

	off := 0
	body = p.buildBody(&ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
		Params:   GenParams{ThinkingBudget: &off},
	}, false)
	if _, ok := body["thinking"]; ok {
		t.Error("thinking block present for zero budget")
	}
}

package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ModelInfo is catalog metadata for one model name.
type ModelInfo struct {
	Name           string `json:"name"`
	Provider       string `json:"provider"`
	ContextWindow  int    `json:"context_window"`
	ReservedOutput int    `json:"reserved_output"`
	Vision         bool   `json:"vision"`
}

// defaultCatalog covers common models so a fresh install works without a
// catalog entry per model. Config entries override it.
var defaultCatalog = []ModelInfo{
	{Name: "gpt-4o", Provider: "openai", ContextWindow: 128000, ReservedOutput: 4096, Vision: true},
	{Name: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000, ReservedOutput: 4096, Vision: true},
	{Name: "gpt-4.1", Provider: "openai", ContextWindow: 1000000, ReservedOutput: 8192, Vision: true},
	{Name: "claude-sonnet-4-20250514", Provider: "anthropic", ContextWindow: 200000, ReservedOutput: 8192, Vision: true},
	{Name: "claude-opus-4-20250514", Provider: "anthropic", ContextWindow: 200000, ReservedOutput: 8192, Vision: true},
	{Name: "claude-3-5-haiku-20241022", Provider: "anthropic", ContextWindow: 200000, ReservedOutput: 4096, Vision: true},
}

// Credentials carries provider secrets out of the config store. Empty fields
// leave the provider unregistered.
type Credentials struct {
	OpenAIKey      string
	OpenAIBaseURL  string
	AnthropicKey   string
	OpenRouterKey  string
	EmbeddingModel string
	EmbeddingDim   int
}

// Registry resolves a model name to a ready provider. Rebuild swaps the
// whole provider set atomically when credentials or catalog change.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	catalog   map[string]ModelInfo
	embedder  Embedder
	defModel  string
}

// NewRegistry builds providers from credentials and merges extra catalog
// entries over the defaults.
func NewRegistry(creds Credentials, extra []ModelInfo, defaultModel string) *Registry {
	r := &Registry{}
	r.Rebuild(creds, extra, defaultModel)
	return r
}

// Rebuild replaces providers, catalog, and embedder in one step.
func (r *Registry) Rebuild(creds Credentials, extra []ModelInfo, defaultModel string) {
	providers := make(map[string]Provider)
	if creds.OpenAIKey != "" {
		providers["openai"] = NewOpenAI(creds.OpenAIKey, creds.OpenAIBaseURL)
	}
	if creds.AnthropicKey != "" {
		providers["anthropic"] = NewAnthropic(creds.AnthropicKey, "")
	}
	if creds.OpenRouterKey != "" {
		providers["openrouter"] = NewOpenAICompatible("openrouter", creds.OpenRouterKey, "https://openrouter.ai/api/v1")
	}

	catalog := make(map[string]ModelInfo, len(defaultCatalog)+len(extra))
	for _, m := range defaultCatalog {
		catalog[m.Name] = m
	}
	for _, m := range extra {
		catalog[m.Name] = m
	}

	var embedder Embedder
	if creds.OpenAIKey != "" {
		embedder = NewOpenAIEmbedder(creds.OpenAIKey, creds.OpenAIBaseURL,
			creds.EmbeddingModel, creds.EmbeddingDim)
	}

	r.mu.Lock()
	r.providers = providers
	r.catalog = catalog
	r.embedder = embedder
	if defaultModel != "" {
		r.defModel = defaultModel
	} else if r.defModel == "" {
		r.defModel = "gpt-4o-mini"
	}
	r.mu.Unlock()

	names := make([]string, 0, len(providers))
	for n := range providers {
		names = append(names, n)
	}
	slog.Info("provider registry rebuilt", "providers", names, "default_model", r.defModel)
}

// Register installs a provider under a name, replacing any existing one.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[name] = p
}

// AddModel merges one catalog entry.
func (r *Registry) AddModel(info ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.catalog == nil {
		r.catalog = make(map[string]ModelInfo)
	}
	r.catalog[info.Name] = info
}

// DefaultModel returns the configured global default.
func (r *Registry) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defModel
}

// Info returns catalog metadata for a model, falling back to conservative
// defaults for unknown names.
func (r *Registry) Info(model string) ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.catalog[model]; ok {
		return info
	}
	info := ModelInfo{Name: model, ContextWindow: 128000, ReservedOutput: 4096}
	switch {
	case strings.HasPrefix(model, "claude"):
		info.Provider = "anthropic"
		info.ContextWindow = 200000
	case strings.Contains(model, "/"):
		info.Provider = "openrouter"
	default:
		info.Provider = "openai"
	}
	return info
}

// Resolve returns the provider serving a model name.
func (r *Registry) Resolve(model string) (Provider, ModelInfo, error) {
	info := r.Info(model)
	r.mu.RLock()
	p, ok := r.providers[info.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, info, &Error{Kind: KindAuth, Provider: info.Provider,
			Message: fmt.Sprintf("no credentials configured for provider of model %q", model)}
	}
	return p, info, nil
}

// Embedder returns the configured embedder, or false when none is available.
func (r *Registry) Embedder() (Embedder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedder, r.embedder != nil
}

// Test verifies a provider is reachable with a one-token request.
func (r *Registry) Test(ctx context.Context, model string) error {
	p, _, err := r.Resolve(model)
	if err != nil {
		return err
	}
	_, err = p.Chat(ctx, &ChatRequest{
		Model:    model,
		Messages: []ChatMessage{{Role: RoleUser, Content: "ping"}},
		Params:   GenParams{MaxTokens: 8},
	})
	return err
}

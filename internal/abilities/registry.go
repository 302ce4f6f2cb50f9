// Package abilities manages tool-shaped plugins with database-backed enable
// flags and config. Preprocessors run over inbound messages before the
// conversation loop; the first one that handles a message wins.
package abilities

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/store"
)

// Preprocessor transforms an inbound message in place, typically converting
// media into something the model can consume. Handled=true stops the chain.
type Preprocessor interface {
	Name() string
	Version() string
	Description() string
	Process(ctx context.Context, msg *bus.InboundMessage, cfg map[string]any) (handled bool, err error)
}

// RecordStore is the slice of the ability store the registry needs.
type RecordStore interface {
	Upsert(ctx context.Context, a *store.Ability) error
	List(ctx context.Context) ([]*store.Ability, error)
}

// Registry ties ability implementations to their database records.
type Registry struct {
	store RecordStore

	mu      sync.RWMutex
	pre     []Preprocessor
	callers []Caller
	enabled map[string]bool
	configs map[string]map[string]any
}

// NewRegistry builds an empty registry backed by the ability store.
func NewRegistry(s RecordStore) *Registry {
	return &Registry{
		store:   s,
		enabled: make(map[string]bool),
		configs: make(map[string]map[string]any),
	}
}

// Add registers a builtin preprocessor. Call before Sync.
func (r *Registry) Add(p Preprocessor) {
	r.mu.Lock()
	r.pre = append(r.pre, p)
	r.mu.Unlock()
}

// AddCaller registers a builtin callable ability. Call before Sync.
func (r *Registry) AddCaller(c Caller) {
	r.mu.Lock()
	r.callers = append(r.callers, c)
	r.mu.Unlock()
}

// info is the record surface shared by all ability implementations.
type info interface {
	Name() string
	Version() string
	Description() string
}

// Sync upserts records for registered implementations and reloads the
// enable flags and configs from the database.
func (r *Registry) Sync(ctx context.Context) error {
	r.mu.RLock()
	impls := make([]info, 0, len(r.pre)+len(r.callers))
	for _, p := range r.pre {
		impls = append(impls, p)
	}
	for _, c := range r.callers {
		impls = append(impls, c)
	}
	r.mu.RUnlock()

	for _, p := range impls {
		err := r.store.Upsert(ctx, &store.Ability{
			Name:        p.Name(),
			Version:     p.Version(),
			Description: p.Description(),
			Enabled:     true,
			Source:      "builtin",
		})
		if err != nil {
			return fmt.Errorf("sync ability %s: %w", p.Name(), err)
		}
	}

	records, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	enabled := make(map[string]bool, len(records))
	configs := make(map[string]map[string]any, len(records))
	for _, rec := range records {
		enabled[rec.Name] = rec.Enabled
		configs[rec.Name] = rec.Config
	}

	r.mu.Lock()
	r.enabled = enabled
	r.configs = configs
	r.mu.Unlock()
	return nil
}

// IsEnabled reports whether an ability may run. Unknown names default to
// enabled so a not-yet-synced builtin is never silently dead.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	on, known := r.enabled[name]
	return !known || on
}

// ConfigFor merges the stored per-ability config over the given defaults.
func (r *Registry) ConfigFor(name string, defaults map[string]any) map[string]any {
	r.mu.RLock()
	stored := r.configs[name]
	r.mu.RUnlock()

	cfg := make(map[string]any, len(defaults)+len(stored))
	for k, v := range defaults {
		cfg[k] = v
	}
	for k, v := range stored {
		cfg[k] = v
	}
	return cfg
}

// Preprocess runs the chain over one inbound message. Errors are logged and
// the chain continues; a broken ability must not eat messages.
func (r *Registry) Preprocess(ctx context.Context, msg *bus.InboundMessage) {
	r.mu.RLock()
	pre := append([]Preprocessor(nil), r.pre...)
	enabled := r.enabled
	configs := r.configs
	r.mu.RUnlock()

	for _, p := range pre {
		if on, known := enabled[p.Name()]; known && !on {
			continue
		}
		handled, err := p.Process(ctx, msg, configs[p.Name()])
		if err != nil {
			slog.Warn("ability preprocess failed", "ability", p.Name(), "error", err)
			continue
		}
		if handled {
			return
		}
	}
}

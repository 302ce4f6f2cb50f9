package abilities

import (
	"context"
	"log/slog"

	"github.com/syne-agent/syne/internal/store"
	"github.com/syne-agent/syne/internal/tools"
)

// Caller is an ability the model can invoke like any builtin tool. It shares
// the tool namespace, schema validation, and access gate; the stored
// per-ability config is merged over Defaults at every call.
type Caller interface {
	Name() string
	Version() string
	Description() string
	Parameters() map[string]any
	MinAccess() store.AccessLevel
	Defaults() map[string]any
	Call(ctx context.Context, args, cfg map[string]any) (string, error)
}

// BindTools registers every Caller ability into the shared tool registry.
// A name already taken by a builtin tool is skipped, never shadowed. The
// enable flag is checked at call time, so update_ability takes effect
// without a rebind.
func (r *Registry) BindTools(tr *tools.Registry) {
	r.mu.RLock()
	callers := append([]Caller(nil), r.callers...)
	r.mu.RUnlock()

	for _, c := range callers {
		if tr.Has(c.Name()) {
			slog.Warn("ability name taken by a builtin tool, not bound", "ability", c.Name())
			continue
		}
		c := c
		tr.Register(&tools.Tool{
			Name:        c.Name(),
			Description: c.Description(),
			Parameters:  c.Parameters(),
			MinAccess:   c.MinAccess(),
			Handler: func(ctx context.Context, _ *tools.Invocation, args map[string]any) tools.Result {
				if !r.IsEnabled(c.Name()) {
					return tools.Errf("Error: ability %s is disabled", c.Name())
				}
				out, err := c.Call(ctx, args, r.ConfigFor(c.Name(), c.Defaults()))
				if err != nil {
					return tools.Errf("Error: %v", err)
				}
				return tools.Ok("%s", out)
			},
		})
	}
}

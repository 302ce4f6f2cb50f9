// Package tools defines the tool registry and the builtin tool set. Tools
// are plain handlers; access control, argument validation, and group
// downgrades happen in the registry before a handler runs.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
)

// Result is what a tool hands back to the conversation loop. ForLLM goes
// into the tool result message; IsError marks failures without aborting the
// loop; Async means the work continues in the background and a later
// delivery will follow.
type Result struct {
	ForLLM  string
	IsError bool
	Async   bool
}

// Ok builds a success result.
func Ok(format string, args ...any) Result {
	return Result{ForLLM: fmt.Sprintf(format, args...)}
}

// Errf builds an error result.
func Errf(format string, args ...any) Result {
	return Result{ForLLM: fmt.Sprintf(format, args...), IsError: true}
}

// Invocation is the per-turn context a tool runs in.
type Invocation struct {
	Platform  string
	ChatID    string
	SessionID uuid.UUID
	User      *store.User
	Access    store.AccessLevel
	IsGroup   bool
	GroupID   string
}

// UserID returns the caller's id, or nil for unregistered senders.
func (inv *Invocation) UserID() *uuid.UUID {
	if inv.User == nil {
		return nil
	}
	id := inv.User.ID
	return &id
}

// Handler executes one tool call with validated arguments.
type Handler func(ctx context.Context, inv *Invocation, args map[string]any) Result

// Tool is one registered capability.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
	MinAccess   store.AccessLevel
	OwnerOnly   bool // blocked entirely in group chats for non-owners
	Handler     Handler
	Timeout     time.Duration
}

// Registry holds the tool set. Registration happens at startup; dispatch is
// concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any previous registration of the name.
func (r *Registry) Register(t *Tool) {
	if t.MinAccess == "" {
		t.MinAccess = store.AccessOwner
	}
	if t.Timeout <= 0 {
		t.Timeout = 60 * time.Second
	}
	r.mu.Lock()
	r.tools[t.Name] = t
	r.mu.Unlock()
}

// Has reports whether a tool name is taken.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Specs returns the tool declarations visible to a caller, sorted by name.
// Tools above the caller's access level are omitted entirely so the model
// never sees capabilities it cannot use.
func (r *Registry) Specs(access store.AccessLevel, isGroup bool) []providers.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []providers.ToolSpec
	for _, t := range r.tools {
		if !access.AtLeast(t.MinAccess) {
			continue
		}
		if isGroup && t.OwnerOnly {
			continue
		}
		out = append(out, providers.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OwnerOnlyNames lists the tools reserved for the owner, sorted by name.
func (r *Registry) OwnerOnlyNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, t := range r.tools {
		if t.OwnerOnly || t.MinAccess == store.AccessOwner {
			out = append(out, t.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Dispatch validates and runs one tool call. Unknown tools, access
// violations, and schema failures come back as error results rather than Go
// errors so the model can self-correct.
func (r *Registry) Dispatch(ctx context.Context, inv *Invocation, name string, args map[string]any) Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Errf("Error: unknown tool %q", name)
	}
	if !inv.Access.AtLeast(t.MinAccess) {
		return Errf("Error: tool %q requires %s access", name, t.MinAccess)
	}
	if inv.IsGroup && t.OwnerOnly {
		return Errf("Error: tool %q is not available in group chats", name)
	}
	if err := validateArgs(t.Parameters, args); err != nil {
		return Errf("Error: invalid arguments for %q: %v", name, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	start := time.Now()
	res := t.Handler(runCtx, inv, args)
	slog.Debug("tool dispatched", "tool", name, "error", res.IsError,
		"async", res.Async, "duration", time.Since(start))
	return res
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

package tools

import (
	"context"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/memory"
	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
	"github.com/syne-agent/syne/internal/subagents"
)

// Deps carries everything the builtin tools touch. Wiring happens once in
// the serve command; tools never reach for globals.
type Deps struct {
	DB        *store.DB
	Memory    *memory.Engine
	Models    *providers.Registry
	Bus       *bus.MessageBus
	Subagents *subagents.Manager

	// Workspace is the writable sandbox for exec and file_write.
	Workspace string
	// SourceDir is the read-only checkout read_source serves from.
	SourceDir string

	// RefreshAbilities re-syncs the ability registry after update_ability.
	RefreshAbilities func(ctx context.Context) error
	// RebuildModels re-reads credentials after update_config touches them.
	RebuildModels func(ctx context.Context)
}

// RegisterBuiltins installs the full builtin tool set.
func RegisterBuiltins(r *Registry, d *Deps) {
	registerMemoryTools(r, d)
	registerWebTools(r, d)
	registerShellTools(r, d)
	registerAdminTools(r, d)
	registerMessagingTools(r, d)
	registerScheduleTools(r, d)
	registerSubagentTools(r, d)
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/store"
)

func registerSubagentTools(r *Registry, d *Deps) {
	r.Register(&Tool{
		Name: "spawn_agent",
		Description: "Run a task in a background worker with its own conversation. " +
			"Use for research or long work that should not block this chat. " +
			"The result is delivered to this chat when the worker finishes.",
		Parameters: schema(obj(
			"task", obj("type", "string", "description", "complete self-contained task description"),
		), "task"),
		MinAccess: store.AccessFamily,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			runID, err := d.Subagents.Spawn(ctx, inv.SessionID, strArg(args, "task", ""), inv.Platform, inv.ChatID, inv.Access)
			if err != nil {
				return Errf("Error: %v", err)
			}
			return Result{
				ForLLM: fmt.Sprintf("Background worker %s started. Its result will arrive in this chat; continue the conversation meanwhile.", runID),
				Async:  true,
			}
		},
	})

	r.Register(&Tool{
		Name:        "list_subagents",
		Description: "List recent background workers and their status.",
		Parameters:  schema(obj()),
		MinAccess:   store.AccessFamily,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			runs, err := d.Subagents.List(ctx, 10)
			if err != nil {
				return Errf("Error: %v", err)
			}
			if len(runs) == 0 {
				return Ok("No background workers have run.")
			}
			var b strings.Builder
			for _, run := range runs {
				age := time.Since(run.StartedAt).Round(time.Second)
				fmt.Fprintf(&b, "%s: %s (%s ago) %s\n",
					run.RunID, run.Status, age, shorten(run.Task))
			}
			return Ok("%s", strings.TrimRight(b.String(), "\n"))
		},
	})

	r.Register(&Tool{
		Name:        "cancel_subagent",
		Description: "Cancel a running background worker by run id, or all workers spawned from this conversation.",
		Parameters: schema(obj(
			"run_id", obj("type", "string", "description", "worker to cancel"),
			"all", obj("type", "boolean", "description", "cancel every worker this conversation spawned"),
		)),
		MinAccess: store.AccessFamily,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			if boolArg(args, "all", false) {
				n := d.Subagents.CancelBySession(inv.SessionID)
				if n == 0 {
					return Ok("No running workers for this conversation.")
				}
				return Ok("Cancelled %d worker(s).", n)
			}
			runID, err := uuid.Parse(strArg(args, "run_id", ""))
			if err != nil {
				return Errf("Error: run_id must be a run id")
			}
			if err := d.Subagents.Cancel(runID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return Errf("Error: no running worker with id %s", runID)
				}
				return Errf("Error: %v", err)
			}
			return Ok("Worker %s cancelled.", runID)
		},
	})
}

func shorten(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

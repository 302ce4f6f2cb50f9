package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/memory"
	"github.com/syne-agent/syne/internal/store"
)

func clipText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func registerMemoryTools(r *Registry, d *Deps) {
	if !d.Memory.Enabled() {
		return
	}

	r.Register(&Tool{
		Name:        "memory_search",
		Description: "Search long-term memory semantically. Returns the closest stored memories with similarity scores and ids.",
		Parameters: schema(obj(
			"query", obj("type", "string", "description", "what to look for"),
			"category", obj("type", "string", "description", "optional category filter"),
			"limit", obj("type", "integer", "description", "max results, default 5"),
			"min_similarity", obj("type", "number", "description", "drop matches below this score, default 0.3"),
		), "query"),
		MinAccess: store.AccessPublic,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			results, err := d.Memory.Recall(ctx,
				strArg(args, "query", ""),
				strArg(args, "category", ""),
				intArg(args, "limit", 5),
				floatArg(args, "min_similarity", memory.DefaultMinSimilarity),
				inv.Access)
			if err != nil {
				return Errf("Error: memory search failed: %v", err)
			}
			return Ok("%s", memory.FormatRecall(results))
		},
	})

	r.Register(&Tool{
		Name:        "memory_store",
		Description: "Remember a durable fact. Near-duplicates of existing memories are skipped or merged automatically.",
		Parameters: schema(obj(
			"content", obj("type", "string", "description", "the fact to remember"),
			"category", obj("type", "string",
				"enum", []any{"personal_info", "family", "health", "medical", "preferences", "facts", "events", "work"}),
			"importance", obj("type", "number", "description", "0.0-1.0, default 0.5"),
			"about_user", obj("type", "string", "description", "optional user id this fact is about"),
		), "content", "category"),
		MinAccess: store.AccessFamily,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			var subject *uuid.UUID
			if about := strArg(args, "about_user", ""); about != "" {
				id, err := uuid.Parse(about)
				if err != nil {
					return Errf("Error: about_user must be a user id")
				}
				subject = &id
			} else {
				subject = inv.UserID()
			}

			res, err := d.Memory.StoreIfNew(ctx,
				strArg(args, "content", ""),
				strArg(args, "category", "facts"),
				"explicit", subject,
				floatArg(args, "importance", 0.5))
			if err != nil {
				return Errf("Error: memory store failed: %v", err)
			}
			switch res.Action {
			case "skipped":
				return Ok("Already known (%.0f%% similar to memory %s); nothing stored.", res.Similarity*100, res.ID)
			case "updated":
				return Ok("Updated existing memory %s (%.0f%% similar).", res.ID, res.Similarity*100)
			default:
				return Ok("Stored as memory %s.", res.ID)
			}
		},
	})

	r.Register(&Tool{
		Name:        "memory_forget",
		Description: "Delete a memory by id (get ids from memory_search).",
		Parameters: schema(obj(
			"id", obj("type", "string", "description", "memory id"),
		), "id"),
		MinAccess: store.AccessOwner,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			id, err := uuid.Parse(strArg(args, "id", ""))
			if err != nil {
				return Errf("Error: id must be a memory id")
			}
			if err := d.Memory.Forget(ctx, id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return Errf("Error: no memory with id %s", id)
				}
				return Errf("Error: forget failed: %v", err)
			}
			return Ok("Memory %s deleted.", id)
		},
	})

	r.Register(&Tool{
		Name:        "memory_dedup",
		Description: "Find and remove near-duplicate memories. Keeps the more important of each pair. Use dry_run to preview.",
		Parameters: schema(obj(
			"threshold", obj("type", "number", "description", "similarity cutoff, default 0.85"),
			"dry_run", obj("type", "boolean", "description", "report duplicates without deleting"),
		)),
		MinAccess: store.AccessOwner,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			dryRun := boolArg(args, "dry_run", false)
			res, err := d.Memory.Dedup(ctx, floatArg(args, "threshold", 0), dryRun)
			if err != nil {
				return Errf("Error: dedup failed: %v", err)
			}
			if len(res.Pairs) == 0 {
				return Ok("Scanned %d memories, no duplicates found.", res.Scanned)
			}
			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Scanned %d memories, %s %d duplicate(s):\n", res.Scanned, verb, len(res.Pairs))
			for _, p := range res.Pairs {
				fmt.Fprintf(&b, "- %.0f%% match of %s: %s\n", p.Similarity*100, p.Kept, clipText(p.Content, 80))
			}
			return Ok("%s", b.String())
		},
	})
}

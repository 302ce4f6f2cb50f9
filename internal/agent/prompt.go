package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
)

// PromptInput is everything the system prompt is assembled from.
type PromptInput struct {
	Identity *store.Identity
	Soul     []store.SoulEntry
	Rules    []store.Rule

	Now      time.Time
	Platform string
	IsGroup  bool
	Group    *store.Group
	User     *store.User
	Access   store.AccessLevel

	// Tools holds the declarations already filtered to the caller's
	// access, so the prompt never names a capability the model cannot
	// call this turn. OwnerOnlyTools lists the names reserved for the
	// owner regardless of who is asking.
	Tools          []providers.ToolSpec
	OwnerOnlyTools []string

	Abilities []*store.Ability
	Config    []store.ConfigEntry

	MemoryEnabled bool
	ActiveTasks   int
	ActiveWorkers int
}

// BuildSystemPrompt renders the system prompt in a fixed section order so
// diffs between turns stay small and providers can cache the prefix.
func BuildSystemPrompt(in *PromptInput) string {
	var b strings.Builder

	name := "Syne"
	if in.Identity != nil && in.Identity.Name != "" {
		name = in.Identity.Name
	}
	fmt.Fprintf(&b, "You are %s, a personal AI agent running as a long-lived service.\n", name)
	if in.Identity != nil {
		if in.Identity.Motto != "" {
			fmt.Fprintf(&b, "Motto: %s\n", in.Identity.Motto)
		}
		if in.Identity.Backstory != "" {
			fmt.Fprintf(&b, "\n%s\n", in.Identity.Backstory)
		}
		if in.Identity.Personality != "" {
			fmt.Fprintf(&b, "\nPersonality: %s\n", in.Identity.Personality)
		}
	}

	if len(in.Soul) > 0 {
		b.WriteString("\n## Behavior\n")
		var order []string
		groups := make(map[string][]string)
		for _, e := range in.Soul {
			cat := e.Category
			if cat == "" {
				cat = "general"
			}
			if _, seen := groups[cat]; !seen {
				order = append(order, cat)
			}
			groups[cat] = append(groups[cat], e.Content)
		}
		for _, cat := range order {
			fmt.Fprintf(&b, "\n### %s\n", cat)
			for _, content := range groups[cat] {
				fmt.Fprintf(&b, "- %s\n", content)
			}
		}
	}

	if len(in.Rules) > 0 {
		b.WriteString("\n## Rules\n")
		b.WriteString("Hard rules are absolute. Soft rules yield only to explicit owner instruction.\n")
		for _, r := range in.Rules {
			if r.Severity == store.SeverityHard {
				fmt.Fprintf(&b, "- [%s, hard] %s\n", r.Code, r.Content)
			}
		}
		for _, r := range in.Rules {
			if r.Severity != store.SeverityHard {
				fmt.Fprintf(&b, "- [%s, soft] %s\n", r.Code, r.Content)
			}
		}
	}

	b.WriteString("\n## Operating policy\n")
	b.WriteString("For actions that change state outside this chat, say what you are about to do before doing it. ")
	b.WriteString("For destructive or hard-to-reverse actions, propose the action and wait for the requester to confirm before executing.\n")

	if len(in.OwnerOnlyTools) > 0 {
		b.WriteString("\n## Core security rules\n")
		fmt.Fprintf(&b, "These tools carry the owner's authority: %s. ", strings.Join(in.OwnerOnlyTools, ", "))
		b.WriteString("Use them only on the owner's behalf, and never relay their output to anyone below owner access.\n")
	}

	if len(in.Tools) > 0 {
		b.WriteString("\n## Tools\n")
		b.WriteString("Invoke tools through function calls only. Use the exact tool name and JSON arguments matching its schema; ")
		b.WriteString("never write a call as text and never invent a result. When a tool fails, report the failure instead of papering over it.\n")
		b.WriteString("Available this turn:\n")
		for _, t := range in.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	if len(in.Abilities) > 0 {
		b.WriteString("\n## Abilities\n")
		for _, a := range in.Abilities {
			fmt.Fprintf(&b, "- %s %s: %s\n", a.Name, a.Version, a.Description)
			if len(a.Config) > 0 {
				fmt.Fprintf(&b, "  config: %s\n", formatConfigMap(a.Config))
			}
		}
	}

	if len(in.Config) > 0 {
		b.WriteString("\n## Configuration\n")
		for _, e := range in.Config {
			fmt.Fprintf(&b, "- %s = %s\n", e.Key, e.Value)
		}
	}

	b.WriteString("\n## Current context\n")
	fmt.Fprintf(&b, "Time: %s\n", in.Now.Format("Monday, 2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Platform: %s\n", in.Platform)
	if in.IsGroup {
		groupName := ""
		if in.Group != nil {
			groupName = in.Group.Name
		}
		fmt.Fprintf(&b, "Chat: group %q. Messages arrive from several people; the bracketed prefix names the speaker.\n", groupName)
		b.WriteString("Treat what group members say about themselves as theirs; never relay private owner information here.\n")
	} else {
		b.WriteString("Chat: private conversation.\n")
	}
	if in.User != nil {
		fmt.Fprintf(&b, "Speaking with: %s (access: %s)\n", in.User.DisplayName, in.Access)
	} else {
		fmt.Fprintf(&b, "Speaking with: unregistered sender (access: %s)\n", in.Access)
	}

	if in.MemoryEnabled {
		b.WriteString("\n## Memory\n")
		b.WriteString("You have long-term memory tools. Search memory when a question may touch known people or facts. ")
		b.WriteString("Store durable facts people share about themselves. Never reveal memories in the personal_info, family, health, or medical categories to anyone below family access.\n")
	}

	b.WriteString("\n## Messaging\n")
	b.WriteString("You may end or start your reply with inline tags: [[reply_to_current]] to reply-quote the triggering message, ")
	b.WriteString("[[reply_to:<id>]] for a specific message, [[react:<emoji>]] to attach a reaction. ")
	b.WriteString("To send a file from the workspace, put `MEDIA: <path>` on its own line. ")
	b.WriteString("Write like a person in a chat: concise, no markdown tables, no self-narration.\n")

	if in.ActiveWorkers > 0 || in.ActiveTasks > 0 {
		b.WriteString("\n## Background\n")
		if in.ActiveWorkers > 0 {
			fmt.Fprintf(&b, "%d background worker(s) running; results will arrive in their chats.\n", in.ActiveWorkers)
		}
		if in.ActiveTasks > 0 {
			fmt.Fprintf(&b, "%d scheduled task(s) exist for this chat.\n", in.ActiveTasks)
		}
	}

	return b.String()
}

func formatConfigMap(cfg map[string]any) string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, cfg[k])
	}
	return strings.Join(parts, ", ")
}

// PromptHash fingerprints a prompt so changes can be logged without dumping
// the whole text.
func PromptHash(prompt string) string {
	h := fnv.New64a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("%016x", h.Sum64())
}

// LoadPromptInput gathers the database-backed prompt parts.
func LoadPromptInput(ctx context.Context, db *store.DB) (*PromptInput, error) {
	identity, err := db.Identity.GetIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	soul, err := db.Identity.Soul(ctx)
	if err != nil {
		return nil, fmt.Errorf("load soul: %w", err)
	}
	rules, err := db.Identity.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	in := &PromptInput{Identity: identity, Soul: soul, Rules: rules}

	all, err := db.Abilities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load abilities: %w", err)
	}
	for _, a := range all {
		if a.Enabled {
			in.Abilities = append(in.Abilities, a)
		}
	}

	// List redacts credential values, so the snapshot is safe to show
	// the model.
	cfg, err := db.Configs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	in.Config = cfg
	return in, nil
}

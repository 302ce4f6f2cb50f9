package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
)

func TestBuildSystemPromptSections(t *testing.T) {
	in := &PromptInput{
		Identity: &store.Identity{Name: "Syne", Motto: "stay curious"},
		Soul:     []store.SoulEntry{{Content: "be direct"}},
		Rules: []store.Rule{
			{Code: "USR-1", Content: "prefer brevity", Severity: store.SeveritySoft},
			{Code: "SEC-100", Content: "never run destructive commands", Severity: store.SeverityHard},
		},
		Now:      time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Platform: "telegram",
		User:     &store.User{DisplayName: "Anna", AccessLevel: store.AccessOwner},
		Access:   store.AccessOwner,
		Tools: []providers.ToolSpec{
			{Name: "exec", Description: "Run a shell command."},
			{Name: "memory_search", Description: "Search long-term memory."},
		},
		OwnerOnlyTools: []string{"exec", "update"},
		Abilities: []*store.Ability{
			{Name: "weather", Version: "1.2.0", Description: "Fetch forecasts.",
				Config: map[string]any{"units": "metric", "days": 3}},
		},
		Config: []store.ConfigEntry{
			{Key: "agent.name", Value: []byte(`"Syne"`)},
			{Key: "credential.openai_api_key", Value: []byte(`"(set, hidden)"`)},
		},
		MemoryEnabled: true,
	}
	prompt := BuildSystemPrompt(in)

	for _, want := range []string{
		"You are Syne",
		"Motto: stay curious",
		"## Behavior",
		"- be direct",
		"## Rules",
		"[SEC-100, hard]",
		"[USR-1, soft]",
		"## Operating policy",
		"wait for the requester to confirm",
		"## Core security rules",
		"exec, update",
		"## Tools",
		"function calls only",
		"- exec: Run a shell command.",
		"## Abilities",
		"- weather 1.2.0: Fetch forecasts.",
		"config: days=3, units=metric",
		"## Configuration",
		`agent.name = "Syne"`,
		`credential.openai_api_key = "(set, hidden)"`,
		"## Current context",
		"Platform: telegram",
		"Speaking with: Anna (access: owner)",
		"## Memory",
		"## Messaging",
		"[[reply_to_current]]",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// Hard rules come before soft ones regardless of input order.
	if strings.Index(prompt, "SEC-100") > strings.Index(prompt, "USR-1") {
		t.Error("hard rule rendered after soft rule")
	}
	// No background section without workers or tasks.
	if strings.Contains(prompt, "## Background") {
		t.Error("unexpected background section")
	}
}

func TestBuildSystemPromptGroupAndGates(t *testing.T) {
	in := &PromptInput{
		Now:      time.Now(),
		Platform: "whatsapp",
		IsGroup:  true,
		Group:    &store.Group{Name: "family chat"},
		Access:   store.AccessPublic,
	}
	prompt := BuildSystemPrompt(in)

	if !strings.Contains(prompt, `group "family chat"`) {
		t.Error("group name missing")
	}
	if !strings.Contains(prompt, "unregistered sender (access: public)") {
		t.Error("unregistered speaker line missing")
	}
	if strings.Contains(prompt, "## Memory") {
		t.Error("memory section rendered while disabled")
	}
}

func TestBuildSystemPromptSoulGrouping(t *testing.T) {
	in := &PromptInput{
		Now:      time.Now(),
		Platform: "cli",
		Soul: []store.SoulEntry{
			{Category: "voice", Content: "keep replies short"},
			{Category: "values", Content: "honesty over comfort"},
			{Category: "voice", Content: "no corporate tone"},
		},
	}
	prompt := BuildSystemPrompt(in)

	voice := strings.Index(prompt, "### voice")
	values := strings.Index(prompt, "### values")
	if voice < 0 || values < 0 {
		t.Fatal("soul category headings missing")
	}
	if voice > values {
		t.Error("categories not in first-seen order")
	}
	// Both voice entries land under the one voice heading.
	second := strings.Index(prompt, "no corporate tone")
	if second < voice || second > values {
		t.Error("entries of one category were not grouped together")
	}
}

func TestBuildSystemPromptNoToolSectionWithoutTools(t *testing.T) {
	in := &PromptInput{Now: time.Now(), Platform: "cli"}
	prompt := BuildSystemPrompt(in)
	for _, section := range []string{"## Tools", "## Core security rules", "## Abilities", "## Configuration"} {
		if strings.Contains(prompt, section) {
			t.Errorf("unexpected section %q", section)
		}
	}
}

func TestBuildSystemPromptBackground(t *testing.T) {
	in := &PromptInput{Now: time.Now(), Platform: "cli", ActiveWorkers: 2, ActiveTasks: 1}
	prompt := BuildSystemPrompt(in)
	if !strings.Contains(prompt, "2 background worker(s)") {
		t.Error("worker count missing")
	}
	if !strings.Contains(prompt, "1 scheduled task(s)") {
		t.Error("task count missing")
	}
}

func TestPromptHashStable(t *testing.T) {
	a := PromptHash("hello")
	if a != PromptHash("hello") {
		t.Fatal("hash not deterministic")
	}
	if a == PromptHash("hello!") {
		t.Fatal("distinct prompts collide")
	}
	if len(a) != 16 {
		t.Fatalf("hash length = %d, want 16", len(a))
	}
}

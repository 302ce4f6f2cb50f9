package agent

import (
	"strings"
	"testing"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
)

func TestToChatMessages(t *testing.T) {
	rows := []*store.Message{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "checking", Metadata: map[string]any{
			"tool_calls": []any{
				map[string]any{"id": "c1", "name": "echo", "arguments": `{"text":"x"}`},
			},
		}},
		{Role: store.RoleTool, Content: "echo: x", ToolCallID: "c1", ToolName: "echo"},
		{Role: store.RoleAssistant, Content: "all done"},
	}
	out := toChatMessages(rows)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if out[0].Role != providers.RoleUser || out[0].Content != "hello" {
		t.Errorf("user row = %+v", out[0])
	}
	if len(out[1].ToolCalls) != 1 || out[1].ToolCalls[0].ID != "c1" ||
		out[1].ToolCalls[0].Arguments != `{"text":"x"}` {
		t.Errorf("assistant tool calls = %+v", out[1].ToolCalls)
	}
	if out[2].Role != providers.RoleTool || out[2].ToolCallID != "c1" || out[2].ToolName != "echo" {
		t.Errorf("tool row = %+v", out[2])
	}
	if len(out[3].ToolCalls) != 0 {
		t.Errorf("plain assistant row grew tool calls: %+v", out[3])
	}
}

func TestToChatMessagesReappliesContextPrefix(t *testing.T) {
	rows := []*store.Message{
		{Role: store.RoleUser, Content: "what's the plan?", Metadata: map[string]any{
			"context_prefix": "[telegram, 2026-03-01 09:30, Anna]",
		}},
		{Role: store.RoleUser, Content: "older row without metadata"},
	}
	out := toChatMessages(rows)
	if want := "[telegram, 2026-03-01 09:30, Anna]\nwhat's the plan?"; out[0].Content != want {
		t.Errorf("content = %q, want %q", out[0].Content, want)
	}
	if out[1].Content != "older row without metadata" {
		t.Errorf("row without prefix changed: %q", out[1].Content)
	}
}

func TestJoinPrefix(t *testing.T) {
	if got := joinPrefix("[ctx]", "body"); got != "[ctx]\nbody" {
		t.Errorf("got %q", got)
	}
	if got := joinPrefix("[ctx]", ""); got != "[ctx]" {
		t.Errorf("media-only: got %q", got)
	}
	if got := joinPrefix("", "body"); got != "body" {
		t.Errorf("no prefix: got %q", got)
	}
}

func TestMetaToolCallsMalformed(t *testing.T) {
	if got := metaToolCalls(map[string]any{"other": true}); got != nil {
		t.Errorf("absent key: got %+v", got)
	}
	if got := metaToolCalls(map[string]any{"tool_calls": "not a list"}); got != nil {
		t.Errorf("wrong shape: got %+v", got)
	}
}

func TestDeliverDirectives(t *testing.T) {
	b := bus.New()
	ch := b.RegisterOutbound("telegram")
	c := &Conversation{bus: b}

	msg := &bus.InboundMessage{Platform: "telegram", ChatID: "42", MessageID: 7}
	c.deliver(msg, &LoopResult{Text: "[[reply_to_current]] [[react:👍]] sure thing"})

	select {
	case out := <-ch:
		if out.Content != "sure thing" {
			t.Errorf("Content = %q", out.Content)
		}
		if out.ReplyToID != 7 {
			t.Errorf("ReplyToID = %d, want 7", out.ReplyToID)
		}
		if len(out.Reactions) != 1 || out.Reactions[0] != "👍" {
			t.Errorf("Reactions = %v", out.Reactions)
		}
		if out.ReactToID != 7 {
			t.Errorf("ReactToID = %d, want 7", out.ReactToID)
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestNotifyCompaction(t *testing.T) {
	b := bus.New()
	ch := b.RegisterOutbound("telegram")
	c := &Conversation{bus: b}

	c.notifyCompaction("telegram", "42", 17)

	select {
	case out := <-ch:
		if out.ChatID != "42" || !strings.Contains(out.Content, "17 older messages") {
			t.Errorf("notice = %+v", out)
		}
	default:
		t.Fatal("no compaction notice published")
	}

	c.notifyCompaction("telegram", "42", 0)
	select {
	case out := <-ch:
		t.Fatalf("notice for zero folded messages: %+v", out)
	default:
	}
}

func TestDeliverSilentOnEmpty(t *testing.T) {
	b := bus.New()
	ch := b.RegisterOutbound("telegram")
	c := &Conversation{bus: b}

	c.deliver(&bus.InboundMessage{Platform: "telegram", ChatID: "42"}, &LoopResult{Text: "   "})

	select {
	case out := <-ch:
		t.Fatalf("unexpected outbound: %+v", out)
	default:
	}
}

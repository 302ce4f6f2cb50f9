package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/syne-agent/syne/internal/store"
)

func echoTool(name string, min store.AccessLevel, ownerOnly bool) *Tool {
	return &Tool{
		Name:        name,
		Description: "test tool",
		Parameters: schema(obj(
			"text", obj("type", "string"),
			"count", obj("type", "integer"),
			"mode", obj("type", "string", "enum", []any{"fast", "slow"}),
		), "text"),
		MinAccess: min,
		OwnerOnly: ownerOnly,
		Handler: func(_ context.Context, _ *Invocation, args map[string]any) Result {
			return Ok("echo: %v", args["text"])
		},
	}
}

func inv(access store.AccessLevel, isGroup bool) *Invocation {
	return &Invocation{Platform: "telegram", ChatID: "1", Access: access, IsGroup: isGroup}
}

func TestDispatchAccessGate(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("owner_tool", store.AccessOwner, false))
	r.Register(echoTool("public_tool", store.AccessPublic, false))

	tests := []struct {
		name    string
		tool    string
		access  store.AccessLevel
		wantErr bool
	}{
		{"owner uses owner tool", "owner_tool", store.AccessOwner, false},
		{"family blocked from owner tool", "owner_tool", store.AccessFamily, true},
		{"public blocked from owner tool", "owner_tool", store.AccessPublic, true},
		{"public uses public tool", "public_tool", store.AccessPublic, false},
		{"owner uses public tool", "public_tool", store.AccessOwner, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Dispatch(context.Background(), inv(tt.access, false), tt.tool,
				map[string]any{"text": "hi"})
			if res.IsError != tt.wantErr {
				t.Errorf("IsError = %v (%s), want %v", res.IsError, res.ForLLM, tt.wantErr)
			}
		})
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Dispatch(context.Background(), inv(store.AccessOwner, false), "nope", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "unknown tool") {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchOwnerOnlyInGroup(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("exec_like", store.AccessOwner, true))

	// Even the owner cannot use owner-only tools inside a group chat.
	res := r.Dispatch(context.Background(), inv(store.AccessOwner, true), "exec_like",
		map[string]any{"text": "hi"})
	if !res.IsError || !strings.Contains(res.ForLLM, "group") {
		t.Errorf("owner in group: %+v", res)
	}

	res = r.Dispatch(context.Background(), inv(store.AccessOwner, false), "exec_like",
		map[string]any{"text": "hi"})
	if res.IsError {
		t.Errorf("owner in private chat: %+v", res)
	}
}

func TestDispatchValidation(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo", store.AccessPublic, false))
	ctx := context.Background()

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"missing required", map[string]any{}, "missing required: text"},
		{"wrong type", map[string]any{"text": 42}, "must be a string"},
		{"bad number", map[string]any{"text": "x", "count": "three"}, "must be a number"},
		{"bad enum", map[string]any{"text": "x", "mode": "medium"}, "must be one of"},
		{"good enum", map[string]any{"text": "x", "mode": "fast"}, ""},
		{"extra arg passes", map[string]any{"text": "x", "unknown": true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Dispatch(ctx, inv(store.AccessPublic, false), "echo", tt.args)
			if tt.wantErr == "" {
				if res.IsError {
					t.Errorf("unexpected error: %s", res.ForLLM)
				}
				return
			}
			if !res.IsError || !strings.Contains(res.ForLLM, tt.wantErr) {
				t.Errorf("result %q, want error containing %q", res.ForLLM, tt.wantErr)
			}
		})
	}
}

func TestSpecsFiltering(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("a_owner", store.AccessOwner, false))
	r.Register(echoTool("b_public", store.AccessPublic, false))
	r.Register(echoTool("c_owner_only", store.AccessOwner, true))

	names := func(access store.AccessLevel, group bool) []string {
		var out []string
		for _, s := range r.Specs(access, group) {
			out = append(out, s.Name)
		}
		return out
	}

	if got := names(store.AccessPublic, false); len(got) != 1 || got[0] != "b_public" {
		t.Errorf("public specs = %v", got)
	}
	if got := names(store.AccessOwner, false); len(got) != 3 {
		t.Errorf("owner specs = %v", got)
	}
	if got := names(store.AccessOwner, true); len(got) != 2 {
		t.Errorf("owner-in-group specs = %v, want owner-only tool hidden", got)
	}
}

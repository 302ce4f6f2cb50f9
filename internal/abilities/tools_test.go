package abilities

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/syne-agent/syne/internal/store"
	"github.com/syne-agent/syne/internal/tools"
)

type fakeCaller struct {
	name    string
	lastCfg map[string]any
}

func (c *fakeCaller) Name() string        { return c.name }
func (c *fakeCaller) Version() string     { return "0.1.0" }
func (c *fakeCaller) Description() string { return "test caller" }
func (c *fakeCaller) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
		"required": []any{"city"},
	}
}
func (c *fakeCaller) MinAccess() store.AccessLevel { return store.AccessFamily }
func (c *fakeCaller) Defaults() map[string]any {
	return map[string]any{"units": "metric", "days": 3}
}

func (c *fakeCaller) Call(_ context.Context, args, cfg map[string]any) (string, error) {
	c.lastCfg = cfg
	return fmt.Sprintf("forecast for %v", args["city"]), nil
}

func boundRegistry(t *testing.T, c Caller, records *fakeRecords) (*Registry, *tools.Registry) {
	t.Helper()
	r := NewRegistry(records)
	r.AddCaller(c)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr := tools.NewRegistry()
	r.BindTools(tr)
	return r, tr
}

func familyInv() *tools.Invocation {
	return &tools.Invocation{Platform: "cli", ChatID: "1", Access: store.AccessFamily}
}

func TestBindToolsDispatch(t *testing.T) {
	c := &fakeCaller{name: "weather"}
	records := &fakeRecords{records: []*store.Ability{
		{Name: "weather", Enabled: true, Config: map[string]any{"units": "imperial"}},
	}}
	_, tr := boundRegistry(t, c, records)

	res := tr.Dispatch(context.Background(), familyInv(), "weather", map[string]any{"city": "Oslo"})
	if res.IsError {
		t.Fatalf("dispatch failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "forecast for Oslo") {
		t.Errorf("result = %q", res.ForLLM)
	}
	// Stored config overrides the default, untouched defaults survive.
	if c.lastCfg["units"] != "imperial" {
		t.Errorf("units = %v, want imperial", c.lastCfg["units"])
	}
	if c.lastCfg["days"] != 3 {
		t.Errorf("days = %v, want default 3", c.lastCfg["days"])
	}
}

func TestBindToolsSchemaAndAccessGate(t *testing.T) {
	c := &fakeCaller{name: "weather"}
	_, tr := boundRegistry(t, c, &fakeRecords{})

	res := tr.Dispatch(context.Background(), familyInv(), "weather", map[string]any{})
	if !res.IsError {
		t.Error("missing required arg passed validation")
	}

	public := &tools.Invocation{Platform: "cli", ChatID: "1", Access: store.AccessPublic}
	res = tr.Dispatch(context.Background(), public, "weather", map[string]any{"city": "Oslo"})
	if !res.IsError {
		t.Error("public caller reached a family-gated ability")
	}
}

func TestBindToolsDisabledAbility(t *testing.T) {
	c := &fakeCaller{name: "weather"}
	records := &fakeRecords{records: []*store.Ability{{Name: "weather", Enabled: false}}}
	_, tr := boundRegistry(t, c, records)

	res := tr.Dispatch(context.Background(), familyInv(), "weather", map[string]any{"city": "Oslo"})
	if !res.IsError || !strings.Contains(res.ForLLM, "disabled") {
		t.Errorf("disabled ability dispatched: %+v", res)
	}
}

func TestBindToolsCollisionSkipped(t *testing.T) {
	tr := tools.NewRegistry()
	tr.Register(&tools.Tool{
		Name:        "weather",
		Description: "builtin",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		MinAccess:   store.AccessPublic,
		Handler: func(context.Context, *tools.Invocation, map[string]any) tools.Result {
			return tools.Ok("builtin wins")
		},
	})

	r := NewRegistry(&fakeRecords{})
	r.AddCaller(&fakeCaller{name: "weather"})
	r.BindTools(tr)

	res := tr.Dispatch(context.Background(), familyInv(), "weather", map[string]any{})
	if res.ForLLM != "builtin wins" {
		t.Errorf("builtin was shadowed: %q", res.ForLLM)
	}
}

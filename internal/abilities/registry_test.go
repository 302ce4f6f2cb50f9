package abilities

import (
	"context"
	"errors"
	"testing"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/store"
)

type fakeRecords struct {
	upserts []string
	records []*store.Ability
}

func (f *fakeRecords) Upsert(_ context.Context, a *store.Ability) error {
	f.upserts = append(f.upserts, a.Name)
	for _, r := range f.records {
		if r.Name == a.Name {
			return nil
		}
	}
	f.records = append(f.records, &store.Ability{Name: a.Name, Enabled: a.Enabled})
	return nil
}

func (f *fakeRecords) List(context.Context) ([]*store.Ability, error) {
	return f.records, nil
}

type fakePre struct {
	name    string
	handled bool
	err     error
	calls   int
}

func (p *fakePre) Name() string        { return p.name }
func (p *fakePre) Version() string     { return "0.0.1" }
func (p *fakePre) Description() string { return "test" }
func (p *fakePre) Process(context.Context, *bus.InboundMessage, map[string]any) (bool, error) {
	p.calls++
	return p.handled, p.err
}

func TestSyncUpsertsBuiltins(t *testing.T) {
	fs := &fakeRecords{}
	r := NewRegistry(fs)
	r.Add(&fakePre{name: "alpha"})
	r.Add(&fakePre{name: "beta"})

	if err := r.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fs.upserts) != 2 {
		t.Errorf("upserts = %v", fs.upserts)
	}
}

func TestPreprocessShortCircuit(t *testing.T) {
	fs := &fakeRecords{}
	r := NewRegistry(fs)
	first := &fakePre{name: "first", handled: true}
	second := &fakePre{name: "second"}
	r.Add(first)
	r.Add(second)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	r.Preprocess(context.Background(), &bus.InboundMessage{})
	if first.calls != 1 || second.calls != 0 {
		t.Errorf("calls = %d/%d, want 1/0", first.calls, second.calls)
	}
}

func TestPreprocessSkipsDisabled(t *testing.T) {
	fs := &fakeRecords{records: []*store.Ability{{Name: "off", Enabled: false}}}
	r := NewRegistry(fs)
	off := &fakePre{name: "off", handled: true}
	next := &fakePre{name: "next"}
	r.Add(off)
	r.Add(next)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	r.Preprocess(context.Background(), &bus.InboundMessage{})
	if off.calls != 0 {
		t.Error("disabled ability ran")
	}
	if next.calls != 1 {
		t.Error("chain stopped at disabled ability")
	}
}

func TestPreprocessContinuesOnError(t *testing.T) {
	fs := &fakeRecords{}
	r := NewRegistry(fs)
	broken := &fakePre{name: "broken", err: errors.New("boom")}
	healthy := &fakePre{name: "healthy"}
	r.Add(broken)
	r.Add(healthy)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	r.Preprocess(context.Background(), &bus.InboundMessage{})
	if healthy.calls != 1 {
		t.Error("error in one ability stopped the chain")
	}
}

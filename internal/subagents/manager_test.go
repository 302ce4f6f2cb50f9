package subagents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/store"
)

type fakeRunStore struct {
	mu       sync.Mutex
	created  []*store.SubagentRun
	statuses map[uuid.UUID]string
	finished chan uuid.UUID
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		statuses: make(map[uuid.UUID]string),
		finished: make(chan uuid.UUID, 8),
	}
}

func (f *fakeRunStore) Create(_ context.Context, r *store.SubagentRun) error {
	r.RunID = uuid.New()
	r.StartedAt = time.Now()
	f.mu.Lock()
	f.created = append(f.created, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunStore) Finish(_ context.Context, runID uuid.UUID, status, _, _ string, _, _ int) error {
	f.mu.Lock()
	f.statuses[runID] = status
	f.mu.Unlock()
	f.finished <- runID
	return nil
}

func (f *fakeRunStore) Recent(context.Context, int) ([]*store.SubagentRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.SubagentRun(nil), f.created...), nil
}

func (f *fakeRunStore) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func waitFinished(t *testing.T, fs *fakeRunStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-fs.finished:
		case <-time.After(5 * time.Second):
			t.Fatalf("worker %d of %d never finished", i+1, n)
		}
	}
}

func TestSpawnPassesSpawnerAccess(t *testing.T) {
	fs := newFakeRunStore()
	m := NewManager(fs, 2)

	var mu sync.Mutex
	var seen store.AccessLevel
	m.Wire(func(_ context.Context, task string, access store.AccessLevel) (string, int, int, error) {
		mu.Lock()
		seen = access
		mu.Unlock()
		return "done: " + task, 10, 5, nil
	}, nil)

	runID, err := m.Spawn(context.Background(), uuid.New(), "summarize notes", "telegram", "1", store.AccessOwner)
	if err != nil {
		t.Fatal(err)
	}
	waitFinished(t, fs, 1)

	mu.Lock()
	got := seen
	mu.Unlock()
	if got != store.AccessOwner {
		t.Errorf("worker ran with access %q, want owner", got)
	}
	if s := fs.status(runID); s != store.RunCompleted {
		t.Errorf("status = %q, want completed", s)
	}
}

func TestCancelBySession(t *testing.T) {
	fs := newFakeRunStore()
	m := NewManager(fs, 4)
	m.Wire(func(ctx context.Context, _ string, _ store.AccessLevel) (string, int, int, error) {
		<-ctx.Done()
		return "", 0, 0, ctx.Err()
	}, nil)

	mine := uuid.New()
	other := uuid.New()
	a, err := m.Spawn(context.Background(), mine, "a", "cli", "1", store.AccessFamily)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Spawn(context.Background(), mine, "b", "cli", "1", store.AccessFamily)
	if err != nil {
		t.Fatal(err)
	}
	c, err := m.Spawn(context.Background(), other, "c", "cli", "2", store.AccessFamily)
	if err != nil {
		t.Fatal(err)
	}

	if n := m.CancelBySession(mine); n != 2 {
		t.Fatalf("cancelled %d workers, want 2", n)
	}
	waitFinished(t, fs, 2)

	if fs.status(a) != store.RunCancelled || fs.status(b) != store.RunCancelled {
		t.Errorf("statuses = %q, %q, want cancelled", fs.status(a), fs.status(b))
	}
	if fs.status(c) != "" {
		t.Errorf("unrelated session's worker finished with %q", fs.status(c))
	}

	// The survivor still counts as active and can be cancelled directly.
	if err := m.Cancel(c); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, fs, 1)
}

func TestSpawnCapRejects(t *testing.T) {
	fs := newFakeRunStore()
	m := NewManager(fs, 1)
	release := make(chan struct{})
	m.Wire(func(ctx context.Context, _ string, _ store.AccessLevel) (string, int, int, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "ok", 0, 0, nil
	}, nil)

	if _, err := m.Spawn(context.Background(), uuid.New(), "long job", "cli", "1", store.AccessFamily); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Spawn(context.Background(), uuid.New(), "second", "cli", "1", store.AccessFamily); err == nil {
		t.Fatal("spawn above the cap succeeded")
	}
	close(release)
	waitFinished(t, fs, 1)
}

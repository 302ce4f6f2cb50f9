package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/syne-agent/syne/internal/store"
)

// fakeStore keeps memories in a slice and returns canned similarities.
type fakeStore struct {
	memories   []*store.Memory
	nearestSim float64
	updated    []uuid.UUID
	touched    []uuid.UUID
	deleted    []uuid.UUID
	dim        int
}

func (f *fakeStore) Insert(_ context.Context, m *store.Memory) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	f.memories = append(f.memories, m)
	return nil
}

func (f *fakeStore) Update(_ context.Context, id uuid.UUID, content string, _ pgvector.Vector) error {
	f.updated = append(f.updated, id)
	for _, m := range f.memories {
		if m.ID == id {
			m.Content = content
		}
	}
	return nil
}

func (f *fakeStore) Nearest(_ context.Context, q store.MemoryQuery) ([]*store.Memory, error) {
	var out []*store.Memory
	for _, m := range f.memories {
		if q.Category != "" && m.Category != q.Category {
			continue
		}
		c := *m
		c.Similarity = f.nearestSim
		out = append(out, &c)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) All(_ context.Context) ([]*store.Memory, error) {
	out := make([]*store.Memory, len(f.memories))
	copy(out, f.memories)
	return out, nil
}

func (f *fakeStore) Touch(_ context.Context, ids []uuid.UUID) error {
	f.touched = append(f.touched, ids...)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	for i, m := range f.memories {
		if m.ID == id {
			f.memories = append(f.memories[:i], f.memories[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) Dimension(context.Context) (int, error) { return f.dim, nil }
func (f *fakeStore) SetDimension(_ context.Context, dim int) error {
	f.dim = dim
	f.memories = nil
	return nil
}

// fakeEmbedder returns a fixed vector for any input.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = 1
	}
	return out, nil
}

func (f *fakeEmbedder) Dim() int { return f.dim }

func newTestEngine(fs *fakeStore) *Engine {
	return NewEngine(fs, &fakeEmbedder{dim: 8})
}

func seed(fs *fakeStore, category string) *store.Memory {
	m := &store.Memory{ID: uuid.New(), Content: "existing", Category: category}
	fs.memories = append(fs.memories, m)
	return m
}

func TestStoreIfNewThresholds(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		sim        float64
		wantAction string
	}{
		{"near duplicate skipped", 0.90, "skipped"},
		{"at skip threshold skipped", 0.85, "skipped"},
		{"similar updated", 0.78, "updated"},
		{"at update threshold updated", 0.70, "updated"},
		{"distinct inserted", 0.50, "inserted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStore{nearestSim: tt.sim}
			existing := seed(fs, "preferences")
			e := newTestEngine(fs)

			res, err := e.StoreIfNew(ctx, "likes dark roast coffee", "preferences", "explicit", nil, 0.5)
			if err != nil {
				t.Fatal(err)
			}
			if res.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", res.Action, tt.wantAction)
			}
			switch tt.wantAction {
			case "skipped":
				if len(fs.memories) != 1 || len(fs.updated) != 0 {
					t.Error("skip must not write")
				}
			case "updated":
				if len(fs.updated) != 1 || fs.updated[0] != existing.ID {
					t.Errorf("updated = %v, want %v", fs.updated, existing.ID)
				}
				if len(fs.memories) != 1 {
					t.Error("update must not insert")
				}
			case "inserted":
				if len(fs.memories) != 2 {
					t.Errorf("have %d memories, want 2", len(fs.memories))
				}
			}
		})
	}
}

func TestStoreIfNewEmptyStore(t *testing.T) {
	fs := &fakeStore{}
	e := newTestEngine(fs)
	res, err := e.StoreIfNew(context.Background(), "first fact", "facts", "explicit", nil, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != "inserted" || len(fs.memories) != 1 {
		t.Errorf("action = %q, memories = %d", res.Action, len(fs.memories))
	}
}

func TestRecallPrivacyGate(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{nearestSim: 0.9}
	seed(fs, "health")
	seed(fs, "preferences")
	e := newTestEngine(fs)

	public, err := e.Recall(ctx, "anything", "", 10, 0, store.AccessPublic)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range public {
		if m.Category == "health" {
			t.Error("health memory leaked to public requester")
		}
	}
	if len(public) != 1 {
		t.Errorf("public sees %d memories, want 1", len(public))
	}

	family, err := e.Recall(ctx, "anything", "", 10, 0, store.AccessFamily)
	if err != nil {
		t.Fatal(err)
	}
	if len(family) != 2 {
		t.Errorf("family sees %d memories, want 2", len(family))
	}
}

func TestRecallGatedCategoryQuery(t *testing.T) {
	fs := &fakeStore{nearestSim: 0.9}
	seed(fs, "medical")
	e := newTestEngine(fs)

	got, err := e.Recall(context.Background(), "diagnosis", "medical", 5, 0, store.AccessPublic)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Error("explicit gated category returned results for public requester")
	}
	if len(fs.touched) != 0 {
		t.Error("gated query must not bump access counters")
	}
}

func TestRecallTouchesResults(t *testing.T) {
	fs := &fakeStore{nearestSim: 0.9}
	m := seed(fs, "facts")
	e := newTestEngine(fs)

	got, err := e.Recall(context.Background(), "fact", "", 5, 0, store.AccessOwner)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(fs.touched) != 1 || fs.touched[0] != m.ID {
		t.Errorf("touched = %v, want [%v]", fs.touched, m.ID)
	}
}

func TestRecallSimilarityFloor(t *testing.T) {
	fs := &fakeStore{nearestSim: 0.05}
	seed(fs, "facts")
	e := newTestEngine(fs)

	got, err := e.Recall(context.Background(), "unrelated query", "", 5, 0, store.AccessOwner)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("weak match of %.2f survived the default floor", fs.nearestSim)
	}
	if len(fs.touched) != 0 {
		t.Error("filtered results must not bump access counters")
	}

	// An explicit floor below the match lets it through.
	got, err = e.Recall(context.Background(), "unrelated query", "", 5, 0.01, store.AccessOwner)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got %d memories with floor 0.01, want 1", len(got))
	}
}

func embedded(fs *fakeStore, content string, importance float64, vec []float32) *store.Memory {
	m := &store.Memory{
		ID: uuid.New(), Content: content, Category: "facts",
		Importance: importance, Embedding: pgvector.NewVector(vec),
	}
	fs.memories = append(fs.memories, m)
	return m
}

func TestDedupKeepsHigherImportance(t *testing.T) {
	fs := &fakeStore{}
	low := embedded(fs, "coffee order", 0.3, []float32{1, 0, 0})
	high := embedded(fs, "coffee order, oat milk", 0.9, []float32{0.99, 0.1, 0})
	distinct := embedded(fs, "birthday in june", 0.5, []float32{0, 1, 0})
	e := newTestEngine(fs)

	res, err := e.Dedup(context.Background(), 0.85, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 3 || len(res.Pairs) != 1 {
		t.Fatalf("scanned %d, pairs %d, want 3 and 1", res.Scanned, len(res.Pairs))
	}
	p := res.Pairs[0]
	if p.Kept != high.ID || p.Removed != low.ID {
		t.Errorf("kept %v removed %v, want kept %v removed %v", p.Kept, p.Removed, high.ID, low.ID)
	}
	if len(fs.deleted) != 1 || fs.deleted[0] != low.ID {
		t.Errorf("deleted = %v, want [%v]", fs.deleted, low.ID)
	}
	for _, m := range fs.memories {
		if m.ID == distinct.ID {
			return
		}
	}
	t.Error("distinct memory was removed")
}

func TestDedupTieKeepsOlder(t *testing.T) {
	fs := &fakeStore{}
	older := embedded(fs, "first write", 0.5, []float32{1, 0, 0})
	newer := embedded(fs, "second write", 0.5, []float32{1, 0, 0})
	e := newTestEngine(fs)

	res, err := e.Dedup(context.Background(), 0.85, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Pairs) != 1 || res.Pairs[0].Kept != older.ID || res.Pairs[0].Removed != newer.ID {
		t.Errorf("pairs = %+v, want older %v kept", res.Pairs, older.ID)
	}
}

func TestDedupDryRunDeletesNothing(t *testing.T) {
	fs := &fakeStore{}
	embedded(fs, "dup a", 0.5, []float32{1, 0, 0})
	embedded(fs, "dup b", 0.5, []float32{1, 0, 0})
	e := newTestEngine(fs)

	res, err := e.Dedup(context.Background(), 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.DryRun || len(res.Pairs) != 1 {
		t.Fatalf("dry run reported %d pairs", len(res.Pairs))
	}
	if len(fs.deleted) != 0 || len(fs.memories) != 2 {
		t.Error("dry run must not delete")
	}
}

func TestDedupSecondPassNoop(t *testing.T) {
	fs := &fakeStore{}
	embedded(fs, "dup a", 0.5, []float32{1, 0, 0})
	embedded(fs, "dup b", 0.5, []float32{1, 0, 0})
	e := newTestEngine(fs)

	if _, err := e.Dedup(context.Background(), 0, false); err != nil {
		t.Fatal(err)
	}
	res, err := e.Dedup(context.Background(), 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 1 || len(res.Pairs) != 0 {
		t.Errorf("second pass scanned %d with %d pairs, want 1 and 0", res.Scanned, len(res.Pairs))
	}
}

func TestEnsureDimensionWipe(t *testing.T) {
	fs := &fakeStore{dim: 1536}
	seed(fs, "facts")
	e := newTestEngine(fs) // embedder dim 8

	if err := e.EnsureDimension(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fs.dim != 8 {
		t.Errorf("dim = %d, want 8", fs.dim)
	}
	if len(fs.memories) != 0 {
		t.Error("dimension change must wipe stored vectors")
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`[{"a":1}]`, `[{"a":1}]`},
		{"```json\n[]\n```", "[]"},
		{"Here you go: [1,2]", "[1,2]"},
		{"nothing useful", "[]"},
	}
	for _, tt := range tests {
		if got := extractJSONArray(tt.in); got != tt.want {
			t.Errorf("extractJSONArray(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

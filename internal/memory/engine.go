// Package memory implements long-term semantic memory on top of pgvector.
// Every stored item is embedded once; recall is cosine nearest-neighbor with
// a category privacy gate applied before results are ranked.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/security"
	"github.com/syne-agent/syne/internal/store"
)

// Dedup thresholds for StoreIfNew. At or above skipThreshold the candidate
// is treated as already known; between updateThreshold and skipThreshold the
// nearest existing memory is refreshed in place; below updateThreshold a new
// row is inserted.
const (
	skipThreshold   = 0.85
	updateThreshold = 0.70
)

// Store is the persistence surface the engine needs.
type Store interface {
	Insert(ctx context.Context, m *store.Memory) error
	Update(ctx context.Context, id uuid.UUID, content string, embedding pgvector.Vector) error
	Nearest(ctx context.Context, q store.MemoryQuery) ([]*store.Memory, error)
	All(ctx context.Context) ([]*store.Memory, error)
	Touch(ctx context.Context, ids []uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	Dimension(ctx context.Context) (int, error)
	SetDimension(ctx context.Context, dim int) error
}

// Engine ties the embedder to the memory store.
type Engine struct {
	store    Store
	embedder providers.Embedder
}

// NewEngine wires the engine. A nil embedder disables memory entirely;
// callers check Enabled before registering memory tools.
func NewEngine(s Store, embedder providers.Embedder) *Engine {
	return &Engine{store: s, embedder: embedder}
}

// Enabled reports whether memory is operational.
func (e *Engine) Enabled() bool {
	return e != nil && e.embedder != nil && e.store != nil
}

// EnsureDimension wipes stored vectors when the embedding model's dimension
// changed since last startup.
func (e *Engine) EnsureDimension(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}
	current, err := e.store.Dimension(ctx)
	if err != nil {
		return err
	}
	want := e.embedder.Dim()
	if current != 0 && current != want {
		slog.Warn("embedding dimension mismatch, recreating memory column",
			"stored", current, "configured", want)
		return e.store.SetDimension(ctx, want)
	}
	return nil
}

func (e *Engine) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) == 0 {
		return pgvector.Vector{}, fmt.Errorf("embed: empty result")
	}
	return pgvector.NewVector(vecs[0]), nil
}

// StoreResult describes what StoreIfNew did.
type StoreResult struct {
	Action     string // "inserted", "updated", "skipped"
	ID         uuid.UUID
	Similarity float64
}

// Store unconditionally inserts a memory.
func (e *Engine) Store(ctx context.Context, content, category, source string, userID *uuid.UUID, importance float64) (*store.Memory, error) {
	if !e.Enabled() {
		return nil, fmt.Errorf("memory is not configured")
	}
	vec, err := e.embed(ctx, content)
	if err != nil {
		return nil, err
	}
	m := &store.Memory{
		Content:    content,
		Category:   category,
		Embedding:  vec,
		Source:     source,
		UserID:     userID,
		Importance: importance,
	}
	if err := e.store.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// StoreIfNew deduplicates against the nearest existing memory in the same
// category before writing.
func (e *Engine) StoreIfNew(ctx context.Context, content, category, source string, userID *uuid.UUID, importance float64) (*StoreResult, error) {
	if !e.Enabled() {
		return nil, fmt.Errorf("memory is not configured")
	}
	vec, err := e.embed(ctx, content)
	if err != nil {
		return nil, err
	}

	nearest, err := e.store.Nearest(ctx, store.MemoryQuery{
		Embedding: vec, Category: category, Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(nearest) > 0 {
		top := nearest[0]
		switch {
		case top.Similarity >= skipThreshold:
			return &StoreResult{Action: "skipped", ID: top.ID, Similarity: top.Similarity}, nil
		case top.Similarity >= updateThreshold:
			if err := e.store.Update(ctx, top.ID, content, vec); err != nil {
				return nil, err
			}
			return &StoreResult{Action: "updated", ID: top.ID, Similarity: top.Similarity}, nil
		}
	}

	m := &store.Memory{
		Content:    content,
		Category:   category,
		Embedding:  vec,
		Source:     source,
		UserID:     userID,
		Importance: importance,
	}
	if err := e.store.Insert(ctx, m); err != nil {
		return nil, err
	}
	sim := 0.0
	if len(nearest) > 0 {
		sim = nearest[0].Similarity
	}
	return &StoreResult{Action: "inserted", ID: m.ID, Similarity: sim}, nil
}

// DefaultMinSimilarity is the recall floor applied when the caller does not
// pick one. Matches below it are noise for short queries.
const DefaultMinSimilarity = 0.3

// Recall searches memories for a requester. Categories gated by the privacy
// rule are filtered out for requesters below family access before ranking,
// so a gated memory never occupies a result slot it cannot fill. Matches
// below minSim are dropped (pass <= 0 for the default floor). Returned
// memories get their access counters bumped.
func (e *Engine) Recall(ctx context.Context, query string, category string, limit int, minSim float64, requester store.AccessLevel) ([]*store.Memory, error) {
	if !e.Enabled() {
		return nil, fmt.Errorf("memory is not configured")
	}
	if category != "" && !security.CategoryVisible(category, requester) {
		return nil, nil
	}
	vec, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	if minSim <= 0 {
		minSim = DefaultMinSimilarity
	}

	// Over-fetch so post-filtering still fills the requested limit.
	fetch := limit
	if requester.Rank() < store.AccessFamily.Rank() {
		fetch = limit * 3
	}
	results, err := e.store.Nearest(ctx, store.MemoryQuery{
		Embedding: vec, Category: category, Limit: fetch,
	})
	if err != nil {
		return nil, err
	}

	var visible []*store.Memory
	var ids []uuid.UUID
	for _, m := range results {
		if m.Similarity < minSim {
			// Results arrive most similar first.
			break
		}
		if !security.CategoryVisible(m.Category, requester) {
			continue
		}
		visible = append(visible, m)
		ids = append(ids, m.ID)
		if len(visible) == limit {
			break
		}
	}
	if err := e.store.Touch(ctx, ids); err != nil {
		slog.Warn("memory access bump failed", "error", err)
	}
	return visible, nil
}

// Forget deletes a memory by id.
func (e *Engine) Forget(ctx context.Context, id uuid.UUID) error {
	if !e.Enabled() {
		return fmt.Errorf("memory is not configured")
	}
	return e.store.Delete(ctx, id)
}

// DedupPair records one near-duplicate resolution.
type DedupPair struct {
	Kept       uuid.UUID
	Removed    uuid.UUID
	Similarity float64
	Content    string // content of the removed memory
}

// DedupResult summarizes a deduplication pass.
type DedupResult struct {
	Scanned int
	Pairs   []DedupPair
	DryRun  bool
}

// Dedup scans all stored memories pairwise and removes near-duplicates at or
// above threshold (pass <= 0 for the store-time skip threshold). Of each
// duplicate pair the higher-importance memory survives; on equal importance
// the older one does. With dryRun set nothing is deleted and the result
// only reports what a real pass would remove.
func (e *Engine) Dedup(ctx context.Context, threshold float64, dryRun bool) (*DedupResult, error) {
	if !e.Enabled() {
		return nil, fmt.Errorf("memory is not configured")
	}
	if threshold <= 0 {
		threshold = skipThreshold
	}
	all, err := e.store.All(ctx)
	if err != nil {
		return nil, err
	}

	res := &DedupResult{Scanned: len(all), DryRun: dryRun}
	removed := make(map[uuid.UUID]bool)
	// all is ordered oldest first, so for i < j the memory at i is older.
	for i := 0; i < len(all); i++ {
		if removed[all[i].ID] {
			continue
		}
		for j := i + 1; j < len(all); j++ {
			if removed[all[j].ID] {
				continue
			}
			sim := cosineSimilarity(all[i].Embedding.Slice(), all[j].Embedding.Slice())
			if sim < threshold {
				continue
			}
			keep, drop := all[i], all[j]
			if drop.Importance > keep.Importance {
				keep, drop = drop, keep
			}
			removed[drop.ID] = true
			res.Pairs = append(res.Pairs, DedupPair{
				Kept: keep.ID, Removed: drop.ID,
				Similarity: sim, Content: drop.Content,
			})
			if removed[all[i].ID] {
				break
			}
		}
	}
	if dryRun {
		return res, nil
	}
	for _, p := range res.Pairs {
		if err := e.store.Delete(ctx, p.Removed); err != nil {
			return res, fmt.Errorf("dedup delete %s: %w", p.Removed, err)
		}
	}
	return res, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// FormatRecall renders recall results for a tool reply.
func FormatRecall(memories []*store.Memory) string {
	if len(memories) == 0 {
		return "No relevant memories found."
	}
	var b strings.Builder
	for i, m := range memories {
		fmt.Fprintf(&b, "%d. [%s, %.0f%% match, id %s] %s\n",
			i+1, m.Category, m.Similarity*100, m.ID, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
)

// fakeVectors is an in-memory vector.Store for reconciler tests.
type fakeVectors struct {
	mu     sync.Mutex
	points map[string]vector.Payload
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{points: make(map[string]vector.Payload)}
}

func (f *fakeVectors) EnsureCollection(context.Context, int) error { return nil }

func (f *fakeVectors) UpsertPoints(_ context.Context, points []vector.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range points {
		f.points[p.ID] = p.Payload
	}
	return nil
}

func (f *fakeVectors) DeletePoints(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeVectors) DeleteByFilter(_ context.Context, filter vector.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.points {
		if filter.SourceID != "" && p.SourceID != filter.SourceID {
			continue
		}
		if filter.DocID != "" && p.DocID != filter.DocID {
			continue
		}
		delete(f.points, id)
	}
	return nil
}

func (f *fakeVectors) Search(context.Context, []float32, int, vector.Filter) ([]vector.ScoredPoint, error) {
	return nil, nil
}

func (f *fakeVectors) ScanIDs(_ context.Context, fn func(string) error) error {
	f.mu.Lock()
	ids := make([]string, 0, len(f.points))
	for id := range f.points {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeVectors) Close() error { return nil }

// seed creates a source with one document and one chunk whose point exists
// in the fake vector store.
func seed(t *testing.T, meta *store.Store, vectors *fakeVectors) (*store.Source, *store.Chunk) {
	t.Helper()
	ctx := context.Background()

	src, err := meta.UpsertSource(ctx, "docs", store.KindDirectory, "/srv/docs")
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	doc, err := meta.UpsertDocument(ctx, &store.Document{
		SourceID:    src.ID,
		URI:         "/srv/docs/a.md",
		ContentHash: "h",
		FetchedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("upsert document: %v", err)
	}

	id := store.ChunkID(doc.ID, store.ModalityText, 0, "h")
	chunk := &store.Chunk{
		ID:          id,
		DocID:       doc.ID,
		Ordinal:     0,
		Modality:    store.ModalityText,
		Content:     "hello",
		ContentHash: "h",
		PointID:     vector.PointID(id),
	}
	if _, err := meta.ReplaceChunks(ctx, doc.ID, store.ModalityText, []*store.Chunk{chunk}); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}

	if err := vectors.UpsertPoints(ctx, []vector.Point{{
		ID:      chunk.PointID,
		Vector:  []float32{1, 0, 0},
		Payload: vector.Payload{SourceID: src.ID, DocID: doc.ID, ChunkID: chunk.ID},
	}}); err != nil {
		t.Fatalf("seed point: %v", err)
	}
	return src, chunk
}

func Test_Reconciler_PruneRemovesOrphanPoints(t *testing.T) {
	t.Parallel()
	meta, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })
	vectors := newFakeVectors()
	_, chunk := seed(t, meta, vectors)

	// An orphan: a point no metadata chunk references.
	_ = vectors.UpsertPoints(context.Background(), []vector.Point{{
		ID:     vector.PointID("dangling-chunk"),
		Vector: []float32{0, 1, 0},
	}})

	rec := New(meta, vectors, nil, config.Default())
	result, err := rec.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}

	if result.Orphans != 1 {
		t.Errorf("want 1 orphan removed, got %d", result.Orphans)
	}
	if _, ok := vectors.points[chunk.PointID]; !ok {
		t.Error("referenced point must survive the orphan sweep")
	}
	if _, ok := vectors.points[vector.PointID("dangling-chunk")]; ok {
		t.Error("orphan point must be removed")
	}
}

func Test_Reconciler_RemoveDeletesEverything(t *testing.T) {
	t.Parallel()
	meta, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })
	vectors := newFakeVectors()
	src, _ := seed(t, meta, vectors)

	rec := New(meta, vectors, nil, config.Default())
	if err := rec.Remove(context.Background(), "docs"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := meta.GetSource(context.Background(), src.ID); err != store.ErrNotFound {
		t.Errorf("source must be gone, got %v", err)
	}
	n, err := meta.CountChunks(context.Background(), "")
	if err != nil || n != 0 {
		t.Errorf("chunks must cascade (n=%d, err=%v)", n, err)
	}
	if len(vectors.points) != 0 {
		t.Errorf("all points with the source id must be deleted, %d remain", len(vectors.points))
	}
}

func Test_Reconciler_RemoveUnknownSourceFails(t *testing.T) {
	t.Parallel()
	meta, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })

	rec := New(meta, newFakeVectors(), nil, config.Default())
	if err := rec.Remove(context.Background(), "nope"); err == nil {
		t.Fatal("removing an unknown source must fail")
	}
}

package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/embed"
	"github.com/sealad886/librarian/internal/fetch"
	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
)

// fakeVectors is an in-memory vector.Store capturing upserts and deletes.
type fakeVectors struct {
	mu     sync.Mutex
	points map[string]vector.Point
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{points: make(map[string]vector.Point)}
}

func (f *fakeVectors) EnsureCollection(context.Context, int) error { return nil }

func (f *fakeVectors) UpsertPoints(_ context.Context, points []vector.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range points {
		f.points[p.ID] = p
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
		if filter.SourceID != "" && p.Payload.SourceID != filter.SourceID {
			continue
		}
		if filter.DocID != "" && p.Payload.DocID != filter.DocID {
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

// count returns the number of stored points.
func (f *fakeVectors) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

// newTestEmbedder serves fixed-dimension embeddings over httptest.
func newTestEmbedder(t *testing.T) *embed.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embed/text", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Inputs))
		for i := range out {
			out[i] = []float32{1, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return embed.New(&config.EmbeddingConfig{
		URL:       server.URL,
		Model:     "test-model",
		Dimension: 3,
		BatchSize: 8,
	}, 5*time.Second)
}

// testEnv bundles a pipeline over a temp corpus directory.
type testEnv struct {
	pipeline *Pipeline
	meta     *store.Store
	vectors  *fakeVectors
	cfg      *config.Config
	root     string
	src      *store.Source
}

// newTestEnv prepares a pipeline over a fresh temp directory source.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Chunk = config.ChunkConfig{MaxChars: 1500, MinChars: 100, OverlapChars: 200, PreferHeadings: true}
	cfg.Crawl.Parallelism = 2

	meta, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })

	vectors := newFakeVectors()
	pipeline := New(meta, vectors, newTestEmbedder(t), nil, cfg)

	root := t.TempDir()
	src, err := meta.UpsertSource(context.Background(), "corpus", store.KindDirectory, root)
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}

	return &testEnv{pipeline: pipeline, meta: meta, vectors: vectors, cfg: cfg, root: root, src: src}
}

// run executes one pipeline pass over the temp directory.
func (e *testEnv) run(t *testing.T, op store.Operation) *store.Run {
	t.Helper()
	acq := &fetch.Directory{Root: e.root, Extensions: []string{".md", ".txt"}}
	run, err := e.pipeline.Run(context.Background(), e.src, acq, Options{Operation: op})
	if err != nil {
		t.Fatalf("pipeline run: %v", err)
	}
	return run
}

// write puts a file into the corpus.
func (e *testEnv) write(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.root, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func Test_Pipeline_FreshDirectoryIngest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.write(t, "a.md", "# A\n\n"+strings.Repeat("x", 1000))
	env.write(t, "b.txt", strings.Repeat("y", 200))

	run := env.run(t, store.OpIngest)

	if run.Status != store.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", run.Status)
	}
	if run.Counters.DocsSeen != 2 || run.Counters.DocsChanged != 2 {
		t.Errorf("counters: %+v", run.Counters)
	}
	if run.Counters.ChunksAdded != 2 {
		t.Errorf("want 1 chunk per small doc (2 total), got %d", run.Counters.ChunksAdded)
	}
	if env.vectors.count() != 2 {
		t.Errorf("want 2 points in the vector store, got %d", env.vectors.count())
	}

	docs, err := env.meta.ListDocuments(context.Background(), env.src.ID)
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("want 2 documents, got %d", len(docs))
	}
}

func Test_Pipeline_ReIngestUnchangedIsNoop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.write(t, "a.md", "# A\n\n"+strings.Repeat("x", 1000))
	env.write(t, "b.txt", strings.Repeat("y", 200))

	env.run(t, store.OpIngest)
	second := env.run(t, store.OpIngest)

	if second.Counters.DocsSeen != 2 {
		t.Errorf("docs_seen = %d, want 2", second.Counters.DocsSeen)
	}
	if second.Counters.DocsChanged != 0 || second.Counters.ChunksAdded != 0 || second.Counters.ChunksRemoved != 0 {
		t.Errorf("unchanged corpus must be a no-op, got %+v", second.Counters)
	}
}

func Test_Pipeline_DocumentEditReplacesChunksAndPoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.write(t, "a.md", "# A\n\n"+strings.Repeat("x", 1000))
	env.run(t, store.OpIngest)

	docsBefore, _ := env.meta.ListDocuments(context.Background(), env.src.ID)
	if len(docsBefore) != 1 {
		t.Fatalf("want 1 document, got %d", len(docsBefore))
	}
	canonicalID := docsBefore[0].ID

	// Grow the document past one chunk.
	env.write(t, "a.md", "# A\n\n"+strings.Repeat("x", 1000)+"\n\n"+strings.Repeat("z", 2000))
	update := env.run(t, store.OpUpdate)

	if update.Counters.DocsChanged != 1 {
		t.Errorf("docs_changed = %d, want 1", update.Counters.DocsChanged)
	}

	docsAfter, _ := env.meta.ListDocuments(context.Background(), env.src.ID)
	if len(docsAfter) != 1 || docsAfter[0].ID != canonicalID {
		t.Errorf("canonical document id must survive the edit")
	}

	chunks, err := env.meta.GetChunksByModality(context.Background(), canonicalID, store.ModalityText)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("grown document must span multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Ordinal != i {
			t.Errorf("ordinals must be dense: chunk %d has ordinal %d", i, c.Ordinal)
		}
	}
	if env.vectors.count() != len(chunks) {
		t.Errorf("vector store must track the chunk set: %d points vs %d chunks", env.vectors.count(), len(chunks))
	}
}

func Test_Pipeline_UpdatePrunesDeletedDocuments(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.write(t, "keep.md", "# Keep\n\n"+strings.Repeat("k", 500))
	env.write(t, "drop.md", "# Drop\n\n"+strings.Repeat("d", 500))
	env.run(t, store.OpIngest)

	if err := os.Remove(filepath.Join(env.root, "drop.md")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	update := env.run(t, store.OpUpdate)

	if update.Counters.DocsSeen != 1 {
		t.Errorf("docs_seen = %d, want 1", update.Counters.DocsSeen)
	}

	docs, _ := env.meta.ListDocuments(context.Background(), env.src.ID)
	if len(docs) != 1 || !strings.HasSuffix(docs[0].URI, "keep.md") {
		t.Errorf("unseen document must be pruned, remaining: %+v", docs)
	}
	if env.vectors.count() != 1 {
		t.Errorf("pruned document's points must be deleted, %d remain", env.vectors.count())
	}
}

func Test_Pipeline_IngestOperationDoesNotPrune(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.write(t, "a.md", "# A\n\ncontent here")
	env.run(t, store.OpIngest)

	if err := os.Remove(filepath.Join(env.root, "a.md")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	env.write(t, "b.md", "# B\n\nother content")
	env.run(t, store.OpIngest)

	docs, _ := env.meta.ListDocuments(context.Background(), env.src.ID)
	if len(docs) != 2 {
		t.Errorf("ingest is additive and must not prune, got %d docs", len(docs))
	}
}

func Test_Pipeline_ReindexForcesReembedding(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.write(t, "a.md", "# A\n\n"+strings.Repeat("x", 800))
	env.run(t, store.OpIngest)

	reindex := env.run(t, store.OpReindex)
	if reindex.Counters.DocsChanged != 1 {
		t.Errorf("reindex must reprocess unchanged documents, docs_changed = %d", reindex.Counters.DocsChanged)
	}
	if reindex.Counters.ChunksAdded == 0 {
		t.Errorf("reindex must re-chunk, chunks_added = %d", reindex.Counters.ChunksAdded)
	}
}

func Test_Pipeline_EmptyDocumentKeepsRowWritesNoPoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.write(t, "empty.txt", "")

	run := env.run(t, store.OpIngest)
	if run.Status != store.StatusSucceeded {
		t.Fatalf("status = %s", run.Status)
	}

	docs, _ := env.meta.ListDocuments(context.Background(), env.src.ID)
	if len(docs) != 1 {
		t.Fatalf("empty document must still have a row, got %d docs", len(docs))
	}
	chunks, _ := env.meta.GetChunksByModality(context.Background(), docs[0].ID, store.ModalityText)
	if len(chunks) != 0 {
		t.Errorf("empty document must produce zero chunks, got %d", len(chunks))
	}
	if env.vectors.count() != 0 {
		t.Errorf("empty document must write no points, got %d", env.vectors.count())
	}
}

func Test_Pipeline_EnsureSourcePromptPolicy(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	// Same name at a different location needs confirmation; non-interactive
	// invocations must fail instead of prompting.
	otherRoot := t.TempDir()
	_, err := env.pipeline.EnsureSource(ctx, "corpus", store.KindDirectory, otherRoot, Options{Interactive: false})
	if err == nil {
		t.Fatal("non-interactive name collision must fail, not prompt")
	}

	asked := false
	src, err := env.pipeline.EnsureSource(ctx, "corpus", store.KindDirectory, otherRoot, Options{
		Interactive: true,
		Confirm: func(string) (bool, error) {
			asked = true
			return true, nil
		},
	})
	if err != nil {
		t.Fatalf("confirmed collision must proceed: %v", err)
	}
	if !asked {
		t.Error("interactive collision must prompt")
	}
	if src.Location != otherRoot {
		t.Errorf("new source location = %q", src.Location)
	}
}

func Test_Pipeline_CancellationClosesRunAsCancelled(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.write(t, "a.md", "# A\n\nsome content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acq := &fetch.Directory{Root: env.root, Extensions: []string{".md"}}
	run, err := env.pipeline.Run(ctx, env.src, acq, Options{Operation: store.OpUpdate})
	if err != nil {
		t.Fatalf("cancelled run must not surface an error: %v", err)
	}
	if run.Status != store.StatusCancelled {
		t.Errorf("status = %s, want cancelled", run.Status)
	}

	runs, err := env.meta.LastRuns(context.Background(), env.src.ID, 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("run row must be closed: %v", err)
	}
	if runs[0].Status != store.StatusCancelled || runs[0].FinishedAt == nil {
		t.Errorf("persisted run: status=%s finished=%v", runs[0].Status, runs[0].FinishedAt)
	}
}

package query

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/embed"
	"github.com/sealad886/librarian/internal/vector"
)

// fakeVectors is an in-memory vector.Store returning canned search hits.
type fakeVectors struct {
	hits []vector.ScoredPoint
}

func (f *fakeVectors) EnsureCollection(context.Context, int) error       { return nil }
func (f *fakeVectors) UpsertPoints(context.Context, []vector.Point) error { return nil }
func (f *fakeVectors) DeletePoints(context.Context, []string) error       { return nil }
func (f *fakeVectors) DeleteByFilter(context.Context, vector.Filter) error {
	return nil
}
func (f *fakeVectors) Search(_ context.Context, _ []float32, k int, _ vector.Filter) ([]vector.ScoredPoint, error) {
	if k > len(f.hits) {
		k = len(f.hits)
	}
	return f.hits[:k], nil
}
func (f *fakeVectors) ScanIDs(context.Context, func(string) error) error { return nil }
func (f *fakeVectors) Close() error                                      { return nil }

// newQueryEmbedder serves a minimal sidecar embedding endpoint.
func newQueryEmbedder(t *testing.T) *embed.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embed/text", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Inputs))
		for i := range out {
			out[i] = []float32{0.1, 0.2, 0.3}
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

// approx compares floats to three decimal places.
func approx(a, b float64) bool { return math.Abs(a-b) < 0.0005 }

func Test_Query_FusionMatchesWeightedMinMax(t *testing.T) {
	t.Parallel()

	candidates := []Result{
		{ChunkID: "c0", DocID: "d0", VectorScore: 1.0},
		{ChunkID: "c1", DocID: "d1", VectorScore: 0.6},
		{ChunkID: "c2", DocID: "d2", VectorScore: 0.2},
	}
	bm25 := []float64{0.2, 1.0, 0.5}

	fused := applyFusion(candidates, bm25, 0.3)

	// Normalized: vector → {1.0, 0.5, 0.0}; bm25 → {0.0, 1.0, 0.375}.
	// Fused: {0.700, 0.650, 0.113}; order preserved.
	wantOrder := []string{"c0", "c1", "c2"}
	wantScores := []float64{0.700, 0.650, 0.1125}
	for i, r := range fused {
		if r.ChunkID != wantOrder[i] {
			t.Errorf("position %d: got %s, want %s", i, r.ChunkID, wantOrder[i])
		}
		if !approx(r.Score, wantScores[i]) {
			t.Errorf("score[%d] = %.4f, want %.4f", i, r.Score, wantScores[i])
		}
	}
}

func Test_Query_FusionTieBreaksByVectorThenChunkID(t *testing.T) {
	t.Parallel()

	candidates := []Result{
		{ChunkID: "zz", DocID: "d0", VectorScore: 0.5},
		{ChunkID: "aa", DocID: "d1", VectorScore: 0.5},
	}
	// Equal everything: min-max collapses to zeros, so ties run all the
	// way down to the chunk id.
	fused := applyFusion(candidates, []float64{0.4, 0.4}, 0.3)
	if fused[0].ChunkID != "aa" {
		t.Errorf("ties must break by chunk id ascending, got %s first", fused[0].ChunkID)
	}
}

func Test_Query_BM25RanksTermMatches(t *testing.T) {
	t.Parallel()

	texts := []string{
		"the cat sat on the mat",
		"dogs chase cats through the garden",
		"a treatise on garden furniture",
	}
	scores := bm25Scores(tokenize("cat"), texts)

	if !(scores[0] > scores[2]) {
		t.Errorf("document with the exact term must outscore one without: %v", scores)
	}
	if scores[2] != 0 {
		t.Errorf("no term overlap must score zero, got %v", scores[2])
	}
}

func Test_Query_MinMaxNormalize(t *testing.T) {
	t.Parallel()

	got := minMaxNormalize([]float64{1.0, 0.6, 0.2})
	want := []float64{1.0, 0.5, 0.0}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("norm[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	flat := minMaxNormalize([]float64{0.7, 0.7})
	if flat[0] != 0 || flat[1] != 0 {
		t.Errorf("constant signal must normalize to zeros, got %v", flat)
	}
}

func Test_Query_SearchDeduplicatesPerDocument(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Query.TopK = 5
	vectors := &fakeVectors{hits: []vector.ScoredPoint{
		{ID: "p1", Score: 0.9, Payload: vector.Payload{ChunkID: "c1", DocID: "doc-a", URI: "/a", Content: "alpha one"}},
		{ID: "p2", Score: 0.8, Payload: vector.Payload{ChunkID: "c2", DocID: "doc-a", URI: "/a", Content: "alpha two"}},
		{ID: "p3", Score: 0.7, Payload: vector.Payload{ChunkID: "c3", DocID: "doc-b", URI: "/b", Content: "beta one"}},
	}}

	engine := New(newQueryEmbedder(t), vectors, nil, cfg, nil)
	results, err := engine.Search(context.Background(), Request{Query: "alpha"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("want one chunk per document (2 docs), got %d", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.DocID] {
			t.Errorf("document %s returned twice", r.DocID)
		}
		seen[r.DocID] = true
	}
}

func Test_Query_MinScoreFilters(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	vectors := &fakeVectors{hits: []vector.ScoredPoint{
		{ID: "p1", Score: 0.9, Payload: vector.Payload{ChunkID: "c1", DocID: "a", Content: "relevant text about cats"}},
		{ID: "p2", Score: 0.1, Payload: vector.Payload{ChunkID: "c2", DocID: "b", Content: "nothing related"}},
	}}

	engine := New(newQueryEmbedder(t), vectors, nil, cfg, nil)
	results, err := engine.Search(context.Background(), Request{Query: "cats", MinScore: 0.5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.Score < 0.5 {
			t.Errorf("result below min_score survived: %+v", r)
		}
	}
}

func Test_Query_RerankerReplacesScores(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/rerank", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Candidates []struct {
				Text string `json:"text"`
			} `json:"candidates"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Invert the incoming order.
		scores := make([]float64, len(req.Candidates))
		for i := range scores {
			scores[i] = float64(i)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"scores": scores})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	reranker := NewReranker(server.URL, "cross-model", false, 5*time.Second)
	results := []Result{
		{ChunkID: "c1", Score: 0.9, Content: "first"},
		{ChunkID: "c2", Score: 0.8, Content: "second"},
		{ChunkID: "c3", Score: 0.7, Content: "third"},
	}

	out, err := reranker.Rerank(context.Background(), "q", results, 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if out[0].ChunkID != "c3" || out[2].ChunkID != "c1" {
		t.Errorf("reranker scores must replace fused order, got %s,%s,%s",
			out[0].ChunkID, out[1].ChunkID, out[2].ChunkID)
	}
}

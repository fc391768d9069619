// Package query implements the hybrid query engine: vector search over the
// ANN store fused with BM25 lexical scores computed on the over-fetched
// candidate set, per-document deduplication, and optional cross-encoder
// reranking via the embedding sidecar.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/embed"
	"github.com/sealad886/librarian/internal/metrics"
	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
)

// Result is one query hit.
type Result struct {
	// ChunkID is the metadata-store chunk id.
	ChunkID string `json:"chunk_id"`
	// DocID is the canonical document id.
	DocID string `json:"doc_id"`
	// SourceID is the owning source id.
	SourceID string `json:"source_id"`
	// URI is the document URI.
	URI string `json:"uri"`
	// Title is the document title.
	Title string `json:"title"`
	// Modality is "text" or "image".
	Modality string `json:"modality"`
	// Ordinal is the chunk position within the document.
	Ordinal int `json:"ordinal"`
	// Content is the chunk text (media URL for image chunks).
	Content string `json:"content"`
	// Score is the final score: fused, or the reranker score when
	// reranking ran.
	Score float64 `json:"score"`
	// VectorScore is the raw cosine similarity.
	VectorScore float64 `json:"vector_score"`
	// BM25Score is the raw candidate-set BM25 score.
	BM25Score float64 `json:"bm25_score"`
}

// Request is one query invocation.
type Request struct {
	// Query is the query string.
	Query string
	// K is the number of results to return; 0 uses the configured top_k.
	K int
	// SourceID restricts results to one source when non-empty.
	SourceID string
	// MinScore drops results below this fused score; negative uses the
	// configured default.
	MinScore float64
}

// Engine fuses vector and lexical retrieval.
type Engine struct {
	// embedder embeds the query text.
	embedder *embed.Client
	// vectors performs the ANN search.
	vectors vector.Store
	// meta backfills chunk text when a payload lacks it.
	meta *store.Store
	// cfg holds query and reranker settings.
	cfg *config.Config
	// reranker scores (query, chunk) pairs; nil when disabled.
	reranker *Reranker
}

// New constructs an Engine. reranker may be nil.
func New(embedder *embed.Client, vectors vector.Store, meta *store.Store, cfg *config.Config, reranker *Reranker) *Engine {
	return &Engine{
		embedder: embedder,
		vectors:  vectors,
		meta:     meta,
		cfg:      cfg,
		reranker: reranker,
	}
}

// Search runs the full hybrid pipeline and returns the top-k results.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	started := time.Now()
	defer func() {
		metrics.Default.QuerySeconds.Observe(time.Since(started).Seconds())
	}()

	if req.Query == "" {
		return nil, fmt.Errorf("query: empty query")
	}
	k := req.K
	if k <= 0 {
		k = e.cfg.Query.TopK
	}
	minScore := req.MinScore
	if minScore < 0 {
		minScore = e.cfg.Query.MinScore
	}

	vecs, err := e.embedder.EmbedTexts(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("query: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("query: embedder returned no vector")
	}

	// Over-fetch so fusion and reranking have material to work with.
	fetchN := k * e.cfg.Query.Overfetch
	if e.reranker != nil && e.cfg.Reranker.TopK > fetchN {
		fetchN = e.cfg.Reranker.TopK
	}

	hits, err := e.vectors.Search(ctx, vecs[0], fetchN, vector.Filter{SourceID: req.SourceID})
	if err != nil {
		return nil, fmt.Errorf("query: vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	candidates := e.buildCandidates(ctx, hits)
	fused := fuse(req.Query, candidates, e.cfg.Query.BM25Weight)

	// At most one chunk per document, keeping the highest fused score.
	// The list is already sorted best-first.
	perDoc := make(map[string]struct{}, len(fused))
	deduped := fused[:0]
	for _, r := range fused {
		if _, dup := perDoc[r.DocID]; dup {
			continue
		}
		perDoc[r.DocID] = struct{}{}
		deduped = append(deduped, r)
	}

	filtered := deduped[:0]
	for _, r := range deduped {
		if r.Score >= minScore {
			filtered = append(filtered, r)
		}
	}

	if e.reranker != nil {
		reranked, err := e.reranker.Rerank(ctx, req.Query, filtered, e.cfg.Reranker.TopK)
		if err != nil {
			return nil, fmt.Errorf("query: rerank: %w", err)
		}
		filtered = reranked
	}

	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered, nil
}

// buildCandidates converts search hits into results, backfilling chunk text
// from the metadata store when a payload lacks it.
func (e *Engine) buildCandidates(ctx context.Context, hits []vector.ScoredPoint) []Result {
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		r := Result{
			ChunkID:     hit.Payload.ChunkID,
			DocID:       hit.Payload.DocID,
			SourceID:    hit.Payload.SourceID,
			URI:         hit.Payload.URI,
			Title:       hit.Payload.Title,
			Modality:    hit.Payload.Modality,
			Ordinal:     hit.Payload.Ordinal,
			Content:     hit.Payload.Content,
			VectorScore: float64(hit.Score),
		}
		if r.Content == "" && e.meta != nil && r.DocID != "" {
			if chunks, err := e.meta.GetChunksByModality(ctx, r.DocID, store.Modality(r.Modality)); err == nil {
				for _, c := range chunks {
					if c.ID == r.ChunkID {
						r.Content = c.Content
						break
					}
				}
			}
		}
		out = append(out, r)
	}
	return out
}

// fuse computes the fused score for each candidate and sorts best-first.
// Both signals are min-max normalized over the candidate set:
//
//	score = (1 − bm25Weight) · vectorNorm + bm25Weight · bm25Norm
//
// Ties break by raw vector score, then by chunk id.
func fuse(queryText string, candidates []Result, bm25Weight float64) []Result {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}
	bm25 := bm25Scores(tokenize(queryText), texts)
	return applyFusion(candidates, bm25, bm25Weight)
}

// applyFusion fills in BM25 and fused scores and sorts best-first. Split out
// of fuse so the arithmetic is testable with fixed score inputs.
func applyFusion(candidates []Result, bm25 []float64, bm25Weight float64) []Result {
	vecScores := make([]float64, len(candidates))
	for i, c := range candidates {
		vecScores[i] = c.VectorScore
	}
	vecNorm := minMaxNormalize(vecScores)
	bm25Norm := minMaxNormalize(bm25)

	for i := range candidates {
		candidates[i].BM25Score = bm25[i]
		candidates[i].Score = (1-bm25Weight)*vecNorm[i] + bm25Weight*bm25Norm[i]
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		return a.ChunkID < b.ChunkID
	})
	return candidates
}

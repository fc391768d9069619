package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Reranker scores (query, chunk) pairs with a cross-encoder model served by
// the embedding sidecar. Cross-encoders see both texts jointly, so they rank
// with deeper relevance than the bi-encoder similarity used for retrieval —
// at the cost of one extra round trip per query.
type Reranker struct {
	// baseURL is the sidecar base URL without trailing slash.
	baseURL string
	// model is the cross-encoder model identifier.
	model string
	// multimodal marks models that can score (query, image) pairs; derived
	// from the model registry, never configured.
	multimodal bool
	// client is the HTTP client for rerank requests.
	client *http.Client
}

// NewReranker constructs a Reranker against the sidecar.
func NewReranker(baseURL, model string, multimodal bool, timeout time.Duration) *Reranker {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Reranker{
		baseURL:    baseURL,
		model:      model,
		multimodal: multimodal,
		client:     &http.Client{Timeout: timeout},
	}
}

// rerankCandidate is one item of a rerank request.
type rerankCandidate struct {
	Text     string `json:"text"`
	MediaURL string `json:"media_url,omitempty"`
}

// rerankRequest is the body of POST /v1/rerank.
type rerankRequest struct {
	Model      string            `json:"model"`
	Query      string            `json:"query"`
	Candidates []rerankCandidate `json:"candidates"`
}

// rerankResponse carries one score per candidate, in request order.
type rerankResponse struct {
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Rerank sends the top-n results to the cross-encoder, replaces each score
// with the reranker score, and re-sorts. Results beyond topN keep their
// fused order below the reranked head.
func (r *Reranker) Rerank(ctx context.Context, query string, results []Result, topN int) ([]Result, error) {
	if len(results) == 0 {
		return results, nil
	}
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}

	head := results[:topN]
	candidates := make([]rerankCandidate, len(head))
	for i, res := range head {
		c := rerankCandidate{Text: res.Content}
		if r.multimodal && res.Modality == "image" {
			c.MediaURL = res.Content
			c.Text = res.Title
		}
		candidates[i] = c
	}

	payload, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Candidates: candidates})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var body rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := body.Error
		if body.Detail != "" {
			msg = body.Error + ": " + body.Detail
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%s", msg)
	}
	if len(body.Scores) != len(head) {
		return nil, fmt.Errorf("expected %d scores, got %d", len(head), len(body.Scores))
	}

	out := make([]Result, len(results))
	copy(out, results)
	for i := range head {
		out[i].Score = body.Scores[i]
	}
	sort.SliceStable(out[:topN], func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out, nil
}

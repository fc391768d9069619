// Package embed provides the HTTP client for the embedding sidecar. The
// sidecar exposes four endpoints: capabilities, probe, text embed, and
// image+text embed. At initialization the client probes the configured model
// and refuses to start when the probed dimension differs from the configured
// one — a dimension mismatch silently corrupts the vector collection.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/metrics"
)

// ErrDimensionMismatch is returned when the probed embedding dimension does
// not match the configured one. This is a fatal configuration error.
var ErrDimensionMismatch = errors.New("embed: probed dimension does not match configuration")

// Client talks to the embedding sidecar. It is safe for concurrent use.
type Client struct {
	// baseURL is the sidecar base URL without trailing slash.
	baseURL string
	// model is the embedding model identifier sent with every request.
	model string
	// dimension is the expected vector size, validated by Init.
	dimension int
	// batchSize is the maximum number of items per embed request.
	batchSize int
	// maxRetries bounds retry attempts for transient failures.
	maxRetries int
	// client is the shared HTTP client with the per-batch timeout.
	client *http.Client
}

// New constructs a Client from the embedding configuration. Call Init before
// embedding to validate the sidecar against the configuration.
func New(cfg *config.EmbeddingConfig, timeout time.Duration) *Client {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL:    trimSlash(cfg.URL),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		batchSize:  batch,
		maxRetries: retries,
		client:     &http.Client{Timeout: timeout},
	}
}

// Dimension returns the validated embedding dimension.
func (c *Client) Dimension() int { return c.dimension }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// ModelInfo describes one model advertised by the sidecar.
type ModelInfo struct {
	ID         string   `json:"id"`
	Dimension  int      `json:"dimension"`
	Modalities []string `json:"modalities"`
	Strategy   string   `json:"strategy"`
}

// Capabilities is the sidecar's advertised model inventory.
type Capabilities struct {
	BackendVersion string      `json:"backend_version"`
	Models         []ModelInfo `json:"models"`
}

// probeResponse is the body of POST /probe.
type probeResponse struct {
	Dimension       int         `json:"dimension"`
	TextEmbeddings  [][]float32 `json:"text_embeddings"`
	ImageEmbeddings [][]float32 `json:"image_embeddings,omitempty"`
	JointEmbeddings [][]float32 `json:"joint_embeddings,omitempty"`
}

// Capabilities fetches GET /capabilities.
func (c *Client) Capabilities(ctx context.Context) (*Capabilities, error) {
	var caps Capabilities
	if err := c.do(ctx, http.MethodGet, "/capabilities", nil, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// Init validates the sidecar against the configuration: the model must be
// advertised, every probe vector must have the advertised length, the
// advertised and configured dimensions must agree, and late-interaction
// strategies are rejected when multimodal ingestion is enabled. Any
// violation is a fatal configuration error.
func (c *Client) Init(ctx context.Context, multimodal bool) error {
	caps, err := c.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("embed: capabilities: %w", err)
	}

	var info *ModelInfo
	for i := range caps.Models {
		if caps.Models[i].ID == c.model {
			info = &caps.Models[i]
			break
		}
	}
	if info == nil {
		return fmt.Errorf("embed: model %q is not advertised by the backend (version %s)", c.model, caps.BackendVersion)
	}
	if multimodal && info.Strategy == config.StrategyLateInteraction {
		return fmt.Errorf("embed: model %q uses a late-interaction strategy, which is incompatible with multimodal ingestion", c.model)
	}

	var probe probeResponse
	if err := c.do(ctx, http.MethodPost, "/probe", map[string]string{"model": c.model}, &probe); err != nil {
		return fmt.Errorf("embed: probe: %w", err)
	}

	if probe.Dimension != info.Dimension {
		return fmt.Errorf("embed: probe dimension %d disagrees with advertised dimension %d for model %q", probe.Dimension, info.Dimension, c.model)
	}
	for _, set := range [][][]float32{probe.TextEmbeddings, probe.ImageEmbeddings, probe.JointEmbeddings} {
		for _, vec := range set {
			if len(vec) != probe.Dimension {
				return fmt.Errorf("embed: probe returned a vector of length %d, want %d", len(vec), probe.Dimension)
			}
		}
	}
	if probe.Dimension != c.dimension {
		return fmt.Errorf("%w: probed %d, configured %d (model %q)", ErrDimensionMismatch, probe.Dimension, c.dimension, c.model)
	}
	return nil
}

// textRequest is the body of POST /v1/embed/text.
type textRequest struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

// ImageInput is one item of an image+text embed request. Text carries the
// caption or surrounding context when available.
type ImageInput struct {
	ImageB64 string `json:"image_b64"`
	Text     string `json:"text,omitempty"`
}

// imageRequest is the body of POST /v1/embed/image_text.
type imageRequest struct {
	Model  string       `json:"model"`
	Inputs []ImageInput `json:"inputs"`
}

// embedResponse is the shared response shape of both embed endpoints.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedTexts embeds texts in batches of the configured size and returns one
// vector per input, in input order. Transient failures are retried with
// jittered exponential backoff; a 4xx fails the affected batch permanently.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.embedBatch(ctx, "/v1/embed/text", textRequest{Model: c.model, Inputs: texts[start:end]}, end-start)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedImages embeds (image, caption) pairs in batches and returns one
// vector per input, in input order.
func (c *Client) EmbedImages(ctx context.Context, inputs []ImageInput) ([][]float32, error) {
	out := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += c.batchSize {
		end := min(start+c.batchSize, len(inputs))
		vecs, err := c.embedBatch(ctx, "/v1/embed/image_text", imageRequest{Model: c.model, Inputs: inputs[start:end]}, end-start)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedBatch performs one embed request with retry and validates the result
// shape against the batch size and the configured dimension.
func (c *Client) embedBatch(ctx context.Context, path string, body any, want int) ([][]float32, error) {
	var resp embedResponse

	op := func() error {
		started := time.Now()
		err := c.do(ctx, http.MethodPost, path, body, &resp)
		metrics.Default.EmbedBatchSeconds.Observe(time.Since(started).Seconds())
		if err == nil {
			return nil
		}
		// Client errors are not retryable: the batch is malformed or the
		// model is misconfigured. Mark them permanent so backoff stops.
		var se *statusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("embed: %s batch failed: %w", path, err)
	}

	if len(resp.Embeddings) != want {
		return nil, fmt.Errorf("embed: expected %d embeddings, got %d", want, len(resp.Embeddings))
	}
	for _, vec := range resp.Embeddings {
		if len(vec) != c.dimension {
			return nil, fmt.Errorf("embed: backend returned a vector of length %d, want %d", len(vec), c.dimension)
		}
	}
	return resp.Embeddings, nil
}

// errorBody is the sidecar's JSON error envelope.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// statusError is a non-2xx sidecar response.
type statusError struct {
	Code   int
	Detail string
}

// Error implements the error interface.
func (e *statusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

// do performs one JSON request/response round trip against the sidecar.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("embed: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("embed: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		detail := eb.Error
		if eb.Detail != "" {
			detail = eb.Error + ": " + eb.Detail
		}
		return &statusError{Code: resp.StatusCode, Detail: detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("embed: decode response: %w", err)
		}
	}
	return nil
}

// trimSlash removes a trailing slash from a base URL.
func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

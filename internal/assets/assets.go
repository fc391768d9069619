// Package assets downloads and deduplicates image assets for multimodal
// ingestion. Downloads are deduplicated by URL and by 64-bit perceptual
// aHash (8×8 grayscale average), filtered by MIME type and size, and cached
// on disk in a content-addressed directory keyed by SHA-256 of the bytes.
package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corona10/goimagehash"

	// Image decoders registered for perceptual hashing.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/sealad886/librarian/internal/logging"
	"github.com/sealad886/librarian/internal/parse"
)

// Image is one downloaded, accepted image asset.
type Image struct {
	// URL is the asset's source URL.
	URL string
	// SHA256 is the hex digest of the image bytes.
	SHA256 string
	// AHash is the perceptual hash string, empty when the format could
	// not be decoded.
	AHash string
	// Bytes are the image bytes.
	Bytes []byte
	// MIME is the detected content type.
	MIME string
	// Alt is the alt text from the referencing element.
	Alt string
	// Context is the surrounding text used as an embedding caption.
	Context string
}

// Caption returns the best available caption text for embedding.
func (img *Image) Caption() string {
	if img.Alt != "" {
		return img.Alt
	}
	return img.Context
}

// Fetcher downloads image candidates with MIME and size filtering.
type Fetcher struct {
	// client is the HTTP client used for downloads.
	client *http.Client
	// cacheDir is the content-addressed cache directory.
	cacheDir string
	// maxBytes drops images larger than this.
	maxBytes int64
	// allowedMIME is the content-type allowlist.
	allowedMIME map[string]bool
}

// NewFetcher constructs a Fetcher. cacheDir is created on first use.
func NewFetcher(cacheDir string, maxBytes int64, mimeTypes []string, timeout time.Duration) *Fetcher {
	allowed := make(map[string]bool, len(mimeTypes))
	for _, m := range mimeTypes {
		allowed[strings.ToLower(m)] = true
	}
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		cacheDir:    cacheDir,
		maxBytes:    maxBytes,
		allowedMIME: allowed,
	}
}

// Fetch downloads the candidates and returns the accepted images in
// candidate order. Duplicates (same URL, or same perceptual hash as an
// earlier candidate) are dropped. Item-level failures are logged and
// skipped; Fetch only fails on context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, candidates []parse.ImageCandidate) ([]*Image, error) {
	log := logging.FromContext(ctx)

	seenURL := make(map[string]struct{})
	seenAHash := make(map[string]struct{})

	var out []*Image
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, dup := seenURL[cand.URL]; dup {
			continue
		}
		seenURL[cand.URL] = struct{}{}

		img, err := f.fetchOne(ctx, cand)
		if err != nil {
			log.Warn("assets: skipping image",
				slog.String("url", cand.URL),
				slog.Any("error", err),
			)
			continue
		}
		if img == nil {
			continue // filtered out
		}

		if img.AHash != "" {
			if _, dup := seenAHash[img.AHash]; dup {
				continue
			}
			seenAHash[img.AHash] = struct{}{}
		}

		if err := f.cache(img); err != nil {
			log.Warn("assets: cache write failed",
				slog.String("url", img.URL),
				slog.Any("error", err),
			)
		}
		out = append(out, img)
	}
	return out, nil
}

// fetchOne downloads and filters a single candidate. A nil, nil return means
// the image was filtered out by MIME type or size.
func (f *Fetcher) fetchOne(ctx context.Context, cand parse.ImageCandidate) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, nil
	}

	mime := strings.ToLower(resp.Header.Get("Content-Type"))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(body)
	}
	if len(f.allowedMIME) > 0 && !f.allowedMIME[mime] {
		return nil, nil
	}

	sum := sha256.Sum256(body)
	img := &Image{
		URL:     cand.URL,
		SHA256:  hex.EncodeToString(sum[:]),
		Bytes:   body,
		MIME:    mime,
		Alt:     cand.Alt,
		Context: cand.Context,
	}
	img.AHash = perceptualHash(body)
	return img, nil
}

// perceptualHash computes the 64-bit aHash of the image, or "" when the
// format cannot be decoded. The hash must stay stable across runs: it feeds
// deduplication, so changing the algorithm invalidates stored identities.
func perceptualHash(body []byte) string {
	decoded, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	hash, err := goimagehash.AverageHash(decoded)
	if err != nil {
		return ""
	}
	return hash.ToString()
}

// cache writes the image into the content-addressed cache. Existing entries
// are left untouched — the key is the content hash, so a hit is a no-op.
func (f *Fetcher) cache(img *Image) error {
	if f.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(f.cacheDir, 0o700); err != nil {
		return err
	}
	path := filepath.Join(f.cacheDir, img.SHA256)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, img.Bytes, 0o600)
}

// Package fetch implements the three content acquisition modes: recursive
// directory walks, seeded breadth-first web crawls, and sitemap passes. All
// modes share one contract: produce a lazy finite sequence of acquired items
// via a caller-supplied visit function, with bounded concurrency and
// per-host rate limiting for the remote modes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Item is one acquired unit of content.
type Item struct {
	// URI is the canonical identity of the item: an absolute filesystem
	// path or the fetched URL.
	URI string
	// ContentType is the server-reported or extension-derived content
	// type. May be empty; the parser re-detects.
	ContentType string
	// Body is the raw acquired bytes.
	Body []byte
	// FetchedAt is when the body was read.
	FetchedAt time.Time
}

// VisitFunc receives acquired items in acquisition order. Returning an error
// stops the acquisition.
type VisitFunc func(Item) error

// ErrorFunc receives item-level acquisition failures (one URL or file). The
// acquisition continues; the pipeline counts the error.
type ErrorFunc func(uri string, err error)

// Acquirer is the common contract shared by the three source modes.
type Acquirer interface {
	// Acquire produces the item sequence, calling visit for each item and
	// onErr for item-level failures. It returns a non-nil error only for
	// source-level failures that abort the run.
	Acquire(ctx context.Context, visit VisitFunc, onErr ErrorFunc) error
}

// maxRedirects caps HTTP 3xx following per request.
const maxRedirects = 5

// maxBodyBytes caps how much of a response body is read, to avoid OOMs on
// unbounded responses.
const maxBodyBytes = 16 << 20

// newHTTPClient builds the hardened HTTP client shared by the remote modes.
// The per-request timeout comes from configuration; redirects are capped.
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   7 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// httpStatusError marks a non-2xx response so callers can distinguish it
// from transport failures.
type httpStatusError struct {
	// Code is the HTTP status code.
	Code int
	// URL is the requested URL.
	URL string
}

// Error implements the error interface.
func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// IsHTTPStatus reports whether err is a non-2xx response, returning the code.
func IsHTTPStatus(err error) (int, bool) {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// readBody drains a response body up to maxBodyBytes.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// newCrawlServer serves a tiny site with a robots.txt that disallows
// /private/ and a couple of linked pages.
func newCrawlServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
<a href="/docs">docs</a>
<a href="/private/secret">secret</a>
<a href="https://elsewhere.invalid/offsite">offsite</a>
<p>home page body text</p>
</body></html>`))
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>documentation body text</p></body></html>`))
	})
	mux.HandleFunc("/private/secret", func(w http.ResponseWriter, r *http.Request) {
		t.Error("crawler fetched a robots-disallowed path")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func Test_Crawler_HonorsRobotsAndDomain(t *testing.T) {
	t.Parallel()
	server := newCrawlServer(t)

	crawler := &Crawler{
		Seed:        server.URL + "/",
		MaxPages:    10,
		MaxDepth:    3,
		Parallelism: 2,
		SameDomain:  true,
		UserAgent:   "librarian-test/1.0",
		Timeout:     5 * time.Second,
		Limiter:     NewHostLimiter(100),
		FollowLinks: true,
	}

	var mu sync.Mutex
	var uris []string
	var bytesFetched int
	err := crawler.Acquire(context.Background(), func(item Item) error {
		mu.Lock()
		defer mu.Unlock()
		uris = append(uris, item.URI)
		bytesFetched += len(item.Body)
		return nil
	}, func(uri string, err error) {
		t.Logf("item error for %s: %v", uri, err)
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if len(uris) != 2 {
		t.Fatalf("want 2 pages (/, /docs), got %d: %v", len(uris), uris)
	}
	for _, uri := range uris {
		if strings.Contains(uri, "private") || strings.Contains(uri, "elsewhere") {
			t.Errorf("forbidden page fetched: %s", uri)
		}
	}
	if bytesFetched == 0 {
		t.Error("bytes_fetched must be non-zero")
	}
}

func Test_Crawler_RecordsItemErrorsAndContinues(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/missing">missing</a><a href="/ok">ok</a></body></html>`))
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fine"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	crawler := &Crawler{
		Seed:        server.URL + "/",
		MaxPages:    10,
		MaxDepth:    2,
		Parallelism: 1,
		SameDomain:  true,
		UserAgent:   "librarian-test/1.0",
		Timeout:     5 * time.Second,
		Limiter:     NewHostLimiter(100),
		FollowLinks: true,
	}

	var visited, failed int
	err := crawler.Acquire(context.Background(), func(item Item) error {
		visited++
		return nil
	}, func(uri string, err error) {
		failed++
		if code, ok := IsHTTPStatus(err); !ok || code != http.StatusNotFound {
			t.Errorf("expected a 404 status error, got %v", err)
		}
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if visited != 2 {
		t.Errorf("want / and /ok visited, got %d", visited)
	}
	if failed != 1 {
		t.Errorf("want 1 recorded failure, got %d", failed)
	}
}

func Test_Crawler_RespectsMaxDepth(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/d1">next</a></body></html>`))
	})
	mux.HandleFunc("/d1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/d2">next</a></body></html>`))
	})
	mux.HandleFunc("/d2", func(w http.ResponseWriter, r *http.Request) {
		t.Error("depth 2 must not be reached with MaxDepth=1")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	crawler := &Crawler{
		Seed:        server.URL + "/",
		MaxPages:    10,
		MaxDepth:    1,
		Parallelism: 1,
		UserAgent:   "librarian-test/1.0",
		Timeout:     5 * time.Second,
		Limiter:     NewHostLimiter(100),
		FollowLinks: true,
	}

	var visited int
	if err := crawler.Acquire(context.Background(), func(Item) error { visited++; return nil }, func(string, error) {}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if visited != 2 {
		t.Errorf("want depths 0 and 1 only, got %d pages", visited)
	}
}

func Test_HostLimiter_IsolatesHosts(t *testing.T) {
	t.Parallel()
	hl := NewHostLimiter(2.0)

	// Each host gets its own bucket: draining host a must not starve host b.
	a := hl.limiter("a")
	b := hl.limiter("b")

	if !a.Allow() || !a.Allow() {
		t.Fatal("host a should allow an initial burst of 2")
	}
	if a.Allow() {
		t.Error("host a burst exhausted, third immediate request must wait")
	}
	if !b.Allow() || !b.Allow() {
		t.Error("host b must be unaffected by host a's consumption")
	}

	if hl.limiter("a") != a {
		t.Error("limiter must be shared per host across tasks")
	}
}

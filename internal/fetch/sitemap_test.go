package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
)

func Test_Sitemap_URLSet(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/a</loc></url>
  <url><loc>%s/b</loc></url>
</urlset>`, server.URL, server.URL)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/c">should not be followed</a>page a</body></html>`))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("page b")) })
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		t.Error("sitemap mode must not follow links")
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sm := &Sitemap{
		URL:         server.URL + "/sitemap.xml",
		MaxPages:    10,
		Parallelism: 2,
		UserAgent:   "librarian-test/1.0",
		Timeout:     5 * time.Second,
		Limiter:     NewHostLimiter(100),
	}

	var mu sync.Mutex
	var uris []string
	err := sm.Acquire(context.Background(), func(item Item) error {
		mu.Lock()
		uris = append(uris, item.URI)
		mu.Unlock()
		return nil
	}, func(uri string, err error) {
		t.Errorf("unexpected item error for %s: %v", uri, err)
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	sort.Strings(uris)
	want := []string{server.URL + "/a", server.URL + "/b"}
	if len(uris) != 2 || uris[0] != want[0] || uris[1] != want[1] {
		t.Errorf("uris = %v, want %v", uris, want)
	}
}

func Test_Sitemap_IndexRecursion(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/child.xml</loc></sitemap>
</sitemapindex>`, server.URL)
	})
	mux.HandleFunc("/child.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset><url><loc>%s/page</loc></url></urlset>`, server.URL)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("leaf")) })
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sm := &Sitemap{
		URL:         server.URL + "/index.xml",
		MaxPages:    10,
		Parallelism: 1,
		UserAgent:   "librarian-test/1.0",
		Timeout:     5 * time.Second,
		Limiter:     NewHostLimiter(100),
	}

	var got []string
	err := sm.Acquire(context.Background(), func(item Item) error {
		got = append(got, item.URI)
		return nil
	}, func(string, error) {})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(got) != 1 || got[0] != server.URL+"/page" {
		t.Errorf("got %v, want the leaf page", got)
	}
}

func Test_Sitemap_PlainURLListTruncatesToMaxPages(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/list.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s/p1\n%s/p2\n%s/p3\n", server.URL, server.URL, server.URL)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	for _, p := range []string{"/p1", "/p2", "/p3"} {
		path := p
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(path)) })
	}
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sm := &Sitemap{
		URL:         server.URL + "/list.txt",
		MaxPages:    2,
		Parallelism: 1,
		UserAgent:   "librarian-test/1.0",
		Timeout:     5 * time.Second,
		Limiter:     NewHostLimiter(100),
	}

	var count int
	err := sm.Acquire(context.Background(), func(Item) error { count++; return nil }, func(string, error) {})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if count != 2 {
		t.Errorf("MaxPages=2 must truncate the set, fetched %d", count)
	}
}

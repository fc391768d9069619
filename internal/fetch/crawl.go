package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sealad886/librarian/internal/logging"
	"github.com/sealad886/librarian/internal/parse"
)

// Crawler acquires content by a seeded breadth-first crawl. A URL is
// enqueued only if it stays within the seed's registered domain (when
// configured), is allowed by robots.txt for the configured user agent, and
// has not been visited before. All fetches go through the shared per-host
// token bucket.
type Crawler struct {
	// Seed is the crawl starting URL.
	Seed string
	// MaxPages bounds the number of pages fetched.
	MaxPages int
	// MaxDepth bounds link-following depth from the seed.
	MaxDepth int
	// Parallelism is the number of concurrent fetch workers.
	Parallelism int
	// SameDomain restricts link following to hosts related to the linking
	// page's host: the same host, a subdomain of it, or a parent domain of it.
	SameDomain bool
	// UserAgent is sent with every request and matched against robots.txt.
	UserAgent string
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
	// Limiter is the shared per-host token bucket. Required.
	Limiter *HostLimiter

	// FollowLinks disables link extraction when false (sitemap mode
	// reuses the fetch path without following).
	FollowLinks bool
}

// frontierEntry is one queued URL with its BFS depth.
type frontierEntry struct {
	url   *url.URL
	depth int
}

// Acquire runs the crawl. Item-level failures (4xx/5xx, transport errors)
// are reported through onErr and the page is skipped; the crawl continues.
func (c *Crawler) Acquire(ctx context.Context, visit VisitFunc, onErr ErrorFunc) error {
	seed, err := url.Parse(c.Seed)
	if err != nil {
		return fmt.Errorf("fetch: parse seed %s: %w", c.Seed, err)
	}
	if seed.Scheme != "http" && seed.Scheme != "https" {
		return fmt.Errorf("fetch: seed %s must be http(s)", c.Seed)
	}
	if c.Limiter == nil {
		return fmt.Errorf("fetch: crawler requires a host limiter")
	}

	client := newHTTPClient(c.Timeout)
	robots := newRobotsCache(client, c.UserAgent)

	// cw serializes frontier and bookkeeping state across workers.
	cw := &crawlState{
		visited: map[string]struct{}{canonical(seed): {}},
		queue:   []frontierEntry{{url: seed, depth: 0}},
	}

	return c.drain(ctx, client, robots, cw, visit, onErr)
}

// drain runs the worker pool over a pre-filled frontier until the page
// budget is spent or the frontier empties. Shared with sitemap mode, which
// seeds the frontier up front and disables link following.
func (c *Crawler) drain(ctx context.Context, client *http.Client, robots *robotsCache, cw *crawlState, visit VisitFunc, onErr ErrorFunc) error {
	log := logging.FromContext(ctx)

	parallelism := c.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	// visitMu serializes visit callbacks so downstream consumers see a
	// sequential item stream.
	var visitMu sync.Mutex

	for range parallelism {
		g.Go(func() error {
			for {
				entry, ok := cw.next(c.MaxPages)
				if !ok {
					return nil
				}
				if gctx.Err() != nil {
					cw.done()
					return gctx.Err()
				}

				c.crawlOne(gctx, entry, client, robots, cw, func(item Item) error {
					visitMu.Lock()
					defer visitMu.Unlock()
					return visit(item)
				}, onErr, log)
				cw.done()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	cw.mu.Lock()
	failure := cw.failure
	cw.mu.Unlock()
	return failure
}

// crawlOne fetches a single frontier entry and enqueues its links.
func (c *Crawler) crawlOne(ctx context.Context, entry frontierEntry, client *http.Client, robots *robotsCache, cw *crawlState, visit VisitFunc, onErr ErrorFunc, log *slog.Logger) {
	u := entry.url

	if !robots.Allowed(ctx, u) {
		log.Debug("crawl: disallowed by robots.txt", "url", u.String())
		return
	}
	if err := c.Limiter.Wait(ctx, u.Host); err != nil {
		return
	}

	item, links, err := c.fetchPage(ctx, client, u)
	if err != nil {
		onErr(u.String(), err)
		return
	}

	if err := visit(*item); err != nil {
		cw.fail(err)
		return
	}

	if !c.FollowLinks || entry.depth >= c.MaxDepth {
		return
	}
	for _, link := range links {
		next, err := url.Parse(link)
		if err != nil {
			continue
		}
		if next.Scheme != "http" && next.Scheme != "https" {
			continue
		}
		if c.SameDomain && !sameRegisteredDomain(entry.url, next) {
			continue
		}
		cw.enqueue(frontierEntry{url: next, depth: entry.depth + 1})
	}
}

// fetchPage performs one HTTP GET and extracts links from HTML responses.
func (c *Crawler) fetchPage(ctx context.Context, client *http.Client, u *url.URL) (*Item, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "text/html, text/markdown, text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &httpStatusError{Code: resp.StatusCode, URL: u.String()}
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, nil, err
	}

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	item := &Item{
		URI:         finalURL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}

	var links []string
	if strings.Contains(item.ContentType, "text/html") {
		links = harvestPageLinks(body, finalURL)
	}
	return item, links, nil
}

// harvestPageLinks extracts outbound links from an HTML page body.
func harvestPageLinks(body []byte, base *url.URL) []string {
	return parse.ExtractLinks(base.String(), body)
}

// crawlState is the shared frontier and bookkeeping of one crawl. It
// implements a BFS over a bounded page budget with cooperating workers.
type crawlState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	visited  map[string]struct{}
	queue    []frontierEntry
	inflight int
	fetched  int
	failure  error
	closed   bool
}

// next pops the next frontier entry, blocking while other workers may still
// enqueue more. Returns false when the crawl is finished or the page budget
// is spent.
func (cw *crawlState) next(maxPages int) (frontierEntry, bool) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.cond == nil {
		cw.cond = sync.NewCond(&cw.mu)
	}

	for {
		if cw.closed || cw.failure != nil || (maxPages > 0 && cw.fetched >= maxPages) {
			cw.closed = true
			cw.cond.Broadcast()
			return frontierEntry{}, false
		}
		if len(cw.queue) > 0 {
			entry := cw.queue[0]
			cw.queue = cw.queue[1:]
			cw.inflight++
			cw.fetched++
			return entry, true
		}
		if cw.inflight == 0 {
			cw.closed = true
			cw.cond.Broadcast()
			return frontierEntry{}, false
		}
		cw.cond.Wait()
	}
}

// done marks one in-flight entry finished.
func (cw *crawlState) done() {
	cw.mu.Lock()
	cw.inflight--
	if cw.cond != nil {
		cw.cond.Broadcast()
	}
	cw.mu.Unlock()
}

// enqueue adds an unvisited URL to the frontier.
func (cw *crawlState) enqueue(entry frontierEntry) {
	key := canonical(entry.url)
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return
	}
	if _, seen := cw.visited[key]; seen {
		return
	}
	cw.visited[key] = struct{}{}
	cw.queue = append(cw.queue, entry)
	if cw.cond != nil {
		cw.cond.Broadcast()
	}
}

// fail records a visit-callback failure, stopping the crawl.
func (cw *crawlState) fail(err error) {
	cw.mu.Lock()
	if cw.failure == nil {
		cw.failure = err
	}
	cw.closed = true
	if cw.cond != nil {
		cw.cond.Broadcast()
	}
	cw.mu.Unlock()
}

// canonical normalizes a URL for visited-set membership: fragment dropped,
// trailing slash trimmed from the path.
func canonical(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Path = strings.TrimSuffix(c.Path, "/")
	return c.String()
}

// sameRegisteredDomain reports whether next stays within seed's domain:
// the same host, a subdomain of it, or a parent domain of it.
func sameRegisteredDomain(seed, next *url.URL) bool {
	a := strings.ToLower(seed.Hostname())
	b := strings.ToLower(next.Hostname())
	return a == b || strings.HasSuffix(b, "."+a) || strings.HasSuffix(a, "."+b)
}

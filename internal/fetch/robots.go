package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsCache caches one robots.txt policy per host for the duration of a
// run. A missing or unreachable robots.txt allows everything, per convention.
type robotsCache struct {
	// mu protects the groups map.
	mu sync.Mutex
	// groups maps scheme://host to the matched robots group.
	groups map[string]*robotstxt.Group
	// client fetches robots.txt files.
	client *http.Client
	// userAgent is matched against robots.txt group names.
	userAgent string
}

// newRobotsCache constructs a robotsCache using the given HTTP client.
func newRobotsCache(client *http.Client, userAgent string) *robotsCache {
	return &robotsCache{
		groups:    make(map[string]*robotstxt.Group),
		client:    client,
		userAgent: userAgent,
	}
}

// Allowed reports whether the configured user agent may fetch u.
func (rc *robotsCache) Allowed(ctx context.Context, u *url.URL) bool {
	group := rc.group(ctx, u)
	if group == nil {
		return true
	}
	return group.Test(u.Path)
}

// group returns the cached robots group for u's host, fetching robots.txt
// on first use.
func (rc *robotsCache) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := u.Scheme + "://" + u.Host

	rc.mu.Lock()
	group, ok := rc.groups[key]
	rc.mu.Unlock()
	if ok {
		return group
	}

	group = rc.fetch(ctx, key+"/robots.txt")

	rc.mu.Lock()
	rc.groups[key] = group
	rc.mu.Unlock()
	return group
}

// fetch retrieves and parses a robots.txt. Any failure yields a nil group,
// which Allowed treats as allow-all.
func (rc *robotsCache) fetch(ctx context.Context, robotsURL string) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data.FindGroup(rc.userAgent)
}

package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ahrav/threatswarm/pkg/common"
)

// maxBodyBytes bounds how much of a response body a capability reads.
// Inspection only needs the leading content; streaming a full download
// through the finding pipeline would be wasted work.
const maxBodyBytes = 1 << 20

// defaultUserAgent identifies probe traffic to the target.
const defaultUserAgent = "threatswarm/1.0"

// Page is one fetched response: status, headers and the size-bounded body.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       string
}

// Fetcher is the shared HTTP transport for all capabilities. Every request
// passes through the swarm-wide rate limiter so concurrent agents cannot
// hammer a target past the configured budget.
type Fetcher struct {
	client    *http.Client
	limiter   *common.RateLimiter
	userAgent string
}

// NewFetcher creates a fetcher around the given client and limiter. A nil
// client gets a conservative default with a request timeout.
func NewFetcher(client *http.Client, limiter *common.RateLimiter) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Fetcher{client: client, limiter: limiter, userAgent: defaultUserAgent}
}

// Get fetches a URL, honoring the rate limiter and the context deadline.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	return &Page{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(body),
	}, nil
}

// baseURL normalizes a target into a fetchable base URL. Bare hosts get an
// http scheme; trailing slashes are trimmed so path joins stay predictable.
func baseURL(target string) string {
	t := strings.TrimSpace(target)
	if !strings.HasPrefix(t, "http://") && !strings.HasPrefix(t, "https://") {
		t = "http://" + t
	}
	return strings.TrimRight(t, "/")
}

// joinPath appends a probe path to a normalized base URL.
func joinPath(base, path string) string {
	if path == "" || path == "/" {
		return base + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// Package fetcher defines the single-hop HTTP capability shared by the
// resolver and the side-fetching extractors.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// Kinds label outbound requests for logging and metrics.
const (
	KindPage     = "page"
	KindManifest = "manifest"
	KindOEmbed   = "oembed"
)

// Request describes one GET. Redirects are never followed by the fetcher;
// a 3xx comes back as a Response so callers can decide what to do with it.
type Request struct {
	URL     string
	Kind    string
	Headers http.Header
	// Timeout bounds the whole exchange. Zero means the fetcher default.
	Timeout time.Duration
}

// Response is the raw upstream answer.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs a single HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Waiter blocks until an outbound request to rawURL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/linkmeta/internal/fetcher"
)

const (
	defaultSideFetchTimeout = 3 * time.Second
	maxSideRedirects        = 3
)

var errNoFetcher = errors.New("no fetcher configured")

// sideFetcher retrieves auxiliary documents (manifests, oEmbed payloads).
type sideFetcher struct {
	fetcher fetcher.Fetcher
	timeout time.Duration
}

// get returns the body of a 200 response, following a few redirects.
func (s sideFetcher) get(ctx context.Context, kind, rawURL string) ([]byte, error) {
	if s.fetcher == nil {
		return nil, errNoFetcher
	}
	timeout := s.timeout
	if timeout <= 0 {
		timeout = defaultSideFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := rawURL
	for hop := 0; ; hop++ {
		resp, err := s.fetcher.Fetch(ctx, fetcher.Request{URL: target, Kind: kind, Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("%s fetch: %w", kind, err)
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return resp.Body, nil
		case resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != "" && hop < maxSideRedirects:
			target = resolveHref(target, resp.Header.Get("Location"))
		default:
			return nil, fmt.Errorf("%s fetch %s: status %d", kind, target, resp.StatusCode)
		}
	}
}

// resolveHref makes href absolute. Absolute hrefs pass through, protocol
// relative ones get http:, everything else is joined against the page.
func resolveHref(pageURL, href string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "http"):
		return href
	case strings.HasPrefix(href, "//"):
		return "http:" + href
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return joinDir(pageURL, href)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return joinDir(pageURL, href)
	}
	return base.ResolveReference(ref).String()
}

// joinDir drops the last path segment of pageURL (when there is one past the
// scheme) and appends href.
func joinDir(pageURL, href string) string {
	if i := strings.LastIndex(pageURL, "/"); i > len("https:/") {
		pageURL = pageURL[:i]
	}
	return pageURL + "/" + strings.TrimPrefix(href, "/")
}

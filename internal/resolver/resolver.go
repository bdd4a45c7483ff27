// Package resolver turns a requested URL into the terminal upstream response,
// following redirects and applying adaptor substitutions along the way.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkmeta/internal/fetcher"
)

var (
	// ErrURLUndefined is returned for an empty request URL.
	ErrURLUndefined = errors.New("url undefined")
	// ErrMaxRedirects is returned once a chain exceeds the redirect budget.
	ErrMaxRedirects = errors.New("max redirects reached")

	errMissingLocation = errors.New("redirect without location")
)

// HTTPError reports an upstream status outside [200, 400).
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d - %s", e.Status, e.URL)
}

// Adaptor reroutes matching URLs through a proxy endpoint.
type Adaptor struct {
	Pattern *regexp.Regexp
	URL     string
}

// Options are supplied per batch.
type Options struct {
	Adaptors []Adaptor
	// FindParams names query parameters to capture from any URL in the chain.
	FindParams []string
}

// Config holds resolver limits.
type Config struct {
	MaxRedirects  int
	Timeout       time.Duration
	DefaultMaxAge time.Duration
}

// FetchResult is the terminal response plus its provenance.
type FetchResult struct {
	Body         []byte
	FinalURL     string
	UnadaptedURL string
	ContentType  string
	MaxAge       time.Duration
	FoundParams  map[string]string
}

// Resolver is safe for concurrent use; it keeps no per-call state.
type Resolver struct {
	fetcher fetcher.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Resolver.
func New(f fetcher.Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	return &Resolver{fetcher: f, cfg: cfg, logger: logger}
}

// Resolve fetches rawURL, following redirects and adaptors until a terminal
// response is reached.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, opts Options) (FetchResult, error) {
	if strings.TrimSpace(rawURL) == "" {
		return FetchResult{}, ErrURLUndefined
	}

	st := newState(rawURL)
	for {
		st = st.capture(opts.FindParams)

		if !st.adapted {
			if target, ok := adaptorTarget(opts.Adaptors, st.url); ok {
				r.logger.Debug("using adaptor", zap.String("url", st.url), zap.String("target", target))
				st = st.adapt(target)
				continue
			}
		}

		resp, err := r.fetcher.Fetch(ctx, fetcher.Request{
			URL:     st.url,
			Kind:    fetcher.KindPage,
			Timeout: r.cfg.Timeout,
		})
		if err != nil {
			return FetchResult{}, fmt.Errorf("fetch %s: %w", st.url, err)
		}

		if isError(resp.StatusCode) {
			return FetchResult{}, &HTTPError{Status: resp.StatusCode, URL: st.url}
		}

		if isRedirect(resp.StatusCode) {
			if st.redirects >= r.cfg.MaxRedirects {
				return FetchResult{}, ErrMaxRedirects
			}
			next, err := location(st.url, resp.Header.Get("Location"))
			if err != nil {
				return FetchResult{}, err
			}
			r.logger.Debug("following redirect",
				zap.String("from", st.url),
				zap.String("to", next),
				zap.Int("status", resp.StatusCode),
			)
			st = st.redirect(next)
			continue
		}

		return FetchResult{
			Body:         resp.Body,
			FinalURL:     st.url,
			UnadaptedURL: st.unadaptedURL,
			ContentType:  resp.Header.Get("Content-Type"),
			MaxAge:       maxAge(resp.Header, r.cfg.DefaultMaxAge),
			FoundParams:  st.found,
		}, nil
	}
}

// state is never mutated; every transition returns a fresh copy.
type state struct {
	url          string
	unadaptedURL string
	redirects    int
	adapted      bool
	found        map[string]string
}

func newState(rawURL string) state {
	return state{url: rawURL, unadaptedURL: rawURL, found: map[string]string{}}
}

func (s state) capture(names []string) state {
	if len(names) == 0 {
		return s
	}
	u, err := url.Parse(s.url)
	if err != nil {
		return s
	}
	query := u.Query()
	var found map[string]string
	for _, name := range names {
		if !query.Has(name) {
			continue
		}
		if found == nil {
			found = make(map[string]string, len(s.found)+1)
			for k, v := range s.found {
				found[k] = v
			}
		}
		found[name] = query.Get(name)
	}
	if found != nil {
		s.found = found
	}
	return s
}

// adapt swaps the fetch target; the unadapted URL and redirect budget stay put.
func (s state) adapt(target string) state {
	s.url = target
	s.adapted = true
	return s
}

// redirect moves to the next hop, which becomes the new unadapted reference.
func (s state) redirect(next string) state {
	s.url = next
	s.unadaptedURL = next
	s.redirects++
	s.adapted = false
	return s
}

func adaptorTarget(adaptors []Adaptor, current string) (string, bool) {
	for _, a := range adaptors {
		if a.Pattern == nil || !a.Pattern.MatchString(current) {
			continue
		}
		sep := "?"
		if strings.Contains(a.URL, "?") {
			sep = "&"
		}
		return a.URL + sep + "url=" + EncodeURIComponent(current), true
	}
	return "", false
}

func location(current, loc string) (string, error) {
	if loc == "" {
		return "", fmt.Errorf("%w: %s", errMissingLocation, current)
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse url %s: %w", current, err)
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("parse location %s: %w", loc, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusUseProxy, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func isError(code int) bool {
	return code < 200 || code >= 400
}

// maxAge reads the max-age directive of Cache-Control, falling back to def
// when the directive is missing or malformed.
func maxAge(h http.Header, def time.Duration) time.Duration {
	for _, value := range h.Values("Cache-Control") {
		for _, directive := range strings.Split(value, ",") {
			name, arg, ok := strings.Cut(strings.TrimSpace(directive), "=")
			if !ok || !strings.EqualFold(name, "max-age") {
				continue
			}
			seconds, err := strconv.Atoi(strings.Trim(arg, `"`))
			if err != nil || seconds < 0 {
				return def
			}
			return time.Duration(seconds) * time.Second
		}
	}
	return def
}

// EncodeURIComponent escapes s the way browsers encode a query component:
// spaces become %20 and the marks !'()* are left alone.
func EncodeURIComponent(s string) string {
	return uriComponentReplacer.Replace(url.QueryEscape(s))
}

var uriComponentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

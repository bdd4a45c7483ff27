package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkmeta/internal/fetcher"
)

func TestFetchReturnsRedirectWithoutFollowing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("end"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, zap.NewNop())
	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL + "/start"})
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/end", resp.Header.Get("Location"))
}

func TestFetchDeliversErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, zap.NewNop())
	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "missing", string(resp.Body))
}

func TestFetchSendsUserAgentAndHeaders(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "linkmeta-test"}, nil)
	resp, err := f.Fetch(context.Background(), fetcher.Request{
		URL:     srv.URL,
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := <-seen
	require.Equal(t, "linkmeta-test", got.Get("User-Agent"))
	require.Equal(t, "yes", got.Get("X-Trace"))
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))
}

func TestFetchHonorsRequestTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 5 * time.Second}, zap.NewNop())
	start := time.Now()
	_, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	limiter := &stubWaiter{err: errors.New("denied")}
	f := New(Config{Limiter: limiter}, zap.NewNop())
	_, err := f.Fetch(context.Background(), fetcher.Request{URL: "http://example.invalid"})
	require.ErrorIs(t, err, limiter.err)
	require.Equal(t, []string{"http://example.invalid"}, limiter.urls)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, zap.NewNop())
	req := fetcher.Request{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result fetcher.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Now(), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Header.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

type stubWaiter struct {
	err  error
	urls []string
}

func (s *stubWaiter) Wait(_ context.Context, rawURL string) error {
	s.urls = append(s.urls, rawURL)
	return s.err
}

func TestFetchCapsBodySize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second, MaxBodySize: 10}, zap.NewNop())
	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, resp.Body, 10)

	require.Equal(t, defaultMaxBodySize, New(Config{}, nil).baseCollector.MaxBodySize)
}

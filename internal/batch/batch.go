// Package batch fans a list of URLs out across the cache and isolates
// per-item failures.
package batch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/linkmeta/internal/cache"
	"github.com/JakeFAU/linkmeta/internal/extract"
	"github.com/JakeFAU/linkmeta/internal/lookup"
	"github.com/JakeFAU/linkmeta/internal/metrics"
	"github.com/JakeFAU/linkmeta/internal/resolver"
)

// Item is one requested object.
type Item struct {
	URL string `json:"url"`
}

// Processor produces the metadata for a single URL.
type Processor interface {
	Process(ctx context.Context, rawURL string, opts resolver.Options) (extract.Metadata, error)
}

// Orchestrator runs batches. Results served from the cache are shared
// between callers and must be treated as read-only.
type Orchestrator struct {
	cache      *cache.Cache[extract.Metadata]
	processor  Processor
	findParams []string
	logger     *zap.Logger
}

// New builds an Orchestrator. findParams is used for batches that do not
// name their own.
func New(c *cache.Cache[extract.Metadata], p Processor, findParams []string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cache: c, processor: p, findParams: findParams, logger: logger}
}

// Process returns one result per item in input order. Failed items become
// {"error": message}; Process itself never fails.
func (o *Orchestrator) Process(ctx context.Context, items []Item, opts resolver.Options) []extract.Metadata {
	start := time.Now()
	if len(opts.FindParams) == 0 {
		opts.FindParams = o.findParams
	}

	results := make([]extract.Metadata, len(items))
	var g errgroup.Group
	for i, item := range items {
		g.Go(func() error {
			results[i] = o.one(ctx, item, opts)
			return nil
		})
	}
	_ = g.Wait()

	metrics.ObserveBatch(time.Since(start))
	o.logger.Debug("batch processed", zap.Int("items", len(items)), zap.Duration("duration", time.Since(start)))
	return results
}

func (o *Orchestrator) one(ctx context.Context, item Item, opts resolver.Options) extract.Metadata {
	o.logger.Info("metadata request", zap.String("url", item.URL))
	md, err := o.cache.Get(ctx, item.URL, func(ctx context.Context) (*cache.Entry[extract.Metadata], error) {
		md, err := o.processor.Process(ctx, item.URL, opts)
		if err != nil {
			return nil, err
		}
		return &cache.Entry[extract.Metadata]{TTL: lookup.MaxAge(md), Value: md}, nil
	})
	if err != nil {
		metrics.ObserveBatchItem("error")
		o.logger.Debug("item error", zap.String("url", item.URL), zap.Error(err))
		return extract.Metadata{"error": errorMessage(err)}
	}
	metrics.ObserveBatchItem("ok")
	return md
}

// Refresh drops the cached records for urls and returns how many existed.
func (o *Orchestrator) Refresh(urls []string) int {
	n := 0
	for _, u := range urls {
		if o.cache.Delete(u) {
			n++
		}
	}
	return n
}

// errorMessage is the client-facing text for err. Known domain errors report
// their own message without wrapping context.
func errorMessage(err error) string {
	var (
		httpErr *resolver.HTTPError
		ctErr   *lookup.UnsupportedContentTypeError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Error()
	case errors.As(err, &ctErr):
		return ctErr.Error()
	}
	for _, known := range []error{
		resolver.ErrURLUndefined,
		resolver.ErrMaxRedirects,
		extract.ErrEmptyResult,
		cache.ErrNoValue,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}

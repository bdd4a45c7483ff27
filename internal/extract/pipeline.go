package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkmeta/internal/fetcher"
)

// Config tunes the side-fetching stages.
type Config struct {
	FetchTimeout time.Duration
	Providers    []Provider
}

// Pipeline runs stages strictly in order, feeding each the previous output.
type Pipeline struct {
	stages []Stage
	logger *zap.Logger
}

// NewPipeline builds a pipeline over an explicit stage list.
func NewPipeline(logger *zap.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Default returns the standard stage order: Base, Icon, SocialProfile,
// AppStore, OpenGraph, OEmbed, Manifest, Watermark.
func Default(cfg Config, f fetcher.Fetcher, clock Clock, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	side := sideFetcher{fetcher: f, timeout: cfg.FetchTimeout}
	return NewPipeline(logger,
		Base{},
		Icon{},
		SocialProfile{},
		AppStore{},
		OpenGraph{logger: logger.Named("opengraph")},
		OEmbed{side: side, providers: cfg.Providers},
		Manifest{side: side},
		Watermark{clock: clock},
	)
}

// Extract runs every stage over doc and rejects records with no usable signal.
func (p *Pipeline) Extract(ctx context.Context, url string, doc *goquery.Document) (Metadata, error) {
	page := &Page{URL: url, Doc: doc}
	md := Metadata{}
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract %s: %w", url, err)
		}
		res, err := stage.Apply(ctx, page, md)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		if res.Reason != nil {
			p.logger.Debug("stage skipped",
				zap.String("stage", stage.Name()),
				zap.String("url", url),
				zap.Error(res.Reason),
			)
		}
		if res.Metadata != nil {
			md = res.Metadata
		}
	}
	if md.IsEmpty() {
		return nil, ErrEmptyResult
	}
	return md, nil
}

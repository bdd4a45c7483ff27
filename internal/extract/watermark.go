package extract

import (
	"context"
	"time"
)

// Watermark stamps the extraction time in epoch milliseconds.
type Watermark struct {
	clock Clock
}

// Name implements Stage.
func (Watermark) Name() string { return "watermark" }

// Apply implements Stage.
func (w Watermark) Apply(_ context.Context, _ *Page, md Metadata) (Result, error) {
	now := time.Now()
	if w.clock != nil {
		now = w.clock.Now()
	}
	out := md.Clone()
	out["watermark"] = map[string]any{"time": now.UnixMilli()}
	return enriched(out), nil
}

// Package extract builds a metadata record from a parsed HTML document by
// running an ordered chain of extractor stages.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrEmptyResult is returned when a page yields neither a title nor an embed.
var ErrEmptyResult = errors.New("empty")

// Metadata is the open record accumulated by the pipeline.
type Metadata map[string]any

// Clone returns a shallow copy. Stages only ever replace top-level keys, so a
// shallow copy is enough to keep the caller's record untouched.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsEmpty reports whether the record lacks both a non-empty title and an embed.
func (m Metadata) IsEmpty() bool {
	if m["embed"] != nil {
		return false
	}
	title, _ := m["title"].(string)
	return title == ""
}

// Page is the input every stage sees.
type Page struct {
	URL string
	Doc *goquery.Document
}

// Status distinguishes stages that contributed from stages that passed through.
type Status int

const (
	// Unchanged means the stage returned its input as-is.
	Unchanged Status = iota
	// Enriched means the stage added or replaced fields.
	Enriched
)

func (s Status) String() string {
	if s == Enriched {
		return "enriched"
	}
	return "unchanged"
}

// Result is what a stage hands to the next one.
type Result struct {
	Metadata Metadata
	Status   Status
	// Reason explains an Unchanged result caused by a swallowed failure.
	Reason error
}

func enriched(md Metadata) Result {
	return Result{Metadata: md, Status: Enriched}
}

func unchanged(md Metadata, reason error) Result {
	return Result{Metadata: md, Status: Unchanged, Reason: reason}
}

// Stage is one step of the waterfall. Apply must not mutate md; a returned
// error aborts the whole pipeline for the item.
type Stage interface {
	Name() string
	Apply(ctx context.Context, page *Page, md Metadata) (Result, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Package lookup turns one URL into a metadata record: resolve, dispatch on
// content type, extract, then stamp the provenance fields.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkmeta/internal/extract"
	"github.com/JakeFAU/linkmeta/internal/resolver"
)

const (
	typeJSON = "application/json"
	typeHTML = "text/html"

	// TwitterUsernameParam is the query parameter carrying a sharer's handle.
	TwitterUsernameParam = "magnet_twitter_username"

	fieldMaxAge = "maxAge"
)

// UnsupportedContentTypeError is returned for responses that are not JSON,
// HTML or iCalendar.
type UnsupportedContentTypeError struct {
	ContentType string
}

func (e *UnsupportedContentTypeError) Error() string {
	return "unsupported response type: " + e.ContentType
}

// Resolver fetches the terminal response for a URL.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, opts resolver.Options) (resolver.FetchResult, error)
}

// Extractor builds metadata from an HTML document.
type Extractor interface {
	Extract(ctx context.Context, url string, doc *goquery.Document) (extract.Metadata, error)
}

// Lookup composes a Resolver and an Extractor.
type Lookup struct {
	resolver  Resolver
	extractor Extractor
	logger    *zap.Logger
}

// New builds a Lookup.
func New(r Resolver, e Extractor, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{resolver: r, extractor: e, logger: logger}
}

// Process resolves rawURL and returns its metadata record.
func (l *Lookup) Process(ctx context.Context, rawURL string, opts resolver.Options) (extract.Metadata, error) {
	res, err := l.resolver.Resolve(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}

	contentType := res.ContentType
	if strings.TrimSpace(contentType) == "" {
		contentType = typeHTML
	}

	var md extract.Metadata
	switch mediaType(contentType) {
	case typeJSON:
		l.logger.Debug("url returned json", zap.String("url", res.FinalURL))
		md = decodeJSON(res.Body)
		if md.IsEmpty() {
			return nil, extract.ErrEmptyResult
		}
	case typeCalendar:
		md, err = decodeCalendar(res.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", res.FinalURL, err)
		}
		if md.IsEmpty() {
			return nil, extract.ErrEmptyResult
		}
	case typeHTML:
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
		if err != nil {
			return nil, fmt.Errorf("parse html %s: %w", res.FinalURL, err)
		}
		md, err = l.extractor.Extract(ctx, res.FinalURL, doc)
		if err != nil {
			return nil, err
		}
	default:
		l.logger.Debug("unsupported content type",
			zap.String("url", res.FinalURL),
			zap.String("content_type", contentType),
		)
		return nil, &UnsupportedContentTypeError{ContentType: contentType}
	}

	track(md, rawURL, res)
	return md, nil
}

// MaxAge returns the freshness lifetime stamped on md by Process, or zero.
func MaxAge(md extract.Metadata) time.Duration {
	ms, ok := md[fieldMaxAge].(int64)
	if !ok || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func track(md extract.Metadata, rawURL string, res resolver.FetchResult) {
	md["unadaptedUrl"] = res.UnadaptedURL
	md["displayUrl"] = decodeURIComponent(res.UnadaptedURL)
	md["id"] = res.FinalURL
	md["url"] = res.FinalURL
	md["originalUrl"] = rawURL
	md[fieldMaxAge] = res.MaxAge.Milliseconds()

	if handle := res.FoundParams[TwitterUsernameParam]; handle != "" {
		md["twitterUsername"] = strings.Replace(handle, "@", "", 1)
	}
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// decodeJSON returns an empty record for bodies that are not a JSON object.
func decodeJSON(body []byte) extract.Metadata {
	var md extract.Metadata
	if err := json.Unmarshal(body, &md); err != nil || md == nil {
		return extract.Metadata{}
	}
	return md
}

// decodeURIComponent leaves "+" alone and keeps s when it is not valid
// percent-encoding.
func decodeURIComponent(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

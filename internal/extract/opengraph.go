package extract

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"go.uber.org/zap"
)

const malformedValue = "malformed"

// OpenGraph parses og: meta tags into "og_data". Properties that belong to
// the page's og:type are nested under the type name.
type OpenGraph struct {
	logger *zap.Logger
}

// Name implements Stage.
func (OpenGraph) Name() string { return "opengraph" }

// Apply implements Stage.
func (o OpenGraph) Apply(_ context.Context, page *Page, md Metadata) (Result, error) {
	data := o.parse(page.Doc)
	if len(data) == 0 {
		return unchanged(md, nil), nil
	}
	out := md.Clone()
	out["og_data"] = data
	return enriched(out), nil
}

// ogParse is the accumulator for a single document.
type ogParse struct {
	prefixes []string
	pageType string
	data     map[string]any
}

func (o OpenGraph) parse(doc *goquery.Document) map[string]any {
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &ogParse{prefixes: []string{"og:"}, data: map[string]any{}}

	doc.Find("meta").Each(func(_ int, tag *goquery.Selection) {
		property := tag.AttrOr("property", "")
		if property == "" || !p.matches(property) {
			return
		}
		key := strings.TrimPrefix(property, "og:")
		value := metaValue(tag)

		if key == "type" {
			if props, ok := ogTypes[value]; ok {
				p.pageType = value
				// Some sites drop the og: prefix for type fields once og:type is set.
				for name := range props {
					p.prefixes = append(p.prefixes, name)
				}
			} else if alias, ok := ogAliases[value]; ok {
				p.pageType = alias
				value = alias
			} else {
				logger.Debug("unknown opengraph type", zap.String("type", value))
			}
		}
		p.add(key, value)
	})
	return p.data
}

func (p *ogParse) matches(property string) bool {
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(property, prefix) {
			return true
		}
	}
	return false
}

func (p *ogParse) add(key, raw string) {
	if prop, ok := ogTypes[p.pageType][key]; ok {
		bucket, _ := p.data[p.pageType].(map[string]any)
		if bucket == nil {
			bucket = map[string]any{}
			p.data[p.pageType] = bucket
		}
		put(bucket, key, typedValue(prop.kind, raw), prop.array)
		return
	}
	prop, ok := ogProperties[key]
	if !ok {
		prop = str
	}
	put(p.data, key, typedValue(prop.kind, raw), prop.array)
}

// put stores value under key. Array-capable keys turn into a list on the
// second occurrence; everything else keeps the last value.
func put(dst map[string]any, key string, value any, array bool) {
	existing, ok := dst[key]
	if !ok || !array {
		dst[key] = value
		return
	}
	if list, ok := existing.([]any); ok {
		dst[key] = append(list, value)
		return
	}
	dst[key] = []any{existing, value}
}

func metaValue(tag *goquery.Selection) string {
	if content := tag.AttrOr("content", ""); content != "" {
		return content
	}
	if value, ok := tag.Attr("value"); ok {
		return value
	}
	return malformedValue
}

// typedValue converts raw according to kind, keeping raw when it does not parse.
func typedValue(kind valueKind, raw string) any {
	trimmed := strings.TrimSpace(raw)
	switch kind {
	case kindNumber:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	case kindDate:
		if t, err := dateparse.ParseIn(trimmed, time.UTC); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	case kindString, kindObject:
	}
	return raw
}

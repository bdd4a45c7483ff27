package extract

import (
	"context"
	"regexp"
	"strings"
)

// fallbackDescriptionOffset is where the body-text fallback description
// starts once the text is longer than this many characters.
const fallbackDescriptionOffset = 256

var tagPattern = regexp.MustCompile(`(?i)(<([^>]+)>)`)

// Base sets identity fields, the title and the description.
type Base struct{}

// Name implements Stage.
func (Base) Name() string { return "base" }

// Apply implements Stage.
func (Base) Apply(_ context.Context, page *Page, md Metadata) (Result, error) {
	out := md.Clone()
	out["id"] = page.URL
	out["url"] = page.URL
	out["displayUrl"] = page.URL

	if title := page.Doc.Find("title").First(); title.Length() > 0 {
		out["title"] = strings.TrimSpace(title.Text())
	}

	description, _ := page.Doc.Find(`meta[name="description"]`).First().Attr("content")
	if description == "" {
		description = bodyDescription(page.Doc.Find("body").First().Text())
	}
	if description != "" {
		out["description"] = description
	}
	return enriched(out), nil
}

// bodyDescription strips markup from body text. Text longer than the offset
// yields everything after the offset, not the first characters.
// TODO: confirm with product whether this should be the leading 256 characters instead.
func bodyDescription(text string) string {
	content := strings.TrimSpace(tagPattern.ReplaceAllString(text, ""))
	runes := []rune(content)
	if len(runes) > fallbackDescriptionOffset {
		return string(runes[fallbackDescriptionOffset:])
	}
	return content
}

package extract

import (
	"context"

	"github.com/PuerkitoBio/goquery"
)

// iconSelectors are scanned in this order; the last match wins "icon".
var iconSelectors = []string{
	`link[rel="mask-icon"]`,
	`link[rel="shortcut icon"]`,
	`link[rel="icon"]`,
	`link[rel="apple-touch-icon"]`,
	`link[rel="apple-touch-icon-precomposed"]`,
}

// Icon collects favicons and touch icons.
type Icon struct{}

// Name implements Stage.
func (Icon) Name() string { return "icon" }

// Apply implements Stage.
func (Icon) Apply(_ context.Context, page *Page, md Metadata) (Result, error) {
	var (
		icons []map[string]any
		last  string
	)
	for _, selector := range iconSelectors {
		page.Doc.Find(selector).Each(func(_ int, link *goquery.Selection) {
			href := resolveHref(page.URL, link.AttrOr("href", ""))
			if href == "" {
				return
			}
			item := map[string]any{"href": href}
			if sizes := link.AttrOr("sizes", ""); sizes != "" {
				item["size"] = sizes
			}
			if color := link.AttrOr("color", ""); color != "" {
				item["color"] = color
			}
			icons = append(icons, item)
			last = href
		})
	}
	if len(icons) == 0 {
		return unchanged(md, nil), nil
	}
	out := md.Clone()
	out["icon"] = last
	out["icons"] = icons
	return enriched(out), nil
}

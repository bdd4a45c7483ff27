package extract

import (
	"context"
	"strconv"
	"strings"
)

const playStorePrefix = "https://play.google.com/store/apps/details"

// AppStore reads product details from Google Play pages.
type AppStore struct{}

// Name implements Stage.
func (AppStore) Name() string { return "appstore" }

// Apply implements Stage.
func (AppStore) Apply(_ context.Context, page *Page, md Metadata) (Result, error) {
	if !strings.HasPrefix(page.URL, playStorePrefix) {
		return unchanged(md, nil), nil
	}

	android := map[string]any{}
	if i := strings.LastIndex(page.URL, "="); i >= 0 && i+1 < len(page.URL) {
		android["package"] = page.URL[i+1:]
	}
	if title := page.Doc.Find(".id-app-title").First(); title.Length() > 0 {
		android["name"] = strings.TrimSpace(title.Text())
	}
	if icon := page.Doc.Find(".cover-image").First().AttrOr("src", ""); icon != "" {
		if strings.HasPrefix(icon, "//") {
			icon = "http:" + icon
		}
		android["icon"] = icon
	}
	if style, ok := page.Doc.Find(".current-rating").First().Attr("style"); ok {
		if rating, ok := styleWidth(style); ok {
			android["rating"] = rating
		}
	}

	out := md.Clone()
	out["android"] = android
	return enriched(out), nil
}

// styleWidth returns the integer part of the width declaration in an inline
// style, e.g. "width: 84.5%" gives 84.
func styleWidth(style string) (int, bool) {
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "width") {
			continue
		}
		value = strings.TrimSpace(value)
		end := 0
		if end < len(value) && (value[end] == '-' || value[end] == '+') {
			end++
		}
		for end < len(value) && value[end] >= '0' && value[end] <= '9' {
			end++
		}
		n, err := strconv.Atoi(value[:end])
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/JakeFAU/linkmeta/internal/fetcher"
)

var errManifestShape = errors.New("manifest is not a JSON object")

// Manifest merges a linked web app manifest. Fetch or parse failures leave
// the record unchanged.
type Manifest struct {
	side sideFetcher
}

// Name implements Stage.
func (Manifest) Name() string { return "manifest" }

// Apply implements Stage.
func (m Manifest) Apply(ctx context.Context, page *Page, md Metadata) (Result, error) {
	href := page.Doc.Find(`link[rel="manifest"]`).First().AttrOr("href", "")
	if href == "" {
		return unchanged(md, nil), nil
	}
	target := resolveHref(page.URL, href)

	body, err := m.side.get(ctx, fetcher.KindManifest, target)
	if err != nil {
		return unchanged(md, err), nil
	}
	manifest, err := decodeManifest(body)
	if err != nil {
		return unchanged(md, fmt.Errorf("manifest %s: %w", target, err)), nil
	}

	out := md.Clone()
	out["manifest"] = manifest
	if name, ok := manifest["name"].(string); ok && name != "" {
		out["description"] = name
	}
	if short, ok := manifest["short_name"].(string); ok && short != "" {
		out["title"] = short
	}
	return enriched(out), nil
}

// decodeManifest accepts strict JSON first and falls back to JSON5, which
// covers the comments and trailing commas found in hand-written manifests.
func decodeManifest(body []byte) (map[string]any, error) {
	var manifest map[string]any
	if err := json.Unmarshal(body, &manifest); err != nil {
		manifest = nil
		if err5 := json5.Unmarshal(body, &manifest); err5 != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	}
	if manifest == nil {
		return nil, errManifestShape
	}
	return manifest, nil
}

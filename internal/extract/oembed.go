package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/linkmeta/internal/fetcher"
)

var errNoOEmbedRoot = errors.New("missing <oembed> root")

// Provider is a known oEmbed endpoint for pages that do not advertise one.
// Endpoint holds a single %s for the escaped page URL.
type Provider struct {
	Host     string `mapstructure:"host"`
	Endpoint string `mapstructure:"endpoint"`
}

// DefaultProviders are used when no providers are configured.
var DefaultProviders = []Provider{
	{Host: "spotify.com", Endpoint: "https://embed.spotify.com/oembed/?url=%s"},
	{Host: "instagram.com", Endpoint: "https://api.instagram.com/oembed/?url=%s"},
}

// OEmbed fetches the page's oEmbed representation into "embed". Fetch or
// parse failures leave the record unchanged.
type OEmbed struct {
	side      sideFetcher
	providers []Provider
}

// Name implements Stage.
func (OEmbed) Name() string { return "oembed" }

// Apply implements Stage.
func (o OEmbed) Apply(ctx context.Context, page *Page, md Metadata) (Result, error) {
	var (
		embed any
		err   error
	)
	if href := page.Doc.Find(`link[type="application/json+oembed"]`).First().AttrOr("href", ""); href != "" {
		embed, err = o.fetchJSON(ctx, resolveHref(page.URL, href))
	} else if href := page.Doc.Find(`link[type="text/xml+oembed"]`).First().AttrOr("href", ""); href != "" {
		embed, err = o.fetchXML(ctx, resolveHref(page.URL, href))
	} else if endpoint, ok := providerEndpoint(o.providers, page.URL); ok {
		embed, err = o.fetchJSON(ctx, endpoint)
	} else {
		return unchanged(md, nil), nil
	}
	if err != nil {
		return unchanged(md, err), nil
	}
	if embed == nil {
		return unchanged(md, errors.New("oembed: empty document")), nil
	}

	out := md.Clone()
	out["embed"] = embed
	return enriched(out), nil
}

func (o OEmbed) fetchJSON(ctx context.Context, target string) (any, error) {
	body, err := o.side.get(ctx, fetcher.KindOEmbed, target)
	if err != nil {
		return nil, err
	}
	var embed any
	if err := json.Unmarshal(body, &embed); err != nil {
		return nil, fmt.Errorf("decode oembed json %s: %w", target, err)
	}
	return embed, nil
}

func (o OEmbed) fetchXML(ctx context.Context, target string) (any, error) {
	body, err := o.side.get(ctx, fetcher.KindOEmbed, target)
	if err != nil {
		return nil, err
	}
	return parseOEmbedXML(body)
}

// parseOEmbedXML flattens the children of <oembed> into a string map. The
// first occurrence of a repeated element wins.
func parseOEmbedXML(body []byte) (map[string]any, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode oembed xml: %w", err)
	}
	root := xmlquery.FindOne(doc, "//oembed")
	if root == nil {
		return nil, errNoOEmbedRoot
	}
	embed := map[string]any{}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != xmlquery.ElementNode {
			continue
		}
		if _, seen := embed[child.Data]; seen {
			continue
		}
		embed[child.Data] = strings.TrimSpace(child.InnerText())
	}
	return embed, nil
}

func providerEndpoint(providers []Provider, pageURL string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range providers {
		if p.Host == "" || p.Endpoint == "" || !strings.Contains(host, strings.ToLower(p.Host)) {
			continue
		}
		return strings.Replace(p.Endpoint, "%s", url.QueryEscape(pageURL), 1), true
	}
	return "", false
}

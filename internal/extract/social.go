package extract

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// socialRule scrapes a profile page for one network into a nested record.
type socialRule struct {
	key    string
	scrape func(u *url.URL, doc *goquery.Document, profile map[string]any)
}

var socialRules = map[string]socialRule{
	"twitter.com": {key: "twitter", scrape: scrapeTwitter},
}

// SocialProfile extracts profile details for known social networks. It is
// best effort and never fails.
type SocialProfile struct{}

// Name implements Stage.
func (SocialProfile) Name() string { return "social" }

// Apply implements Stage.
func (SocialProfile) Apply(_ context.Context, page *Page, md Metadata) (Result, error) {
	u, perr := url.Parse(page.URL)
	if perr != nil {
		return unchanged(md, perr), nil
	}
	rule, ok := socialRules[strings.ToLower(u.Hostname())]
	if !ok {
		return unchanged(md, nil), nil
	}

	out := md.Clone()
	profile := map[string]any{}
	if dirs := pathSegments(u.Path); len(dirs) == 1 {
		profile["user_id"] = dirs[0]
	}
	func() {
		// Whatever was scraped before a panic is kept.
		defer func() { _ = recover() }()
		rule.scrape(u, page.Doc, profile)
	}()
	out[rule.key] = profile
	return enriched(out), nil
}

func scrapeTwitter(_ *url.URL, doc *goquery.Document, profile map[string]any) {
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href := link.AttrOr("href", "")
		if strings.HasPrefix(href, "android-app") {
			profile["android_uri"] = href
			return false
		}
		return true
	})

	if img := doc.Find(".ProfileCardMini-avatarImage").First(); img.Length() > 0 {
		profile["avatar_small"] = imageRef(img)
	}
	if img := doc.Find(".ProfileAvatar-image").First(); img.Length() > 0 {
		profile["avatar"] = imageRef(img)
	}
	if bio := doc.Find(".ProfileHeaderCard-bio").First(); bio.Length() > 0 {
		profile["bio"] = strings.TrimSpace(bio.Text())
	}
	if banner := doc.Find(".ProfileCanopy-headerBg img").First(); banner.Length() > 0 {
		if normal := banner.AttrOr("src", ""); normal != "" {
			if mobile, ok := mobileBanner(normal); ok {
				profile["profile_banner"] = map[string]any{"normal": normal, "mobile": mobile}
			}
		}
	}
}

func imageRef(img *goquery.Selection) map[string]any {
	return map[string]any{
		"src": img.AttrOr("src", ""),
		"alt": img.AttrOr("alt", ""),
	}
}

// mobileBanner swaps the banner's file name for the fixed "mobile" asset.
func mobileBanner(src string) (string, bool) {
	u, err := url.Parse(src)
	if err != nil || u.Path == "" {
		return "", false
	}
	u.Path = path.Join(path.Dir(u.Path), "mobile")
	u.RawPath = ""
	return u.String(), true
}

func pathSegments(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

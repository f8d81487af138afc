package processor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

// documentBase honors a <base href> element, falling back to the page URL.
func documentBase(doc *goquery.Document, pageURL string) *url.URL {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("head base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			return page.ResolveReference(ref)
		}
	}
	return page
}

// extractLinks returns absolute http(s) anchors in document order without duplicates.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	if base == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := resolve(base, href)
		if !ok {
			return
		}
		normalized, err := crawler.NormalizeURL(abs)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

func fillMetadata(doc *goquery.Document, base *url.URL, meta *crawler.Metadata) {
	meta.Title = strings.TrimSpace(doc.Find("head title").First().Text())
	meta.Description = metaContent(doc, "name", "description")
	meta.Keywords = metaContent(doc, "name", "keywords")
	meta.OGTitle = metaContent(doc, "property", "og:title")
	meta.OGDescription = metaContent(doc, "property", "og:description")
	meta.OGImage = metaContent(doc, "property", "og:image")
	if meta.Title == "" {
		meta.Title = meta.OGTitle
	}
	if meta.Description == "" {
		meta.Description = meta.OGDescription
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		meta.Language = strings.TrimSpace(lang)
	}
	if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok && base != nil {
		if abs, ok := resolve(base, href); ok {
			meta.Canonical = abs
		}
	}
}

func metaContent(doc *goquery.Document, attr, name string) string {
	var out string
	doc.Find("meta[" + attr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr(attr); strings.EqualFold(strings.TrimSpace(v), name) {
			out, _ = s.Attr("content")
			out = strings.TrimSpace(out)
			return false
		}
		return true
	})
	return out
}

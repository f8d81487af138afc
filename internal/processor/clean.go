package processor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

const (
	alwaysRemoved  = "script, style, noscript, iframe, svg, template, object, embed, link, meta"
	boilerplate    = "nav, header, footer, aside, form, [role='navigation'], [role='banner'], [role='contentinfo'], [aria-hidden='true'], .sidebar, #sidebar, .advertisement, .ads, .cookie-banner"
	mainCandidates = "main, article, [role='main']"
)

// cleanHTML returns the body markup with scripts and requested exclusions
// removed and relative references made absolute.
func cleanHTML(doc *goquery.Document, base *url.URL, req crawler.FormatRequest) (string, error) {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	root := body.Clone()
	root.Find(alwaysRemoved).Remove()
	for _, sel := range req.ExcludeTags {
		if sel = strings.TrimSpace(sel); sel != "" {
			root.Find(sel).Remove()
		}
	}
	if req.OnlyMainContent {
		root.Find(boilerplate).Remove()
		if main := root.Find(mainCandidates).First(); main.Length() > 0 {
			root = main
		}
	}
	absolutize(root, base)

	if include := req.IncludeTags; len(include) > 0 {
		var b strings.Builder
		for _, sel := range include {
			if sel = strings.TrimSpace(sel); sel == "" {
				continue
			}
			var err error
			root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				var part string
				part, err = goquery.OuterHtml(s)
				if err != nil {
					return false
				}
				b.WriteString(part)
				return true
			})
			if err != nil {
				return "", fmt.Errorf("serialize included %q: %w", sel, err)
			}
		}
		return b.String(), nil
	}

	out, err := root.Html()
	if err != nil {
		return "", fmt.Errorf("serialize cleaned html: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func absolutize(root *goquery.Selection, base *url.URL) {
	if base == nil {
		return
	}
	for _, target := range []struct{ selector, attr string }{
		{"a[href]", "href"},
		{"img[src]", "src"},
		{"source[src]", "src"},
		{"video[src]", "src"},
		{"audio[src]", "src"},
	} {
		root.Find(target.selector).Each(func(_ int, s *goquery.Selection) {
			raw, _ := s.Attr(target.attr)
			if abs, ok := resolve(base, raw); ok {
				s.SetAttr(target.attr, abs)
			}
		})
	}
}

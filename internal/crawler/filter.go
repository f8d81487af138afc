package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// FilterOptions controls which discovered links are kept.
type FilterOptions struct {
	IncludePatterns      []string
	ExcludePatterns      []string
	AllowExternalDomains bool
}

// LinkFilter resolves, normalizes, and filters discovered links.
// Patterns containing "*" match as unanchored regular expressions where "*"
// stands for any run of characters; other patterns match as substrings.
type LinkFilter struct {
	include       []pattern
	exclude       []pattern
	allowExternal bool
}

type pattern struct {
	raw string
	re  *regexp.Regexp
}

func (p pattern) match(s string) bool {
	if p.re != nil {
		return p.re.MatchString(s)
	}
	return strings.Contains(s, p.raw)
}

// NewLinkFilter compiles the include and exclude patterns.
func NewLinkFilter(opts FilterOptions) (*LinkFilter, error) {
	include, err := compilePatterns(opts.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	exclude, err := compilePatterns(opts.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	return &LinkFilter{include: include, exclude: exclude, allowExternal: opts.AllowExternalDomains}, nil
}

func compilePatterns(raw []string) ([]pattern, error) {
	out := make([]pattern, 0, len(raw))
	for _, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if !strings.Contains(value, "*") {
			out = append(out, pattern{raw: value})
			continue
		}
		parts := strings.Split(value, "*")
		for i, part := range parts {
			parts[i] = regexp.QuoteMeta(part)
		}
		re, err := regexp.Compile(strings.Join(parts, ".*"))
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", value, err)
		}
		out = append(out, pattern{raw: value, re: re})
	}
	return out, nil
}

// Filter resolves links against baseURL and returns the normalized, de-duplicated
// survivors in first-seen order. Applying Filter to its own output is a no-op.
func (f *LinkFilter) Filter(links []string, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		normalized, ok := f.admit(base, link)
		if !ok {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func (f *LinkFilter) admit(base *url.URL, link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "#") {
		return "", false
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Hostname() == "" {
		return "", false
	}
	if !f.allowExternal && !SameSite(abs.Hostname(), base.Hostname()) {
		return "", false
	}
	normalized := normalizeParsed(abs)
	for _, p := range f.exclude {
		if p.match(normalized) {
			return "", false
		}
	}
	if len(f.include) == 0 {
		return normalized, true
	}
	for _, p := range f.include {
		if p.match(normalized) {
			return normalized, true
		}
	}
	return "", false
}

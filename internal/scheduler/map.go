package scheduler

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

// Map fetches a single page and returns its filtered links. When a search is
// given, only links matching at least one search term are kept, ordered by
// relevance.
func (s *Scheduler) Map(ctx context.Context, rawURL string, opts crawler.MapOptions) (*crawler.MapResult, error) {
	pageURL, err := crawler.ParseSeed(rawURL)
	if err != nil {
		return nil, err
	}
	filter, err := crawler.NewLinkFilter(crawler.FilterOptions{
		IncludePatterns:      opts.IncludePatterns,
		ExcludePatterns:      opts.ExcludePatterns,
		AllowExternalDomains: opts.AllowExternalDomains,
	})
	if err != nil {
		return nil, err
	}

	res := s.processor.Process(ctx, pageURL, crawler.FormatRequest{
		Formats: []crawler.Format{crawler.FormatLinks},
		Timeout: opts.Timeout,
	})
	if !res.Success {
		s.logger.Warn("map fetch failed", zap.String("url", pageURL), zap.String("error", res.Error))
		return &crawler.MapResult{Error: res.Error, Links: []string{}}, nil
	}

	links := filter.Filter(res.Links, pageURL)
	if terms := searchTerms(opts.Search); len(terms) > 0 {
		links = rankLinks(links, terms)
	}
	if opts.Limit > 0 && len(links) > opts.Limit {
		links = links[:opts.Limit]
	}
	if links == nil {
		links = []string{}
	}
	s.logger.Debug("map finished", zap.String("url", pageURL), zap.Int("links", len(links)))
	return &crawler.MapResult{Success: true, Error: res.Error, Links: links}, nil
}

func searchTerms(search string) []string {
	return strings.Fields(strings.ToLower(search))
}

// rankLinks drops links that match no term and orders the rest by score,
// keeping discovery order between equal scores.
func rankLinks(links []string, terms []string) []string {
	type scored struct {
		link  string
		score int
	}
	ranked := make([]scored, 0, len(links))
	for _, link := range links {
		if score := relevance(link, terms); score > 0 {
			ranked = append(ranked, scored{link: link, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.link
	}
	return out
}

// relevance scores a link against search terms. A term in the path counts
// double, and an exact path segment match counts again.
func relevance(link string, terms []string) int {
	lower := strings.ToLower(link)
	path := lower
	if i := strings.Index(lower, "://"); i >= 0 {
		rest := lower[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			path = rest[j:]
		} else {
			path = ""
		}
	}
	segments := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '-' || r == '_' || r == '.' || r == '?' || r == '=' || r == '&'
	})

	score := 0
	for _, term := range terms {
		if !strings.Contains(lower, term) {
			continue
		}
		score++
		if strings.Contains(path, term) {
			score++
		}
		for _, seg := range segments {
			if seg == term {
				score++
				break
			}
		}
	}
	return score
}

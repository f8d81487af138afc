// Package report renders crawl results as human-readable Markdown.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

const maxCellRunes = 80

// Summary is the input to WriteMarkdown.
type Summary struct {
	Seed      string
	Generated time.Time
	Result    *crawler.CrawlResult
}

// WriteMarkdown writes a crawl summary: run totals, an outcome alert, the
// depth distribution, crawled pages, and failures.
func WriteMarkdown(w io.Writer, s Summary) error {
	if s.Result == nil {
		return fmt.Errorf("write report: nil crawl result")
	}
	md := markdown.NewMarkdown(w)

	md.H1("Crawl Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + s.Seed + "`"},
			{"Generated", s.Generated.UTC().Format(time.RFC3339)},
			{"Status", string(s.Result.Status)},
			{"Pages Completed", strconv.Itoa(s.Result.Completed)},
			{"URLs Discovered", strconv.Itoa(s.Result.Total)},
			{"Remaining", strconv.Itoa(s.Result.Remaining)},
			{"Failures", strconv.Itoa(len(s.Result.Errors))},
		},
	})
	md.PlainText("")
	writeAlert(md, s.Result)

	writeDepths(md, s.Result.Data)
	writePages(md, s.Result.Data)
	writeFailures(md, s.Result.Errors)

	if err := md.Build(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func writeAlert(md *markdown.Markdown, res *crawler.CrawlResult) {
	switch {
	case !res.Success:
		msg := res.Error
		if msg == "" {
			msg = "no pages were crawled"
		}
		md.Cautionf("Crawl failed: %s.", msg)
	case res.Status == crawler.CrawlStatusIncomplete:
		md.Warningf("Crawl stopped early with %d URL(s) still queued.", res.Remaining)
	case len(res.Errors) > 0:
		md.Importantf("%d page(s) failed; see Failures below.", len(res.Errors))
	default:
		md.Tip("Every discovered page was crawled.")
	}
	md.PlainText("")
}

func writeDepths(md *markdown.Markdown, pages []crawler.PageResult) {
	if len(pages) == 0 {
		return
	}
	counts := map[int]int{}
	for _, p := range pages {
		counts[p.Depth]++
	}
	depths := make([]int, 0, len(counts))
	for d := range counts {
		depths = append(depths, d)
	}
	sort.Ints(depths)

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Pages by Depth"),
		piechart.WithShowData(true),
	)
	for _, d := range depths {
		chart.LabelAndIntValue("depth "+strconv.Itoa(d), uint64(counts[d]))
	}

	md.H2("Depth Distribution")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func writePages(md *markdown.Markdown, pages []crawler.PageResult) {
	md.H2("Pages")
	md.PlainText("")
	if len(pages) == 0 {
		md.PlainText("No pages were crawled.")
		md.PlainText("")
		return
	}
	rows := make([][]string, len(pages))
	for i, p := range pages {
		title := "-"
		if p.Metadata != nil && p.Metadata.Title != "" {
			title = truncate(p.Metadata.Title)
		}
		rows[i] = []string{
			truncate(p.URL),
			strconv.Itoa(p.Depth),
			title,
			strconv.Itoa(utf8.RuneCountInString(p.Markdown)),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Depth", "Title", "Markdown Chars"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeFailures(md *markdown.Markdown, errs []string) {
	if len(errs) == 0 {
		return
	}
	md.H2("Failures")
	md.PlainText("")
	md.BulletList(errs...)
	md.PlainText("")
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxCellRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxCellRunes-3]) + "..."
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

type scrapeFlags struct {
	formats         []string
	onlyMainContent bool
	includeTags     []string
	excludeTags     []string
	prompt          string
	summarize       bool
	output          string
}

func newScrapeCmd() *cobra.Command {
	var f scrapeFlags
	cmd := &cobra.Command{
		Use:   "scrape URL",
		Short: "Fetch one page and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, args[0], f)
		},
	}
	cmd.Flags().StringSliceVarP(&f.formats, "format", "f", []string{string(crawler.FormatMarkdown)},
		"output formats: markdown, html, raw_html, links, extract")
	cmd.Flags().BoolVar(&f.onlyMainContent, "only-main-content", false, "drop navigation, headers, and footers")
	cmd.Flags().StringSliceVar(&f.includeTags, "include-tags", nil, "CSS selectors to keep")
	cmd.Flags().StringSliceVar(&f.excludeTags, "exclude-tags", nil, "CSS selectors to remove")
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "extraction prompt; implies the extract format")
	cmd.Flags().BoolVar(&f.summarize, "summarize", false, "summarize instead of extracting")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func runScrape(cmd *cobra.Command, rawURL string, f scrapeFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	req, err := f.formatRequest()
	if err != nil {
		return err
	}

	svc, cleanup, err := buildScraper(e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	page, err := svc.Scrape(cmd.Context(), rawURL, req)
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}

	w, closeOut, err := openOutput(cmd, f.output)
	if err != nil {
		return err
	}
	if err := writeJSON(w, page); err != nil {
		_ = closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return err
	}
	if !page.Success {
		return fmt.Errorf("scrape %s: %s", rawURL, page.Error)
	}
	return nil
}

func (f scrapeFlags) formatRequest() (crawler.FormatRequest, error) {
	formats, err := parseFormatFlags(f.formats)
	if err != nil {
		return crawler.FormatRequest{}, err
	}
	req := crawler.FormatRequest{
		Formats:         formats,
		OnlyMainContent: f.onlyMainContent,
		IncludeTags:     f.includeTags,
		ExcludeTags:     f.excludeTags,
	}
	if f.prompt != "" || f.summarize {
		mode := crawler.ExtractModeExtract
		if f.summarize {
			mode = crawler.ExtractModeSummarize
		}
		req.Extract = &crawler.ExtractRequest{Mode: mode, Prompt: f.prompt}
		if !req.Wants(crawler.FormatExtract) {
			req.Formats = append(req.Formats, crawler.FormatExtract)
		}
	}
	return req, nil
}

func parseFormatFlags(raw []string) ([]crawler.Format, error) {
	out := make([]crawler.Format, 0, len(raw))
	for _, s := range raw {
		f, ok := crawler.ParseFormat(s)
		if !ok {
			return nil, fmt.Errorf("unsupported format %q", s)
		}
		out = append(out, f)
	}
	return out, nil
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/report"
)

type crawlFlags struct {
	include       []string
	exclude       []string
	allowExternal bool
	report        bool
	output        string
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl URL",
		Short: "Crawl a site breadth-first from URL",
		Long: `Crawl follows links from URL up to the configured depth and page limits,
printing every page as JSON or, with --report, a Markdown summary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], f)
		},
	}
	cmd.Flags().Int("max-depth", 0, "maximum link depth from the seed")
	cmd.Flags().Int("max-pages", 0, "maximum pages to process")
	cmd.Flags().Int("concurrency", 0, "pages processed at once")
	cmd.Flags().StringSlice("format", nil, "output formats for each page")
	cmd.Flags().Bool("only-main-content", false, "drop navigation, headers, and footers")
	bindFlag(cmd, "crawl.max_depth", "max-depth")
	bindFlag(cmd, "crawl.max_pages", "max-pages")
	bindFlag(cmd, "crawl.concurrency", "concurrency")
	bindFlag(cmd, "crawl.formats", "format")
	bindFlag(cmd, "crawl.only_main_content", "only-main-content")

	cmd.Flags().StringSliceVar(&f.include, "include", nil, "only follow URLs matching these patterns")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "never follow URLs matching these patterns")
	cmd.Flags().BoolVar(&f.allowExternal, "allow-external", false, "follow links to other domains")
	cmd.Flags().BoolVar(&f.report, "report", false, "print a Markdown summary instead of JSON")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func runCrawl(cmd *cobra.Command, seed string, f crawlFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	opts := e.cfg.CrawlOptions()
	opts.IncludePatterns = f.include
	opts.ExcludePatterns = f.exclude
	opts.AllowExternalDomains = f.allowExternal
	if _, err := crawler.NewLinkFilter(opts.FilterOptions()); err != nil {
		return fmt.Errorf("link filter: %w", err)
	}

	svc, cleanup, err := buildScraper(e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	started := time.Now()
	res, err := svc.Crawl(cmd.Context(), seed, opts)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	e.logger.Info("crawl finished",
		zap.String("seed", seed),
		zap.String("status", string(res.Status)),
		zap.Int("completed", res.Completed),
		zap.Int("total", res.Total),
		zap.Duration("elapsed", time.Since(started)),
	)

	w, closeOut, err := openOutput(cmd, f.output)
	if err != nil {
		return err
	}
	if f.report {
		err = report.WriteMarkdown(w, report.Summary{Seed: seed, Generated: time.Now(), Result: res})
	} else {
		err = writeJSON(w, res)
	}
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("crawl %s: %s", seed, res.Error)
	}
	return nil
}

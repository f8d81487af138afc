package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

type mapFlags struct {
	search        string
	limit         int
	include       []string
	exclude       []string
	allowExternal bool
	json          bool
	output        string
}

func newMapCmd() *cobra.Command {
	var f mapFlags
	cmd := &cobra.Command{
		Use:   "map URL",
		Short: "List the links found on one page",
		Long: `Map fetches URL once and prints the links it finds, one per line.
With --search, links are ranked by how well they match the term.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMap(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "rank and keep links relevant to this term")
	cmd.Flags().IntVarP(&f.limit, "limit", "l", 0, "maximum links to print (0 for no limit)")
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "only keep URLs matching these patterns")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "drop URLs matching these patterns")
	cmd.Flags().BoolVar(&f.allowExternal, "allow-external", false, "keep links to other domains")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the full result as JSON")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func runMap(cmd *cobra.Command, rawURL string, f mapFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	if f.limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}

	svc, cleanup, err := buildScraper(e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := svc.Map(cmd.Context(), rawURL, crawler.MapOptions{
		Search:               f.search,
		Limit:                f.limit,
		IncludePatterns:      f.include,
		ExcludePatterns:      f.exclude,
		AllowExternalDomains: f.allowExternal,
	})
	if err != nil {
		return fmt.Errorf("map: %w", err)
	}

	w, closeOut, err := openOutput(cmd, f.output)
	if err != nil {
		return err
	}
	if f.json {
		err = writeJSON(w, res)
	} else {
		err = writeLinks(w, res.Links)
	}
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("map %s: %s", rawURL, res.Error)
	}
	return nil
}

func writeLinks(w io.Writer, links []string) error {
	for _, l := range links {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return fmt.Errorf("write links: %w", err)
		}
	}
	return nil
}

// Package cmd defines the scrapekit command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/config"
	"github.com/JakeFAU/scrapekit/internal/logging"
)

// flagAnnotation marks a flag as bound to a config key.
const flagAnnotation = "scrapekit/config-key:"

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs after config load.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "scrapekit",
		Short: "Scrape, crawl, and map websites into LLM-ready content.",
		Long: `scrapekit fetches web pages, rendering JavaScript-heavy sites in headless
Chrome only when needed, and converts them to Markdown, cleaned HTML, links,
or structured extractions. It runs one-off commands or serves an HTTP API
with asynchronous crawl jobs.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, boundFlags(cmd)...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is ./%s.yaml or %s)", config.AppName, config.ConfigDir()))
	cmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")
	bindFlag(cmd, "logging.level", "log-level")

	cmd.AddCommand(newScrapeCmd(), newCrawlCmd(), newMapCmd(), newServeCmd())
	return cmd
}

// bindFlag records that flag overrides key when set.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[flagAnnotation+key] = flag
}

// boundFlags collects flag bindings from cmd and its parents.
func boundFlags(cmd *cobra.Command) []config.Option {
	var opts []config.Option
	for c := cmd; c != nil; c = c.Parent() {
		for k, name := range c.Annotations {
			key, ok := strings.CutPrefix(k, flagAnnotation)
			if !ok {
				continue
			}
			opts = append(opts, config.WithFlag(key, cmd.Flag(name)))
		}
	}
	return opts
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrapekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  request_timeout: 45s
auth:
  enabled: true
  api_key: secret
http:
  user_agent: test-agent
  timeout: 10s
fetch:
  respect_robots: true
headless:
  enabled: false
crawl:
  max_depth: 1
  max_pages: 25
  concurrency: 3
  domain_concurrency: 1
  domain_delay: 500ms
  formats: [markdown, links]
  only_main_content: true
ratelimit:
  domains: ["Example.com=0.5", "docs.example.org = 4"]
storage:
  backend: gcs
  gcs:
    bucket: pages-bucket
publisher:
  backend: pubsub
  pubsub:
    project_id: proj
    topic_id: done
workers:
  count: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	require.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	require.False(t, cfg.Headless.Enabled)
	require.Equal(t, "gcs", cfg.Storage.Backend)
	require.Equal(t, "pages-bucket", cfg.Storage.GCS.Bucket)
	require.Equal(t, "done", cfg.Publisher.PubSub.TopicID)
	require.Equal(t, 5, cfg.Workers.Count)

	opts := cfg.CrawlOptions()
	require.Equal(t, 1, opts.MaxDepth)
	require.Equal(t, 25, opts.MaxPages)
	require.Equal(t, 3, opts.Concurrency)
	require.Equal(t, 1, opts.DomainConcurrency)
	require.Equal(t, 500*time.Millisecond, opts.DomainDelay)
	require.Equal(t, []crawler.Format{crawler.FormatMarkdown, crawler.FormatLinks}, opts.Format.Formats)
	require.True(t, opts.Format.OnlyMainContent)
	require.True(t, opts.Format.RespectRobots)

	rates, err := cfg.DomainRates()
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"example.com": 0.5, "docs.example.org": 4}, rates)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, crawler.DefaultMaxDepth, cfg.Crawl.MaxDepth)
	require.Equal(t, crawler.DefaultMaxPages, cfg.Crawl.MaxPages)
	require.Equal(t, crawler.DefaultDomainDelay, cfg.Crawl.DomainDelay)
	require.Equal(t, crawler.DefaultRequestTimeout, cfg.Scrape.Timeout)
	require.Equal(t, 5*time.Minute, cfg.Cache.ScrapeTTL)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "none", cfg.Publisher.Backend)
	require.Equal(t, "crawl_jobs", cfg.Postgres.JobsTable)
	require.Equal(t, filepath.Join(DataDir(), "pages"), cfg.Storage.Local.BaseDir)
	require.Equal(t, crawler.DefaultCrawlOptions().Format.Formats, cfg.CrawlOptions().Format.Formats)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPEKIT_SERVER_PORT", "7070")
	t.Setenv("SCRAPEKIT_CRAWL_MAX_PAGES", "7")
	t.Setenv("SCRAPEKIT_POSTGRES_DSN", "postgres://localhost/scrapekit")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 7, cfg.Crawl.MaxPages)
	require.Equal(t, "postgres://localhost/scrapekit", cfg.Postgres.DSN)
}

func TestLoadFlagOverrides(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-depth", 9, "")
	flags.Int("max-pages", 9, "")
	require.NoError(t, flags.Parse([]string{"--max-depth=0"}))

	cfg, err := Load(writeConfig(t, "crawl:\n  max_depth: 4\n  max_pages: 40\n"),
		WithFlag("crawl.max_depth", flags.Lookup("max-depth")),
		WithFlag("crawl.max_pages", flags.Lookup("max-pages")),
		WithFlag("crawl.concurrency", nil),
	)
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Crawl.MaxDepth, "changed flag wins over file")
	require.Equal(t, 40, cfg.Crawl.MaxPages, "unchanged flag does not override file")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port must be > 0"},
		{"http timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "http.timeout must be > 0"},
		{"headless parallel", func(c *Config) { c.Headless.MaxParallel = 0 }, "headless.max_parallel"},
		{"negative depth", func(c *Config) { c.Crawl.MaxDepth = -1 }, "crawl.max_depth must be >= 0"},
		{"max pages", func(c *Config) { c.Crawl.MaxPages = 0 }, "crawl.max_pages must be > 0"},
		{"concurrency", func(c *Config) { c.Crawl.Concurrency = 0 }, "crawl.concurrency must be > 0"},
		{"domain concurrency", func(c *Config) { c.Crawl.DomainConcurrency = 0 }, "crawl.domain_concurrency must be > 0"},
		{"negative delay", func(c *Config) { c.Crawl.DomainDelay = -time.Second }, "crawl.domain_delay must be >= 0"},
		{"bad format", func(c *Config) { c.Crawl.Formats = []string{"pdf"} }, `unsupported format "pdf"`},
		{"bad domain rate", func(c *Config) { c.RateLimit.Domains = []string{"example.com"} }, "host=rps"},
		{"bad domain number", func(c *Config) { c.RateLimit.Domains = []string{"example.com=fast"} }, "invalid rate"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, `storage.backend "s3"`},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.gcs.bucket"},
		{"local dir", func(c *Config) { c.Storage.Backend = "local"; c.Storage.Local.BaseDir = "" }, "storage.local.base_dir"},
		{"unknown publisher", func(c *Config) { c.Publisher.Backend = "kafka" }, `publisher.backend "kafka"`},
		{"pubsub project", func(c *Config) { c.Publisher.Backend = "pubsub" }, "publisher.pubsub.project_id"},
		{"auth key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key must be set"},
		{"workers", func(c *Config) { c.Workers.Count = 0 }, "workers.count must be > 0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

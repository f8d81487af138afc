// Package config loads and validates scrapekit configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

// AppName names the config directory and file.
const AppName = "scrapekit"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	LLM       LLMConfig       `mapstructure:"llm"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Workers   WorkersConfig   `mapstructure:"workers"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPConfig configures the lightweight fetch client.
type HTTPConfig struct {
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBodySize int           `mapstructure:"max_body_size"`
}

// FetchConfig holds fetch policy toggles.
type FetchConfig struct {
	RespectRobots bool `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ExecPath          string        `mapstructure:"exec_path"`
	// Visible runs Chrome with a window, for debugging.
	Visible bool `mapstructure:"visible"`
}

// DetectorConfig tunes the content-type detector.
type DetectorConfig struct {
	MinTextLength   int      `mapstructure:"min_text_length"`
	ShellTextLength int      `mapstructure:"shell_text_length"`
	MinParagraphs   int      `mapstructure:"min_paragraphs"`
	MaxShellScripts int      `mapstructure:"max_shell_scripts"`
	StaticHosts     []string `mapstructure:"static_hosts"`
	HeavyHosts      []string `mapstructure:"heavy_hosts"`
}

// CrawlConfig holds crawl defaults applied when a request leaves them unset.
type CrawlConfig struct {
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxPages          int           `mapstructure:"max_pages"`
	Concurrency       int           `mapstructure:"concurrency"`
	DomainConcurrency int           `mapstructure:"domain_concurrency"`
	DomainDelay       time.Duration `mapstructure:"domain_delay"`
	Formats           []string      `mapstructure:"formats"`
	OnlyMainContent   bool          `mapstructure:"only_main_content"`
}

// ScrapeConfig holds single-page defaults.
type ScrapeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMConfig configures the optional extraction model.
type LLMConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig configures per-domain request pacing. Domains entries take
// the form "host=rps" because hostnames contain the key delimiter.
type RateLimitConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	DefaultRPS   float64  `mapstructure:"default_rps"`
	DefaultBurst int      `mapstructure:"default_burst"`
	Domains      []string `mapstructure:"domains"`
}

// CacheConfig sets cache lifetimes. Zero disables a cache.
type CacheConfig struct {
	ScrapeTTL   time.Duration `mapstructure:"scrape_ttl"`
	DetectorTTL time.Duration `mapstructure:"detector_ttl"`
}

// StorageConfig selects where crawl job artifacts are written.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
	GCS     GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig configures the Cloud Storage blob store.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// PostgresConfig controls the job store database. An empty DSN keeps jobs in memory.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	JobsTable    string `mapstructure:"jobs_table"`
	PagesTable   string `mapstructure:"pages_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PublisherConfig selects where job completion events go.
type PublisherConfig struct {
	Backend string       `mapstructure:"backend"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig identifies the completion topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WorkersConfig sizes the async crawl job pool.
type WorkersConfig struct {
	Count              int `mapstructure:"count"`
	QueueDepth         int `mapstructure:"queue_depth"`
	PersistConcurrency int `mapstructure:"persist_concurrency"`
}

// Option customizes Load.
type Option func(*viper.Viper) error

// WithFlag binds a command-line flag to key. An explicitly set flag beats
// files and environment variables.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
		return nil
	}
}

// ConfigDir is the per-user directory searched for scrapekit.yaml.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DataDir is the default root for local page output.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Load builds a Config from defaults, an optional file, the environment,
// and bound flags. With an empty path, scrapekit.yaml is looked up in the
// working directory and ConfigDir; a missing file is not an error.
func Load(path string, opts ...Option) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("http.user_agent", "scrapekit/0.1 (+https://github.com/JakeFAU/scrapekit)")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_body_size", 10<<20)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.navigation_timeout", "30s")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.visible", false)
	v.SetDefault("detector.min_text_length", 500)
	v.SetDefault("detector.shell_text_length", 200)
	v.SetDefault("detector.min_paragraphs", 2)
	v.SetDefault("detector.max_shell_scripts", 3)
	v.SetDefault("detector.static_hosts", []string{})
	v.SetDefault("detector.heavy_hosts", []string{})
	v.SetDefault("crawl.max_depth", crawler.DefaultMaxDepth)
	v.SetDefault("crawl.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawl.concurrency", crawler.DefaultConcurrency)
	v.SetDefault("crawl.domain_concurrency", crawler.DefaultDomainConcurrency)
	v.SetDefault("crawl.domain_delay", crawler.DefaultDomainDelay.String())
	v.SetDefault("crawl.formats", []string{string(crawler.FormatMarkdown)})
	v.SetDefault("crawl.only_main_content", false)
	v.SetDefault("scrape.timeout", crawler.DefaultRequestTimeout.String())
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.model", "llama3.2")
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 2.0)
	v.SetDefault("ratelimit.default_burst", 2)
	v.SetDefault("ratelimit.domains", []string{})
	v.SetDefault("cache.scrape_ttl", "5m")
	v.SetDefault("cache.detector_ttl", "10m")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.local.base_dir", filepath.Join(DataDir(), "pages"))
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.jobs_table", "crawl_jobs")
	v.SetDefault("postgres.pages_table", "crawl_pages")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.ensure_schema", true)
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.pubsub.project_id", "")
	v.SetDefault("publisher.pubsub.topic_id", "crawl-events")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("workers.persist_concurrency", 4)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.DomainConcurrency <= 0 {
		return fmt.Errorf("crawl.domain_concurrency must be > 0")
	}
	if c.Crawl.DomainDelay < 0 {
		return fmt.Errorf("crawl.domain_delay must be >= 0")
	}
	if _, err := c.Formats(); err != nil {
		return err
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS < 0 {
		return fmt.Errorf("ratelimit.default_rps must be >= 0")
	}
	if _, err := c.DomainRates(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	switch c.Publisher.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.TopicID == "" {
			return fmt.Errorf("publisher.pubsub.project_id and topic_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not one of none, memory, pubsub", c.Publisher.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	return nil
}

// Formats parses crawl.formats.
func (c Config) Formats() ([]crawler.Format, error) {
	out := make([]crawler.Format, 0, len(c.Crawl.Formats))
	for _, raw := range c.Crawl.Formats {
		f, ok := crawler.ParseFormat(raw)
		if !ok {
			return nil, fmt.Errorf("crawl.formats: unsupported format %q", raw)
		}
		out = append(out, f)
	}
	return out, nil
}

// DomainRates parses ratelimit.domains entries of the form "host=rps".
func (c Config) DomainRates() (map[string]float64, error) {
	rates := make(map[string]float64, len(c.RateLimit.Domains))
	for _, entry := range c.RateLimit.Domains {
		host, raw, ok := strings.Cut(entry, "=")
		host = strings.ToLower(strings.TrimSpace(host))
		if !ok || host == "" {
			return nil, fmt.Errorf("ratelimit.domains: entry %q must look like host=rps", entry)
		}
		rps, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("ratelimit.domains: invalid rate in %q", entry)
		}
		rates[host] = rps
	}
	return rates, nil
}

// CrawlOptions converts the crawl section into scheduler defaults.
func (c Config) CrawlOptions() crawler.CrawlOptions {
	formats, _ := c.Formats()
	return crawler.CrawlOptions{
		MaxDepth:          c.Crawl.MaxDepth,
		MaxPages:          c.Crawl.MaxPages,
		Concurrency:       c.Crawl.Concurrency,
		DomainConcurrency: c.Crawl.DomainConcurrency,
		DomainDelay:       c.Crawl.DomainDelay,
		Format: crawler.FormatRequest{
			Formats:         formats,
			OnlyMainContent: c.Crawl.OnlyMainContent,
			RespectRobots:   c.Fetch.RespectRobots,
		},
	}
}

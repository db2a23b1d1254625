// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig             `mapstructure:"server"`
	Crawl   CrawlConfig              `mapstructure:"crawl"`
	Index   IndexConfig              `mapstructure:"index"`
	Query   QueryConfig              `mapstructure:"query"`
	Storage StorageConfig            `mapstructure:"storage"`
	DB      DBConfig                 `mapstructure:"db"`
	PubSub  PubSubConfig             `mapstructure:"pubsub"`
	Backend BackendConfig            `mapstructure:"backend"`
	Logging LoggingConfig            `mapstructure:"logging"`
	Sources map[string]SourceProfile `mapstructure:"sources"`
}

// ServerConfig controls the query API HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs orchestrator behavior.
type CrawlConfig struct {
	Workers          int    `mapstructure:"workers"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	UserAgent        string `mapstructure:"user_agent"`
	StateDir         string `mapstructure:"state_dir"`
}

// IndexConfig controls chunking behavior.
type IndexConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// QueryConfig controls fan-out and merge behavior on the read path.
type QueryConfig struct {
	TopK           int      `mapstructure:"top_k"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	Priority       []string `mapstructure:"priority"`
}

// StorageConfig selects and parameterizes the artifact stores.
type StorageConfig struct {
	Provider        string `mapstructure:"provider"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	LocalDir        string `mapstructure:"local_dir"`
	RawPrefix       string `mapstructure:"raw_prefix"`
	ProcessedPrefix string `mapstructure:"processed_prefix"`
}

// DBConfig controls access to the crawl-record database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for indexed-document notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BackendConfig points at the external embedding/search engine.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceKind selects the discovery strategy for a source.
type SourceKind string

// Discovery strategies.
const (
	KindSitemap   SourceKind = "sitemap"
	KindListing   SourceKind = "listing"
	KindDirectory SourceKind = "directory"
)

// SourceProfile is the data-driven extraction capability for one source.
// Per-site differences (selectors, strip lists, heading levels) live here,
// not in code branches.
type SourceProfile struct {
	Name            string     `mapstructure:"name"`
	Kind            SourceKind `mapstructure:"kind"`
	Root            string     `mapstructure:"root"`
	LinkPrefix      string     `mapstructure:"link_prefix"`
	SkipPrefixes    []string   `mapstructure:"skip_prefixes"`
	ContentSelector string     `mapstructure:"content_selector"`
	TitleSelector   string     `mapstructure:"title_selector"`
	NoiseSelectors  []string   `mapstructure:"noise_selectors"`
	SectionHeadings []string   `mapstructure:"section_headings"`
	MediaAttrs      []string   `mapstructure:"media_attrs"`
	MediaFilters    []string   `mapstructure:"media_filters"`
	MinMediaWidth   int        `mapstructure:"min_media_width"`
	License         string     `mapstructure:"license"`
	Corpus          string     `mapstructure:"corpus"`
	DelaySeconds    float64    `mapstructure:"delay_seconds"`
	StalenessDays   int        `mapstructure:"staleness_days"`
	RenderJS        bool       `mapstructure:"render_js"`
	RespectRobots   bool       `mapstructure:"respect_robots"`
}

// Delay returns the configured politeness interval.
func (p SourceProfile) Delay() time.Duration {
	return time.Duration(p.DelaySeconds * float64(time.Second))
}

// Staleness returns the re-check threshold for unchanged documents.
func (p SourceProfile) Staleness() time.Duration {
	return time.Duration(p.StalenessDays) * 24 * time.Hour
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KBPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	for name, profile := range cfg.Sources {
		if profile.Name == "" {
			profile.Name = name
			cfg.Sources[name] = profile
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.backoff_initial_ms", 500)
	v.SetDefault("crawl.backoff_max_ms", 30000)
	v.SetDefault("crawl.timeout_seconds", 15)
	v.SetDefault("crawl.user_agent", "clinassist-kbpipeline/1.0 (educational medical reference)")
	v.SetDefault("crawl.state_dir", "state")
	v.SetDefault("index.chunk_size", 1024)
	v.SetDefault("index.chunk_overlap", 200)
	v.SetDefault("query.top_k", 5)
	v.SetDefault("query.timeout_seconds", 10)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "artifacts")
	v.SetDefault("storage.raw_prefix", "raw")
	v.SetDefault("storage.processed_prefix", "processed")
	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values. Profile gaps are fatal: proceeding with
// a partial profile would silently skip or mis-extract content.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be > 0")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("index.chunk_overlap must be in [0, chunk_size)")
	}
	for name, profile := range c.Sources {
		if err := profile.validate(); err != nil {
			return fmt.Errorf("source %q: %w", name, err)
		}
	}
	return nil
}

func (p SourceProfile) validate() error {
	switch p.Kind {
	case KindSitemap, KindListing, KindDirectory:
	default:
		return fmt.Errorf("kind must be one of sitemap, listing, directory")
	}
	if p.Root == "" {
		return fmt.Errorf("root is required")
	}
	if p.Corpus == "" {
		return fmt.Errorf("corpus is required")
	}
	if p.Kind != KindDirectory {
		if p.ContentSelector == "" {
			return fmt.Errorf("content_selector is required")
		}
		if len(p.SectionHeadings) == 0 {
			return fmt.Errorf("section_headings is required")
		}
		if p.DelaySeconds < 1 || p.DelaySeconds > 10 {
			return fmt.Errorf("delay_seconds must be within [1, 10]")
		}
	}
	return nil
}

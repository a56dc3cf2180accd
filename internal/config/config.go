// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/dedupe"
	"github.com/JakeFAU/menu-harvester/internal/discovery"
	"github.com/JakeFAU/menu-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/menu-harvester/internal/scoring"
	"github.com/JakeFAU/menu-harvester/internal/storage/gcs"
	"github.com/JakeFAU/menu-harvester/internal/storage/local"
	"github.com/JakeFAU/menu-harvester/internal/storage/postgres"
)

// EnvPrefix is prepended to every environment override, e.g.
// HARVESTER_CRAWLER_CONCURRENCY=4.
const EnvPrefix = "HARVESTER"

// DefaultMaxPagesPerDomain caps content pages per host: the homepage plus a
// few menu pages. Probes that miss do not count.
const DefaultMaxPagesPerDomain = 6

// DefaultUserAgents is the built-in rotation pool.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"MenuHarvester/1.0 (+https://github.com/JakeFAU/menu-harvester)",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	BBox      crawler.BoundingBox `mapstructure:"bbox"`
	Crawler   CrawlerConfig       `mapstructure:"crawler"`
	Discovery DiscoveryConfig     `mapstructure:"discovery"`
	Output    OutputConfig        `mapstructure:"output"`
	Archive   ArchiveConfig       `mapstructure:"archive"`
	DB        postgres.Config     `mapstructure:"db"`
	PubSub    pubsub.Config       `mapstructure:"pubsub"`
	Scoring   scoring.Scorer      `mapstructure:"scoring"`
	Dedupe    dedupe.Matcher      `mapstructure:"dedupe"`
	Parser    ParserConfig        `mapstructure:"parser"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Logging   LoggingConfig       `mapstructure:"logging"`
}

// CrawlerConfig governs fetching, politeness and the run budget.
type CrawlerConfig struct {
	Concurrency       int           `mapstructure:"concurrency" validate:"gt=0"`
	PerHost           int           `mapstructure:"per_host" validate:"gt=0"`
	PerHostRPS        float64       `mapstructure:"per_host_rps" validate:"gte=0"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	MaxPagesPerDomain int           `mapstructure:"max_pages_per_domain" validate:"gt=0"`
	MaxPageBytes      int           `mapstructure:"max_page_bytes" validate:"gt=0"`
	RuntimeMinutes    float64       `mapstructure:"runtime_minutes" validate:"gte=0"`
	UserAgents        []string      `mapstructure:"user_agents" validate:"min=1,dive,required"`
	RobotsAgent       string        `mapstructure:"robots_agent" validate:"required"`
	ArchiveRaw        bool          `mapstructure:"archive_raw"`
}

// DiscoveryConfig selects and configures venue sources.
type DiscoveryConfig struct {
	Overpass OverpassConfig `mapstructure:"overpass"`
	Yelp     YelpConfig     `mapstructure:"yelp"`
}

// OverpassConfig toggles the OpenStreetMap source.
type OverpassConfig struct {
	Enabled                  bool `mapstructure:"enabled"`
	discovery.OverpassConfig `mapstructure:",squash"`
}

// YelpConfig configures the Yelp source. It is enabled when an API key is set.
type YelpConfig struct {
	discovery.YelpConfig `mapstructure:",squash"`
}

// Enabled reports whether the source has credentials.
func (y YelpConfig) Enabled() bool {
	return strings.TrimSpace(y.APIKey) != ""
}

// OutputConfig locates the tabular sink.
type OutputConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// ArchiveConfig selects the blob store for raw snapshots.
type ArchiveConfig struct {
	Backend string       `mapstructure:"backend" validate:"oneof=local gcs memory"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// ParserConfig points at an optional platform fingerprint override.
type ParserConfig struct {
	PlatformsFile string `mapstructure:"platforms_file"`
}

// MetricsConfig enables the exposition endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig selects the zap preset and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// bbox keys must be known for env overrides to bind.
	v.SetDefault("bbox.min_lat", 0.0)
	v.SetDefault("bbox.min_lon", 0.0)
	v.SetDefault("bbox.max_lat", 0.0)
	v.SetDefault("bbox.max_lon", 0.0)

	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.per_host", 2)
	v.SetDefault("crawler.per_host_rps", 1.0)
	v.SetDefault("crawler.connect_timeout", "5s")
	v.SetDefault("crawler.read_timeout", "15s")
	v.SetDefault("crawler.max_pages_per_domain", DefaultMaxPagesPerDomain)
	v.SetDefault("crawler.max_page_bytes", 2*1024*1024)
	v.SetDefault("crawler.runtime_minutes", 30.0)
	v.SetDefault("crawler.user_agents", DefaultUserAgents)
	v.SetDefault("crawler.robots_agent", "MenuHarvester")
	v.SetDefault("crawler.archive_raw", false)

	v.SetDefault("discovery.overpass.enabled", true)
	v.SetDefault("discovery.overpass.endpoint", discovery.DefaultOverpassEndpoint)
	v.SetDefault("discovery.overpass.timeout", "60s")
	v.SetDefault("discovery.overpass.user_agent", DefaultUserAgents[len(DefaultUserAgents)-1])
	v.SetDefault("discovery.yelp.endpoint", discovery.DefaultYelpEndpoint)
	v.SetDefault("discovery.yelp.api_key", "")
	v.SetDefault("discovery.yelp.categories", "restaurants,cafes")
	v.SetDefault("discovery.yelp.term", "restaurants")
	v.SetDefault("discovery.yelp.timeout", "20s")

	v.SetDefault("output.dir", "data/harvest")

	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.local.base_dir", "data/snapshots")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.gcs.prefix", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate", true)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "")

	v.SetDefault("scoring.min_price", scoring.DefaultMinPrice)
	v.SetDefault("scoring.max_price", scoring.DefaultMaxPrice)
	v.SetDefault("scoring.missing_price_penalty", scoring.DefaultMissingPricePenalty)

	v.SetDefault("dedupe.name_threshold", dedupe.DefaultNameThreshold)
	v.SetDefault("dedupe.radius_meters", dedupe.DefaultRadiusMeters)

	v.SetDefault("parser.platforms_file", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. A bad bounding
// box is reported as crawler.ErrInvalidBoundingBox.
func (c Config) Validate() error {
	if err := c.BBox.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Archive.Backend == "gcs" && c.Crawler.ArchiveRaw && c.Archive.GCS.Bucket == "" {
		return fmt.Errorf("archive.gcs.bucket must be set when archive.backend is gcs")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set together")
	}
	return nil
}

// Policy is the immutable crawl policy derived from a validated Config.
type Policy struct {
	BBox               crawler.BoundingBox
	GlobalConcurrency  int
	PerHostConcurrency int
	PerHostRPS         float64
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	MaxPagesPerDomain  int
	MaxPageBytes       int
	RuntimeMinutes     float64
	ArchiveRaw         bool
	UserAgents         []string
	RobotsAgent        string
}

// Policy returns the crawl policy. The returned value shares nothing with c.
func (c Config) Policy() Policy {
	return Policy{
		BBox:               c.BBox,
		GlobalConcurrency:  c.Crawler.Concurrency,
		PerHostConcurrency: c.Crawler.PerHost,
		PerHostRPS:         c.Crawler.PerHostRPS,
		ConnectTimeout:     c.Crawler.ConnectTimeout,
		ReadTimeout:        c.Crawler.ReadTimeout,
		MaxPagesPerDomain:  c.Crawler.MaxPagesPerDomain,
		MaxPageBytes:       c.Crawler.MaxPageBytes,
		RuntimeMinutes:     c.Crawler.RuntimeMinutes,
		ArchiveRaw:         c.Crawler.ArchiveRaw,
		UserAgents:         append([]string(nil), c.Crawler.UserAgents...),
		RobotsAgent:        c.Crawler.RobotsAgent,
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone     = "UTC"
	configPathEnv       = "S2COASTALBOT_CONFIG"
	storageDSNEnv       = "S2COASTALBOT_STORAGE_DSN"
	mastodonTokenEnv    = "S2COASTALBOT_MASTODON_TOKEN"
	mastodonServerEnv   = "S2COASTALBOT_MASTODON_SERVER"
	twitterConsumerKey  = "S2COASTALBOT_TWITTER_CONSUMER_KEY"
	twitterConsumerSec  = "S2COASTALBOT_TWITTER_CONSUMER_SECRET"
	twitterAccessToken  = "S2COASTALBOT_TWITTER_ACCESS_TOKEN"
	twitterAccessSecret = "S2COASTALBOT_TWITTER_ACCESS_TOKEN_SECRET"
	logLevelEnv         = "S2COASTALBOT_LOG_LEVEL"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds high-level settings required across the application.
type Config struct {
	Logging        LoggingConfig        `yaml:"logging"`
	Search         SearchConfig         `yaml:"search"`
	CoastalDataset string               `yaml:"coastal_dataset"`
	AOI            string               `yaml:"aoi"`
	Postprocessing PostprocessingConfig `yaml:"postprocessing"`
	Storage        StorageConfig        `yaml:"storage"`
	Lock           LockConfig           `yaml:"lock"`
	Publishers     []string             `yaml:"publishers"`
	Mastodon       MastodonConfig       `yaml:"mastodon"`
	Twitter        TwitterConfig        `yaml:"twitter"`
	Geocoder       GeocoderConfig       `yaml:"geocoder"`
	Retry          RetryConfig          `yaml:"retry"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Status         StatusConfig         `yaml:"status"`

	// Flat spellings accepted for the most common knobs.
	MaxCloudCover      *float64  `yaml:"max_cloud_cover"`
	MinRecency         *Duration `yaml:"min_recency"`
	MastodonSecretFile string    `yaml:"mastodon_secret_file"`
}

// LoggingConfig controls the slog handler and the rotating log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// SearchConfig describes how the imagery catalog is queried.
type SearchConfig struct {
	CatalogEndpoint string   `yaml:"catalog_endpoint"`
	ProductType     string   `yaml:"product_type"`
	MaxCloudCover   float64  `yaml:"max_cloud_cover"`
	MinRecency      Duration `yaml:"min_recency"`
	TilesPerRun     int      `yaml:"tiles_per_run"`
	PageSize        int      `yaml:"page_size"`
	PageLimit       int      `yaml:"page_limit"`
	Timeout         Duration `yaml:"timeout"`
}

// PostprocessingConfig groups image preparation parameters.
type PostprocessingConfig struct {
	WorkDir           string   `yaml:"work_dir"`
	OutputWidth       int      `yaml:"output_width"`
	SubsetWidth       int      `yaml:"subset_width"`
	SubsetHeight      int      `yaml:"subset_height"`
	Gain              float64  `yaml:"gain"`
	MaxNodataFraction float64  `yaml:"max_nodata_fraction"`
	MaxAttempts       int      `yaml:"max_attempts"`
	Cleaning          bool     `yaml:"cleaning"`
	Timeout           Duration `yaml:"timeout"`
}

// StorageConfig selects the posted-record backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LockConfig points at the advisory lock file.
type LockConfig struct {
	Path string `yaml:"path"`
}

// MastodonConfig wires the Mastodon publisher.
type MastodonConfig struct {
	Server     string `yaml:"server"`
	SecretFile string `yaml:"secret_file"`
	SecretURI  string `yaml:"secret_uri"`
	Visibility string `yaml:"visibility"`
	token      string `yaml:"-"`
}

// Token returns the access token supplied through the environment, if any.
func (m MastodonConfig) Token() string {
	return m.token
}

// TwitterConfig wires the optional Twitter publisher.
type TwitterConfig struct {
	ConsumerKey       string `yaml:"consumer_key"`
	ConsumerSecret    string `yaml:"consumer_secret"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret"`
}

// Complete reports whether all four OAuth1 credentials are present.
func (t TwitterConfig) Complete() bool {
	return t.ConsumerKey != "" && t.ConsumerSecret != "" && t.AccessToken != "" && t.AccessTokenSecret != ""
}

// GeocoderConfig defines how to contact Nominatim.
type GeocoderConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Referer     string `yaml:"referer"`
	UserAgent   string `yaml:"user_agent"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// RetryConfig bounds exponential backoff on outbound calls.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
}

// SchedulerConfig defines when the pipeline should run in serve mode.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cron_expression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// StatusConfig configures the health endpoint.
type StatusConfig struct {
	Addr       string   `yaml:"addr"`
	StaleAfter Duration `yaml:"stale_after"`
}

// Load reads the YAML file at path (or $S2COASTALBOT_CONFIG), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path == "" {
		return Config{}, fmt.Errorf("%w: no config file given (use --config or %s)", ErrInvalid, configPathEnv)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	return Parse(raw)
}

// Parse builds a Config from raw YAML on top of the defaults.
func Parse(raw []byte) (Config, error) {
	// Keys present in the file replace defaults even when zero.
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse yaml: %v", ErrInvalid, err)
	}

	cfg.applyAliases()
	cfg.applyEnvOverrides()
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late, after network calls.
func (c Config) Validate() error {
	var problems []string

	if c.Search.MaxCloudCover < 0 || c.Search.MaxCloudCover > 100 {
		problems = append(problems, "max_cloud_cover must be within [0, 100]")
	}
	if c.Search.MinRecency.Duration() <= 0 {
		problems = append(problems, "min_recency must be positive")
	}
	if c.Search.CatalogEndpoint == "" {
		problems = append(problems, "search.catalog_endpoint is required")
	}
	if c.Search.TilesPerRun <= 0 {
		problems = append(problems, "search.tiles_per_run must be positive")
	}
	if c.Search.PageSize <= 0 {
		problems = append(problems, "search.page_size must be positive")
	}
	if c.CoastalDataset == "" {
		problems = append(problems, "coastal_dataset is required")
	}
	if c.Postprocessing.OutputWidth <= 0 {
		problems = append(problems, "postprocessing.output_width must be positive")
	}
	if c.Postprocessing.Gain <= 0 {
		problems = append(problems, "postprocessing.gain must be positive")
	}
	if f := c.Postprocessing.MaxNodataFraction; f < 0 || f > 1 {
		problems = append(problems, "postprocessing.max_nodata_fraction must be within [0, 1]")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		problems = append(problems, "storage.dsn is required")
	}
	if c.Storage.Driver == "sqlite" && c.Lock.Path == "" {
		problems = append(problems, "lock.path is required with the sqlite store")
	}
	if len(c.Publishers) == 0 {
		problems = append(problems, "at least one publisher is required")
	}
	for _, name := range c.Publishers {
		switch name {
		case "mastodon":
			if c.Mastodon.Server == "" {
				problems = append(problems, "mastodon.server is required")
			}
			if c.Mastodon.SecretFile == "" && c.Mastodon.SecretURI == "" && c.Mastodon.token == "" {
				problems = append(problems, "mastodon_secret_file is required")
			}
		case "twitter":
			if !c.Twitter.Complete() {
				problems = append(problems, "twitter credentials are incomplete")
			}
		default:
			problems = append(problems, fmt.Sprintf("publisher %q is not supported", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(storageDSNEnv); v != "" {
		c.Storage.DSN = v
	}

	if v := os.Getenv(mastodonTokenEnv); v != "" {
		c.Mastodon.token = v
	}

	if v := os.Getenv(mastodonServerEnv); v != "" {
		c.Mastodon.Server = v
	}

	if v := os.Getenv(twitterConsumerKey); v != "" {
		c.Twitter.ConsumerKey = v
	}
	if v := os.Getenv(twitterConsumerSec); v != "" {
		c.Twitter.ConsumerSecret = v
	}
	if v := os.Getenv(twitterAccessToken); v != "" {
		c.Twitter.AccessToken = v
	}
	if v := os.Getenv(twitterAccessSecret); v != "" {
		c.Twitter.AccessTokenSecret = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("%w: unknown timezone %s", ErrInvalid, tz)
	}
	c.Scheduler.location = loc
	return nil
}

// applyAliases folds the flat spellings into their nested options; the flat
// form wins when both are given.
func (c *Config) applyAliases() {
	if c.MaxCloudCover != nil {
		c.Search.MaxCloudCover = *c.MaxCloudCover
	}
	if c.MinRecency != nil {
		c.Search.MinRecency = *c.MinRecency
	}
	if c.CoastalDataset == "" {
		c.CoastalDataset = c.AOI
	}
	if c.MastodonSecretFile != "" {
		c.Mastodon.SecretFile = c.MastodonSecretFile
	}
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", File: "", MaxSizeMB: 1, MaxBackups: 1},
		Search: SearchConfig{
			CatalogEndpoint: "https://catalogue.dataspace.copernicus.eu",
			ProductType:     "S2MSI1C",
			MaxCloudCover:   5,
			MinRecency:      Duration(6 * 24 * time.Hour),
			TilesPerRun:     20,
			PageSize:        50,
			PageLimit:       4,
			Timeout:         Duration(30 * time.Second),
		},
		Postprocessing: PostprocessingConfig{
			WorkDir:           "data/work",
			OutputWidth:       1080,
			Gain:              1.0,
			MaxNodataFraction: 0.5,
			MaxAttempts:       5,
			Timeout:           Duration(60 * time.Second),
		},
		Storage:    StorageConfig{Driver: "sqlite", DSN: "data/posted.db"},
		Lock:       LockConfig{Path: "data/s2coastalbot.lock"},
		Publishers: []string{"mastodon"},
		Mastodon:   MastodonConfig{Server: "https://mastodon.social", Visibility: "public"},
		Geocoder: GeocoderConfig{
			Endpoint:    "https://nominatim.openstreetmap.org",
			UserAgent:   "s2coastalbot/1.0",
			MaxAttempts: 3,
		},
		Retry: RetryConfig{
			MaxAttempts:     4,
			InitialInterval: Duration(2 * time.Second),
			MaxInterval:     Duration(30 * time.Second),
		},
		Scheduler: SchedulerConfig{CronExpression: "0 12 * * *", Timezone: defaultTimezone, location: tz},
		Status:    StatusConfig{Addr: ":8080", StaleAfter: Duration(26 * time.Hour)},
	}
}

// Package config loads harvester settings. Sources are applied in order:
// built-in defaults, an optional YAML file, an optional .env file, then the
// process environment. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/flightstatus-harvester/pkg/logging"
)

// DefaultEnvFile is loaded when present and no other env file is named.
const DefaultEnvFile = ".env"

// APIConfig configures the flight-status transport.
type APIConfig struct {
	// BaseURL is the endpoint; the query signature is appended to it.
	BaseURL string `yaml:"base_url"`

	// QuotaMarker identifies quota rejections in non-2xx bodies.
	QuotaMarker string `yaml:"quota_marker"`

	// RequestTimeout bounds a single page request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`
}

// StorageConfig locates the files the harvester reads and writes. All paths
// except DataDir are relative to DataDir.
type StorageConfig struct {
	// DataDir is the storage root.
	DataDir string `yaml:"data_dir"`

	// ArtifactPrefix is the directory holding page artifacts.
	ArtifactPrefix string `yaml:"artifact_prefix"`

	// MatrixDir is the directory holding matrix CSV files.
	MatrixDir string `yaml:"matrix_dir"`

	// KeysFile is the credential CSV.
	KeysFile string `yaml:"keys_file"`
}

// CredentialsConfig configures the credential pool.
type CredentialsConfig struct {
	// DailyQuota is the per-credential call cap per local day.
	DailyQuota int `yaml:"daily_quota"`

	// RedactSecrets keeps api_key values out of the persisted credential file.
	RedactSecrets bool `yaml:"redact_secrets"`

	// APIKeys is "desc:secret,..." and is only read from the environment.
	APIKeys string `yaml:"-"`
}

// HarvestConfig holds pacing, paging and skip policies.
type HarvestConfig struct {
	// MinInterval is the minimum gap between two calls, across all credentials.
	MinInterval time.Duration `yaml:"min_interval"`

	// ExtraDelay is slept before every call on top of MinInterval.
	ExtraDelay time.Duration `yaml:"extra_delay"`

	// MaxPages caps pages per query; 0 means no cap.
	MaxPages int `yaml:"max_pages"`

	// LookaheadDays is how far ahead the roller keeps windows.
	LookaheadDays int `yaml:"lookahead_days"`

	// RollDates appends new date windows after each matrix file.
	RollDates bool `yaml:"roll_dates"`

	// RequireDateRange rejects matrix rows carrying neither startRange nor endRange.
	RequireDateRange bool `yaml:"require_date_range"`

	// SkipComplete skips queries already at 100%.
	SkipComplete bool `yaml:"skip_complete"`

	// SkipServerErrors skips queries whose last attempt returned 5xx.
	SkipServerErrors bool `yaml:"skip_server_errors"`

	// SkipNotFound skips queries whose last attempt returned 404.
	SkipNotFound bool `yaml:"skip_not_found"`

	// SkipOtherErrors skips queries whose last attempt returned another non-2xx.
	SkipOtherErrors bool `yaml:"skip_other_errors"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Pretty switches from JSON to console output.
	Pretty bool `yaml:"pretty"`
}

// Config is the complete harvester configuration.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Storage     StorageConfig     `yaml:"storage"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Harvest     HarvestConfig     `yaml:"harvest"`
	Log         LogConfig         `yaml:"log"`

	// RedisURL enables the shared limiter state, e.g. redis://localhost:6379/0.
	RedisURL string `yaml:"redis_url"`
	// MetricsAddr enables the /metrics endpoint, e.g. :9090.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:        "https://api.airfranceklm.com/opendata/flightstatus/",
			QuotaMarker:    "Developer",
			RequestTimeout: 30 * time.Second,
			UserAgent:      "flightstatus-harvester/0.1.0",
		},
		Storage: StorageConfig{
			DataDir:        ".",
			ArtifactPrefix: "data",
			MatrixDir:      "call_parameter_lists",
			KeysFile:       "api_keys/afklm_api_keys.csv",
		},
		Credentials: CredentialsConfig{
			DailyQuota: 100,
		},
		Harvest: HarvestConfig{
			MinInterval:      1100 * time.Millisecond,
			LookaheadDays:    30,
			RollDates:        true,
			RequireDateRange: true,
			SkipComplete:     true,
			SkipServerErrors: true,
			SkipNotFound:     true,
			SkipOtherErrors:  true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from yamlPath (optional) and envFile
// (optional; DefaultEnvFile is used when empty and present) on top of the
// defaults, then applies the environment and validates the result.
func Load(yamlPath, envFile string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if envFile == "" {
		if _, err := os.Stat(DefaultEnvFile); err == nil {
			envFile = DefaultEnvFile
		}
	}
	if envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("HARVEST_BASE_URL", &c.API.BaseURL)
	str("HARVEST_QUOTA_MARKER", &c.API.QuotaMarker)
	duration("HARVEST_REQUEST_TIMEOUT", &c.API.RequestTimeout)
	str("HARVEST_USER_AGENT", &c.API.UserAgent)

	str("HARVEST_DATA_DIR", &c.Storage.DataDir)
	str("HARVEST_ARTIFACT_PREFIX", &c.Storage.ArtifactPrefix)
	str("HARVEST_MATRIX_DIR", &c.Storage.MatrixDir)
	str("HARVEST_KEYS_FILE", &c.Storage.KeysFile)

	integer("HARVEST_DAILY_QUOTA", &c.Credentials.DailyQuota)
	boolean("HARVEST_REDACT_SECRETS", &c.Credentials.RedactSecrets)
	str("API_KEYS", &c.Credentials.APIKeys)

	duration("HARVEST_MIN_INTERVAL", &c.Harvest.MinInterval)
	duration("HARVEST_EXTRA_DELAY", &c.Harvest.ExtraDelay)
	integer("HARVEST_MAX_PAGES", &c.Harvest.MaxPages)
	integer("HARVEST_LOOKAHEAD_DAYS", &c.Harvest.LookaheadDays)
	boolean("HARVEST_ROLL_DATES", &c.Harvest.RollDates)
	boolean("HARVEST_REQUIRE_DATE_RANGE", &c.Harvest.RequireDateRange)
	boolean("HARVEST_SKIP_COMPLETE", &c.Harvest.SkipComplete)
	boolean("HARVEST_SKIP_SERVER_ERRORS", &c.Harvest.SkipServerErrors)
	boolean("HARVEST_SKIP_NOT_FOUND", &c.Harvest.SkipNotFound)
	boolean("HARVEST_SKIP_OTHER_ERRORS", &c.Harvest.SkipOtherErrors)

	str("REDIS_URL", &c.RedisURL)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_PRETTY", &c.Log.Pretty)

	return errors.Join(errs...)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("base url: %w", err))
	}
	if c.API.UserAgent == "" {
		errs = append(errs, errors.New("user agent must not be empty"))
	}
	if c.API.QuotaMarker == "" {
		errs = append(errs, errors.New("quota marker must not be empty"))
	}
	if c.API.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive (got %s)", c.API.RequestTimeout))
	}
	if c.Storage.DataDir == "" || c.Storage.MatrixDir == "" || c.Storage.KeysFile == "" {
		errs = append(errs, errors.New("data dir, matrix dir and keys file must be set"))
	}
	if c.Credentials.DailyQuota <= 0 {
		errs = append(errs, fmt.Errorf("daily quota must be positive (got %d)", c.Credentials.DailyQuota))
	}
	if c.Harvest.MinInterval < 0 || c.Harvest.ExtraDelay < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	if c.Harvest.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("max pages must not be negative (got %d)", c.Harvest.MaxPages))
	}
	if c.Harvest.LookaheadDays < 0 {
		errs = append(errs, fmt.Errorf("lookahead days must not be negative (got %d)", c.Harvest.LookaheadDays))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Browser     BrowserConfig   `toml:"browser"`
	Retailer    RetailerConfig  `toml:"retailer"`
	Worker      WorkerConfig    `toml:"worker"`
	Unblock     UnblockConfig   `toml:"unblock"`
	Lock        LockConfig      `toml:"lock"`
	Artifacts   ArtifactsConfig `toml:"artifacts"`
	Detector    DetectorConfig  `toml:"detector"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`       // "debug", "info", "warn", "error"
	File       string `toml:"file"`        // Log file path, empty disables the file writer
	MaxSizeMB  int    `toml:"max_size_mb"` // Log file rotation size
	MaxBackups int    `toml:"max_backups"` // Rotated files to keep
	TimeFormat string `toml:"time_format"` // Console time format
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// BrowserConfig points at the one long-lived remote browser session
type BrowserConfig struct {
	CDPURL            string `toml:"cdp_url" validate:"required,url"` // DevTools endpoint, e.g. http://localhost:9222
	NavigationTimeout string `toml:"navigation_timeout"`              // e.g. "45s" - per-navigation ceiling
	SettleWait        string `toml:"settle_wait"`                     // e.g. "2s" - post-load render wait
	HealthTimeout     string `toml:"health_timeout"`                  // e.g. "3s" - /json/version probe timeout
	NavPerMinute      int    `toml:"nav_rate_per_minute" validate:"gte=0"` // Navigation politeness ceiling
}

// RetailerConfig identifies the protected storefront
type RetailerConfig struct {
	StoreLabel     string `toml:"store_label" validate:"required"` // Session/lock label, one lock per store
	StoreURL       string `toml:"store_url" validate:"required,url"` // Storefront entry page the search URL derives from
	ResultLimit    int    `toml:"result_limit_default" validate:"min=1"`
	ResultLimitMax int    `toml:"result_limit_max" validate:"min=1"`
}

type WorkerConfig struct {
	Enabled      bool   `toml:"enabled"`
	PollInterval string `toml:"poll_interval"` // e.g. "5s" - how often the loop polls for pending jobs
}

type UnblockConfig struct {
	Timeout string `toml:"timeout"` // e.g. "15m" - per-episode human response deadline
}

type LockConfig struct {
	StaleAfter string `toml:"stale_after"` // e.g. "30m" - hold age before an inactive owner is reclaimable
}

type ArtifactsConfig struct {
	Dir       string `toml:"dir"`       // Capture output directory
	Retention string `toml:"retention"` // e.g. "72h" - file retention window for the sweep
}

type DetectorConfig struct {
	SignaturesFile string `toml:"signatures_file"` // Optional YAML file of additional challenge signatures
}

// WebSocketConfig contains configuration for the event stream to the
// operator UI
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events, event type -> duration string
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
	// Minimum level for the log stream ("debug", "info", "warn", "error")
	MinLevel string `toml:"min_level"`
	// Log messages containing any of these substrings are not streamed
	ExcludePatterns []string `toml:"exclude_patterns"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings should be exposed in mercor.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "logs/mercor.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			TimeFormat: "15:04:05",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Browser: BrowserConfig{
			CDPURL:            "http://localhost:9222",
			NavigationTimeout: "45s",
			SettleWait:        "2s",
			HealthTimeout:     "3s",
			NavPerMinute:      12,
		},
		Retailer: RetailerConfig{
			StoreLabel:     "leclerc",
			StoreURL:       "https://fd6-courses.leclercdrive.fr/magasin-175901-175901-seclin-lorival.aspx",
			ResultLimit:    20,
			ResultLimitMax: 50,
		},
		Worker: WorkerConfig{
			Enabled:      true,
			PollInterval: "5s",
		},
		Unblock: UnblockConfig{
			Timeout: "15m",
		},
		Lock: LockConfig{
			StaleAfter: "30m",
		},
		Artifacts: ArtifactsConfig{
			Dir:       "./artifacts",
			Retention: "72h",
		},
		Detector: DetectorConfig{},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"lock_changed": "500ms",
			},
			MinLevel: "info",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files, later files
// overriding earlier ones. Priority: CLI flags > environment variables >
// last config file > ... > first config file > defaults.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the assembled configuration using go-playground/validator
// tags. Called after all layers have been applied.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MERCOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("MERCOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MERCOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("MERCOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if file := os.Getenv("MERCOR_LOG_FILE"); file != "" {
		config.Logging.File = file
	}

	// Storage configuration
	if badgerPath := os.Getenv("MERCOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Browser configuration
	if cdpURL := os.Getenv("MERCOR_CDP_URL"); cdpURL != "" {
		config.Browser.CDPURL = cdpURL
	}
	if navTimeout := os.Getenv("MERCOR_NAVIGATION_TIMEOUT"); navTimeout != "" {
		config.Browser.NavigationTimeout = navTimeout
	}

	// Retailer configuration
	if storeURL := os.Getenv("MERCOR_STORE_URL"); storeURL != "" {
		config.Retailer.StoreURL = storeURL
	}
	if storeLabel := os.Getenv("MERCOR_STORE_LABEL"); storeLabel != "" {
		config.Retailer.StoreLabel = storeLabel
	}

	// Worker configuration
	if pollInterval := os.Getenv("MERCOR_WORKER_POLL_INTERVAL"); pollInterval != "" {
		config.Worker.PollInterval = pollInterval
	}
	if enabled := os.Getenv("MERCOR_WORKER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Worker.Enabled = e
		}
	}

	// Unblock configuration
	if timeout := os.Getenv("MERCOR_UNBLOCK_TIMEOUT"); timeout != "" {
		config.Unblock.Timeout = timeout
	}

	// Lock configuration
	if staleAfter := os.Getenv("MERCOR_LOCK_STALE_AFTER"); staleAfter != "" {
		config.Lock.StaleAfter = staleAfter
	}

	// Artifacts configuration
	if dir := os.Getenv("MERCOR_ARTIFACTS_DIR"); dir != "" {
		config.Artifacts.Dir = dir
	}
}

// ApplyFlagOverrides applies command-line flag values, the highest
// priority layer
func ApplyFlagOverrides(config *Config, port int, host string, cdpURL string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if cdpURL != "" {
		config.Browser.CDPURL = cdpURL
	}
}

// ParseDurationOr parses a duration string, returning the fallback when
// the value is empty or unparseable. Config duration fields are strings
// so files can carry "5s"/"15m" forms.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// NavigationTimeoutDuration returns the parsed per-navigation ceiling
func (c BrowserConfig) NavigationTimeoutDuration() time.Duration {
	return ParseDurationOr(c.NavigationTimeout, 45*time.Second)
}

// SettleWaitDuration returns the parsed post-load render wait
func (c BrowserConfig) SettleWaitDuration() time.Duration {
	return ParseDurationOr(c.SettleWait, 2*time.Second)
}

// HealthTimeoutDuration returns the parsed probe timeout
func (c BrowserConfig) HealthTimeoutDuration() time.Duration {
	return ParseDurationOr(c.HealthTimeout, 3*time.Second)
}

// SessionID returns the lock label for the store's shared browser session
func (c RetailerConfig) SessionID() string {
	if c.StoreLabel == "" {
		return "browser"
	}
	return c.StoreLabel
}

// PollIntervalDuration returns the parsed worker poll interval
func (c WorkerConfig) PollIntervalDuration() time.Duration {
	return ParseDurationOr(c.PollInterval, 5*time.Second)
}

// TimeoutDuration returns the parsed per-episode unblock deadline
func (c UnblockConfig) TimeoutDuration() time.Duration {
	return ParseDurationOr(c.Timeout, 15*time.Minute)
}

// StaleAfterDuration returns the parsed lock staleness ceiling
func (c LockConfig) StaleAfterDuration() time.Duration {
	return ParseDurationOr(c.StaleAfter, 30*time.Minute)
}

// RetentionDuration returns the parsed artifact retention window
func (c ArtifactsConfig) RetentionDuration() time.Duration {
	return ParseDurationOr(c.Retention, 72*time.Hour)
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

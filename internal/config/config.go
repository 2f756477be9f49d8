// ABOUTME: Configuration loading and parsing for coven-guardian
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-guardian configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Outputs   OutputsConfig   `yaml:"outputs" toml:"outputs"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
	Retention RetentionConfig `yaml:"retention" toml:"retention"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// OutputsConfig tunes output waiting
type OutputsConfig struct {
	DefaultWaitTimeout   time.Duration `yaml:"-" toml:"-"`
	FallbackPollInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	DefaultWaitTimeoutRaw   string `yaml:"default_wait_timeout" toml:"default_wait_timeout"`
	FallbackPollIntervalRaw string `yaml:"fallback_poll_interval" toml:"fallback_poll_interval"`
}

// WatchConfig controls automatic announcement of files dropped into
// each agent's output directory
type WatchConfig struct {
	Enabled    *bool  `yaml:"enabled" toml:"enabled"`
	Subdir     string `yaml:"subdir" toml:"subdir"`
	CreateDirs bool   `yaml:"create_dirs" toml:"create_dirs"`

	StabilityThreshold time.Duration `yaml:"-" toml:"-"`
	PollInterval       time.Duration `yaml:"-" toml:"-"`
	DedupeTTL          time.Duration `yaml:"-" toml:"-"`

	StabilityThresholdRaw string `yaml:"stability_threshold" toml:"stability_threshold"`
	PollIntervalRaw       string `yaml:"poll_interval" toml:"poll_interval"`
	DedupeTTLRaw          string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// IsEnabled reports whether watching is on. It defaults to true.
func (w WatchConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// RetentionConfig controls the background message sweeper
type RetentionConfig struct {
	MessageMaxAge time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	MessageMaxAgeRaw string `yaml:"message_max_age" toml:"message_max_age"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TelemetryConfig holds OpenTelemetry export configuration. An empty
// endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" toml:"insecure"`
	ServiceName  string `yaml:"service_name" toml:"service_name"`
}

// Defaults applied by Load for every unset field.
const (
	DefaultGRPCAddr             = "localhost:50061"
	DefaultHTTPAddr             = "localhost:8090"
	DefaultDriver               = "sqlite"
	DefaultWaitTimeout          = 30 * time.Second
	DefaultFallbackPollInterval = 500 * time.Millisecond
	DefaultWatchSubdir          = "outputs"
	DefaultStabilityThreshold   = time.Second
	DefaultWatchPollInterval    = 100 * time.Millisecond
	DefaultDedupeTTL            = 5 * time.Second
	DefaultMessageMaxAge        = 7 * 24 * time.Hour
	DefaultSweepInterval        = time.Hour
	DefaultServiceName          = "coven-guardian"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration bytes. It is Load without the file read.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = DefaultGRPCAddr
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Outputs.DefaultWaitTimeout == 0 {
		c.Outputs.DefaultWaitTimeout = DefaultWaitTimeout
	}
	if c.Outputs.FallbackPollInterval == 0 {
		c.Outputs.FallbackPollInterval = DefaultFallbackPollInterval
	}
	if c.Watch.Subdir == "" {
		c.Watch.Subdir = DefaultWatchSubdir
	}
	if c.Watch.StabilityThreshold == 0 {
		c.Watch.StabilityThreshold = DefaultStabilityThreshold
	}
	if c.Watch.PollInterval == 0 {
		c.Watch.PollInterval = DefaultWatchPollInterval
	}
	if c.Watch.DedupeTTL == 0 {
		c.Watch.DedupeTTL = DefaultDedupeTTL
	}
	if c.Retention.MessageMaxAge == 0 {
		c.Retention.MessageMaxAge = DefaultMessageMaxAge
	}
	if c.Retention.SweepInterval == 0 {
		c.Retention.SweepInterval = DefaultSweepInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Outputs.DefaultWaitTimeout < 0 {
		return fmt.Errorf("outputs.default_wait_timeout must be positive")
	}

	if filepath.IsAbs(c.Watch.Subdir) || strings.Contains(c.Watch.Subdir, "..") {
		return fmt.Errorf("watch.subdir must be a relative path inside the workspace, got %q", c.Watch.Subdir)
	}

	if c.Watch.StabilityThreshold < 0 || c.Watch.PollInterval < 0 || c.Watch.DedupeTTL < 0 {
		return fmt.Errorf("watch durations must not be negative")
	}

	if c.Retention.SweepInterval < 0 {
		return fmt.Errorf("retention.sweep_interval must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"default_wait_timeout", cfg.Outputs.DefaultWaitTimeoutRaw, &cfg.Outputs.DefaultWaitTimeout},
		{"fallback_poll_interval", cfg.Outputs.FallbackPollIntervalRaw, &cfg.Outputs.FallbackPollInterval},
		{"stability_threshold", cfg.Watch.StabilityThresholdRaw, &cfg.Watch.StabilityThreshold},
		{"poll_interval", cfg.Watch.PollIntervalRaw, &cfg.Watch.PollInterval},
		{"dedupe_ttl", cfg.Watch.DedupeTTLRaw, &cfg.Watch.DedupeTTL},
		{"message_max_age", cfg.Retention.MessageMaxAgeRaw, &cfg.Retention.MessageMaxAge},
		{"sweep_interval", cfg.Retention.SweepIntervalRaw, &cfg.Retention.SweepInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

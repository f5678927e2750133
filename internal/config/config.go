// ABOUTME: Configuration loading and parsing for attendance-server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clinova/attendance/internal/risk"
)

// Config represents the complete attendance-server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Risk       risk.Config      `yaml:"risk"`
	Accrual    AccrualConfig    `yaml:"accrual"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// LoggingConfig holds log level and format configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// AttendanceConfig holds the session state-machine policy.
type AttendanceConfig struct {
	// MinimumSessionMinutes must elapse between check-in and checkout.
	MinimumSessionMinutes int `yaml:"minimum_session_minutes"`
	// Timezone defines the calendar day for the one-session-per-day rule
	// and anchors wall-clock shift times, e.g. "Asia/Jakarta".
	Timezone string `yaml:"timezone"`
}

// AccrualConfig holds the payroll collaborator configuration.
type AccrualConfig struct {
	// Mode is "webhook" or "log".
	Mode       string `yaml:"mode"`
	WebhookURL string `yaml:"webhook_url"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a config with sensible defaults; Load overlays the YAML
// file on top of it, so an empty risk section keeps the field-observed
// heuristic defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{Path: "data/attendance.db"},
		Auth:     AuthConfig{TokenTTL: 12 * time.Hour},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Attendance: AttendanceConfig{
			MinimumSessionMinutes: 30,
			Timezone:              "UTC",
		},
		Risk: risk.DefaultConfig(),
		Accrual: AccrualConfig{
			Mode:    "log",
			Timeout: 10 * time.Second,
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Attendance.MinimumSessionMinutes < 0 {
		return fmt.Errorf("attendance.minimum_session_minutes cannot be negative")
	}
	if _, err := time.LoadLocation(c.Attendance.Timezone); err != nil {
		return fmt.Errorf("attendance.timezone %q is invalid: %w", c.Attendance.Timezone, err)
	}
	if c.Accrual.Mode != "log" && c.Accrual.Mode != "webhook" {
		return fmt.Errorf("accrual.mode must be \"log\" or \"webhook\"")
	}
	if c.Accrual.Mode == "webhook" && c.Accrual.WebhookURL == "" {
		return fmt.Errorf("accrual.webhook_url is required when accrual.mode is \"webhook\"")
	}
	if c.Risk.BlockAt <= c.Risk.FlagAt || c.Risk.FlagAt <= c.Risk.WarnAt {
		return fmt.Errorf("risk thresholds must be ordered: warn_at < flag_at < block_at")
	}
	return nil
}

// Location resolves the configured time zone. Validate has already checked
// it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Accrual.TimeoutRaw != "" {
		cfg.Accrual.Timeout, err = time.ParseDuration(cfg.Accrual.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing accrual timeout %q: %w", cfg.Accrual.TimeoutRaw, err)
		}
	}

	return nil
}

// Package config carries the connection target, feature toggles and timeout
// policy for the bridge. Values load from an optional YAML file with
// environment variables taking precedence, so container deployments can run
// config-free.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// ConnectionString names the server and, in database mode, the initial
	// catalog.
	ConnectionString string `yaml:"connection_string"`

	// Tool toggles. The dangerous tools stay unregistered unless enabled.
	EnableExecuteQuery           bool `yaml:"enable_execute_query"`
	EnableExecuteStoredProcedure bool `yaml:"enable_execute_stored_procedure"`
	EnableStartQuery             bool `yaml:"enable_start_query"`
	EnableStartStoredProcedure   bool `yaml:"enable_start_stored_procedure"`

	DefaultCommandTimeoutSeconds  int `yaml:"default_command_timeout_seconds"`
	ConnectionTimeoutSeconds      int `yaml:"connection_timeout_seconds"`
	MaxConcurrentSessions         int `yaml:"max_concurrent_sessions"`
	SessionRetentionMinutes       int `yaml:"session_retention_minutes"`
	SessionCleanupIntervalMinutes int `yaml:"session_cleanup_interval_minutes"`
	TotalToolCallTimeoutSeconds   int `yaml:"total_tool_call_timeout_seconds"`

	// SessionMaxResultRows bounds the result text buffered in memory per
	// background session.
	SessionMaxResultRows int `yaml:"session_max_result_rows"`
}

// Load reads the YAML file (when path is non-empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MSSQL_CONNECTIONSTRING"); v != "" {
		c.ConnectionString = v
	}
	boolEnv := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			*dst = strings.EqualFold(v, "true")
		}
	}
	boolEnv("ENABLE_EXECUTE_QUERY", &c.EnableExecuteQuery)
	boolEnv("ENABLE_EXECUTE_STORED_PROCEDURE", &c.EnableExecuteStoredProcedure)
	boolEnv("ENABLE_START_QUERY", &c.EnableStartQuery)
	boolEnv("ENABLE_START_STORED_PROCEDURE", &c.EnableStartStoredProcedure)

	intEnv := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	intEnv("DEFAULT_COMMAND_TIMEOUT_SECONDS", &c.DefaultCommandTimeoutSeconds)
	intEnv("CONNECTION_TIMEOUT_SECONDS", &c.ConnectionTimeoutSeconds)
	intEnv("MAX_CONCURRENT_SESSIONS", &c.MaxConcurrentSessions)
	intEnv("SESSION_RETENTION_MINUTES", &c.SessionRetentionMinutes)
	intEnv("SESSION_CLEANUP_INTERVAL_MINUTES", &c.SessionCleanupIntervalMinutes)
	intEnv("TOTAL_TOOL_CALL_TIMEOUT_SECONDS", &c.TotalToolCallTimeoutSeconds)
	intEnv("SESSION_MAX_RESULT_ROWS", &c.SessionMaxResultRows)
}

func (c *Config) applyDefaults() {
	if c.DefaultCommandTimeoutSeconds == 0 {
		c.DefaultCommandTimeoutSeconds = 30
	}
	if c.ConnectionTimeoutSeconds == 0 {
		c.ConnectionTimeoutSeconds = 15
	}
	if c.MaxConcurrentSessions == 0 {
		c.MaxConcurrentSessions = 10
	}
	if c.SessionRetentionMinutes == 0 {
		c.SessionRetentionMinutes = 60
	}
	if c.SessionCleanupIntervalMinutes == 0 {
		c.SessionCleanupIntervalMinutes = 15
	}
	if c.TotalToolCallTimeoutSeconds == 0 {
		c.TotalToolCallTimeoutSeconds = 120
	}
	if c.SessionMaxResultRows == 0 {
		c.SessionMaxResultRows = 10000
	}
}

// Validate checks the required fields and ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ConnectionString) == "" {
		return fmt.Errorf("connection_string is required (set MSSQL_CONNECTIONSTRING)")
	}
	for name, v := range map[string]int{
		"default_command_timeout_seconds":  c.DefaultCommandTimeoutSeconds,
		"connection_timeout_seconds":       c.ConnectionTimeoutSeconds,
		"max_concurrent_sessions":          c.MaxConcurrentSessions,
		"session_retention_minutes":        c.SessionRetentionMinutes,
		"session_cleanup_interval_minutes": c.SessionCleanupIntervalMinutes,
		"session_max_result_rows":          c.SessionMaxResultRows,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// ServerMode reports whether the connection string targets the server as a
// whole (no initial catalog). Database-scoped tools behave differently in
// server mode.
func (c *Config) ServerMode() bool {
	cs := strings.ToLower(c.ConnectionString)
	for _, prefix := range []string{"database=", "initial catalog="} {
		idx := strings.Index(cs, prefix)
		if idx < 0 {
			continue
		}
		rest := cs[idx+len(prefix):]
		if end := strings.Index(rest, ";"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest) == ""
	}
	return true
}

// DefaultCommandTimeout returns the configured default as a duration.
func (c *Config) DefaultCommandTimeout() time.Duration {
	return time.Duration(c.DefaultCommandTimeoutSeconds) * time.Second
}

// ConnectionTimeout returns the configured connection timeout as a duration.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

// SessionRetention returns the terminal-session retention window.
func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionMinutes) * time.Minute
}

// SessionCleanupInterval returns the cleanup sweep interval.
func (c *Config) SessionCleanupInterval() time.Duration {
	return time.Duration(c.SessionCleanupIntervalMinutes) * time.Minute
}

// TotalToolCallTimeout returns the overall budget for one tool call.
func (c *Config) TotalToolCallTimeout() time.Duration {
	return time.Duration(c.TotalToolCallTimeoutSeconds) * time.Second
}

// Exceeded reports whether the inbound deadline has already passed.
func Exceeded(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

// EffectiveTimeout resolves a per-command timeout: the explicit value wins,
// then the remaining time of ctx's deadline, then fallback.
func EffectiveTimeout(ctx context.Context, explicit, fallback time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
	}
	return fallback
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// --- Load ---

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("MSSQL_CONNECTIONSTRING", "server=db01;database=Sales")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultCommandTimeoutSeconds != 30 {
		t.Errorf("DefaultCommandTimeoutSeconds = %d, want 30", cfg.DefaultCommandTimeoutSeconds)
	}
	if cfg.MaxConcurrentSessions != 10 {
		t.Errorf("MaxConcurrentSessions = %d, want 10", cfg.MaxConcurrentSessions)
	}
	if cfg.SessionRetentionMinutes != 60 {
		t.Errorf("SessionRetentionMinutes = %d, want 60", cfg.SessionRetentionMinutes)
	}
	if cfg.SessionMaxResultRows != 10000 {
		t.Errorf("SessionMaxResultRows = %d, want 10000", cfg.SessionMaxResultRows)
	}
	if cfg.EnableExecuteQuery {
		t.Error("EnableExecuteQuery defaults to true, want false")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("MSSQL_CONNECTIONSTRING", "")
	path := writeConfig(t, `
connection_string: "server=db01;database=Sales"
enable_execute_query: true
default_command_timeout_seconds: 45
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConnectionString != "server=db01;database=Sales" {
		t.Errorf("ConnectionString = %q", cfg.ConnectionString)
	}
	if !cfg.EnableExecuteQuery {
		t.Error("EnableExecuteQuery = false, want true from file")
	}
	if cfg.DefaultCommandTimeoutSeconds != 45 {
		t.Errorf("DefaultCommandTimeoutSeconds = %d, want 45", cfg.DefaultCommandTimeoutSeconds)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
connection_string: "server=from-file"
default_command_timeout_seconds: 45
`)
	t.Setenv("MSSQL_CONNECTIONSTRING", "server=from-env")
	t.Setenv("DEFAULT_COMMAND_TIMEOUT_SECONDS", "90")
	t.Setenv("ENABLE_START_QUERY", "true")
	t.Setenv("SESSION_MAX_RESULT_ROWS", "500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConnectionString != "server=from-env" {
		t.Errorf("ConnectionString = %q, want the environment value", cfg.ConnectionString)
	}
	if cfg.DefaultCommandTimeoutSeconds != 90 {
		t.Errorf("DefaultCommandTimeoutSeconds = %d, want 90", cfg.DefaultCommandTimeoutSeconds)
	}
	if !cfg.EnableStartQuery {
		t.Error("EnableStartQuery = false, want true from environment")
	}
	if cfg.SessionMaxResultRows != 500 {
		t.Errorf("SessionMaxResultRows = %d, want 500", cfg.SessionMaxResultRows)
	}
}

func TestLoad_MissingConnectionString(t *testing.T) {
	t.Setenv("MSSQL_CONNECTIONSTRING", "")

	if _, err := Load(""); err == nil {
		t.Error("Load() succeeded without a connection string")
	}
}

func TestLoad_NegativeValueRejected(t *testing.T) {
	t.Setenv("MSSQL_CONNECTIONSTRING", "server=db01")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "-1")

	if _, err := Load(""); err == nil {
		t.Error("Load() accepted a negative max_concurrent_sessions")
	}
}

// --- ServerMode ---

func TestServerMode(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"server=db01;database=Sales", false},
		{"server=db01;Initial Catalog=Sales", false},
		{"server=db01;user id=sa", true},
		{"server=db01;database=", true},
	}
	for _, tt := range tests {
		c := &Config{ConnectionString: tt.dsn}
		if got := c.ServerMode(); got != tt.want {
			t.Errorf("ServerMode(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}

// --- timeout helpers ---

func TestEffectiveTimeout(t *testing.T) {
	fallback := 30 * time.Second

	if got := EffectiveTimeout(context.Background(), 5*time.Second, fallback); got != 5*time.Second {
		t.Errorf("explicit: got %v, want 5s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got := EffectiveTimeout(ctx, 0, fallback)
	if got <= 0 || got > 10*time.Second {
		t.Errorf("deadline: got %v, want remaining under 10s", got)
	}

	if got := EffectiveTimeout(context.Background(), 0, fallback); got != fallback {
		t.Errorf("fallback: got %v, want %v", got, fallback)
	}
}

func TestExceeded(t *testing.T) {
	if Exceeded(context.Background()) {
		t.Error("Exceeded() = true for a context without deadline")
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if !Exceeded(ctx) {
		t.Error("Exceeded() = false for a past deadline")
	}
}

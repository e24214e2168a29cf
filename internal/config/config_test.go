package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "pagegen-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("expected HTTPPort 8080, got %d", cfg.HTTPPort)
	}
	if cfg.Queue.Driver != DriverPostgres {
		t.Errorf("expected queue driver postgres, got %s", cfg.Queue.Driver)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("expected Worker.Concurrency 4, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.PollInterval != time.Second {
		t.Errorf("expected Worker.PollInterval 1s, got %v", cfg.Worker.PollInterval)
	}
	if cfg.Worker.MaxBackoff != 30*time.Second {
		t.Errorf("expected Worker.MaxBackoff 30s, got %v", cfg.Worker.MaxBackoff)
	}
	if cfg.Worker.HeartbeatInterval != time.Minute {
		t.Errorf("expected Worker.HeartbeatInterval 1m, got %v", cfg.Worker.HeartbeatInterval)
	}
	if cfg.ClaimStaleAfter != 10*time.Minute {
		t.Errorf("expected ClaimStaleAfter 10m, got %v", cfg.ClaimStaleAfter)
	}
	if cfg.Sweeper.Interval != time.Minute {
		t.Errorf("expected Sweeper.Interval 1m, got %v", cfg.Sweeper.Interval)
	}
	if cfg.Generation.Model != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %s", cfg.Generation.Model)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("PAGEGEN_WORKER_CONCURRENCY", "12")
	t.Setenv("PAGEGEN_WORKER_POLL_INTERVAL", "2s")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.Worker.Concurrency != 12 {
		t.Errorf("expected Worker.Concurrency 12, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("expected Worker.PollInterval 2s, got %v", cfg.Worker.PollInterval)
	}
	if cfg.Generation.APIKey != "sk-test" {
		t.Errorf("expected APIKey from OPENAI_API_KEY, got %q", cfg.Generation.APIKey)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_GenerationKeyPrecedence(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("GENERATION_API_KEY", "primary")
	t.Setenv("OPENAI_API_KEY", "fallback")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generation.APIKey != "primary" {
		t.Errorf("expected GENERATION_API_KEY to win, got %q", cfg.Generation.APIKey)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
port: 7777
worker:
  concurrency: 10
  max_attempts: 3
queue:
  driver: memory
sweeper:
  batch_size: 50
`)

	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.Worker.Concurrency != 10 || cfg.Worker.MaxAttempts != 3 {
		t.Errorf("unexpected worker config: %+v", cfg.Worker)
	}
	if cfg.Queue.Driver != DriverMemory {
		t.Errorf("expected queue driver memory, got %s", cfg.Queue.Driver)
	}
	if cfg.Sweeper.BatchSize != 50 {
		t.Errorf("expected Sweeper.BatchSize 50, got %d", cfg.Sweeper.BatchSize)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://from-file/db"
port: 7777
`)

	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_MemoryDriversNeedNoDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, `
store_driver: memory
queue:
  driver: memory
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreDriver != DriverMemory {
		t.Errorf("expected memory store, got %s", cfg.StoreDriver)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown store driver", content: "store_driver: sqlite\n"},
		{name: "unknown queue driver", content: "queue:\n  driver: kafka\n"},
		{name: "pubsub without project", content: "queue:\n  driver: pubsub\n"},
		{name: "postgres queue on memory store", content: "store_driver: memory\n"},
		{name: "zero concurrency", content: "worker:\n  concurrency: 0\n"},
		{name: "heartbeat slower than stale window", content: "worker:\n  heartbeat_interval: 20m\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/test")
			t.Setenv("PUBSUB_PROJECT_ID", "")
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.Registry.MaxAgents != 10 {
		t.Errorf("Expected max agents 10, got %d", cfg.Registry.MaxAgents)
	}
	if len(cfg.Workers) != 3 {
		t.Errorf("Expected 3 default workers, got %d", len(cfg.Workers))
	}
	if cfg.Workers[0].Name != "version" {
		t.Errorf("Expected worker name to default to kind, got %q", cfg.Workers[0].Name)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := writeFile(t, "switchboard.yaml", `
agent:
  max_retries: 5
  timeout_ms: 2000
orchestrator:
  retry_delay: 250ms
registry:
  health_check_interval: 2s
journal:
  enabled: true
  path: /tmp/journal.db
workers:
  - kind: build
    name: deployer
    timeout_ms: 60000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Agent.MaxRetries != 5 || cfg.Agent.TimeoutMs != 2000 {
		t.Errorf("Agent section not applied: %+v", cfg.Agent)
	}
	if cfg.Agent.MaxQueueSize != 1000 {
		t.Errorf("Expected default queue size, got %d", cfg.Agent.MaxQueueSize)
	}
	if cfg.Orchestrator.RetryDelay != 250*time.Millisecond {
		t.Errorf("Expected retry delay 250ms, got %v", cfg.Orchestrator.RetryDelay)
	}
	if cfg.Registry.HealthCheckInterval != 2*time.Second {
		t.Errorf("Expected interval 2s, got %v", cfg.Registry.HealthCheckInterval)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("Journal section not applied: %+v", cfg.Journal)
	}
	if len(cfg.Workers) != 1 || cfg.Workers[0].Name != "deployer" {
		t.Fatalf("Expected the file's worker list to replace the defaults, got %+v", cfg.Workers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SWITCHBOARD_AGENT_MAX_RETRIES", "7")
	t.Setenv("SWITCHBOARD_ORCHESTRATOR_ROUTING_TIMEOUT", "45s")
	t.Setenv("SWITCHBOARD_TRACING_ENABLED", "true")
	t.Setenv("SWITCHBOARD_TRACING_EXPORTER", "none")
	t.Setenv("SWITCHBOARD_METRICS_PROMETHEUS_URL", "http://prometheus:9090")

	path := writeFile(t, "switchboard.yaml", "agent:\n  max_retries: 2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Agent.MaxRetries != 7 {
		t.Errorf("Expected env to win over file, got %d", cfg.Agent.MaxRetries)
	}
	if cfg.Orchestrator.RoutingTimeout != 45*time.Second {
		t.Errorf("Expected routing timeout 45s, got %v", cfg.Orchestrator.RoutingTimeout)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "none" {
		t.Errorf("Tracing overrides not applied: %+v", cfg.Tracing)
	}
	if cfg.Metrics.PrometheusURL != "http://prometheus:9090" {
		t.Errorf("Expected prometheus URL override, got %q", cfg.Metrics.PrometheusURL)
	}
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv("SWITCHBOARD_REGISTRY_MAX_AGENTS", "lots")
	if _, err := Load(""); err == nil {
		t.Fatal("Expected an error for a non-numeric override")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "switchboard.yaml", "agent:\n  max_retires: 2\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Expected an error for a misspelled key")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "switchboard.yaml", "tracing:\n  exporter: jaeger\n")
	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path (skipped when path is empty), applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// decodeYAML decodes strictly into out. An empty document leaves out unchanged.
func decodeYAML(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err //nolint:wrapcheck // Callers add the file name
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	sections := []struct {
		name   string
		target any
	}{
		{"AGENT", &cfg.Agent},
		{"ORCHESTRATOR", &cfg.Orchestrator},
		{"REGISTRY", &cfg.Registry},
		{"JOURNAL", &cfg.Journal},
		{"EVENTLOG", &cfg.EventLog},
		{"METRICS", &cfg.Metrics},
		{"TRACING", &cfg.Tracing},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.target); err != nil {
			return fmt.Errorf("invalid %s_%s_* environment override: %w", EnvPrefix, s.name, err)
		}
	}
	return nil
}

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the user configuration file looked up in configDir.
const ConfigFileName = "briefly.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read briefly.yaml from configDir (optional — defaults apply)
//  2. Expand environment variables in YAML values
//  3. Parse YAML into structs
//  4. Merge user config over built-in defaults
//  5. Validate
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := builtinDefaults()
	cfg.configDir = configDir

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("No configuration file found, using built-in defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		user := &Config{}
		if err := yaml.Unmarshal(ExpandEnv(data), user); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
		log.Info("Loaded configuration", "path", path)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.LLM == nil || c.LLM.Model == "" {
		return errors.New("llm.model is required")
	}
	if c.LLM.APIKeyEnv == "" {
		return errors.New("llm.api_key_env is required")
	}
	if c.Scheduler.DailySummaryHour < 0 || c.Scheduler.DailySummaryHour > 23 {
		return fmt.Errorf("scheduler.daily_summary_hour %d out of range", c.Scheduler.DailySummaryHour)
	}
	p := c.Pipeline
	for name, v := range map[string]int{
		"email_filter_batch": p.EmailFilterBatch,
		"doc_filter_batch":   p.DocFilterBatch,
		"extraction_batch":   p.ExtractionBatch,
		"doc_analysis_batch": p.DocAnalysisBatch,
	} {
		if v < 1 {
			return fmt.Errorf("pipeline.%s must be >= 1, got %d", name, v)
		}
	}
	return nil
}

// LLMAPIKey resolves the API key from the configured environment
// variable.
func (c *Config) LLMAPIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// Package config loads chatport configuration from .chatport/config.yaml,
// with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all chatport configuration.
type Config struct {
	// LLM configures the classification capability.
	LLM LLMConfig `yaml:"llm"`

	// Categorize holds the categorization run parameters.
	Categorize CategorizeConfig `yaml:"categorize"`

	// Output configures generation defaults.
	Output OutputConfig `yaml:"output"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the Gemini classifier.
type LLMConfig struct {
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// CategorizeConfig holds categorization run parameters. Threshold is the
// confidence at or above which an assignment commits without review.
type CategorizeConfig struct {
	BatchSize   int     `yaml:"batch_size"`
	Threshold   float64 `yaml:"threshold"`
	Concurrency int     `yaml:"concurrency"`
}

// OutputConfig configures generation defaults.
type OutputConfig struct {
	Format          string `yaml:"format"` // dir or embedded
	IncludeThoughts bool   `yaml:"include_thoughts"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode bool `yaml:"debug_mode"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:             "gemini-2.5-flash",
			RequestsPerMinute: 10,
		},
		Categorize: CategorizeConfig{
			BatchSize:   15,
			Threshold:   0.8,
			Concurrency: 3,
		},
		Output: OutputConfig{
			Format: "dir",
		},
	}
}

// Load reads config from workspace/.chatport/config.yaml, falling back to
// defaults when the file is absent. GEMINI_API_KEY overrides the file's
// api_key in either case.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".chatport", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	return cfg, nil
}

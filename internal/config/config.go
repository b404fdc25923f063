// Package config loads and validates the application configuration:
// the model roster, loop settings, knowledge store, and logging.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Models    []ModelConfig   `yaml:"models"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SystemConfig holds refinement-loop settings.
type SystemConfig struct {
	// MaxRounds bounds analysis/improvement rounds, 1 to 10.
	MaxRounds int `yaml:"max_rounds"`

	// QualityThreshold stops the loop once aggregate quality reaches it.
	QualityThreshold float64 `yaml:"quality_threshold"`

	// MaxParallel caps concurrent model calls per phase.
	MaxParallel int `yaml:"max_parallel"`
}

// ModelConfig describes one LLM backend.
type ModelConfig struct {
	// Name is the roster identifier, unique across the config.
	Name string `yaml:"name"`

	// Endpoint is the OpenAI-compatible base URL.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the endpoint. Supports ${ENV_VAR}
	// substitution.
	APIKey string `yaml:"api_key"`

	// Model is the provider-side model identifier.
	Model string `yaml:"model"`

	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`

	// RetryAttempts is how many extra attempts the primary gets before
	// fallbacks are tried.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// RateLimit caps requests per second to this backend. Zero disables
	// limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Fallbacks names other configured models to try, in order, when
	// this one is exhausted.
	Fallbacks []string `yaml:"fallbacks"`
}

// KnowledgeConfig configures the cross-session insight store.
type KnowledgeConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file. Empty uses an in-memory store.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`

	// File enables rotated file logging when set; empty logs to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file is given.
// It has no models; a usable config always comes from a file.
func DefaultConfig() Config {
	return Config{
		System: SystemConfig{
			MaxRounds:        5,
			QualityThreshold: 0.80,
			MaxParallel:      4,
		},
		Knowledge: KnowledgeConfig{
			Enabled: true,
			Path:    "planforge.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Validate checks the whole config and reports all problems together.
func (c Config) Validate() error {
	var problems []string

	if c.System.MaxRounds < 1 || c.System.MaxRounds > 10 {
		problems = append(problems, fmt.Sprintf("system.max_rounds must be between 1 and 10, got %d", c.System.MaxRounds))
	}
	if c.System.QualityThreshold <= 0 || c.System.QualityThreshold > 1 {
		problems = append(problems, fmt.Sprintf("system.quality_threshold must be within (0, 1], got %g", c.System.QualityThreshold))
	}

	if len(c.Models) < 2 {
		problems = append(problems, fmt.Sprintf("at least two models are required for cross-analysis, got %d", len(c.Models)))
	}

	names := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		label := m.Name
		if label == "" {
			label = fmt.Sprintf("models[%d]", i)
		}
		if m.Name == "" {
			problems = append(problems, fmt.Sprintf("%s: name is required", label))
		} else if names[m.Name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate model name", label))
		}
		names[m.Name] = true

		if m.Endpoint == "" {
			problems = append(problems, fmt.Sprintf("%s: endpoint is required", label))
		}
		if m.Model == "" {
			problems = append(problems, fmt.Sprintf("%s: model is required", label))
		}
		if m.APIKey == "" {
			problems = append(problems, fmt.Sprintf("%s: api_key is required", label))
		}
		if strings.HasPrefix(m.APIKey, "${") {
			problems = append(problems, fmt.Sprintf("%s: api_key environment variable is not set", label))
		}
	}
	for _, m := range c.Models {
		for _, fb := range m.Fallbacks {
			if fb == m.Name {
				problems = append(problems, fmt.Sprintf("%s: model lists itself as a fallback", m.Name))
			} else if !names[fb] {
				problems = append(problems, fmt.Sprintf("%s: fallback %q is not a configured model", m.Name, fb))
			}
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// Redacted returns a copy safe for display: API keys are masked.
func (c Config) Redacted() Config {
	out := c
	out.Models = make([]ModelConfig, len(c.Models))
	copy(out.Models, c.Models)
	for i := range out.Models {
		if out.Models[i].APIKey != "" {
			out.Models[i].APIKey = "********"
		}
	}
	return out
}

// ModelNames returns the roster names in declaration order.
func (c Config) ModelNames() []string {
	names := make([]string, len(c.Models))
	for i, m := range c.Models {
		names[i] = m.Name
	}
	return names
}

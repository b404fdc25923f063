package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validYAML = `
system:
  max_rounds: 3
  quality_threshold: 0.85
models:
  - name: gpt
    endpoint: https://api.openai.com/v1
    api_key: sk-test
    model: gpt-4o
    fallbacks: [claude]
  - name: claude
    endpoint: https://openrouter.ai/api/v1
    api_key: or-test
    model: anthropic/claude-sonnet-4
logging:
  level: debug
  format: json
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.System.MaxRounds)
	assert.InDelta(t, 0.85, cfg.System.QualityThreshold, 1e-9)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, []string{"claude"}, cfg.Models[0].Fallbacks)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// File values overlay defaults, untouched defaults survive.
	assert.Equal(t, 4, cfg.System.MaxParallel)
	assert.Equal(t, []string{"gpt", "claude"}, cfg.ModelNames())
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("PLANFORGE_TEST_KEY", "secret-from-env")

	yaml := `
models:
  - name: gpt
    endpoint: https://api.openai.com/v1
    api_key: ${PLANFORGE_TEST_KEY}
    model: gpt-4o
  - name: claude
    endpoint: https://openrouter.ai/api/v1
    api_key: other
    model: claude
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Models[0].APIKey)
}

func TestLoadUnsetEnvVarFailsValidation(t *testing.T) {
	yaml := `
models:
  - name: gpt
    endpoint: https://api.openai.com/v1
    api_key: ${PLANFORGE_DEFINITELY_UNSET}
    model: gpt-4o
  - name: claude
    endpoint: https://openrouter.ai/api/v1
    api_key: other
    model: claude
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key environment variable is not set")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Models = []ModelConfig{
			{Name: "a", Endpoint: "https://x", APIKey: "k", Model: "m"},
			{Name: "b", Endpoint: "https://y", APIKey: "k", Model: "m"},
		}
		return cfg
	}

	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"single model", func(c *Config) { c.Models = c.Models[:1] }, "at least two models"},
		{"duplicate names", func(c *Config) { c.Models[1].Name = "a" }, "duplicate model name"},
		{"missing endpoint", func(c *Config) { c.Models[0].Endpoint = "" }, "endpoint is required"},
		{"missing api key", func(c *Config) { c.Models[0].APIKey = "" }, "api_key is required"},
		{"unknown fallback", func(c *Config) { c.Models[0].Fallbacks = []string{"ghost"} }, "not a configured model"},
		{"self fallback", func(c *Config) { c.Models[0].Fallbacks = []string{"a"} }, "itself as a fallback"},
		{"rounds out of range", func(c *Config) { c.System.MaxRounds = 11 }, "max_rounds"},
		{"zero threshold", func(c *Config) { c.System.QualityThreshold = 0 }, "quality_threshold"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mod(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, base().Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.System.MaxRounds = 0
	cfg.Models = []ModelConfig{{Name: "a"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_rounds")
	assert.Contains(t, err.Error(), "at least two models")
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestRedactedMasksKeys(t *testing.T) {
	cfg := Config{Models: []ModelConfig{
		{Name: "a", APIKey: "sk-very-secret"},
		{Name: "b"},
	}}

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Models[0].APIKey)
	assert.Empty(t, red.Models[1].APIKey)
	// The original is untouched.
	assert.Equal(t, "sk-very-secret", cfg.Models[0].APIKey)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	configYAML := `
version: "0.1.0"
default_provider: local
providers:
  local:
    type: ollama
    base_url: http://127.0.0.1:11434
    model: llama3
  cloud:
    type: openrouter
    base_url: https://openrouter.ai/api/v1
    api_key: dummy
    model: qwen2.5
agent:
  max_iterations: 6
  intent_phrases: ["I'll now", "Let me"]
stream:
  initial_backoff: 250ms
sandbox:
  root: /tmp
`

	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "local", cfg.DefaultProvider)
	require.Equal(t, "ollama", cfg.Providers["local"].Type)
	require.Equal(t, 6, cfg.Agent.MaxIterations)
	require.Equal(t, []string{"I'll now", "Let me"}, cfg.Agent.IntentPhrases)
	require.Equal(t, 250*time.Millisecond, cfg.Stream.InitialBackoff)
	require.Equal(t, "/tmp", cfg.Sandbox.Root)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	configYAML := `
providers:
  local:
    type: ollama
    base_url: http://127.0.0.1:11434
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 20, cfg.Agent.MaxIterations)
	require.Equal(t, 10, cfg.Agent.HistoryCap)
	require.Equal(t, 10, cfg.Stream.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Stream.InitialBackoff)
	require.Equal(t, 30*time.Second, cfg.Tools.ShellTimeout)
	require.Equal(t, 1<<20, cfg.Tools.ShellOutputCap)
	require.Equal(t, 64<<10, cfg.Tools.FetchSizeCap)
	require.Equal(t, 32<<10, cfg.Tools.OverflowThreshold)
	require.Equal(t, "/", cfg.Sandbox.Root)
	require.Empty(t, cfg.Sandbox.TempDir)
	require.Equal(t, 30*time.Minute, cfg.Server.SessionTTL)
	require.Len(t, cfg.Tools.SearchPath, 6)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	configYAML := `
providers:
  openrouter:
    type: openrouter
    base_url: https://openrouter.ai
    api_key: dummy
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o644))

	t.Setenv("MEOW_AGENT_MAX_ITERATIONS", "12")
	t.Setenv("MEOW_STREAM_MAX_ATTEMPTS", "3")
	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Agent.MaxIterations)
	require.Equal(t, 3, cfg.Stream.MaxAttempts)
}

func validConfig() Config {
	return Config{
		Providers: map[string]ProviderConfig{
			"local": {Type: "ollama", BaseURL: "http://127.0.0.1:11434"},
		},
		Agent:  AgentConfig{MaxIterations: 1, HistoryCap: 10},
		Stream: StreamConfig{MaxAttempts: 1},
		Tools: ToolsConfig{
			ShellTimeout:      time.Second,
			ShellOutputCap:    1,
			FileSizeCap:       1,
			FetchSizeCap:      1,
			OverflowThreshold: 10,
			OverflowPreview:   5,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown default provider", func(c *Config) { c.DefaultProvider = "missing" }, false},
		{"unknown provider type", func(c *Config) {
			c.Providers["bad"] = ProviderConfig{Type: "gopher", BaseURL: "http://x"}
		}, false},
		{"missing base url", func(c *Config) { c.Providers["bad"] = ProviderConfig{Type: "openai"} }, false},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, false},
		{"history cap too small", func(c *Config) { c.Agent.HistoryCap = 2 }, false},
		{"relative root", func(c *Config) { c.Sandbox.Root = "sandbox" }, false},
		{"preview above threshold", func(c *Config) { c.Tools.OverflowPreview = 11 }, false},
		{"bad transport", func(c *Config) { c.Server.Transport = "grpc" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

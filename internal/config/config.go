package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/netoneko/meow/internal/llm"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version         string                    `mapstructure:"version"`
	DefaultProvider string                    `mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	Agent           AgentConfig               `mapstructure:"agent"`
	Stream          StreamConfig              `mapstructure:"stream"`
	Sandbox         SandboxConfig             `mapstructure:"sandbox"`
	Tools           ToolsConfig               `mapstructure:"tools"`
	Logging         LoggingConfig             `mapstructure:"logging"`
	Server          ServerConfig              `mapstructure:"server"`
}

// ProviderConfig represents an LLM backend such as Ollama or an OpenAI-compatible gateway.
type ProviderConfig struct {
	Type      string `mapstructure:"type"`       // ollama, openai, openrouter, vllm, lmstudio, custom
	BaseURL   string `mapstructure:"base_url"`   // http or https base URL
	BasePath  string `mapstructure:"base_path"`  // optional path prefix for OpenAI-compatible gateways
	APIKey    string `mapstructure:"api_key"`    // optional bearer token
	Model     string `mapstructure:"model"`      // default model for the provider
	MaxTokens int    `mapstructure:"max_tokens"` // optional provider-level token cap
}

// AgentConfig describes agent loop parameters.
type AgentConfig struct {
	MaxIterations     int      `mapstructure:"max_iterations"`
	HistoryCap        int      `mapstructure:"history_cap"`
	MaxTokens         int      `mapstructure:"max_tokens"`
	SystemPrompt      string   `mapstructure:"system_prompt"`
	IntentPhrases     []string `mapstructure:"intent_phrases"`
	FakeResultPhrases []string `mapstructure:"fake_result_phrases"`
}

// StreamConfig tunes the streaming client.
type StreamConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	ChunkSize      int           `mapstructure:"chunk_size"`
}

// SandboxConfig controls filesystem containment.
type SandboxConfig struct {
	Root       string `mapstructure:"root"`
	WorkingDir string `mapstructure:"working_dir"`
	TempDir    string `mapstructure:"temp_dir"` // overflow files; must lie under Root
}

// ToolsConfig configures tool behaviour.
type ToolsConfig struct {
	AllowExec         bool          `mapstructure:"allow_exec"`
	AllowGit          bool          `mapstructure:"allow_git"`
	AllowFileWrite    bool          `mapstructure:"allow_file_write"`
	AllowNetwork      bool          `mapstructure:"allow_network"`
	ShellTimeout      time.Duration `mapstructure:"shell_timeout"`
	ShellOutputCap    int           `mapstructure:"shell_output_cap"`
	ShellPollInterval time.Duration `mapstructure:"shell_poll_interval"`
	FileSizeCap       int           `mapstructure:"file_size_cap"`
	FetchSizeCap      int           `mapstructure:"fetch_size_cap"`
	OverflowThreshold int           `mapstructure:"overflow_threshold"`
	OverflowPreview   int           `mapstructure:"overflow_preview"`
	SearchPath        []string      `mapstructure:"search_path"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson

	// SessionTTL closes daemon sessions idle for longer; 0 keeps them.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: MEOW_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MEOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("default_provider", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("agent.history_cap", 10)
	v.SetDefault("agent.max_tokens", 4096)
	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.intent_phrases", []string{})
	v.SetDefault("agent.fake_result_phrases", []string{})

	v.SetDefault("stream.max_attempts", 10)
	v.SetDefault("stream.initial_backoff", 500*time.Millisecond)
	v.SetDefault("stream.idle_timeout", 60*time.Second)
	v.SetDefault("stream.tick_interval", 100*time.Millisecond)
	v.SetDefault("stream.chunk_size", 4096)

	v.SetDefault("sandbox.root", "/")
	v.SetDefault("sandbox.working_dir", "")
	v.SetDefault("sandbox.temp_dir", "")

	v.SetDefault("tools.allow_exec", true)
	v.SetDefault("tools.allow_git", true)
	v.SetDefault("tools.allow_file_write", true)
	v.SetDefault("tools.allow_network", true)
	v.SetDefault("tools.shell_timeout", 30*time.Second)
	v.SetDefault("tools.shell_output_cap", 1<<20)
	v.SetDefault("tools.shell_poll_interval", 50*time.Millisecond)
	v.SetDefault("tools.file_size_cap", 256<<10)
	v.SetDefault("tools.fetch_size_cap", 64<<10)
	v.SetDefault("tools.overflow_threshold", 32<<10)
	v.SetDefault("tools.overflow_preview", 4<<10)
	v.SetDefault("tools.search_path", []string{
		"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin",
	})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
	v.SetDefault("server.session_ttl", 30*time.Minute)
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q must define type", name)
		}
		if _, err := llm.ParseDialect(p.Type); err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
		if strings.TrimSpace(p.BaseURL) == "" {
			return fmt.Errorf("provider %q must define base_url", name)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("provider %q max_tokens cannot be negative", name)
		}
	}

	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider references unknown provider %q", c.DefaultProvider)
		}
	}

	if c.Agent.MaxIterations <= 0 {
		return errors.New("agent.max_iterations must be > 0")
	}
	if c.Agent.HistoryCap < 3 {
		return errors.New("agent.history_cap must be >= 3")
	}
	if c.Agent.MaxTokens < 0 {
		return errors.New("agent.max_tokens must be >= 0")
	}

	if c.Stream.MaxAttempts <= 0 {
		return errors.New("stream.max_attempts must be > 0")
	}
	if c.Stream.InitialBackoff < 0 || c.Stream.IdleTimeout < 0 {
		return errors.New("stream durations must be >= 0")
	}

	if c.Sandbox.Root != "" && !filepath.IsAbs(c.Sandbox.Root) {
		return fmt.Errorf("sandbox.root must be absolute, got %q", c.Sandbox.Root)
	}

	if c.Tools.ShellTimeout <= 0 {
		return errors.New("tools.shell_timeout must be > 0")
	}
	if c.Tools.ShellOutputCap <= 0 || c.Tools.FileSizeCap <= 0 || c.Tools.FetchSizeCap <= 0 {
		return errors.New("tools size caps must be > 0")
	}
	if c.Tools.OverflowThreshold <= 0 {
		return errors.New("tools.overflow_threshold must be > 0")
	}
	if c.Tools.OverflowPreview < 0 || c.Tools.OverflowPreview > c.Tools.OverflowThreshold {
		return errors.New("tools.overflow_preview must be within [0, overflow_threshold]")
	}

	if c.Server.SessionTTL < 0 {
		return errors.New("server.session_ttl must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}

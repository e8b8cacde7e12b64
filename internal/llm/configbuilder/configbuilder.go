// Package configbuilder turns loaded configuration into LLM runtime objects.
package configbuilder

import (
	"fmt"
	"sort"

	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/llm/stream"
)

// BuildRegistryFromConfig constructs a provider registry from config.
// Without default_provider the alphabetically first provider is the default.
func BuildRegistryFromConfig(cfg *config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, err := buildProvider(name, cfg.Providers[name])
		if err != nil {
			return nil, err
		}
		reg.RegisterProvider(p, name == cfg.DefaultProvider)
	}

	if _, err := reg.Resolve(""); err != nil {
		return nil, err
	}

	return reg, nil
}

// StreamOptions maps the stream and agent sections onto client options.
func StreamOptions(cfg *config.Config) stream.Options {
	opts := stream.DefaultOptions()
	if cfg.Stream.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.Stream.MaxAttempts
	}
	if cfg.Stream.InitialBackoff > 0 {
		opts.InitialBackoff = cfg.Stream.InitialBackoff
	}
	if cfg.Stream.IdleTimeout > 0 {
		opts.IdleTimeout = cfg.Stream.IdleTimeout
	}
	if cfg.Stream.TickInterval > 0 {
		opts.TickInterval = cfg.Stream.TickInterval
	}
	if cfg.Stream.ChunkSize > 0 {
		opts.ChunkSize = cfg.Stream.ChunkSize
	}
	if cfg.Agent.MaxTokens > 0 {
		opts.MaxTokens = cfg.Agent.MaxTokens
	}
	return opts
}

func buildProvider(name string, cfg config.ProviderConfig) (llm.Provider, error) {
	dialect, err := llm.ParseDialect(cfg.Type)
	if err != nil {
		return llm.Provider{}, fmt.Errorf("provider %s: %w", name, err)
	}
	p := llm.Provider{
		Name:      name,
		BaseURL:   cfg.BaseURL,
		BasePath:  cfg.BasePath,
		Dialect:   dialect,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	}
	if _, _, err := p.Endpoint(); err != nil {
		return llm.Provider{}, fmt.Errorf("provider %s: %w", name, err)
	}
	return p, nil
}

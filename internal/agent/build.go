package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/llm/configbuilder"
	"github.com/netoneko/meow/internal/llm/stream"
	"github.com/netoneko/meow/internal/observability"
	"github.com/netoneko/meow/internal/tools"
)

// Runtime is an agent wired to its providers, stream client and sandbox.
type Runtime struct {
	Agent      *Agent
	Providers  *llm.Registry
	Client     *stream.Client
	Sandbox    *tools.Sandbox
	Dispatcher *tools.Dispatcher
}

// Build wires a Runtime from configuration. metrics may be nil.
func Build(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, opts tools.Options) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	providers, err := configbuilder.BuildRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	sandbox, err := tools.NewSandbox(cfg.Sandbox, cfg.Tools, opts)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}

	client := stream.NewClient(configbuilder.StreamOptions(cfg), nil, logger.Named("stream"))
	dispatcher := sandbox.Dispatcher(logger.Named("tools"))
	a := New(client, dispatcher, providers, cfg.Agent, logger.Named("agent"))

	if metrics != nil {
		client.SetRecorder(metrics)
		dispatcher.SetRecorder(metrics)
		a.SetRecorder(metrics)
	}

	return &Runtime{
		Agent:      a,
		Providers:  providers,
		Client:     client,
		Sandbox:    sandbox,
		Dispatcher: dispatcher,
	}, nil
}

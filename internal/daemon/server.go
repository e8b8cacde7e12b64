package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/netoneko/meow/internal/agent"
	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/observability"
	agentrpc "github.com/netoneko/meow/internal/rpc/agent"
	toolrpc "github.com/netoneko/meow/internal/rpc/tools"
	"github.com/netoneko/meow/internal/tools"
	"github.com/netoneko/meow/internal/version"
)

// Server hosts the daemon endpoints: health, metrics, tool schemas and the
// agent turn streams.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	runtime *agent.Runtime
	runner  *agentrpc.AgentRunner
	metrics *observability.Metrics
}

// NewServer constructs a daemon instance.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics()
	rt, err := agent.Build(cfg, logger, metrics, tools.Options{})
	if err != nil {
		return nil, err
	}
	runner := agentrpc.NewAgentRunner(rt.Agent, logger.Named("rpc"))
	runner.TTL = cfg.Server.SessionTTL
	return &Server{cfg: cfg, logger: logger, runtime: rt, runner: runner, metrics: metrics}, nil
}

// Handler returns the daemon's HTTP handler. The connect transport wraps it
// in h2c so that bidi streams work over cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.Handle("/tools/schemas", toolrpc.SchemaHandler{Registry: s.runtime.Sandbox.Registry()})
	mux.Handle("/agent/run", agentrpc.NewHandler(s.runner, s.metrics))
	mux.Handle("/agent/cancel", agentrpc.NewCancelHandler(s.runner, s.metrics))

	if s.connectTransport() {
		path, handler := agentrpc.NewConnectHandler(s.runner, s.metrics)
		mux.Handle(path, handler)
		return h2c.NewHandler(mux, &http2.Server{})
	}
	return mux
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting meow daemon",
			zap.String("addr", s.cfg.Server.Addr),
			zap.String("transport", s.cfg.Server.Transport),
			zap.String("sandbox_root", s.runtime.Sandbox.Guard.Root()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down meow daemon")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) connectTransport() bool {
	return strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport)) != "ndjson"
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"version":   version.Version,
		"providers": s.runtime.Providers.Names(),
		"default":   s.runtime.Providers.Default(),
		"sessions":  s.runtime.Agent.Sessions(),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

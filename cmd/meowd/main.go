package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/daemon"
	"github.com/netoneko/meow/internal/logging"
	"github.com/netoneko/meow/internal/version"
)

func main() {
	var (
		cfgPath   string
		addr      string
		transport string
	)

	root := &cobra.Command{
		Use:          "meowd",
		Short:        "meow agent daemon (NDJSON and Connect turn streams)",
		Version:      version.Full(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if transport != "" {
				cfg.Server.Transport = transport
			}

			logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort
			logger.Info("meowd", zap.String("version", version.Full()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := daemon.NewServer(cfg, logger)
			if err != nil {
				return err
			}
			return server.Run(ctx)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "Path to config file (default: configs/config.yaml)")
	root.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	root.Flags().StringVar(&transport, "transport", "", "connect or ndjson (overrides server.transport)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

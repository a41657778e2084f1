package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/decompctl/internal/auth"
	"github.com/danmuck/decompctl/internal/config"
	"github.com/danmuck/decompctl/internal/engine"
	"github.com/danmuck/decompctl/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine on stdin/stdout or a TCP listener",
		Long:  "Serve client commands. Without --listen the protocol runs on stdin and stdout\nand logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.ListenAddr = listen
			}
			if metrics, _ := cmd.Flags().GetString("metrics"); metrics != "" {
				cfg.MetricsAddr = metrics
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := observability.InitLogger("decompctl")
			return runServe(ctx, cfg, os.Stdin, os.Stdout, logger)
		},
	}
	cmd.Flags().String("listen", "", "accept clients on host:port instead of stdin/stdout")
	cmd.Flags().String("metrics", "", "serve /metrics and /healthz on host:port")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	if cfg.MetricsAddr != "" {
		srv := observability.NewServer("decompctl", logger)
		if cfg.MetricsToken != "" {
			srv.RequireToken(auth.StaticToken{Token: cfg.MetricsToken})
		}
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}
	if cfg.ListenAddr != "" {
		tlsCfg, err := cfg.TLS.ServerConfig()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return engine.Listen(ctx, cfg.ListenAddr, tlsCfg, cfg.Session(), logger)
	}
	return engine.NewHost(in, out, cfg.Session(), logger).RunGuarded(ctx)
}

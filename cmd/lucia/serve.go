package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucialabs/lucia/internal/adapters/ops"
	"github.com/lucialabs/lucia/internal/adapters/tracing"
)

// serveCmd runs the engine as a long-lived process: the TTL sweeper, the
// registry watcher, and the operational HTTP surface.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ops server, session sweeper, and registry watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			shutdownTracer, err := tracing.InitTracer("lucia")
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := shutdownTracer(shutdownCtx); err != nil {
					logger.Warn("tracer shutdown failed", "error", err)
				}
			}()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			eng.sessions.StartSweeper(ctx)

			if cfg.Registries.Watch {
				stop, err := eng.registry.Watch(ctx, logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			server := ops.NewServer(cfg.Server, eng.reloader, eng.sessions, eng.tracker, logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logger.Info("shutting down", "signal", sig.String())
			}

			cancel()
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			return server.Shutdown(shutdownCtx)
		},
	}
}

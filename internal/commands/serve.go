package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"evalgo.org/anchor/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the HTTP API server.

The server drives the cluster described by the manifest: it can start,
stop and remove it, report task and container state, and stream progress
events over a WebSocket at /api/v1/ws/events.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cl, client, err := newCluster(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize cluster: %w", err)
	}
	defer client.Close()

	stopFollow := follow(cl.Bus())
	defer stopFollow()

	server := api.New(cfg, cl, client, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		serveErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown error: %w", err)
	}
	if err := cl.Close(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("scheduler shutdown error: %w", err)
	}

	return serveErr
}

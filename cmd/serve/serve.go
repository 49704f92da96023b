// Package serve provides the serve command: the HTTP API plus an embedded
// worker pool so a single process can run the whole system.
package serve

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/councilkb/councilkb/internal/app"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/queue"
	"github.com/councilkb/councilkb/internal/server"
)

var noWorkers bool

// ServeCmd starts the HTTP API.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: "Start the HTTP API server.\n\n" +
		"Serves the ingestion, search, chat, and listing endpoints. By default the " +
		"process also runs the configured number of pipeline workers; pass --no-workers " +
		"to serve the API only and run workers in separate processes.",
	Example: `  # Serve the API with embedded workers
  councilkb serve

  # Serve the API only
  councilkb serve --no-workers`,
	PreRunE: validateServe,
	RunE:    runServe,
}

func init() {
	ServeCmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the API without embedded pipeline workers")
}

func validateServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.Default()
	a, err := app.New(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup
	if !noWorkers {
		pool := queue.NewPool(a.Queue, a.Pipeline, a.Store, settings, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
	}

	srv := server.New(a.Store, a.Queue, a.Engine, a.Chat, settings, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownErr := srv.Shutdown(context.Background())
	wg.Wait()
	return shutdownErr
}

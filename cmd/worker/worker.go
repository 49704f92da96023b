// Package worker provides the worker command: a standalone pipeline worker
// pool without the HTTP API.
package worker

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/councilkb/councilkb/internal/app"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/queue"
)

// WorkerCmd runs the pipeline workers.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run pipeline workers",
	Long: "Run pipeline workers.\n\n" +
		"Consumes tasks from the Redis queue and drives documents through the " +
		"processing pipeline. Multiple worker processes may run against the same " +
		"queue; each task is claimed by exactly one worker.",
	Example: `  # Run workers until interrupted
  councilkb worker`,
	PreRunE: validateWorker,
	RunE:    runWorker,
}

func validateWorker(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	logger.Info("workers starting", "count", settings.Queue.Workers)
	pool := queue.NewPool(a.Queue, a.Pipeline, a.Store, settings, logger)
	pool.Run(ctx)

	logger.Info("workers stopped")
	return nil
}

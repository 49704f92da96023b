// Package ingest provides the ingest command: enqueue a folder scan and,
// optionally, follow its progress.
package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/councilkb/councilkb/internal/app"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/queue"
)

var (
	purgeMissing bool
	wait         bool
)

// IngestCmd enqueues a folder ingestion task.
var IngestCmd = &cobra.Command{
	Use:   "ingest <folder-id>",
	Short: "Ingest a drive folder into the knowledge base",
	Long: "Ingest a drive folder into the knowledge base.\n\n" +
		"Enqueues a scan of the given drive folder. The scan registers each " +
		"document and fans out one pipeline task per new or changed file; a running " +
		"worker pool picks those up. With --wait the command polls the scan task " +
		"until it finishes.",
	Example: `  # Enqueue a folder scan
  councilkb ingest 1AbCdEfG

  # Scan, remove documents no longer in the folder, and wait for the result
  councilkb ingest 1AbCdEfG --purge-missing --wait`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateIngest,
	RunE:    runIngest,
}

func init() {
	IngestCmd.Flags().BoolVar(&purgeMissing, "purge-missing", false, "delete documents whose drive file disappeared")
	IngestCmd.Flags().BoolVar(&wait, "wait", false, "poll the task until it finishes")
}

func validateIngest(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, settings, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	taskID, err := a.Queue.Enqueue(ctx, &queue.Task{
		Kind:         queue.KindIngestFolder,
		FolderID:     args[0],
		PurgeMissing: purgeMissing,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task enqueued: %s\n", taskID)

	if !wait {
		return nil
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastStep := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := a.Queue.Status(ctx, taskID)
		if err != nil {
			return err
		}

		if status.Step != lastStep && status.Step != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s (%d%%)\n", status.Step, status.Progress)
			lastStep = status.Step
		}

		switch status.State {
		case queue.StateSuccess:
			fmt.Fprintf(cmd.OutOrStdout(), "Done: %s\n", status.Result)
			return nil
		case queue.StateFailure:
			return fmt.Errorf("ingestion failed; %s", status.Error)
		case queue.StateRevoked:
			return fmt.Errorf("ingestion task was cancelled")
		}
	}
}

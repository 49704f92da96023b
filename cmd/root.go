package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/councilkb/councilkb/cmd/ingest"
	"github.com/councilkb/councilkb/cmd/migrate"
	"github.com/councilkb/councilkb/cmd/serve"
	"github.com/councilkb/councilkb/cmd/version"
	"github.com/councilkb/councilkb/cmd/worker"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/logging"
)

// logManager is the global logging manager, created in init() and upgraded
// after config loads.
var logManager *logging.Manager

var councilkbCmd = &cobra.Command{
	Use:   "councilkb",
	Short: "A Searchable Knowledge Base for Council Documents",
	Long: "CouncilKB ingests council documents from a shared drive and turns them into a searchable knowledge base.\n\n" +
		"Synced files move through a staged pipeline: classification, parsing, preprocessing, " +
		"chunking, enrichment, and embedding. The resulting chunks back a hybrid retrieval API " +
		"that ranks by semantic similarity and recency, and a chat endpoint that answers " +
		"questions grounded in the retrieved passages.\n\n",
	PersistentPreRunE: runInitialize,
}

func init() {
	logManager = logging.NewManager()
	slog.SetDefault(logManager.Logger())

	councilkbCmd.AddCommand(serve.ServeCmd)
	councilkbCmd.AddCommand(worker.WorkerCmd)
	councilkbCmd.AddCommand(migrate.MigrateCmd)
	councilkbCmd.AddCommand(ingest.IngestCmd)
	councilkbCmd.AddCommand(version.VersionCmd)
}

func runInitialize(cmd *cobra.Command, args []string) error {
	logger := logManager.Logger()

	if err := config.Init(); err != nil {
		return err
	}

	// Upgrade logging after config is available.
	logFile := config.GetPath("log_file")
	levelStr := config.GetString("log_level")
	level, ok := logging.ParseLevel(levelStr)
	if !ok {
		level = logging.DefaultLevel
		if levelStr != "" {
			logger.Warn("invalid log level configured, using default", "configured", levelStr, "default", "info")
		}
	}

	if logFile == "" {
		logManager.SetLevel(level)
		return nil
	}
	if err := logManager.Upgrade(logFile, level); err != nil {
		logger.Warn("failed to enable file logging, continuing with stderr only", "error", err)
	}

	return nil
}

func Execute() error {
	councilkbCmd.SilenceErrors = true
	councilkbCmd.SilenceUsage = true

	defer func() { _ = logManager.Close() }()

	err := councilkbCmd.Execute()

	if err != nil {
		cmd, _, _ := councilkbCmd.Find(os.Args[1:])
		if cmd == nil {
			cmd = councilkbCmd
		}

		fmt.Printf("Error: %v\n", err)
		if !cmd.SilenceUsage {
			fmt.Printf("\n")
			cmd.SetOut(os.Stdout)
			_ = cmd.Usage()
		}

		return err
	}

	return nil
}

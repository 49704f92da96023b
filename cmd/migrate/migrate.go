// Package migrate provides the migrate command for schema management.
package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/store"
)

var rollbackN int

// MigrateCmd applies or rolls back schema migrations.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Long: "Apply database schema migrations.\n\n" +
		"Connects to the configured Postgres database and brings the schema to the " +
		"latest version. Migrations also run automatically on serve and worker " +
		"startup; this command exists for operating on the schema directly, " +
		"including rolling back recent migrations with --rollback.",
	Example: `  # Apply all pending migrations
  councilkb migrate

  # Roll back the most recent migration
  councilkb migrate --rollback 1`,
	PreRunE: validateMigrate,
	RunE:    runMigrate,
}

func init() {
	MigrateCmd.Flags().IntVar(&rollbackN, "rollback", 0, "roll back the N most recent migrations instead of applying")
}

func validateMigrate(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if rollbackN < 0 {
		return fmt.Errorf("rollback count must be non-negative; got %d", rollbackN)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	// Open applies pending migrations before returning.
	st, err := store.Open(ctx, settings.DB.ConnString, store.Options{
		EmbeddingDim:    settings.LLM.EmbeddingDimension,
		HNSWM:           settings.DB.HNSWM,
		HNSWEfConstruct: settings.DB.HNSWEfConstruct,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	if rollbackN > 0 {
		if err := st.Rollback(ctx, rollbackN); err != nil {
			return err
		}
	}

	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
	return nil
}

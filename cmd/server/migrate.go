package main

import (
	"context"
	"fmt"
	"io"

	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	for _, sub := range []struct{ use, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the most recent migration"},
		{"status", "Show which migrations are applied"},
		{"version", "Print the current schema version"},
	} {
		command := sub.use
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigration(cmd.Context(), opts, command)
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "files",
		Short: "List the migrations embedded in this binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printMigrationFiles(cmd.OutOrStdout())
		},
	})
	return cmd
}

func runMigration(ctx context.Context, opts *rootOptions, command string) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations need the postgres driver, configured driver is %q", cfg.Database.Driver)
	}

	db, err := postgres.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return postgres.Migrate(ctx, db, command, log)
}

func printMigrationFiles(out io.Writer) error {
	files, err := postgres.MigrationFiles()
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, f := range files {
		if _, err := fmt.Fprintln(out, f); err != nil {
			return err
		}
	}
	return nil
}

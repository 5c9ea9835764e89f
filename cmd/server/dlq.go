package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/platform/postgres"
	"github.com/phrazzld/personasim/internal/redact"
	"github.com/phrazzld/personasim/internal/task"
	"github.com/spf13/cobra"
)

// maxErrorWidth truncates last errors in the dead-letter listing.
const maxErrorWidth = 80

func newDLQCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and requeue dead-lettered tasks",
	}

	var (
		taskType string
		limit    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTaskStore(cmd.Context(), opts, func(store task.TaskStore) error {
				return listDeadLetters(cmd.Context(), cmd.OutOrStdout(), store, taskType, limit)
			})
		},
	}
	list.Flags().StringVar(&taskType, "type", "", "only list tasks of this type")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks to list")

	requeue := &cobra.Command{
		Use:   "requeue <task-id>...",
		Short: "Move dead-lettered tasks back to their queues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskStore(cmd.Context(), opts, func(store task.TaskStore) error {
				return requeueDeadLetters(cmd.Context(), cmd.OutOrStdout(), store, args)
			})
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

// withTaskStore opens the shared task store. Dead letters only outlive a
// process with the postgres driver.
func withTaskStore(ctx context.Context, opts *rootOptions, fn func(task.TaskStore) error) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("dead letters are only persisted with the postgres driver, configured driver is %q", cfg.Database.Driver)
	}

	db, err := postgres.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return fn(postgres.NewPostgresTaskStore(db, log))
}

func listDeadLetters(ctx context.Context, out io.Writer, store task.TaskStore, taskType string, limit int) error {
	tasks, err := store.ListDeadLettered(ctx, taskType, limit)
	if err != nil {
		return fmt.Errorf("failed to list dead-lettered tasks: %w", err)
	}
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(out, "no dead-lettered tasks")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tATTEMPTS\tUPDATED\tLAST ERROR")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			t.ID, t.Type, t.Attempts, t.MaxAttempts,
			t.UpdatedAt.UTC().Format(time.RFC3339),
			truncate(redact.String(t.LastError), maxErrorWidth))
	}
	return tw.Flush()
}

func requeueDeadLetters(ctx context.Context, out io.Writer, store task.TaskStore, ids []string) error {
	var errs []error
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%q is not a task ID", raw))
			continue
		}
		if err := store.Requeue(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("requeue %s: %w", id, err))
			continue
		}
		fmt.Fprintf(out, "requeued %s\n", id)
	}
	return errors.Join(errs...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

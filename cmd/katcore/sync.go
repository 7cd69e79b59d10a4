package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/models"
	"github.com/katlab/katcore/internal/services"
	syncpkg "github.com/katlab/katcore/internal/sync"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replicate sessions to the collection server",
	}
	cmd.AddCommand(
		newSyncQueueCmd(opts),
		newSyncNowCmd(opts),
		newSyncResetCmd(opts),
		newSyncTestCmd(opts),
		newSyncStatusCmd(opts),
	)
	return cmd
}

func newSyncQueueCmd(opts *rootOptions) *cobra.Command {
	var now bool

	cmd := &cobra.Command{
		Use:   "queue [session-id]",
		Short: "Queue a session for replication (default: the current session)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				var res *syncpkg.QueueResult
				if len(args) == 0 {
					var err error
					if res, err = c.QueueCurrentSession(ctx, now); err != nil {
						return err
					}
				} else {
					item, err := c.Enqueue(ctx, args[0])
					if err != nil {
						return err
					}
					res = &syncpkg.QueueResult{Queued: true, SessionID: item.SessionID}
					if now {
						if res.Batch, err = c.SyncNow(ctx); err != nil {
							return err
						}
					}
				}

				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued session %s\n", res.SessionID)
				if res.Batch != nil {
					printBatch(cmd.OutOrStdout(), res.Batch)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "Run a sync batch right away")
	return cmd
}

func newSyncNowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Replicate every pending session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				res, err := c.SyncNow(ctx)
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				printBatch(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func newSyncResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Move failed sessions back to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				n, err := c.ResetFailed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed items\n", n)
				return nil
			})
		},
	}
}

func newSyncTestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check the server URL and token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				res, err := c.TestConnection(ctx)
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d documents)\n", res.Message, res.DocCount)
				return nil
			})
		},
	}
}

type syncStatusOutput struct {
	*syncpkg.Status
	Queue []*models.SyncQueueItem `json:"queue"`
}

func newSyncStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show replication state and the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				status, err := c.SyncStatus(ctx)
				if err != nil {
					return err
				}
				items, err := c.SyncQueue(ctx)
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), syncStatusOutput{Status: status, Queue: items})
				}

				w := cmd.OutOrStdout()
				writeFields(w, [][2]interface{}{
					{"Configured", status.Configured},
					{"Auto sync", status.AutoSync},
					{"Pending", status.Pending},
					{"Failed", status.Failed},
				})
				if len(items) == 0 {
					return nil
				}
				t := newTable(w)
				t.AppendHeader(table.Row{"Session", "Status", "Retries", "Queued", "Last error"})
				for _, item := range items {
					queued := item.QueuedAt
					t.AppendRow(table.Row{shortID(item.SessionID), item.Status, item.RetryCount, formatTime(&queued), item.LastError})
				}
				t.Render()
				return nil
			})
		},
	}
}

func printBatch(w io.Writer, res *syncpkg.BatchResult) {
	fmt.Fprintf(w, "Synced %d, failed %d\n", res.Synced, res.Failed)
	if len(res.Errors) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(res.Errors, "\n  "))
	}
}

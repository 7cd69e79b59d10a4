package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/services"
)

func newLibraryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage the reference library",
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Load the reference library, from cache when present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				res, err := c.SyncLibrary(ctx)
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				origin := "source"
				if res.FromCache {
					origin = "cache"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Library %s loaded from %s: %d substances\n", res.Version, origin, res.SubstanceCount)
				return nil
			})
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Describe the loaded reference library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				info := c.LibraryInfo()
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), info)
				}
				writeFields(cmd.OutOrStdout(), [][2]interface{}{
					{"Loaded", info.Loaded},
					{"Ready", info.Ready},
					{"Version", info.Version},
					{"Substances", info.SubstanceCount},
					{"Axis length", info.AxisLength},
				})
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop the cached reference library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				if err := c.ClearLibrary(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Reference library cache cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(syncCmd, infoCmd, clearCmd)
	return cmd
}

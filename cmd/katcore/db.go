package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/services"
)

func newDBCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect the local store",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version of the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				st, err := c.SchemaStatus()
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				writeFields(cmd.OutOrStdout(), [][2]interface{}{
					{"Path", st.Path},
					{"Version", st.Version},
					{"Latest", st.Latest},
					{"Dirty", st.Dirty},
					{"Up to date", st.UpToDate},
					{"Problem", st.Problem},
				})
				return nil
			})
		},
	}

	cmd.AddCommand(statusCmd)
	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/export"
	"github.com/katlab/katcore/internal/services"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		outPath string
		outDir  string
	)

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session to a zip archive",
		Args:  idArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				var (
					res *export.ExportResult
					err error
				)
				if outPath != "" {
					res, err = c.ExportSessionTo(ctx, args[0], outPath)
				} else {
					res, err = c.ExportSession(ctx, args[0], outDir)
				}
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d acquisitions to %s (%d bytes, sha256 %s)\n",
					res.AcquisitionCount, res.FilePath, res.SizeBytes, res.Checksum)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Archive path")
	cmd.Flags().StringVar(&outDir, "dir", ".", "Directory for an archive named after the event and date")
	cmd.MarkFlagsMutuallyExclusive("out", "dir")
	return cmd
}

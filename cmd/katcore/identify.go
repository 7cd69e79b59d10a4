package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/analysis"
	"github.com/katlab/katcore/internal/services"
)

func newIdentifyCmd(opts *rootOptions) *cobra.Command {
	var (
		filePath string
		topK     int
	)

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Rank a preprocessed spectrum against the reference library",
		Long:  "Reads a JSON array of intensities sampled on the library axis from --file or stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd, filePath)
			if err != nil {
				return err
			}
			var query []float64
			if err := json.Unmarshal(data, &query); err != nil {
				return fmt.Errorf("decode spectrum: %w", err)
			}

			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				matches, err := c.Identify(query, topK)
				if err != nil {
					return err
				}
				if !c.LibraryInfo().Ready {
					fmt.Fprintln(cmd.ErrOrStderr(), "Reference library not ready; matching is disabled.")
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), matches)
				}

				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Rank", "Substance", "Score", "Cosine", "Pearson"})
				for _, m := range matches {
					t.AppendRow(table.Row{m.Rank, m.Substance, formatScore(m.Score), formatScore(m.CosineScore), formatScore(m.PearsonScore)})
				}
				t.Render()
				if len(matches) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Confidence: %s\n", analysis.ConfidenceLevel(matches[0].Score))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Read the spectrum from file instead of stdin")
	cmd.Flags().IntVar(&topK, "top", 0, "Number of matches (default: identify.top_k)")
	return cmd
}

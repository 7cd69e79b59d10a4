package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/models"
	"github.com/katlab/katcore/internal/services"
)

func newAcquisitionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "acquisition",
		Aliases: []string{"acq"},
		Short:   "Store and inspect acquisitions",
	}
	cmd.AddCommand(
		newAcquisitionAddCmd(opts),
		newAcquisitionListCmd(opts),
		newAcquisitionDeleteCmd(opts),
		newAcquisitionFileCmd(opts),
	)
	return cmd
}

func newAcquisitionAddCmd(opts *rootOptions) *cobra.Command {
	var (
		sessionID string
		filePath  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Identify a capture result and store it",
		Long: "Reads a capture result as JSON (timestamp, spectrum, preprocessed_spectrum,\n" +
			"laser_wavelength, detection_mode, csv and base64 photo/plots) from --file or stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd, filePath)
			if err != nil {
				return err
			}
			var capture services.CaptureResult
			if err := json.Unmarshal(data, &capture); err != nil {
				return fmt.Errorf("decode capture result: %w", err)
			}

			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				res, err := c.AddAcquisition(ctx, sessionID, capture)
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), res)
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Stored acquisition %s in session %s\n", res.Acquisition.ID, res.Acquisition.SessionID)
				if top, ok := res.Acquisition.TopMatch(); ok {
					fmt.Fprintf(w, "Top match: %s (%s, %s confidence)\n", top.Substance, formatScore(top.Score), res.Confidence)
				} else {
					fmt.Fprintln(w, "Not identified")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: the current session)")
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Read the capture result from file instead of stdin")
	return cmd
}

func newAcquisitionListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List the acquisitions of a session in capture order",
		Args:  idArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				acqs, err := c.ListAcquisitions(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), acqs)
				}
				printAcquisitions(cmd.OutOrStdout(), acqs)
				return nil
			})
		},
	}
}

func newAcquisitionDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <acquisition-id>",
		Short: "Delete an acquisition and its files",
		Args:  idArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				return c.DeleteAcquisition(ctx, args[0])
			})
		},
	}
}

func newAcquisitionFileCmd(opts *rootOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "file <file-id>",
		Short: "Write a stored photo or plot to disk",
		Args:  idArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				f, err := c.GetFile(ctx, args[0])
				if err != nil {
					return err
				}
				if outPath == "" || outPath == "-" {
					_, err = cmd.OutOrStdout().Write(f.Data)
					return err
				}
				return os.WriteFile(outPath, f.Data, 0644)
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output path (default: stdout)")
	return cmd
}

func printAcquisitions(w io.Writer, acqs []*models.Acquisition) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "ID", "Timestamp", "Mode", "Top match", "Score", "Files"})
	for i, a := range acqs {
		match, score := "-", "-"
		if top, ok := a.TopMatch(); ok {
			match, score = top.Substance, formatScore(top.Score)
		}
		roles := make([]string, 0, len(a.FileIDs))
		for _, role := range models.AcquisitionRoles {
			if _, ok := a.FileIDs[role]; ok {
				roles = append(roles, string(role))
			}
		}
		t.AppendRow(table.Row{i + 1, shortID(a.ID), a.Timestamp, a.DetectionMode, match, score, strings.Join(roles, ",")})
	}
	t.Render()
}

// readInput reads filePath, or stdin when filePath is empty or "-".
func readInput(cmd *cobra.Command, filePath string) ([]byte, error) {
	if filePath != "" && filePath != "-" {
		return os.ReadFile(filePath)
	}
	return io.ReadAll(cmd.InOrStdin())
}

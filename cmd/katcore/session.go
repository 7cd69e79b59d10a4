package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/models"
	"github.com/katlab/katcore/internal/services"
)

func newSessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage test sessions",
	}
	cmd.AddCommand(
		newSessionNewCmd(opts),
		newSessionCurrentCmd(opts),
		newSessionListCmd(opts),
		newSessionShowCmd(opts),
		newSessionUpdateCmd(opts),
		newSessionDeleteCmd(opts),
		newSessionPhotoCmd(opts),
	)
	return cmd
}

// sessionFlags binds the editable session fields.
type sessionFlags struct {
	event                string
	substance            string
	appearance           string
	customAppearance     string
	substanceDescription string
	notes                string
}

func (f *sessionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.event, "event", "", "Event or venue")
	cmd.Flags().StringVar(&f.substance, "substance", "", "Substance as sold")
	cmd.Flags().StringVar(&f.appearance, "appearance", "", "Appearance: pill, powder, crystal, liquid or other")
	cmd.Flags().StringVar(&f.customAppearance, "custom-appearance", "", "Appearance when --appearance is other")
	cmd.Flags().StringVar(&f.substanceDescription, "description", "", "Free-form description of the sample")
	cmd.Flags().StringVar(&f.notes, "notes", "", "Notes")
}

func (f *sessionFlags) input() models.SessionInput {
	return models.SessionInput{
		Event:                f.event,
		Substance:            f.substance,
		Appearance:           f.appearance,
		CustomAppearance:     f.customAppearance,
		SubstanceDescription: f.substanceDescription,
		Notes:                f.notes,
	}
}

// update returns a patch holding only the flags set on the command line.
func (f *sessionFlags) update(cmd *cobra.Command) models.SessionUpdate {
	var u models.SessionUpdate
	set := func(name string, dst **string, v string) {
		if cmd.Flags().Changed(name) {
			value := v
			*dst = &value
		}
	}
	set("event", &u.Event, f.event)
	set("substance", &u.Substance, f.substance)
	set("appearance", &u.Appearance, f.appearance)
	set("custom-appearance", &u.CustomAppearance, f.customAppearance)
	set("description", &u.SubstanceDescription, f.substanceDescription)
	set("notes", &u.Notes, f.notes)
	return u
}

func newSessionNewCmd(opts *rootOptions) *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new test session and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				s, err := c.NewTest(ctx, flags.input())
				if err != nil {
					return err
				}
				return printSession(cmd, opts, s, nil)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newSessionCurrentCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the current session, creating one if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				s, err := c.CurrentSession(ctx)
				if err != nil {
					return err
				}
				acqs, err := c.ListAcquisitions(ctx, s.ID)
				if err != nil {
					return err
				}
				return printSession(cmd, opts, s, acqs)
			})
		},
	}
}

func newSessionListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				sessions, err := c.ListSessions(ctx)
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), sessions)
				}

				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"ID", "", "Event", "Substance", "Appearance", "Acq", "Created", "Synced"})
				for _, s := range sessions {
					current := ""
					if s.IsCurrent {
						current = "*"
					}
					created := s.CreatedAt
					t.AppendRow(table.Row{
						shortID(s.ID), current, s.Event, s.Substance, s.DisplayAppearance(),
						len(s.AcquisitionIDs), formatTime(&created), formatTime(s.SyncedAt),
					})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newSessionShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its acquisitions",
		Args:  idArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				s, err := c.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				acqs, err := c.ListAcquisitions(ctx, s.ID)
				if err != nil {
					return err
				}
				return printSession(cmd, opts, s, acqs)
			})
		},
	}
}

func newSessionUpdateCmd(opts *rootOptions) *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "update <session-id>",
		Short: "Edit session metadata",
		Args:  idArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := flags.update(cmd)
			if u.IsEmpty() {
				return fmt.Errorf("nothing to update")
			}
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				s, err := c.UpdateSession(ctx, args[0], u)
				if err != nil {
					return err
				}
				return printSession(cmd, opts, s, nil)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newSessionDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its acquisitions and files",
		Args:  idArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				if err := c.DeleteSession(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionPhotoCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photo",
		Short: "Manage the substance photo of a session",
	}

	setCmd := &cobra.Command{
		Use:   "set <session-id> <image-file>",
		Short: "Store or replace the substance photo",
		Args:  idArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				f, err := c.SetSubstancePhoto(ctx, args[0], data, "")
				if err != nil {
					return err
				}
				if opts.json() {
					return writeJSON(cmd.OutOrStdout(), f)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s, %d bytes)\n", f.ID, f.MimeType, f.Size)
				return nil
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <session-id>",
		Short: "Delete the substance photo",
		Args:  idArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				return c.RemoveSubstancePhoto(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(setCmd, removeCmd)
	return cmd
}

type sessionDetail struct {
	*models.Session
	Acquisitions []*models.Acquisition `json:"acquisitions,omitempty"`
}

func printSession(cmd *cobra.Command, opts *rootOptions, s *models.Session, acqs []*models.Acquisition) error {
	w := cmd.OutOrStdout()
	if opts.json() {
		return writeJSON(w, sessionDetail{Session: s, Acquisitions: acqs})
	}

	created := s.CreatedAt
	writeFields(w, [][2]interface{}{
		{"ID", s.ID},
		{"Event", s.Event},
		{"Substance", s.Substance},
		{"Appearance", s.DisplayAppearance()},
		{"Description", s.SubstanceDescription},
		{"Notes", s.Notes},
		{"Created", formatTime(&created)},
		{"Synced", formatTime(s.SyncedAt)},
		{"Current", s.IsCurrent},
		{"Acquisitions", len(s.AcquisitionIDs)},
		{"Substance photo", s.SubstancePhotoID != ""},
	})
	if len(acqs) > 0 {
		printAcquisitions(w, acqs)
	}
	return nil
}

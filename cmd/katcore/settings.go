package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/katlab/katcore/internal/models"
	"github.com/katlab/katcore/internal/services"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "View and change application settings",
	}
	cmd.AddCommand(newSettingsShowCmd(opts), newSettingsSetCmd(opts), newSettingsTokenCmd(opts))
	return cmd
}

func newSettingsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show settings with the sync token masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				s, err := c.Settings(ctx)
				if err != nil {
					return err
				}
				return printSettings(cmd, opts, s)
			})
		},
	}
}

func newSettingsSetCmd(opts *rootOptions) *cobra.Command {
	var (
		theme           string
		serverURL       string
		autoSync        bool
		shutter         float64
		gain            float64
		laserAutoDetect bool
		laserWavelength float64
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change individual settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			var u models.SettingsUpdate
			camera := &models.CameraSettingsUpdate{}
			cameraChanged := false

			if flags.Changed("theme") {
				u.Theme = &theme
			}
			if flags.Changed("server-url") {
				u.SyncServerURL = &serverURL
			}
			if flags.Changed("auto-sync") {
				u.AutoSync = &autoSync
			}
			if flags.Changed("shutter") {
				camera.Shutter, cameraChanged = &shutter, true
			}
			if flags.Changed("gain") {
				camera.Gain, cameraChanged = &gain, true
			}
			if flags.Changed("laser-auto-detect") {
				camera.LaserAutoDetect, cameraChanged = &laserAutoDetect, true
			}
			if flags.Changed("laser-wavelength") {
				camera.LaserWavelength, cameraChanged = &laserWavelength, true
			}
			if cameraChanged {
				u.Camera = camera
			}
			if u == (models.SettingsUpdate{}) {
				return fmt.Errorf("nothing to update")
			}

			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				s, err := c.UpdateSettings(ctx, u)
				if err != nil {
					return err
				}
				return printSettings(cmd, opts, s)
			})
		},
	}

	cmd.Flags().StringVar(&theme, "theme", "", "UI theme")
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Collection server base URL (empty to clear)")
	cmd.Flags().BoolVar(&autoSync, "auto-sync", false, "Replicate queued sessions in the background")
	cmd.Flags().Float64Var(&shutter, "shutter", 0, "Camera shutter in seconds")
	cmd.Flags().Float64Var(&gain, "gain", 0, "Camera gain")
	cmd.Flags().BoolVar(&laserAutoDetect, "laser-auto-detect", true, "Detect the laser wavelength from the spectrum")
	cmd.Flags().Float64Var(&laserWavelength, "laser-wavelength", 0, "Laser wavelength in nm")
	return cmd
}

func newSettingsTokenCmd(opts *rootOptions) *cobra.Command {
	var clearToken bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Set the sync token",
		Long:  "Prompts for the token without echo on a terminal, otherwise reads one line from stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token := ""
			if !clearToken {
				var err error
				if token, err = promptToken(cmd); err != nil {
					return err
				}
				if token == "" {
					return fmt.Errorf("empty token (use --clear to remove it)")
				}
			}

			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				s, err := c.UpdateSettings(ctx, models.SettingsUpdate{SyncToken: &token})
				if err != nil {
					return err
				}
				if s.SyncToken == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "Sync token cleared")
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Sync token set (%s)\n", s.MaskedToken())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearToken, "clear", false, "Remove the stored token")
	return cmd
}

func promptToken(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && isTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Sync token: ")
		b, err := readPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func printSettings(cmd *cobra.Command, opts *rootOptions, s models.Settings) error {
	r := s.Redacted()
	if opts.json() {
		return writeJSON(cmd.OutOrStdout(), r)
	}
	writeFields(cmd.OutOrStdout(), [][2]interface{}{
		{"Theme", r.Theme},
		{"Sync server", r.SyncServerURL},
		{"Sync token", r.SyncToken},
		{"Auto sync", r.AutoSync},
		{"Shutter", r.Camera.Shutter},
		{"Gain", r.Camera.Gain},
		{"Laser auto-detect", r.Camera.LaserAutoDetect},
		{"Laser wavelength", r.Camera.LaserWavelength},
	})
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/config"
	"github.com/katlab/katcore/internal/logging"
	"github.com/katlab/katcore/internal/services"
	"github.com/katlab/katcore/internal/uuid"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	format     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "katcore",
		Short:        "Offline store and sync for KAT spectroscopy sessions",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.format {
			case formatTable, formatJSON:
				return nil
			default:
				return fmt.Errorf("invalid format: %s (valid values: table, json)", opts.format)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.DefaultPath(), "Config file")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Override the data directory")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override the log level: debug, info, warn or error")
	flags.StringVar(&opts.format, "format", formatTable, "Output format: table or json")

	cmd.AddCommand(
		newConfigCmd(opts),
		newSessionCmd(opts),
		newAcquisitionCmd(opts),
		newIdentifyCmd(opts),
		newLibraryCmd(opts),
		newSettingsCmd(opts),
		newSyncCmd(opts),
		newExportCmd(opts),
		newDaemonCmd(opts),
		newDBCmd(opts),
	)
	return cmd
}

// loadConfig reads the config file and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// run opens the core for the duration of one command.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, c *services.Core) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	logging.Init(cmd.ErrOrStderr(), logging.ParseLevel(cfg.LogLevel))
	defer logging.Get().Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := services.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()
	return fn(ctx, c)
}

func (o *rootOptions) json() bool {
	return o.format == formatJSON
}

// idArgs requires exactly n arguments, the first of which is a record id.
func idArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return err
		}
		return uuid.Validate(args[0])
	}
}

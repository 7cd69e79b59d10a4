package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katlab/katcore/internal/logging"
	"github.com/katlab/katcore/internal/services"
)

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run background replication until interrupted",
		Long: "Runs the sync scheduler and the connectivity probe. A foreground signal\n" +
			"(SIGUSR1 where supported) requests an immediate sync batch.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, c *services.Core) error {
				return runDaemon(ctx, c)
			})
		},
	}
}

func runDaemon(ctx context.Context, c *services.Core) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	foreground := make(chan os.Signal, 1)
	if sigs := foregroundSignals(); len(sigs) > 0 {
		signal.Notify(foreground, sigs...)
		defer signal.Stop(foreground)
	}

	c.StartBackgroundSync(ctx)
	logging.Info("Background sync running")

	for {
		select {
		case sig := <-stop:
			logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
			c.StopBackgroundSync()
			return nil
		case <-foreground:
			c.NotifyForeground()
		case <-ctx.Done():
			c.StopBackgroundSync()
			return nil
		}
	}
}

package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/managedmac/pkg/actions"
)

// settleDelay lets a burst of selection changes finish before a run.
const settleDelay = 2 * time.Second

func newWatchCommand(version string) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run continuously",
		Long: `Run the ManagedPrinters action at startup, on a fixed interval and
whenever the UserPrinters directory changes. Runs never overlap.

When metrics.listen_address is configured, metrics are served over HTTP
while watching.`,
		Example: `  # Run every hour and on user selection changes
  managedmac watch

  # Run every ten minutes
  managedmac watch --interval 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(ctx); err != nil {
					log.Warn().Err(err).Msg("Shutdown incomplete")
				}
			}()

			if interval <= 0 {
				interval = a.cfg.WatchInterval()
			}
			if err := a.tel.Metrics.StartMetricsServer(ctx); err != nil {
				return err
			}
			return watch(ctx, a, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "time between runs (default from config)")

	return cmd
}

func watch(ctx context.Context, a *app, interval time.Duration) error {
	dir := a.cfg.UserPrintersDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger := a.env.Logger.With().Str("component", "watch").Logger()
	action := actions.NewManagedPrinters(a.env)
	runOnce := func(reason string) {
		logger.Info().Str("reason", reason).Msg("Starting run")
		summary, err := action.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Run reported errors")
		}
		if summary != nil {
			log.Info().Str("status", summary.Status()).Int("items", len(summary.Results)).Msg("Run finished")
		}
		if err := a.tel.Tracer.ForceFlush(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("dir", dir).Dur("interval", interval).Msg("Watching for changes")
	runOnce("startup")

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runOnce("interval")
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("User selection changed")
			settle = time.After(settleDelay)
		case <-settle:
			settle = nil
			runOnce("user selection")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

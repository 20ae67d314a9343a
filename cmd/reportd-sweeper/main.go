// Package main provides the retention sweeper daemon: it prunes expired
// artifacts from local and remote storage on a fixed interval.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/reportd/reportd/pkg/cleanup"
	"github.com/reportd/reportd/pkg/cmd"
	"github.com/reportd/reportd/pkg/log"
	"github.com/reportd/reportd/pkg/storage"
)

const defaultInterval = time.Hour

func main() {
	logger := log.WithModule("sweeper")

	command := &cli.Command{
		Name:                  "reportd-sweeper",
		Usage:                 "Prune expired report artifacts",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "storage-root",
				Usage:   "Root directory of the shared artifact volume",
				Value:   "./artifacts",
				Sources: cli.EnvVars("STORAGE_ROOT"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Time between sweep runs",
				Value:   defaultInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single sweep and exit",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Reportd sweeper")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persist := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persist.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			sweeper := cleanup.NewSweeper(logger, persist, storage.NewLocalBackend(command.String("storage-root")))

			sweep(ctx, logger, sweeper)

			if command.Bool("once") {
				return nil
			}

			ticker := time.NewTicker(command.Duration("interval"))
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					logger.Info("Shutting down sweeper")

					return nil
				case <-ticker.C:
					sweep(ctx, logger, sweeper)
				}
			}
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func sweep(ctx context.Context, logger *slog.Logger, sweeper *cleanup.Sweeper) {
	now := time.Now().UTC()

	run := func(name string, job func(context.Context, time.Time) (*cleanup.Stats, error)) {
		stats, err := job(ctx, now)
		if err != nil {
			logger.ErrorContext(ctx, "Sweep job failed", "job", name, "error", err)

			return
		}

		logger.InfoContext(ctx, "Sweep job finished",
			"job", name,
			"scanned", stats.Scanned,
			"pruned", stats.Pruned,
			"not_found", stats.NotFound,
			"orphaned", stats.Orphaned,
			"failed", stats.Failed,
		)
	}

	run("retention", sweeper.RetentionPurge)
	run("download_expiry", sweeper.DownloadExpiryPurge)
	run("remote_expiry", sweeper.RemoteExpiryPurge)
}

// Package main provides the schedule evaluation daemon: it fires due
// schedules and re-dispatches executions whose retry backoff elapsed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/reportd/reportd/pkg/cmd"
	"github.com/reportd/reportd/pkg/dispatch"
	"github.com/reportd/reportd/pkg/log"
	"github.com/reportd/reportd/pkg/queue"
	"github.com/reportd/reportd/pkg/scheduler"
)

func main() {
	logger := log.WithModule("scheduler")

	command := &cli.Command{
		Name:                  "reportd-scheduler",
		Usage:                 "Evaluate schedules and dispatch due executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the execution queue",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password for the execution queue",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
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

			logger.InfoContext(ctx, "Initializing Reportd scheduler")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persist := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persist.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			jobQueue, err := queue.NewQueue(ctx, logger, queue.Config{
				Addr:     command.String("redis-addr"),
				Password: command.String("redis-password"),
			})
			if err != nil {
				return err
			}

			defer func() {
				if err := jobQueue.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close queue", "error", err)
				}
			}()

			dispatcher := dispatch.NewDispatcher(logger, persist, jobQueue)
			sched := scheduler.NewScheduler(logger, persist, dispatcher)

			err = sched.Start(ctx)
			if err != nil {
				return err
			}

			// Retry sweep shares the scheduler's cadence but runs on its
			// own ticker so slow sweeps never delay schedule firing.
			go func() {
				ticker := time.NewTicker(time.Minute)
				defer ticker.Stop()

				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						_, err := sched.RetrySweep(ctx, time.Now().UTC())
						if err != nil {
							logger.ErrorContext(ctx, "Retry sweep failed", "error", err)
						}
					}
				}
			}()

			<-ctx.Done()

			logger.Info("Shutting down scheduler")

			return sched.Stop(context.Background())
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"discowatch/internal/app"
	"discowatch/internal/models"
	"discowatch/internal/services"
	"discowatch/internal/worker"
)

var workerConcurrency int

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background status check worker",
	Long: `Starts the Asynq worker process that runs the poll cycles of watches queued with
--async (or "async": true over the API). Requires redis.address.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}
		if err := appInstance.Config.RequireRedis(); err != nil {
			return err
		}

		if err := runWorker(appInstance); err != nil {
			log.WithError(err).Error("worker exited with error")
			return err
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Number of concurrent cycles (default from config)")
	rootCmd.AddCommand(workerCmd)
}

// runWorker initializes and runs the Asynq worker server.
func runWorker(appInstance *app.App) error {
	cfg := appInstance.Config
	concurrency := cfg.Worker.Concurrency
	if workerConcurrency > 0 {
		concurrency = workerConcurrency
	}

	srv := asynq.NewServer(
		appInstance.RedisOpt(),
		asynq.Config{
			Concurrency: concurrency,
			Queues:      cfg.Worker.Queues,
			Logger:      appInstance.Logger,
			LogLevel:    asynqLogLevel(appInstance.Logger.GetLevel()),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				appInstance.Logger.WithFields(log.Fields{
					"task_id": taskID,
					"type":    task.Type(),
					"payload": string(task.Payload()),
				}).WithError(err).Error("asynq task failed")
			}),
			// Failed status requests are retried one poll interval later.
			RetryDelayFunc: worker.RetryDelay,
		},
	)

	mux := asynq.NewServeMux()
	mux.Use(func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			return next.ProcessTask(services.WithCheckSource(ctx, models.CheckSourceWorker), t)
		})
	})
	worker.RegisterHandlers(mux, worker.StatusCheckDeps{
		Checker:   appInstance.WatchService,
		Watches:   appInstance.History,
		JobClient: appInstance.JobClient,
		Logger:    appInstance.Logger,
	})

	appInstance.Logger.Infof("Starting Asynq worker server (Concurrency: %d, Queues: %v)...", concurrency, cfg.Worker.Queues)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start Asynq server: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	appInstance.Logger.Info("Shutdown signal received. Initiating graceful shutdown...")
	srv.Stop()
	srv.Shutdown()

	appInstance.Logger.Info("Worker shutdown complete.")
	return nil
}

func asynqLogLevel(l log.Level) asynq.LogLevel {
	switch {
	case l >= log.DebugLevel:
		return asynq.DebugLevel
	case l == log.InfoLevel:
		return asynq.InfoLevel
	case l == log.WarnLevel:
		return asynq.WarnLevel
	case l == log.ErrorLevel:
		return asynq.ErrorLevel
	default:
		return asynq.FatalLevel
	}
}

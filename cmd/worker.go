package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streed/project-notes/internal/jobs"
	"github.com/streed/project-notes/internal/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run embedding workers against the configured queue",
	Long: `Consume embed jobs from the configured queue until interrupted.

Use this with the redis or amqp queue backends to embed notes outside the
API process. With the redis backend, jobs left in flight by a crashed
worker are moved back onto the queue at startup.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if inProcessQueue() {
		return fmt.Errorf("the memory queue cannot be shared between processes; set queue-backend to redis or amqp, or use 'serve'")
	}

	svc, err := openServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rq, ok := svc.Queue.(*jobs.RedisQueue); ok {
		recovered, err := rq.Recover(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover in-flight jobs: %w", err)
		}
		if recovered > 0 {
			logger.Info("Requeued %d in-flight jobs", recovered)
		}
		logDepth(ctx, rq)
	}

	logger.Info("Worker consuming %s queue %q", appConfig.QueueBackend, appConfig.QueueName)
	if err := svc.NewWorker().Run(ctx); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	logger.Info("Worker stopped")
	return nil
}

func logDepth(ctx context.Context, rq *jobs.RedisQueue) {
	waiting, processing, dead, err := rq.Depth(ctx)
	if err != nil {
		logger.Warn("Could not read queue depth: %v", err)
		return
	}
	logger.Info("Queue depth: %d waiting, %d processing, %d dead", waiting, processing, dead)
}

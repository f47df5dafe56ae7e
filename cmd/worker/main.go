package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"beaconattend/internal/app"
	"beaconattend/internal/config"
	"beaconattend/internal/export"
)

// Worker consumes export jobs from the shared Redis queue and expires
// sessions whose window has passed.
func main() {
	cfg := config.Load()
	sweep := pflag.Bool("sweep", true, "periodically persist expired sessions")
	exports := pflag.Bool("exports", true, "consume export jobs")
	pflag.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "interval between session sweeps")
	pflag.Parse()

	logger := app.NewLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *exports && cfg.QueueBackend != "redis" {
		logger.Warn("QUEUE_BACKEND is not redis; this worker cannot see jobs queued by the API")
	}

	stack, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("wire services", zap.Error(err))
	}
	defer stack.Close()

	if *sweep {
		sweeper := app.NewSweeper(stack.Sessions, cfg.SweepInterval, logger.Named("sweeper"))
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	if *exports {
		worker := export.NewWorker(stack.Queue, stack.Exports, logger.Named("export"))
		if err := worker.Run(ctx); err != nil {
			logger.Error("export worker failed", zap.Error(err))
		}
		return
	}
	<-ctx.Done()
	logger.Info("worker stopped")
}

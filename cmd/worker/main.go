// Package main runs the background worker: notification delivery and, when configured,
// in-process scheduler ticks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jidokhae/backend/config"
	"github.com/jidokhae/backend/internal/app"
	"github.com/jidokhae/backend/internal/worker"
)

func main() {
	logger := app.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	processor := worker.NewNotificationProcessor(a.Notifications, a.Queue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	if cfg.Worker.TickInterval > 0 {
		go worker.RunEvery(workerCtx, cfg.Worker.TickInterval, logger, func(ctx context.Context, now time.Time) {
			a.Scheduler.Tick(ctx, now)
		})
		logger.Info("scheduler ticks enabled", zap.Duration("interval", cfg.Worker.TickInterval))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

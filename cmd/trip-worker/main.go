package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/BearBump/SafeArrival/config"
	"github.com/BearBump/SafeArrival/internal/bootstrap"
	"github.com/BearBump/SafeArrival/internal/services/tracker"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse failed: %v", err))
	}
	slog.SetDefault(bootstrap.NewLogger(cfg.Log.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var manager atomic.Pointer[tracker.Manager]
	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.SafeArrival.WorkerHTTPAddr,
			swaggerPath: os.Getenv("workerSwaggerPath"),
			manager:     &manager,
			cfg:         cfg,
		})
		if err != nil {
			slog.Error("worker HTTP stopped", "error", err.Error())
		}
	}()

	err = RunTripWorker(ctx, cfg, defaultWorkerFactories(), manager.Store)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("trip-worker stopped", "error", err.Error())
		os.Exit(1)
	}
}

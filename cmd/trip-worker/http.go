package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/BearBump/SafeArrival/config"
	"github.com/BearBump/SafeArrival/internal/api/middleware"
	"github.com/BearBump/SafeArrival/internal/bootstrap"
	"github.com/BearBump/SafeArrival/internal/services/tracker"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	manager *atomic.Pointer[tracker.Manager]
	cfg     *config.Config
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newWorkerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewSlogLogger(slog.Default()))

	manager := func() *tracker.Manager {
		if opts.manager == nil {
			return nil
		}
		return opts.manager.Load()
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if manager() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		m := manager()
		if m == nil {
			writeJSON(w, map[string]string{"error": "manager not wired"})
			return
		}
		writeJSON(w, m.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, map[string]string{"error": "config not wired"})
			return
		}
		// Operational settings only; no secrets.
		sa := opts.cfg.SafeArrival
		writeJSON(w, map[string]any{
			"storeDriver":   bootstrap.New(opts.cfg).StoreDriver(),
			"eventSource":   eventSource(opts.cfg),
			"resyncSeconds": sa.WorkerResyncSeconds,
			"batchSize":     sa.WorkerBatchSize,
			"concurrency":   sa.WorkerConcurrency,
			"tickMillis":    sa.WorkerTickMillis,
			"pingSeconds":   sa.WorkerPingSeconds,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		m := manager()
		if m == nil {
			writeJSON(w, map[string]string{"error": "manager not wired"})
			return
		}
		m.Trigger()
		writeJSON(w, map[string]bool{"triggered": true})
	})

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	return r
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newWorkerRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("worker HTTP listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

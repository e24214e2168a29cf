// Package main is the entry point for the pagegen worker.
// The worker consumes page messages, generates content and records the outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pagegen/internal/app"
	"pagegen/internal/config"
	"pagegen/internal/logger"
	"pagegen/internal/observability"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (optional, environment is always read)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Queue.Driver == config.DriverMemory {
		log.Fatalf("queue.driver memory cannot be consumed by a separate worker, run the controller with -with-worker")
	}
	lg := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg, false, lg)
	if err != nil {
		lg.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	q, err := app.OpenQueue(ctx, cfg, st, lg)
	if err != nil {
		lg.Error("failed to open queue", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	// Tracing
	if cfg.TracingEnabled {
		shutdownTracer, err := observability.InitTracer(ctx, "pagegen-worker", cfg.OTELEndpoint)
		if err != nil {
			lg.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				lg.Warn("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics("pagegen-worker")
	if err != nil {
		lg.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			lg.Warn("failed to shutdown metrics", "error", err)
		}
	}()
	metrics, err := observability.NewPipeline()
	if err != nil {
		lg.Error("failed to create pipeline metrics", "error", err)
		os.Exit(1)
	}

	fin := app.NewFinalizer(cfg, st, metrics, lg)
	agent := app.NewAgent(cfg, st, q.NewReceiver(ctx), app.NewGenerator(cfg, lg), fin, metrics, lg)

	lg.Info("worker started", "concurrency", cfg.Worker.Concurrency)
	go agent.Run(ctx)

	// Start a dedicated metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		lg.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down worker, draining in-flight pages")

	<-agent.Done()
	fin.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)
}

// Package main is the entry point for the pagegen controller.
// It serves the job API, runs the sweeper and, with -with-worker, an in-process worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pagegen/internal/app"
	"pagegen/internal/config"
	"pagegen/internal/controller"
	"pagegen/internal/controller/handlers"
	"pagegen/internal/logger"
	"pagegen/internal/observability"
	"pagegen/internal/orchestrator"
	"pagegen/internal/sweeper"
	"pagegen/internal/worker"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (optional, environment is always read)")
	withWorker := flag.Bool("with-worker", false, "Run a page worker in this process (required for queue.driver=memory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	lg := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store and queue
	st, err := app.OpenStore(ctx, cfg, *migrateFlag, lg)
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
		shutdownTracer, err := observability.InitTracer(ctx, "pagegen-controller", cfg.OTELEndpoint)
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
	metricsHandler, shutdownMetrics, err := observability.InitMetrics("pagegen-controller")
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
	if q.Depth != nil {
		if err := metrics.ObserveQueueDepth(q.Depth); err != nil {
			lg.Warn("failed to register queue depth metric", "error", err)
		}
	}

	orch := orchestrator.New(st, q.Publisher, metrics, orchestrator.WithLogger(lg))
	fin := app.NewFinalizer(cfg, st, metrics, lg)

	// Sweeper, leader-locked through Redis when configured
	var locker sweeper.Locker = sweeper.LocalLocker{}
	var redisPing handlers.ReadinessCheck
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locker = sweeper.NewRedisLocker(rdb)
		redisPing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	sw := sweeper.New(st, orch.Dispatcher(), fin, locker, sweeper.Config{
		Interval:        cfg.Sweeper.Interval,
		ClaimStaleAfter: cfg.ClaimStaleAfter,
		RedispatchAfter: cfg.Sweeper.RedispatchAfter,
		ReconcileGrace:  cfg.Sweeper.ReconcileGrace,
		BatchSize:       cfg.Sweeper.BatchSize,
	}, metrics, lg)
	go sw.Run(ctx)

	var agent *worker.Agent
	if *withWorker {
		agent = app.NewAgent(cfg, st, q.NewReceiver(ctx), app.NewGenerator(cfg, lg), fin, metrics, lg)
		go agent.Run(ctx)
		lg.Info("in-process worker started", "concurrency", cfg.Worker.Concurrency)
	} else if cfg.Queue.Driver == config.DriverMemory {
		lg.Warn("memory queue without -with-worker, dispatched pages will never be processed")
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	h := handlers.New(orch, st, lg)
	if q.Depth != nil {
		h.AddReadinessCheck("queue", func(ctx context.Context) error {
			_, err := q.Depth(ctx)
			return err
		})
	}
	if redisPing != nil {
		h.AddReadinessCheck("redis", redisPing)
	}
	srv := controller.New(addr, h, metricsHandler, lg)

	lg.Info("pagegen controller starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		lg.Error("server stopped", "error", err)
	}

	lg.Info("shutting down controller")
	stop()
	if agent != nil {
		<-agent.Done()
	}
	fin.Wait()
	lg.Info("controller exited properly")
}

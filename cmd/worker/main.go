package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cardexport/internal/app"
	"cardexport/internal/config"
	"cardexport/internal/logging"
	"cardexport/internal/metrics"
	"cardexport/internal/worker"
)

// Worker consumes export jobs from redis, renders them and stores the artifacts.
func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env).Named("worker")
	defer func() { _ = log.Sync() }()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory runs jobs inside the api process; the standalone worker needs redis")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pipeline := app.NewPipeline(cfg, log, m)
	defer pipeline.Close()

	bp, err := app.NewBackplane(cfg, log)
	if err != nil {
		log.Fatal("backplane init failed", zap.Error(err))
	}
	defer bp.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if !bp.Redis.Healthy(pingCtx) {
		log.Warn("redis not reachable yet, will keep retrying", zap.String("addr", cfg.RedisAddr))
	}
	cancel()

	arts, err := app.NewArtifacts(cfg, log)
	if err != nil {
		log.Fatal("artifact store init failed", zap.Error(err))
	}
	go app.SweepArtifacts(ctx, arts, cfg.JobTTL, 0, log.Named("sweeper"))

	if cfg.MetricsEnabled {
		srv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runner := worker.NewRunner(bp.Queue, bp.Jobs, pipeline.Orchestrator, arts, m, log, cfg.WorkerConcurrency)
	if err := runner.Run(ctx); err != nil {
		log.Error("worker failed", zap.Error(err))
	}
}

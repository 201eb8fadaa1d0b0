package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cardexport/internal/app"
	"cardexport/internal/assets"
	"cardexport/internal/auth"
	"cardexport/internal/backend"
	"cardexport/internal/config"
	"cardexport/internal/handler"
	"cardexport/internal/httpmiddleware"
	"cardexport/internal/logging"
	"cardexport/internal/metrics"
	"cardexport/internal/roster"
	"cardexport/internal/store"
	"cardexport/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pipeline := app.NewPipeline(cfg, log, m)
	defer pipeline.Close()

	bp, err := app.NewBackplane(cfg, log)
	if err != nil {
		return err
	}
	defer bp.Close()

	var (
		src roster.Source
		db  *store.DB
	)
	switch cfg.RecordSource {
	case "postgres":
		dbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		db, err = store.NewDB(dbCtx, cfg.DatabaseURL, 10)
		cancel()
		if err != nil {
			return err
		}
		defer db.Close()
		src = roster.NewRepository(db.Client)
	default:
		client := backend.New(cfg.BackendURL, 15*time.Second)
		defer client.Close()
		src = roster.NewBackend(client)
	}

	// Memory mode has no separate worker process; jobs run in this one.
	if cfg.QueueBackend == "memory" {
		arts, err := app.NewArtifacts(cfg, log)
		if err != nil {
			return err
		}
		go app.SweepArtifacts(ctx, arts, cfg.JobTTL, 0, log.Named("sweeper"))
		runner := worker.NewRunner(bp.Queue, bp.Jobs, pipeline.Orchestrator, arts, m, log.Named("worker"), cfg.WorkerConcurrency)
		go func() {
			if err := runner.Run(ctx); err != nil {
				log.Error("in-process worker stopped", zap.Error(err))
			}
		}()
	}

	h := handler.New(handler.Deps{
		Renderer: pipeline.Orchestrator,
		Roster:   src,
		Jobs:     bp.Jobs,
		Queue:    bp.Queue,
		Proxy:    assets.NewProxy(cfg.AssetTimeout, cfg.AssetMaxBytes, log.Named("proxy")),
		Log:      log.Named("http"),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:   []string{"Content-Disposition"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())

	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := bp.Redis == nil || bp.Redis.Healthy(c.Request.Context())
		dbHealthy := db == nil || db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	h.Register(r, auth.Middleware(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("records", cfg.RecordSource), zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

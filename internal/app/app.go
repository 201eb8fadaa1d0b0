// Package app wires the shared components used by the api, worker and CLI binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cardexport/internal/artifacts"
	"cardexport/internal/assets"
	"cardexport/internal/cards"
	"cardexport/internal/config"
	"cardexport/internal/export"
	"cardexport/internal/jobs"
	"cardexport/internal/metrics"
	"cardexport/internal/queue"
	"cardexport/internal/store"
)

// Pipeline is the render side: asset resolver, rasterizer and orchestrator.
type Pipeline struct {
	Resolver     *assets.Resolver
	Raster       *cards.Raster
	Orchestrator *export.Orchestrator
}

// NewPipeline builds the export pipeline. m may be nil.
func NewPipeline(cfg config.App, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	var (
		assetObs  assets.Observer
		renderObs export.Observer
	)
	if m != nil {
		assetObs, renderObs = m, m
	}
	resolver := assets.NewResolver(assets.Options{
		ProxyURL: cfg.AssetProxyURL,
		Timeout:  cfg.AssetTimeout,
		Retries:  cfg.AssetRetries,
		MaxBytes: cfg.AssetMaxBytes,
		Encoding: assets.JPEG,
	}, log.Named("assets"), assetObs)
	raster := cards.NewRaster(cfg.RenderScale)

	opts := []export.Option{}
	if renderObs != nil {
		opts = append(opts, export.WithObserver(renderObs))
	}
	return &Pipeline{
		Resolver:     resolver,
		Raster:       raster,
		Orchestrator: export.New(resolver, raster, log.Named("export"), opts...),
	}
}

// Close releases the resolver's connections and the rasterizer's font faces.
func (p *Pipeline) Close() {
	_ = p.Resolver.Close()
	p.Raster.Close()
}

// NewArtifacts returns Cloudinary storage when credentials are configured, local disk otherwise.
func NewArtifacts(cfg config.App, log *zap.Logger) (artifacts.Store, error) {
	if cfg.CloudinaryEnabled() {
		log.Info("artifacts stored on cloudinary", zap.String("cloud", cfg.CloudinaryCloudName))
		return artifacts.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder), nil
	}
	local, err := artifacts.NewLocal(cfg.ArtifactDir)
	if err != nil {
		return nil, err
	}
	log.Info("artifacts stored on disk", zap.String("dir", local.Dir))
	return local, nil
}

// SweepArtifacts deletes local artifacts older than ttl, once now and then every interval, until
// ctx is done. Remote stores expire on their own and return immediately.
func SweepArtifacts(ctx context.Context, s artifacts.Store, ttl, interval time.Duration, log *zap.Logger) {
	local, ok := s.(*artifacts.Local)
	if !ok || ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 4
	}
	sweep := func() {
		removed, err := local.Sweep(time.Now().Add(-ttl))
		if err != nil {
			log.Warn("artifact sweep failed", zap.Error(err))
		}
		if len(removed) > 0 {
			log.Info("expired artifacts removed", zap.Int("jobs", len(removed)))
		}
	}
	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Backplane is the job state plus queue pair. Memory mode only works inside one process.
type Backplane struct {
	Jobs  jobs.Store
	Queue queue.Queue
	Redis *store.Redis
}

// NewBackplane picks redis or in-memory job state and queue from QUEUE_BACKEND.
func NewBackplane(cfg config.App, log *zap.Logger) (*Backplane, error) {
	switch cfg.QueueBackend {
	case "memory":
		return &Backplane{Jobs: jobs.NewMemory(cfg.JobTTL), Queue: queue.NewInMemory(64)}, nil
	case "redis", "":
		r := store.NewRedis(cfg.RedisAddr)
		return &Backplane{
			Jobs:  jobs.NewRedis(r.Client, cfg.JobTTL),
			Queue: queue.NewRedisQueue(r.Client, "", log.Named("queue")),
			Redis: r,
		}, nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

// Close releases the redis pool when there is one.
func (b *Backplane) Close() error {
	return b.Redis.Close()
}

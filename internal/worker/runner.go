package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cardexport/internal/artifacts"
	"cardexport/internal/export"
	"cardexport/internal/jobs"
	"cardexport/internal/metrics"
	"cardexport/internal/queue"
)

// errNotPending aborts the pending→running transition for jobs canceled or already picked up.
var errNotPending = errors.New("job is not pending")

// Exporter runs one batch. *export.Orchestrator satisfies it.
type Exporter interface {
	Export(ctx context.Context, job export.Job, progress export.ProgressFunc) (*export.Artifact, error)
}

// Recorder records job outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	ExportFinished(format, status string, took time.Duration)
}

// Runner consumes export messages and runs each job through the exporter.
type Runner struct {
	queue       queue.Queue
	jobs        jobs.Store
	exporter    Exporter
	artifacts   artifacts.Store
	log         *zap.Logger
	metrics     Recorder
	concurrency int
}

// NewRunner wires a runner. concurrency bounds how many jobs run at once; each job is sequential.
func NewRunner(q queue.Queue, store jobs.Store, exp Exporter, arts artifacts.Store, rec Recorder, log *zap.Logger, concurrency int) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		queue:       q,
		jobs:        store,
		exporter:    exp,
		artifacts:   arts,
		log:         log,
		metrics:     rec,
		concurrency: concurrency,
	}
}

// Run consumes until ctx is done, then waits for in-flight jobs.
func (r *Runner) Run(ctx context.Context) error {
	messages, err := r.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	r.log.Info("worker started", zap.Int("concurrency", r.concurrency))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for msg := range messages {
		if msg.Type != queue.TypeExport {
			r.log.Warn("ignoring message", zap.String("type", msg.Type))
			continue
		}
		id := msg.JobID
		g.Go(func() error {
			if err := r.Process(ctx, id); err != nil {
				r.log.Warn("job not processed", zap.String("job_id", id), zap.Error(err))
			}
			return nil
		})
	}
	err = g.Wait()
	r.log.Info("worker stopped")
	return err
}

// Process runs a single job. It returns an error only when the job could not be started;
// export failures end up in the job state.
func (r *Runner) Process(ctx context.Context, id string) error {
	log := r.log.With(zap.String("job_id", id))

	// State reads and writes must land even when the worker is shutting down; a job picked up
	// during shutdown ends as canceled instead of staying pending.
	bg := context.WithoutCancel(ctx)

	payload, err := r.jobs.Payload(bg, id)
	if err != nil {
		return err
	}
	st, err := r.jobs.Update(bg, id, func(s *jobs.State) error {
		if s.Status != jobs.StatusPending {
			return errNotPending
		}
		s.Status = jobs.StatusRunning
		s.Total = len(payload.Records)
		return nil
	})
	if errors.Is(err, errNotPending) {
		log.Info("skipping job", zap.String("status", string(st.Status)))
		return nil
	}
	if err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	canceledByUser := false

	progress := func(p export.Progress) {
		if _, err := r.jobs.Update(bg, id, func(s *jobs.State) error {
			s.Current, s.Total = p.Current, p.Total
			return nil
		}); err != nil {
			log.Warn("progress update failed", zap.Error(err))
		}
		if flag, err := r.jobs.CancelRequested(bg, id); err == nil && flag {
			canceledByUser = true
			cancel()
		}
	}

	start := time.Now()
	art, err := r.exporter.Export(jobCtx, export.Job{
		ID:         id,
		Records:    payload.Records,
		Institute:  payload.Institute,
		Event:      payload.Event,
		Template:   st.Template,
		Format:     export.Format(st.Format),
		OutputName: st.OutputName,
	}, progress)

	if err == nil {
		var loc artifacts.Location
		loc, err = r.artifacts.Save(bg, id, art.Name, art.ContentType, art.Data)
		if err == nil {
			r.finish(bg, log, id, st.Format, start, func(s *jobs.State) {
				s.Status = jobs.StatusCompleted
				s.Current = art.Cards
				s.Artifact = &jobs.ArtifactRef{
					Name:        art.Name,
					ContentType: art.ContentType,
					Path:        loc.Path,
					URL:         loc.URL,
					Size:        loc.Size,
					Pages:       art.Pages,
				}
			})
			return nil
		}
		err = fmt.Errorf("store artifact: %w", err)
	}

	if errors.Is(err, export.ErrCanceled) {
		if !canceledByUser {
			if flag, ferr := r.jobs.CancelRequested(bg, id); ferr == nil && flag {
				canceledByUser = true
			}
		}
		msg := "canceled"
		if !canceledByUser {
			msg = "worker stopped before the job finished"
		}
		r.finish(bg, log, id, st.Format, start, func(s *jobs.State) {
			s.Status = jobs.StatusCanceled
			s.Error = msg
		})
		return nil
	}

	var rerr *export.RecordError
	r.finish(bg, log, id, st.Format, start, func(s *jobs.State) {
		s.Status = jobs.StatusFailed
		s.Error = err.Error()
		if errors.As(err, &rerr) {
			idx := rerr.Index
			s.FailedAt = &idx
		}
	})
	return nil
}

func (r *Runner) finish(ctx context.Context, log *zap.Logger, id, format string, start time.Time, apply func(*jobs.State)) {
	st, err := r.jobs.Update(ctx, id, func(s *jobs.State) error {
		apply(s)
		return nil
	})
	if err != nil {
		log.Error("final job update failed", zap.Error(err))
		return
	}
	took := time.Since(start)
	if r.metrics != nil {
		r.metrics.ExportFinished(format, statusLabel(st.Status), took)
	}
	fields := []zap.Field{zap.String("status", string(st.Status)), zap.Duration("took", took)}
	if st.Error != "" {
		fields = append(fields, zap.String("error", st.Error))
	}
	log.Info("job finished", fields...)
}

func statusLabel(s jobs.Status) string {
	switch s {
	case jobs.StatusCompleted:
		return metrics.StatusCompleted
	case jobs.StatusCanceled:
		return metrics.StatusCanceled
	default:
		return metrics.StatusFailed
	}
}

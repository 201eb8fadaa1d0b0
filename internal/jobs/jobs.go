package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"cardexport/internal/records"
)

var (
	// ErrNotFound is returned for unknown or expired job ids.
	ErrNotFound = errors.New("job not found")
	// ErrFinished is returned when canceling a job that already reached a terminal status.
	ErrFinished = errors.New("job already finished")
)

// Status is the lifecycle stage of an export job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transitions happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// ArtifactRef locates a finished artifact: a local Path or a remote URL.
type ArtifactRef struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size"`
	Pages       int    `json:"pages,omitempty"`
}

// State is the externally visible job record.
type State struct {
	ID         string       `json:"id"`
	Owner      string       `json:"owner"`
	Template   string       `json:"template"`
	Format     string       `json:"format"`
	OutputName string       `json:"output_name,omitempty"`
	Status     Status       `json:"status"`
	Current    int          `json:"current"`
	Total      int          `json:"total"`
	Error      string       `json:"error,omitempty"`
	FailedAt   *int         `json:"failed_index,omitempty"`
	Artifact   *ArtifactRef `json:"artifact,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Public returns a copy safe to show to clients: server-side artifact paths are dropped.
func (s State) Public() State {
	if s.Artifact != nil {
		a := *s.Artifact
		a.Path = ""
		s.Artifact = &a
	}
	return s
}

// Payload is the input a worker needs to run the job.
type Payload struct {
	Records   []records.Person    `json:"records"`
	Institute records.Institute   `json:"institute"`
	Event     *records.AdmitEvent `json:"event,omitempty"`
}

// New builds a pending state with a fresh id.
func New(owner, template, format, outputName string, total int, now time.Time) State {
	return State{
		ID:         uuid.NewString(),
		Owner:      owner,
		Template:   template,
		Format:     format,
		OutputName: outputName,
		Status:     StatusPending,
		Total:      total,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}

// Store keeps transient job state. Entries expire after the store's TTL.
type Store interface {
	Create(ctx context.Context, st State, p Payload) error
	Get(ctx context.Context, id string) (State, error)
	Payload(ctx context.Context, id string) (Payload, error)
	// Update applies fn to the current state and saves it. Returning an error from fn aborts the save.
	Update(ctx context.Context, id string, fn func(*State) error) (State, error)
	// Cancel flags a job. Pending jobs become canceled at once; running jobs are stopped by the worker.
	Cancel(ctx context.Context, id string) (State, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// applyCancel is the shared cancel transition.
func applyCancel(st *State, now time.Time) error {
	if st.Status.Terminal() {
		return ErrFinished
	}
	if st.Status == StatusPending {
		st.Status = StatusCanceled
		st.Error = "canceled before start"
	}
	st.UpdatedAt = now.UTC()
	return nil
}

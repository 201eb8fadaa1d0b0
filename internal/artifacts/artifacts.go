package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidName rejects names that would escape the artifact directory.
var ErrInvalidName = errors.New("invalid artifact name")

// Location is where a saved artifact can be fetched from: a local Path or a remote URL.
type Location struct {
	Path string
	URL  string
	Size int64
}

// Store persists finished export artifacts.
type Store interface {
	Save(ctx context.Context, jobID, name, contentType string, data []byte) (Location, error)
}

// Local writes artifacts under Dir/<jobID>/<name>.
type Local struct {
	Dir string
}

// NewLocal creates the root directory if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "cardexport")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Local{Dir: dir}, nil
}

func checkName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	return nil
}

// Save writes data atomically: a temp file in the same directory is renamed into place.
func (l *Local) Save(_ context.Context, jobID, name, _ string, data []byte) (Location, error) {
	if err := checkName(jobID); err != nil {
		return Location{}, err
	}
	if err := checkName(name); err != nil {
		return Location{}, err
	}
	dir := filepath.Join(l.Dir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Location{}, fmt.Errorf("create job dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return Location{}, fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Location{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Location{}, fmt.Errorf("close artifact: %w", err)
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return Location{}, fmt.Errorf("publish artifact: %w", err)
	}
	return Location{Path: final, Size: int64(len(data))}, nil
}

// Remove deletes every artifact of a job.
func (l *Local) Remove(jobID string) error {
	if err := checkName(jobID); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(l.Dir, jobID))
}

// Sweep removes the job directories last modified before cutoff and returns their job ids.
func (l *Local) Sweep(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := l.Remove(e.Name()); err != nil {
			return removed, fmt.Errorf("remove job %s: %w", e.Name(), err)
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}

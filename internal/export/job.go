package export

import (
	"errors"
	"fmt"
	"strings"

	"cardexport/internal/records"
)

var (
	// ErrCanceled is returned when a job's context is canceled between records.
	ErrCanceled = errors.New("export canceled")
	// ErrNoRecords rejects a batch with nothing to render.
	ErrNoRecords = errors.New("export has no records")
	// ErrUnsupportedFormat rejects an output format the call cannot produce.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Format is an output artifact kind.
type Format string

const (
	PDF  Format = "pdf"
	ZIP  Format = "zip"
	JPG  Format = "jpg"
	HTML Format = "html"
)

// ParseFormat normalizes a user supplied format. "jpeg" is accepted for JPG.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case PDF, ZIP, JPG, HTML:
		return f, nil
	case "jpeg":
		return JPG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case PDF:
		return "application/pdf"
	case ZIP:
		return "application/zip"
	case JPG:
		return "image/jpeg"
	case HTML:
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}

// Job describes one batch export.
type Job struct {
	ID         string
	Records    []records.Person
	Institute  records.Institute
	Event      *records.AdmitEvent
	Template   string
	Format     Format
	OutputName string
}

// Progress is emitted once after each record completes.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ProgressFunc receives progress ticks. It runs on the exporting goroutine.
type ProgressFunc func(Progress)

// Artifact is a finished export.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	Cards       int
	Pages       int
}

// RecordError identifies the record that aborted a batch.
type RecordError struct {
	Index int
	Name  string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (%s): %v", e.Index+1, e.Name, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

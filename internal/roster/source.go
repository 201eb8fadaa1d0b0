package roster

import (
	"context"
	"errors"
	"fmt"

	"cardexport/internal/auth"
	"cardexport/internal/backend"
	"cardexport/internal/records"
)

// ErrNotFound is returned when the requested record does not exist or is outside the session's institute.
var ErrNotFound = errors.New("record not found")

// Filter narrows a student listing. An empty InstituteID means the session's institute.
type Filter struct {
	InstituteID string
	Class       string
	Section     string
}

// Source is where card records come from.
type Source interface {
	Students(ctx context.Context, sess auth.Session, f Filter) ([]records.Person, error)
	Student(ctx context.Context, sess auth.Session, id string) (records.Person, error)
	Institute(ctx context.Context, sess auth.Session, id string) (records.Institute, error)
	AdmitEvent(ctx context.Context, sess auth.Session, id string) (records.AdmitEvent, error)
}

// Backend adapts the REST client to Source.
type Backend struct {
	Client *backend.Client
}

// NewBackend wraps c.
func NewBackend(c *backend.Client) *Backend {
	return &Backend{Client: c}
}

func (b *Backend) Students(ctx context.Context, sess auth.Session, f Filter) ([]records.Person, error) {
	out, err := b.Client.Students(ctx, sess, backend.Filter(f))
	return out, notFound(err)
}

func (b *Backend) Student(ctx context.Context, sess auth.Session, id string) (records.Person, error) {
	out, err := b.Client.Student(ctx, sess, id)
	return out, notFound(err)
}

func (b *Backend) Institute(ctx context.Context, sess auth.Session, id string) (records.Institute, error) {
	out, err := b.Client.Institute(ctx, sess, id)
	return out, notFound(err)
}

func (b *Backend) AdmitEvent(ctx context.Context, sess auth.Session, id string) (records.AdmitEvent, error) {
	out, err := b.Client.AdmitEvent(ctx, sess, id)
	return out, notFound(err)
}

func notFound(err error) error {
	if err != nil && backend.NotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

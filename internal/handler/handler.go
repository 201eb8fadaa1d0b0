package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cardexport/internal/assets"
	"cardexport/internal/auth"
	"cardexport/internal/backend"
	"cardexport/internal/cards"
	"cardexport/internal/export"
	"cardexport/internal/jobs"
	"cardexport/internal/queue"
	"cardexport/internal/records"
	"cardexport/internal/roster"
)

// DefaultMaxRecords caps one export job.
const DefaultMaxRecords = 2000

// Renderer produces single-card downloads. *export.Orchestrator satisfies it.
type Renderer interface {
	ExportSingle(ctx context.Context, s export.Single) (*export.Artifact, error)
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Renderer   Renderer
	Roster     roster.Source
	Jobs       jobs.Store
	Queue      queue.Queue
	Proxy      *assets.Proxy
	Log        *zap.Logger
	MaxRecords int
	Now        func() time.Time
}

// Handler serves the card and export API.
type Handler struct {
	render     Renderer
	roster     roster.Source
	jobs       jobs.Store
	queue      queue.Queue
	proxy      *assets.Proxy
	log        *zap.Logger
	maxRecords int
	now        func() time.Time
}

// New builds a handler from d.
func New(d Deps) *Handler {
	h := &Handler{
		render:     d.Renderer,
		roster:     d.Roster,
		jobs:       d.Jobs,
		queue:      d.Queue,
		proxy:      d.Proxy,
		log:        d.Log,
		maxRecords: d.MaxRecords,
		now:        d.Now,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.maxRecords <= 0 {
		h.maxRecords = DefaultMaxRecords
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Register mounts the routes. authn guards everything under /v1; limit throttles export creation.
func (h *Handler) Register(r gin.IRouter, authn, limit gin.HandlerFunc) {
	if h.proxy != nil {
		r.GET("/api/proxy-image", h.proxy.Handle)
	}

	v1 := r.Group("/v1", authn)
	v1.GET("/templates", h.listTemplates)
	v1.POST("/cards/render", h.renderCard)
	v1.GET("/students/:id/card", h.studentCard)

	v1.POST("/exports", limit, h.createExport)
	v1.POST("/exports/import", limit, h.importExport)
	v1.GET("/exports/:id", h.getExport)
	v1.DELETE("/exports/:id", h.cancelExport)
	v1.GET("/exports/:id/download", h.downloadExport)
}

func session(c *gin.Context) auth.Session {
	s, _ := auth.FromContext(c)
	return s
}

// respondError maps domain errors to status codes and a JSON body.
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		verr *records.ValidationError
		berr *backend.Error
		rerr *export.RecordError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "fields": verr.Fields})
	case errors.Is(err, records.ErrInvalid),
		errors.Is(err, cards.ErrUnknownTemplate),
		errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, export.ErrNoRecords),
		errors.Is(err, roster.ErrUnsupportedFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, roster.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, jobs.ErrFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &berr):
		status := http.StatusBadGateway
		if berr.Status == http.StatusUnauthorized || berr.Status == http.StatusForbidden {
			status = berr.Status
		}
		c.JSON(status, gin.H{"error": berr.Message})
	case errors.As(err, &rerr):
		h.log.Error("card render failed", zap.Int("index", rerr.Index), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

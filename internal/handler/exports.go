package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cardexport/internal/auth"
	"cardexport/internal/cards"
	"cardexport/internal/export"
	"cardexport/internal/jobs"
	"cardexport/internal/queue"
	"cardexport/internal/records"
	"cardexport/internal/roster"
)

type exportRequest struct {
	Template   string              `json:"template" binding:"required"`
	Format     string              `json:"format" binding:"required"`
	OutputName string              `json:"output_name"`
	Class      string              `json:"class"`
	Section    string              `json:"section"`
	EventID    string              `json:"event_id"`
	Records    []records.Person    `json:"records"`
	Institute  *records.Institute  `json:"institute"`
	Event      *records.AdmitEvent `json:"event"`
}

// batchFormat accepts only the formats a batch can produce.
func batchFormat(s string) (export.Format, error) {
	f, err := export.ParseFormat(s)
	if err != nil {
		return "", err
	}
	if f != export.PDF && f != export.ZIP {
		return "", fmt.Errorf("%w for batch: %q", export.ErrUnsupportedFormat, s)
	}
	return f, nil
}

// createExport queues a batch. Records come inline or from the roster source by class and section.
func (h *Handler) createExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := session(c)
	ctx := c.Request.Context()

	people := req.Records
	if len(people) == 0 {
		var err error
		people, err = h.roster.Students(ctx, sess, roster.Filter{Class: req.Class, Section: req.Section})
		if err != nil {
			h.respondError(c, err)
			return
		}
	}
	inst, ok := h.institute(c, sess, req.Institute)
	if !ok {
		return
	}
	event, ok := h.event(c, sess, req.EventID, req.Event)
	if !ok {
		return
	}
	st, err := h.enqueue(c, sess, req.Template, req.Format, req.OutputName, jobs.Payload{Records: people, Institute: inst, Event: event})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st.Public())
}

// importExport queues a batch from an uploaded roster spreadsheet.
func (h *Handler) importExport(c *gin.Context) {
	fh, err := c.FormFile("roster")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roster file required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read roster file"})
		return
	}
	defer f.Close()

	res, err := roster.Import(f, filepath.Base(fh.Filename))
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", records.ErrInvalid, err))
		return
	}

	sess := session(c)
	var instIn *records.Institute
	if raw := c.PostForm("institute"); raw != "" {
		instIn = &records.Institute{}
		if err := json.Unmarshal([]byte(raw), instIn); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "institute must be a JSON object"})
			return
		}
	}
	inst, ok := h.institute(c, sess, instIn)
	if !ok {
		return
	}
	event, ok := h.event(c, sess, c.PostForm("event_id"), nil)
	if !ok {
		return
	}

	st, err := h.enqueue(c, sess, c.PostForm("template"), c.PostForm("format"), c.PostForm("output_name"),
		jobs.Payload{Records: res.People, Institute: inst, Event: event})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": st.Public(), "imported": len(res.People), "skipped": res.Skipped})
}

// institute returns the inline institute or the session's one from the roster source.
func (h *Handler) institute(c *gin.Context, sess auth.Session, inline *records.Institute) (records.Institute, bool) {
	if inline != nil {
		return *inline, true
	}
	if sess.InstituteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "institute required"})
		return records.Institute{}, false
	}
	inst, err := h.roster.Institute(c.Request.Context(), sess, sess.InstituteID)
	if err != nil {
		h.respondError(c, err)
		return records.Institute{}, false
	}
	return inst, true
}

func (h *Handler) event(c *gin.Context, sess auth.Session, id string, inline *records.AdmitEvent) (*records.AdmitEvent, bool) {
	if inline != nil {
		if err := records.Validate(inline); err != nil {
			h.respondError(c, err)
			return nil, false
		}
		return inline, true
	}
	if id == "" {
		return nil, true
	}
	ev, err := h.roster.AdmitEvent(c.Request.Context(), sess, id)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return &ev, true
}

func (h *Handler) enqueue(c *gin.Context, sess auth.Session, template, format, outputName string, p jobs.Payload) (jobs.State, error) {
	d, err := cards.Lookup(template)
	if err != nil {
		return jobs.State{}, err
	}
	f, err := batchFormat(format)
	if err != nil {
		return jobs.State{}, err
	}
	if len(p.Records) == 0 {
		return jobs.State{}, export.ErrNoRecords
	}
	if len(p.Records) > h.maxRecords {
		return jobs.State{}, fmt.Errorf("%w: %d records exceeds the limit of %d", records.ErrInvalid, len(p.Records), h.maxRecords)
	}
	if err := records.ValidateBatch(p.Records, p.Institute); err != nil {
		return jobs.State{}, err
	}

	ctx := c.Request.Context()
	st := jobs.New(sess.Subject, string(d.ID), string(f), outputName, len(p.Records), h.now())
	if err := h.jobs.Create(ctx, st, p); err != nil {
		return jobs.State{}, fmt.Errorf("create job: %w", err)
	}
	if err := h.queue.Publish(ctx, queue.Message{Type: queue.TypeExport, JobID: st.ID, At: h.now().UTC()}); err != nil {
		// A job that never reached the queue is failed right away.
		_, _ = h.jobs.Update(ctx, st.ID, func(s *jobs.State) error {
			s.Status = jobs.StatusFailed
			s.Error = "could not queue job"
			return nil
		})
		return jobs.State{}, fmt.Errorf("queue job: %w", err)
	}
	h.log.Info("export queued",
		zap.String("job_id", st.ID),
		zap.String("owner", sess.Subject),
		zap.String("template", st.Template),
		zap.String("format", st.Format),
		zap.Int("records", st.Total),
	)
	return st, nil
}

// ownedJob loads a job and hides other users' jobs behind a 404.
func (h *Handler) ownedJob(c *gin.Context) (jobs.State, bool) {
	st, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err == nil && st.Owner != session(c).Subject {
		err = jobs.ErrNotFound
	}
	if err != nil {
		h.respondError(c, err)
		return jobs.State{}, false
	}
	return st, true
}

func (h *Handler) getExport(c *gin.Context) {
	st, ok := h.ownedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, st.Public())
}

func (h *Handler) cancelExport(c *gin.Context) {
	if _, ok := h.ownedJob(c); !ok {
		return
	}
	st, err := h.jobs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st.Public())
}

func (h *Handler) downloadExport(c *gin.Context) {
	st, ok := h.ownedJob(c)
	if !ok {
		return
	}
	if st.Status != jobs.StatusCompleted || st.Artifact == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "export is not ready", "status": st.Status})
		return
	}
	if st.Artifact.URL != "" {
		c.Redirect(http.StatusFound, st.Artifact.URL)
		return
	}
	c.Header("Content-Type", st.Artifact.ContentType)
	c.FileAttachment(st.Artifact.Path, st.Artifact.Name)
}

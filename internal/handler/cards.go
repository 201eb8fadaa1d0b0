package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"unicode"

	"github.com/gin-gonic/gin"

	"cardexport/internal/cards"
	"cardexport/internal/export"
	"cardexport/internal/records"
)

func (h *Handler) listTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": cards.Descriptors()})
}

type renderRequest struct {
	Template  string              `json:"template" binding:"required"`
	Person    records.Person      `json:"person"`
	Institute records.Institute   `json:"institute"`
	Event     *records.AdmitEvent `json:"event"`
}

// renderCard renders one card from an inline record. ?format=html|jpg|pdf, default html.
func (h *Handler) renderCard(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	format, err := singleFormat(c.DefaultQuery("format", "html"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, err := cards.Lookup(req.Template); err != nil {
		h.respondError(c, err)
		return
	}
	if err := records.ValidateBatch([]records.Person{req.Person}, req.Institute); err != nil {
		h.respondError(c, err)
		return
	}
	if req.Event != nil {
		if err := records.Validate(req.Event); err != nil {
			h.respondError(c, err)
			return
		}
	}
	art, err := h.render.ExportSingle(c.Request.Context(), export.Single{
		Person:    req.Person,
		Institute: req.Institute,
		Event:     req.Event,
		Template:  req.Template,
		Format:    format,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	sendArtifact(c, art)
}

// studentCard renders the stored record of one student with the session's institute.
func (h *Handler) studentCard(c *gin.Context) {
	sess := session(c)
	template := c.DefaultQuery("template", string(cards.Classic))
	if _, err := cards.Lookup(template); err != nil {
		h.respondError(c, err)
		return
	}
	format, err := singleFormat(c.DefaultQuery("format", "jpg"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sess.InstituteID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "session has no institute"})
		return
	}

	ctx := c.Request.Context()
	person, err := h.roster.Student(ctx, sess, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	inst, err := h.roster.Institute(ctx, sess, sess.InstituteID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	var event *records.AdmitEvent
	if id := c.Query("event_id"); id != "" {
		ev, err := h.roster.AdmitEvent(ctx, sess, id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		event = &ev
	}

	art, err := h.render.ExportSingle(ctx, export.Single{
		Person:    person,
		Institute: inst,
		Event:     event,
		Template:  template,
		Format:    format,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	sendArtifact(c, art)
}

func singleFormat(s string) (export.Format, error) {
	f, err := export.ParseFormat(s)
	if err != nil {
		return "", err
	}
	if f == export.ZIP {
		return "", fmt.Errorf("%w for single card: %q", export.ErrUnsupportedFormat, s)
	}
	return f, nil
}

func sendArtifact(c *gin.Context, art *export.Artifact) {
	disposition := "attachment"
	if art.ContentType == export.HTML.ContentType() {
		disposition = "inline"
	}
	c.Header("Content-Disposition", contentDisposition(disposition, art.Name))
	c.Data(http.StatusOK, art.ContentType, art.Data)
}

// contentDisposition quotes ASCII names and falls back to RFC 5987 encoding otherwise, as gin's
// FileAttachment does.
func contentDisposition(disposition, name string) string {
	for _, r := range name {
		if r > unicode.MaxASCII {
			return fmt.Sprintf("%s; filename*=UTF-8''%s", disposition, url.QueryEscape(name))
		}
	}
	return fmt.Sprintf(`%s; filename="%s"`, disposition, name)
}

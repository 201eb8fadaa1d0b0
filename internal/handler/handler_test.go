package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardexport/internal/auth"
	"cardexport/internal/backend"
	"cardexport/internal/export"
	"cardexport/internal/jobs"
	"cardexport/internal/queue"
	"cardexport/internal/records"
	"cardexport/internal/roster"
)

type fakeRenderer struct {
	last export.Single
}

func (f *fakeRenderer) ExportSingle(_ context.Context, s export.Single) (*export.Artifact, error) {
	f.last = s
	return &export.Artifact{
		Name:        "card." + string(s.Format),
		ContentType: s.Format.ContentType(),
		Data:        []byte("rendered:" + s.Person.DisplayName()),
		Cards:       1,
	}, nil
}

type fakeRoster struct {
	students []records.Person
	filter   roster.Filter
	err      error
}

func (f *fakeRoster) Students(_ context.Context, _ auth.Session, flt roster.Filter) ([]records.Person, error) {
	f.filter = flt
	return f.students, f.err
}

func (f *fakeRoster) Student(_ context.Context, _ auth.Session, id string) (records.Person, error) {
	if f.err != nil {
		return records.Person{}, f.err
	}
	for _, p := range f.students {
		if string(p.ID) == id {
			return p, nil
		}
	}
	return records.Person{}, roster.ErrNotFound
}

func (f *fakeRoster) Institute(_ context.Context, _ auth.Session, id string) (records.Institute, error) {
	return records.Institute{ID: records.Text(id), Name: "Green Valley Public School"}, nil
}

func (f *fakeRoster) AdmitEvent(_ context.Context, _ auth.Session, id string) (records.AdmitEvent, error) {
	return records.AdmitEvent{ID: records.Text(id), Name: "Half Yearly"}, nil
}

type fixture struct {
	router *gin.Engine
	render *fakeRenderer
	roster *fakeRoster
	jobs   *jobs.Memory
	queue  *queue.InMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		render: &fakeRenderer{},
		roster: &fakeRoster{students: []records.Person{
			{ID: "1", FirstName: "Asha", RollNo: "7", Class: "10", Section: "A"},
			{ID: "2", FirstName: "Kiran", RollNo: "8", Class: "10", Section: "A"},
		}},
		jobs:  jobs.NewMemory(time.Hour),
		queue: queue.NewInMemory(16),
	}
	h := New(Deps{Renderer: f.render, Roster: f.roster, Jobs: f.jobs, Queue: f.queue, MaxRecords: 3})

	// Tests pick the caller with X-User; the institute is fixed.
	authn := func(c *gin.Context) {
		auth.SetSession(c, auth.Session{Subject: c.GetHeader("X-User"), InstituteID: "42", Token: "t"})
		c.Next()
	}
	pass := func(c *gin.Context) { c.Next() }

	f.router = gin.New()
	h.Register(f.router, authn, pass)
	return f
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestListTemplates(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/templates", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tpls := decode(t, w)["templates"].([]any)
	assert.Len(t, tpls, 6)
	assert.Equal(t, "classic", tpls[0].(map[string]any)["id"])
}

func TestRenderCard(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"template":  "modern",
		"person":    map[string]any{"first_name": "Asha", "roll_no": 7},
		"institute": map[string]any{"name": "GVPS"},
	}

	t.Run("html by default", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/v1/cards/render", "u1", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Header().Get("Content-Disposition"), "inline")
		assert.Equal(t, "rendered:Asha", w.Body.String())
		assert.Equal(t, records.Text("7"), f.render.last.Person.RollNo)
	})

	t.Run("pdf download", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/v1/cards/render?format=pdf", "u1", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="card.pdf"`, w.Header().Get("Content-Disposition"))
	})

	tests := []struct {
		name  string
		path  string
		body  map[string]any
		field string
	}{
		{"zip is batch only", "/v1/cards/render?format=zip", body, ""},
		{"unknown template", "/v1/cards/render", map[string]any{"template": "fancy", "person": body["person"], "institute": body["institute"]}, ""},
		{"missing template", "/v1/cards/render", map[string]any{"person": body["person"]}, ""},
		{"invalid email", "/v1/cards/render", map[string]any{
			"template":  "classic",
			"person":    map[string]any{"first_name": "Asha", "email": "nope"},
			"institute": body["institute"],
		}, "records[0].email"},
		{"institute without name", "/v1/cards/render", map[string]any{
			"template": "classic",
			"person":   body["person"],
		}, "institute.name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			if tt.field != "" {
				assert.Contains(t, w.Body.String(), tt.field)
			}
		})
	}
}

func TestStudentCard(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/students/2/card?template=admit&event_id=5", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "Kiran", f.render.last.Person.FirstName)
	assert.Equal(t, "Green Valley Public School", f.render.last.Institute.Name)
	require.NotNil(t, f.render.last.Event)
	assert.Equal(t, "Half Yearly", f.render.last.Event.Name)

	w = f.do(t, http.MethodGet, "/v1/students/99/card", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.roster.err = &backend.Error{Status: http.StatusInternalServerError, Message: "db down"}
	w = f.do(t, http.MethodGet, "/v1/students/1/card", "u1", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "db down", decode(t, w)["error"])

	f.roster.err = &backend.Error{Status: http.StatusUnauthorized, Message: "token expired"}
	w = f.do(t, http.MethodGet, "/v1/students/1/card", "u1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func nextMessage(t *testing.T, q *queue.InMemory) queue.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case m := <-msgs:
		return m
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return queue.Message{}
	}
}

func TestCreateExportInline(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/exports", "u1", map[string]any{
		"template":  "classic",
		"format":    "PDF",
		"records":   []map[string]any{{"first_name": "Asha"}, {"name": "Kiran Rao"}},
		"institute": map[string]any{"name": "GVPS"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "pending", out["status"])
	assert.Equal(t, "pdf", out["format"])
	assert.EqualValues(t, 2, out["total"])

	msg := nextMessage(t, f.queue)
	assert.Equal(t, queue.TypeExport, msg.Type)
	assert.Equal(t, out["id"], msg.JobID)

	p, err := f.jobs.Payload(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, "GVPS", p.Institute.Name)
}

func TestCreateExportFromRoster(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/exports", "u1", map[string]any{
		"template": "admit",
		"format":   "zip",
		"class":    "10",
		"section":  "A",
		"event_id": "5",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, roster.Filter{Class: "10", Section: "A"}, f.roster.filter)

	id := decode(t, w)["id"].(string)
	p, err := f.jobs.Payload(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, p.Records, 2)
	assert.Equal(t, "Green Valley Public School", p.Institute.Name)
	require.NotNil(t, p.Event)
	assert.Equal(t, "Half Yearly", p.Event.Name)
}

func TestCreateExportRejects(t *testing.T) {
	f := newFixture(t)
	inst := map[string]any{"name": "GVPS"}
	one := []map[string]any{{"first_name": "Asha"}}

	tests := []struct {
		name string
		body map[string]any
	}{
		{"single-only format", map[string]any{"template": "classic", "format": "jpg", "records": one, "institute": inst}},
		{"unknown format", map[string]any{"template": "classic", "format": "docx", "records": one, "institute": inst}},
		{"unknown template", map[string]any{"template": "x", "format": "pdf", "records": one, "institute": inst}},
		{"too many records", map[string]any{"template": "classic", "format": "pdf", "institute": inst,
			"records": []map[string]any{{"name": "a"}, {"name": "b"}, {"name": "c"}, {"name": "d"}}}},
		{"nameless record", map[string]any{"template": "classic", "format": "pdf", "records": []map[string]any{{"roll_no": 1}}, "institute": inst}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/v1/exports", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	f.roster.students = nil
	w := f.do(t, http.MethodPost, "/v1/exports", "u1", map[string]any{"template": "classic", "format": "pdf", "class": "12"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no records")
}

func TestImportExport(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("roster", "class10.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("Name,Roll No\nAsha Verma,1\n,2\nKiran Rao,3\n"))
	require.NoError(t, mw.WriteField("template", "landscape"))
	require.NoError(t, mw.WriteField("format", "zip"))
	require.NoError(t, mw.WriteField("output_name", "Class 10"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/exports/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User", "u1")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	out := decode(t, w)
	assert.EqualValues(t, 2, out["imported"])
	assert.Len(t, out["skipped"], 1)
	job := out["job"].(map[string]any)
	assert.Equal(t, "landscape", job["template"])
	assert.Equal(t, "Class 10", job["output_name"])
}

func TestExportLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := jobs.New("u1", "classic", "pdf", "", 2, time.Now())
	require.NoError(t, f.jobs.Create(ctx, st, jobs.Payload{}))
	base := "/v1/exports/" + st.ID

	t.Run("owner only", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, base, "u2", nil).Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, base, "u2", nil).Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/exports/missing", "u1", nil).Code)
	})

	t.Run("not ready", func(t *testing.T) {
		w := f.do(t, http.MethodGet, base+"/download", "u1", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("download local artifact", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cards.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644))
		_, err := f.jobs.Update(ctx, st.ID, func(s *jobs.State) error {
			s.Status = jobs.StatusCompleted
			s.Current = 2
			s.Artifact = &jobs.ArtifactRef{Name: "IDs_Batch_10_A_ID_Cards.pdf", ContentType: "application/pdf", Path: path, Size: 13}
			return nil
		})
		require.NoError(t, err)

		w := f.do(t, http.MethodGet, base, "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), path, "server paths stay private")
		assert.Equal(t, "completed", decode(t, w)["status"])

		w = f.do(t, http.MethodGet, base+"/download", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "%PDF-1.4 test", w.Body.String())
		assert.True(t, strings.Contains(w.Header().Get("Content-Disposition"), "IDs_Batch_10_A_ID_Cards.pdf"))
	})

	t.Run("cancel finished", func(t *testing.T) {
		assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, base, "u1", nil).Code)
	})

	t.Run("remote artifact redirects", func(t *testing.T) {
		_, err := f.jobs.Update(ctx, st.ID, func(s *jobs.State) error {
			s.Artifact.URL = "https://res.example/cards.pdf"
			return nil
		})
		require.NoError(t, err)
		w := f.do(t, http.MethodGet, base+"/download", "u1", nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://res.example/cards.pdf", w.Header().Get("Location"))
	})
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t)
	st := jobs.New("u1", "classic", "zip", "", 1, time.Now())
	require.NoError(t, f.jobs.Create(context.Background(), st, jobs.Payload{}))

	w := f.do(t, http.MethodDelete, "/v1/exports/"+st.ID, "u1", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "canceled", decode(t, w)["status"])
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename="card.pdf"`, contentDisposition("attachment", "card.pdf"))
	assert.Equal(t, "inline; filename*=UTF-8''%E0%A4%B0%E0%A4%BE%E0%A4%AE_ID_Card.html",
		contentDisposition("inline", "राम_ID_Card.html"))
}

package artifacts

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSave(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)

	loc, err := l.Save(context.Background(), "job-1", "cards.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-1", "cards.pdf"), loc.Path)
	assert.EqualValues(t, 8, loc.Size)

	b, err := os.ReadFile(loc.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(b))

	entries, err := os.ReadDir(filepath.Join(dir, "job-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, l.Remove("job-1"))
	_, err = os.Stat(filepath.Join(dir, "job-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalSweepRemovesExpiredJobs(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	for _, id := range []string{"old", "fresh"} {
		_, err := l.Save(context.Background(), id, "cards.pdf", "application/pdf", []byte("%PDF"))
		require.NoError(t, err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(l.Dir, "old"), stale, stale))

	removed, err := l.Sweep(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, removed)
	assert.NoDirExists(t, filepath.Join(l.Dir, "old"))
	assert.FileExists(t, filepath.Join(l.Dir, "fresh", "cards.pdf"))
}

func TestLocalRejectsTraversal(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"", "..", "../x.pdf", `a\b.zip`} {
		_, err := l.Save(context.Background(), "job", name, "", nil)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	_, err = l.Save(context.Background(), "../job", "a.pdf", "", nil)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestCloudinarySign(t *testing.T) {
	c := NewCloudinary("demo", "key", "secret", "")
	got := c.sign(map[string]string{
		"timestamp": "1700000000",
		"public_id": "job/cards.pdf",
		"api_key":   "ignored",
		"file":      "ignored",
	})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=job/cards.pdf&timestamp=1700000000secret")))
	assert.Equal(t, want, got)
}

func TestCloudinarySave(t *testing.T) {
	var form map[string]string
	var upload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1_1/demo/raw/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "cards.zip", hdr.Filename)
		upload, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"public_id":"exports/job-9/cards.zip","secure_url":"https://res.example/exports/job-9/cards.zip","bytes":3}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", "exports")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	defer c.Close()

	loc, err := c.Save(context.Background(), "job-9", "cards.zip", "application/zip", []byte("PK!"))
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/exports/job-9/cards.zip", loc.URL)
	assert.EqualValues(t, 3, loc.Size)
	assert.Equal(t, "PK!", string(upload))

	assert.Equal(t, "key", form["api_key"])
	assert.Equal(t, "exports", form["folder"])
	assert.Equal(t, "job-9/cards.zip", form["public_id"])
	assert.Equal(t, "1700000000", form["timestamp"])
	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=exports&public_id=job-9/cards.zip&timestamp=1700000000secret")))
	assert.Equal(t, want, form["signature"])
}

func TestCloudinaryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid Signature"}}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	defer c.Close()

	_, err := c.Save(context.Background(), "job", "a.pdf", "application/pdf", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Invalid Signature")
}

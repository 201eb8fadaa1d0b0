package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) AssetFetched(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[result]++
}

func (o *countingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[result]
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 200, A: 255}), imaging.PNG))
	return buf.Bytes()
}

func imageServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	img := pngBytes(t, 40, 20)
	big := pngBytes(t, 1200, 900)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		switch r.URL.Path {
		case "/photo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		case "/big.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(big)
		case "/garbage":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("definitely not an image"))
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write(img)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveEmptyURLMakesNoRequest(t *testing.T) {
	var hits int32
	imageServer(t, &hits)
	obs := &countingObserver{}
	r := NewResolver(Options{}, nil, obs)
	defer r.Close()

	assert.Nil(t, r.Resolve(context.Background(), ""))
	assert.Nil(t, r.Resolve(context.Background(), "   "))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
	assert.Equal(t, 0, obs.count("fallback"))
}

func TestResolveSuccess(t *testing.T) {
	srv := imageServer(t, nil)
	obs := &countingObserver{}
	r := NewResolver(Options{}, nil, obs)
	defer r.Close()

	a := r.Resolve(context.Background(), srv.URL+"/photo.png")
	require.NotNil(t, a)
	assert.Equal(t, "image/jpeg", a.ContentType)
	assert.Equal(t, image.Rect(0, 0, 40, 20), a.Bounds())
	assert.Contains(t, a.DataURI(), "data:image/jpeg;base64,")
	assert.Equal(t, 1, obs.count("ok"))
}

func TestResolveDownscalesLargeImages(t *testing.T) {
	srv := imageServer(t, nil)
	r := NewResolver(Options{MaxSide: 300, Encoding: PNG}, nil, nil)
	defer r.Close()

	a := r.Resolve(context.Background(), srv.URL+"/big.png")
	require.NotNil(t, a)
	assert.Equal(t, "image/png", a.ContentType)
	assert.Equal(t, 300, a.Bounds().Dx())
	assert.Equal(t, 225, a.Bounds().Dy())
}

func TestResolveFailuresFallBackToNil(t *testing.T) {
	srv := imageServer(t, nil)
	obs := &countingObserver{}
	r := NewResolver(Options{Timeout: 100 * time.Millisecond}, nil, obs)
	defer r.Close()

	for _, u := range []string{
		srv.URL + "/missing.png",
		srv.URL + "/garbage",
		srv.URL + "/slow",
		"not a url",
		"ftp://example.com/a.png",
		"/relative/photo.png",
	} {
		assert.Nil(t, r.Resolve(context.Background(), u), u)
	}
	assert.Equal(t, 6, obs.count("fallback"))
	assert.Equal(t, 0, obs.count("ok"))
}

func TestResolveRespectsSizeLimit(t *testing.T) {
	srv := imageServer(t, nil)
	r := NewResolver(Options{MaxBytes: 64}, nil, nil)
	defer r.Close()

	assert.Nil(t, r.Resolve(context.Background(), srv.URL+"/big.png"))
}

func TestResolveThroughProxy(t *testing.T) {
	img := pngBytes(t, 10, 10)
	var gotURL string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer proxy.Close()

	r := NewResolver(Options{ProxyURL: proxy.URL + "/api/proxy-image"}, nil, nil)
	defer r.Close()

	a := r.Resolve(context.Background(), "https://cdn.example.com/p/1.png?v=2")
	require.NotNil(t, a)
	assert.Equal(t, "https://cdn.example.com/p/1.png?v=2", gotURL)
}

func TestProxiedURL(t *testing.T) {
	got, err := ProxiedURL("https://school.example/api/proxy-image", "https://cdn.example.com/a.png?x=1&y=2")
	require.NoError(t, err)
	assert.Equal(t, "https://school.example/api/proxy-image?url=https%3A%2F%2Fcdn.example.com%2Fa.png%3Fx%3D1%26y%3D2", got)

	got, err = ProxiedURL("", "http://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.example.com/a.png", got)

	_, err = ProxiedURL("https://school.example/api/proxy-image", "data:image/png;base64,AAAA")
	assert.Error(t, err)
}

func TestBatchCacheFetchesEachURLOnce(t *testing.T) {
	var hits int32
	srv := imageServer(t, &hits)
	r := NewResolver(Options{}, nil, nil)
	defer r.Close()
	cache := NewBatchCache(r)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotNil(t, cache.Resolve(context.Background(), srv.URL+"/photo.png"))
		}()
	}
	wg.Wait()
	assert.Nil(t, cache.Resolve(context.Background(), srv.URL+"/missing.png"))
	assert.Nil(t, cache.Resolve(context.Background(), srv.URL+"/missing.png"))
	assert.Nil(t, cache.Resolve(context.Background(), ""))

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, 2, cache.Len())
}

func TestFromImageFlattensTransparencyForJPEG(t *testing.T) {
	transparent := imaging.New(4, 4, color.NRGBA{})
	a, err := FromImage("logo", transparent, JPEG)
	require.NoError(t, err)
	r, g, b, _ := a.Image.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

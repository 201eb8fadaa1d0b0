package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardexport/internal/assets"
	"cardexport/internal/cards"
	"cardexport/internal/records"
)

var fixedNow = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// stubSource hands out a solid image for every URL it knows and counts lookups.
type stubSource struct {
	mu    sync.Mutex
	known map[string]color.NRGBA
	calls map[string]int
}

func newStubSource(known map[string]color.NRGBA) *stubSource {
	return &stubSource{known: known, calls: map[string]int{}}
}

func (s *stubSource) Resolve(_ context.Context, url string) *assets.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[url]++
	c, ok := s.known[url]
	if !ok {
		return nil
	}
	a, _ := assets.FromImage(url, imaging.New(30, 40, c), assets.JPEG)
	return a
}

func (s *stubSource) count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

// flakyRaster fails on the record whose card name matches failOn.
type flakyRaster struct {
	failOn string
	calls  int
}

func (f *flakyRaster) Rasterize(c cards.Card) (image.Image, error) {
	f.calls++
	if c.Value("name") == f.failOn {
		return nil, errors.New("canvas exploded")
	}
	return imaging.New(c.Template.Width, c.Template.Height, color.White), nil
}

func people(n int) []records.Person {
	out := make([]records.Person, n)
	for i := range out {
		out[i] = records.Person{
			FirstName: fmt.Sprintf("Student%02d", i+1),
			Class:     "10",
			Section:   "A",
			RollNo:    records.Text(fmt.Sprint(i + 1)),
		}
	}
	return out
}

func inst() records.Institute {
	return records.Institute{Name: "Green Valley Public School", LogoURL: "https://cdn.example.com/logo.png"}
}

func TestPlace(t *testing.T) {
	portrait, _ := cards.Lookup("classic")
	landscape, _ := cards.Lookup("landscape")
	admit, _ := cards.Lookup("admit")

	tests := []struct {
		name   string
		layout cards.PageLayout
		index  int
		want   Placement
	}{
		{"portrait first", portrait.Page, 0, Placement{Page: 0, Slot: 0, X: 46, Y: 105.7}},
		{"portrait second", portrait.Page, 1, Placement{Page: 0, Slot: 1, X: 110, Y: 105.7}},
		{"portrait third starts page two", portrait.Page, 2, Placement{Page: 1, Slot: 0, X: 46, Y: 105.7}},
		{"portrait fifth", portrait.Page, 4, Placement{Page: 2, Slot: 0, X: 46, Y: 105.7}},
		{"landscape top", landscape.Page, 0, Placement{Page: 0, Slot: 0, X: 62.2, Y: 89.5}},
		{"landscape bottom", landscape.Page, 1, Placement{Page: 0, Slot: 1, X: 62.2, Y: 153.5}},
		{"landscape wraps", landscape.Page, 3, Placement{Page: 1, Slot: 1, X: 62.2, Y: 153.5}},
		{"admit fills page", admit.Page, 0, Placement{Page: 0, Slot: 0, X: 0, Y: 0}},
		{"admit every index is a page", admit.Page, 6, Placement{Page: 6, Slot: 0, X: 0, Y: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Place(tt.layout, tt.index)
			assert.Equal(t, tt.want.Page, got.Page)
			assert.Equal(t, tt.want.Slot, got.Slot)
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
		})
	}
}

func TestPlaceNeverOverlaps(t *testing.T) {
	for _, d := range cards.Descriptors() {
		l := d.Page
		seen := map[[2]int]bool{}
		for i := 0; i < 3*l.PerPage(); i++ {
			pl := Place(l, i)
			key := [2]int{pl.Page, pl.Slot}
			assert.False(t, seen[key], "%s index %d reuses page %d slot %d", d.ID, i, pl.Page, pl.Slot)
			seen[key] = true
			assert.GreaterOrEqual(t, pl.X, 0.0)
			assert.LessOrEqual(t, pl.X+l.CardW, cards.A4WidthMM+1e-9)
			assert.LessOrEqual(t, pl.Y+l.CardH, cards.A4HeightMM+1e-9)
		}
	}
}

func TestPDFPageCount(t *testing.T) {
	tests := []struct {
		template string
		n        int
		pages    int
	}{
		{"classic", 1, 1},
		{"classic", 2, 1},
		{"classic", 3, 2},
		{"modern", 5, 3},
		{"landscape", 4, 2},
		{"admit", 3, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.template, tt.n), func(t *testing.T) {
			o := New(newStubSource(nil), &flakyRaster{}, nil, WithClock(clock))
			art, err := o.Export(context.Background(), Job{
				Records:   people(tt.n),
				Institute: inst(),
				Template:  tt.template,
				Format:    PDF,
			}, nil)
			require.NoError(t, err)
			d, _ := cards.Lookup(tt.template)
			assert.Equal(t, tt.pages, art.Pages)
			assert.Equal(t, PageCount(d.Page, tt.n), art.Pages)
			assert.Equal(t, "application/pdf", art.ContentType)
			assert.True(t, bytes.HasPrefix(art.Data, []byte("%PDF")))
		})
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	o := New(newStubSource(nil), &flakyRaster{}, nil, WithClock(clock))
	var got []Progress
	_, err := o.Export(context.Background(), Job{Records: people(5), Institute: inst(), Template: "classic", Format: ZIP},
		func(p Progress) { got = append(got, p) })
	require.NoError(t, err)
	assert.Equal(t, []Progress{{1, 5}, {2, 5}, {3, 5}, {4, 5}, {5, 5}}, got)
}

func TestFailFastOnBadRecord(t *testing.T) {
	for _, format := range []Format{PDF, ZIP} {
		t.Run(string(format), func(t *testing.T) {
			raster := &flakyRaster{failOn: "Student03"}
			o := New(newStubSource(nil), raster, nil, WithClock(clock))
			var ticks []Progress
			art, err := o.Export(context.Background(), Job{Records: people(5), Institute: inst(), Template: "classic", Format: format},
				func(p Progress) { ticks = append(ticks, p) })

			assert.Nil(t, art)
			var rerr *RecordError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, 2, rerr.Index)
			assert.Equal(t, "Student03", rerr.Name)
			assert.Contains(t, err.Error(), "canvas exploded")
			assert.Equal(t, 3, raster.calls)
			assert.Len(t, ticks, 2)
		})
	}
}

func TestExportCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := New(newStubSource(nil), &flakyRaster{}, nil, WithClock(clock))
	art, err := o.Export(ctx, Job{Records: people(6), Institute: inst(), Template: "classic", Format: ZIP},
		func(p Progress) {
			if p.Current == 2 {
				cancel()
			}
		})
	assert.Nil(t, art)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExportRejectsBadJobs(t *testing.T) {
	o := New(newStubSource(nil), &flakyRaster{}, nil)
	_, err := o.Export(context.Background(), Job{Records: people(1), Template: "holo", Format: PDF}, nil)
	assert.ErrorIs(t, err, cards.ErrUnknownTemplate)
	_, err = o.Export(context.Background(), Job{Template: "classic", Format: PDF}, nil)
	assert.ErrorIs(t, err, ErrNoRecords)
	_, err = o.Export(context.Background(), Job{Records: people(1), Template: "classic", Format: HTML}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestAssetsResolvedOncePerURL(t *testing.T) {
	shared := "https://cdn.example.com/shared.png"
	src := newStubSource(map[string]color.NRGBA{shared: {R: 0xff, A: 0xff}})
	recs := people(4)
	for i := range recs {
		recs[i].PhotoURL = shared
	}
	recs[3].PhotoURL = ""
	o := New(src, &flakyRaster{}, nil, WithClock(clock))
	_, err := o.Export(context.Background(), Job{Records: recs, Institute: inst(), Template: "classic", Format: ZIP}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, src.count(shared))
	assert.Equal(t, 1, src.count(inst().LogoURL))
	assert.Equal(t, 0, src.count(""))
}

func TestZIPCollisionsLastWriteWins(t *testing.T) {
	recs := people(3)
	recs[2].FirstName = recs[0].FirstName
	recs[2].RollNo = recs[0].RollNo
	recs[2].Section = "B"

	o := New(newStubSource(nil), cards.NewRaster(1), nil, WithClock(clock))
	art, err := o.Export(context.Background(), Job{Records: recs, Institute: inst(), Template: "classic", Format: ZIP}, nil)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(art.Data), int64(len(art.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "Student01_1.jpg", zr.File[0].Name)
	assert.Equal(t, "Student02_2.jpg", zr.File[1].Name)
}

func TestZIPKeepsNonLatinNamesDistinct(t *testing.T) {
	recs := []records.Person{
		{Name: "राम शर्मा", RollNo: "1"},
		{Name: "सीता वर्मा", RollNo: "1"},
		{Name: "Zoë", RollNo: "2"},
		{Name: "Zoé", RollNo: "2"},
		{Name: "Zo/ë", RollNo: "2"},
		{Name: "Zo ë", RollNo: "2"},
	}
	o := New(newStubSource(nil), cards.NewRaster(1), nil, WithClock(clock))
	art, err := o.Export(context.Background(), Job{Records: recs, Institute: inst(), Template: "classic", Format: ZIP}, nil)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(art.Data), int64(len(art.Data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"राम_शर्मा_1.jpg",
		"सीता_वर्मा_1.jpg",
		"Zoë_2.jpg",
		"Zoé_2.jpg",
		"Zo_ë_2.jpg",
		"Zo_ë_2_6.jpg",
	}, names)
}

func TestEndToEndZIPWithPhotoAndPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(90, 120, color.NRGBA{R: 0xff, A: 0xff}), imaging.PNG))
	photo := buf.Bytes()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a.png" {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(photo)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	resolver := assets.NewResolver(assets.Options{Timeout: 2 * time.Second}, nil, nil)
	defer resolver.Close()
	raster := cards.NewRaster(2)
	defer raster.Close()
	o := New(resolver, raster, nil, WithClock(clock))

	studentA := records.Person{FirstName: "Asha", LastName: "Verma", RollNo: "1", PhotoURL: srv.URL + "/a.png"}
	studentB := records.Person{FirstName: "Kiran", RollNo: "2", PhotoURL: ""}
	art, err := o.Export(context.Background(), Job{
		Records:   []records.Person{studentA, studentB},
		Institute: records.Institute{Name: "Institute X"},
		Template:  "classic",
		Format:    ZIP,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "IDs_Batch.zip", art.Name)

	zr, err := zip.NewReader(bytes.NewReader(art.Data), int64(len(art.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "Asha_Verma_1.jpg", zr.File[0].Name)
	assert.Equal(t, "Kiran_2.jpg", zr.File[1].Name)

	// centre of the classic photo slot at 2x
	cx, cy := (105+55)*2, (122+65)*2
	a := decodeEntry(t, zr.File[0])
	b := decodeEntry(t, zr.File[1])
	assert.Equal(t, 320*2, a.Bounds().Dx())
	assert.Equal(t, 506*2, a.Bounds().Dy())

	pa := color.NRGBAModel.Convert(a.At(cx, cy)).(color.NRGBA)
	assert.Greater(t, pa.R, uint8(0xd0), "resolved photo is drawn")
	assert.Less(t, pa.G, uint8(0x40))

	pb := color.NRGBAModel.Convert(b.At(cx, cy)).(color.NRGBA)
	assert.InDelta(t, int(pb.R), int(pb.G), 24, "placeholder silhouette is grey")
}

func decodeEntry(t *testing.T, f *zip.File) image.Image {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	img, err := jpeg.Decode(rc)
	require.NoError(t, err)
	return img
}

func TestExportSingle(t *testing.T) {
	o := New(newStubSource(nil), cards.NewRaster(1), nil, WithClock(clock))
	p := records.Person{FirstName: "Asha", LastName: "Verma"}

	for _, tt := range []struct {
		format Format
		prefix []byte
		name   string
	}{
		{HTML, []byte("<div"), "Asha_Verma_ID_Card.html"},
		{JPG, []byte{0xff, 0xd8}, "Asha_Verma_ID_Card.jpg"},
		{PDF, []byte("%PDF"), "Asha_Verma_ID_Card.pdf"},
	} {
		t.Run(string(tt.format), func(t *testing.T) {
			art, err := o.ExportSingle(context.Background(), Single{Person: p, Institute: inst(), Template: "modern", Format: tt.format})
			require.NoError(t, err)
			assert.Equal(t, tt.name, art.Name)
			assert.True(t, bytes.HasPrefix(art.Data, tt.prefix))
		})
	}

	_, err := o.ExportSingle(context.Background(), Single{Person: p, Template: "modern", Format: ZIP})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

type renderCounter struct{ n int32 }

func (r *renderCounter) CardRendered(string) { atomic.AddInt32(&r.n, 1) }

func TestObserverCountsCards(t *testing.T) {
	obs := &renderCounter{}
	o := New(newStubSource(nil), &flakyRaster{}, nil, WithObserver(obs))
	_, err := o.Export(context.Background(), Job{Records: people(3), Institute: inst(), Template: "landscape", Format: PDF}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&obs.n))
}

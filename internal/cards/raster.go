package cards

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// DefaultScale is the raster upscale factor for print output.
const DefaultScale = 2.0

// Raster draws cards straight onto bitmaps from the same layouts Markup uses. Renders through one
// Raster are serialized; use one per worker for parallel output.
type Raster struct {
	scale float64
	mu    sync.Mutex
	faces faceCache
}

// NewRaster returns a rasterizer at the given upscale factor (DefaultScale when <= 0).
func NewRaster(scale float64) *Raster {
	if scale <= 0 {
		scale = DefaultScale
	}
	return &Raster{scale: scale}
}

// Scale reports the upscale factor.
func (r *Raster) Scale() float64 { return r.scale }

// Close releases cached font faces.
func (r *Raster) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faces.close()
}

// Rasterize renders c at width*scale by height*scale pixels.
func (r *Raster) Rasterize(c Card) (image.Image, error) {
	l, err := LayoutFor(c.Template)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w := int(math.Round(float64(l.Width) * r.scale))
	h := int(math.Round(float64(l.Height) * r.scale))
	cv := &canvas{
		img:   imaging.New(w, h, l.Theme.RGBA(l.Background)),
		scale: r.scale,
		theme: l.Theme,
		faces: &r.faces,
	}
	for i, reg := range l.Regions {
		if err := cv.region(c, reg); err != nil {
			return nil, fmt.Errorf("draw %s region %d (%s): %w", c.Template.ID, i, reg.Kind, err)
		}
	}
	return cv.img, nil
}

// EncodeJPEG encodes a rendered card for ZIP entries and PDF pages.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

type canvas struct {
	img   *image.NRGBA
	scale float64
	theme Theme
	faces *faceCache
}

func (cv *canvas) rect(b Box) image.Rectangle {
	s := cv.scale
	return image.Rect(
		int(math.Round(float64(b.X)*s)),
		int(math.Round(float64(b.Y)*s)),
		int(math.Round(float64(b.X+b.W)*s)),
		int(math.Round(float64(b.Y+b.H)*s)),
	)
}

func (cv *canvas) px(v float64) int {
	return int(math.Round(v * cv.scale))
}

func (cv *canvas) region(c Card, reg Region) error {
	switch reg.Kind {
	case Band:
		cv.fill(cv.rect(reg.Box), cv.theme.RGBA(reg.Style.Fill), nil)
		return nil
	case Text:
		return cv.text(regionText(c, reg), cv.rect(reg.Box), reg.Style)
	case Image:
		return cv.image(c, reg)
	case Fields:
		return cv.fields(c, reg)
	case QR:
		return cv.qr(c.Value(reg.Key), cv.rect(reg.Box))
	case Table:
		return cv.table(c.Schedule, reg)
	}
	return fmt.Errorf("unsupported region kind %q", reg.Kind)
}

// fill paints r with col, through an optional shape mask.
func (cv *canvas) fill(r image.Rectangle, col color.Color, mask image.Image) {
	src := image.NewUniform(col)
	if mask == nil {
		draw.Draw(cv.img, r, src, image.Point{}, draw.Over)
		return
	}
	draw.DrawMask(cv.img, r, src, image.Point{}, mask, r.Min, draw.Over)
}

func (cv *canvas) text(s string, r image.Rectangle, st Style) error {
	size := st.Size
	if size <= 0 {
		size = 12
	}
	face, err := cv.faces.face(st.Bold, size*cv.scale)
	if err != nil {
		return err
	}
	maxLines := st.Lines
	if maxLines < 1 {
		maxLines = 1
	}
	lines := wrap(face, s, r.Dx(), maxLines)

	m := face.Metrics()
	ascent, glyphH := m.Ascent.Ceil(), (m.Ascent + m.Descent).Ceil()
	lineH := cv.px(size * 1.3)
	top := r.Min.Y
	if total := lineH * len(lines); total < r.Dy() {
		top += (r.Dy() - total) / 2
	}

	d := &font.Drawer{Dst: cv.img, Src: image.NewUniform(cv.theme.RGBA(st.Color)), Face: face}
	for i, ln := range lines {
		x := r.Min.X
		switch st.Align {
		case Center:
			x += (r.Dx() - font.MeasureString(face, ln).Ceil()) / 2
		case Right:
			x = r.Max.X - font.MeasureString(face, ln).Ceil()
		}
		y := top + i*lineH + (lineH-glyphH)/2 + ascent
		d.Dot = fixed.P(x, y)
		d.DrawString(ln)
	}
	return nil
}

// wrap breaks s into at most maxLines lines no wider than width, ellipsizing what does not fit.
func wrap(face font.Face, s string, width, maxLines int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	cur := ""
	for i, w := range words {
		next := w
		if cur != "" {
			next = cur + " " + w
		}
		if font.MeasureString(face, next).Ceil() <= width || cur == "" {
			cur = next
			continue
		}
		if len(lines) == maxLines-1 {
			lines = append(lines, ellipsize(face, strings.Join(append([]string{cur}, words[i:]...), " "), width))
			return lines
		}
		lines = append(lines, ellipsize(face, cur, width))
		cur = w
	}
	return append(lines, ellipsize(face, cur, width))
}

func ellipsize(face font.Face, s string, width int) string {
	if font.MeasureString(face, s).Ceil() <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 {
		r = r[:len(r)-1]
		cand := strings.TrimRight(string(r), " ") + "..."
		if font.MeasureString(face, cand).Ceil() <= width {
			return cand
		}
	}
	return ""
}

func (cv *canvas) image(c Card, reg Region) error {
	r := cv.rect(reg.Box)
	st := reg.Style
	shape := func(rr image.Rectangle) image.Image {
		if st.Round {
			return circleIn(rr)
		}
		return nil
	}
	if st.Border != "" {
		cv.fill(r, cv.theme.RGBA(st.Border), shape(r))
		r = r.Inset(cv.px(2))
	}
	if r.Empty() {
		return nil
	}

	if a := c.Asset(reg.Key); a != nil && a.Image != nil {
		img := imaging.Fill(a.Image, r.Dx(), r.Dy(), imaging.Center, imaging.Lanczos)
		if mask := shape(r); mask != nil {
			draw.DrawMask(cv.img, r, img, image.Point{}, mask, r.Min, draw.Over)
		} else {
			draw.Draw(cv.img, r, img, image.Point{}, draw.Over)
		}
		return nil
	}

	if reg.Key == "logo" {
		cv.fill(r, cv.theme.RGBA(st.Fill), shape(r))
		return cv.text(c.Value("institute.initials"), r, Style{
			Size:  float64(reg.Box.H) * 0.4,
			Bold:  true,
			Align: Center,
			Color: st.Color,
		})
	}
	cv.silhouette(r, shape(r))
	return nil
}

// silhouette draws the placeholder avatar: a grey head and shoulders on a light ground.
func (cv *canvas) silhouette(r image.Rectangle, mask image.Image) {
	bg := color.NRGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 0xff}
	fg := color.NRGBA{R: 0x9c, G: 0xa3, B: 0xaf, A: 0xff}
	cv.fill(r, bg, mask)
	w, h := float64(r.Dx()), float64(r.Dy())
	unit := math.Min(w/100, h/120)
	cx := float64(r.Min.X) + w/2
	base := float64(r.Max.Y)
	cy := base - 76*unit
	head := ellipse{cx: cx, cy: cy, rx: 22 * unit, ry: 22 * unit, b: r}
	body := ellipse{cx: cx, cy: base, rx: 40 * unit, ry: 42 * unit, b: r}
	draw.DrawMask(cv.img, r, image.NewUniform(fg), image.Point{}, intersect(head, mask), r.Min, draw.Over)
	draw.DrawMask(cv.img, r, image.NewUniform(fg), image.Point{}, intersect(body, mask), r.Min, draw.Over)
}

func (cv *canvas) fields(c Card, reg Region) error {
	st := reg.Style
	size := st.Size
	if size <= 0 {
		size = 11
	}
	r := cv.rect(reg.Box)
	rowH := cv.px(size * 1.6)
	labelW := cv.px(float64(st.LabelWidth))
	for i, f := range reg.Fields {
		y := r.Min.Y + i*rowH
		if y+rowH > r.Max.Y {
			break
		}
		lr := image.Rect(r.Min.X, y, r.Min.X+labelW, y+rowH)
		vr := image.Rect(r.Min.X+labelW, y, r.Max.X, y+rowH)
		if err := cv.text(f.Label, lr, Style{Size: size, Bold: true, Color: st.Color}); err != nil {
			return err
		}
		if err := cv.text(": "+c.Value(f.Key), vr, Style{Size: size, Color: st.Color}); err != nil {
			return err
		}
	}
	return nil
}

func (cv *canvas) qr(content string, r image.Rectangle) error {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	img := q.Image(r.Dx())
	if b := img.Bounds(); b.Dx() != r.Dx() || b.Dy() != r.Dy() {
		img = imaging.Resize(img, r.Dx(), r.Dy(), imaging.NearestNeighbor)
	}
	draw.Draw(cv.img, r, img, img.Bounds().Min, draw.Src)
	return nil
}

var tableColumns = []float64{0.45, 0.25, 0.30}

func (cv *canvas) table(rows []ScheduleRow, reg Region) error {
	st := reg.Style
	size := st.Size
	if size <= 0 {
		size = 12
	}
	r := cv.rect(reg.Box)
	rowH := cv.px(size * 2.2)
	pad := cv.px(8)
	rule := cv.theme.RGBA(st.Border)

	cells := [][]string{{"Subject", "Date", "Time"}}
	for _, row := range rows {
		cells = append(cells, []string{row.Subject, row.Date, row.Time})
	}
	if len(rows) == 0 {
		cells = append(cells, []string{"N/A", "", ""})
	}

	y := r.Min.Y
	for i, row := range cells {
		if y+rowH > r.Max.Y {
			break
		}
		line := image.Rect(r.Min.X, y, r.Max.X, y+rowH)
		if i == 0 {
			cv.fill(line, cv.theme.RGBA(st.Fill), nil)
		}
		x := r.Min.X
		for j, s := range row {
			w := int(float64(r.Dx()) * tableColumns[j])
			cell := image.Rect(x+pad, y, x+w-pad, y+rowH)
			if err := cv.text(s, cell, Style{Size: size, Bold: i == 0, Color: st.Color}); err != nil {
				return err
			}
			x += w
		}
		cv.fill(image.Rect(r.Min.X, y+rowH-1, r.Max.X, y+rowH), rule, nil)
		y += rowH
	}
	cv.stroke(image.Rect(r.Min.X, r.Min.Y, r.Max.X, y), rule)
	return nil
}

func (cv *canvas) stroke(r image.Rectangle, col color.Color) {
	cv.fill(image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), col, nil)
	cv.fill(image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), col, nil)
	cv.fill(image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), col, nil)
	cv.fill(image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), col, nil)
}

// ellipse is an alpha mask that is opaque inside the ellipse and clipped to b.
type ellipse struct {
	cx, cy, rx, ry float64
	b              image.Rectangle
}

func circleIn(r image.Rectangle) ellipse {
	rad := float64(min(r.Dx(), r.Dy())) / 2
	return ellipse{
		cx: float64(r.Min.X) + float64(r.Dx())/2,
		cy: float64(r.Min.Y) + float64(r.Dy())/2,
		rx: rad, ry: rad, b: r,
	}
}

func (e ellipse) ColorModel() color.Model { return color.AlphaModel }
func (e ellipse) Bounds() image.Rectangle { return e.b }
func (e ellipse) At(x, y int) color.Color {
	if e.rx <= 0 || e.ry <= 0 {
		return color.Transparent
	}
	dx := (float64(x) + 0.5 - e.cx) / e.rx
	dy := (float64(y) + 0.5 - e.cy) / e.ry
	if dx*dx+dy*dy <= 1 {
		return color.Opaque
	}
	return color.Transparent
}

// both is the intersection of two masks.
type both struct {
	a, b image.Image
}

func intersect(a ellipse, b image.Image) image.Image {
	if b == nil {
		return a
	}
	return both{a: a, b: b}
}

func (m both) ColorModel() color.Model { return color.AlphaModel }
func (m both) Bounds() image.Rectangle { return m.a.Bounds().Intersect(m.b.Bounds()) }
func (m both) At(x, y int) color.Color {
	_, _, _, a1 := m.a.At(x, y).RGBA()
	_, _, _, a2 := m.b.At(x, y).RGBA()
	if a1 == 0 || a2 == 0 {
		return color.Transparent
	}
	return color.Opaque
}

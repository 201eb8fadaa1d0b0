package assets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers webp with image.Decode
)

// Encoding selects how resolved images are re-encoded for embedding.
type Encoding int

const (
	// JPEG keeps batch payloads small.
	JPEG Encoding = iota
	// PNG preserves transparency (logos on single-card renders).
	PNG
)

func (e Encoding) String() string {
	if e == PNG {
		return "png"
	}
	return "jpeg"
}

// Asset is a fetched image ready to be embedded in markup or composited onto a raster card.
type Asset struct {
	Source      string
	ContentType string
	Data        []byte
	Image       image.Image
}

// DataURI returns the payload as an inline data: URI.
func (a *Asset) DataURI() string {
	if a == nil {
		return ""
	}
	return "data:" + a.ContentType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Bounds returns the decoded image size, zero for a nil asset.
func (a *Asset) Bounds() image.Rectangle {
	if a == nil || a.Image == nil {
		return image.Rectangle{}
	}
	return a.Image.Bounds()
}

// FromBytes decodes raw image bytes (jpeg, png, gif, bmp, tiff, webp), downscales them to fit
// maxSide (0 disables), and re-encodes with enc.
func FromBytes(source string, raw []byte, maxSide int, enc Encoding) (*Asset, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, fmt.Errorf("decode image: empty bounds %dx%d", b.Dx(), b.Dy())
	}
	if maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}
	return FromImage(source, img, enc)
}

// FromImage encodes an already decoded image.
func FromImage(source string, img image.Image, enc Encoding) (*Asset, error) {
	var buf bytes.Buffer
	switch enc {
	case PNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return &Asset{Source: source, ContentType: "image/png", Data: buf.Bytes(), Image: img}, nil
	default:
		// JPEG has no alpha channel; flatten transparent logos onto white first.
		b := img.Bounds()
		flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)
		if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(88)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return &Asset{Source: source, ContentType: "image/jpeg", Data: buf.Bytes(), Image: flat}, nil
	}
}

package cards

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

var (
	parseOnce   sync.Once
	regularFont *opentype.Font
	boldFont    *opentype.Font
	parseErr    error
)

func parsedFonts() (*opentype.Font, *opentype.Font, error) {
	parseOnce.Do(func() {
		regularFont, parseErr = opentype.Parse(goregular.TTF)
		if parseErr != nil {
			return
		}
		boldFont, parseErr = opentype.Parse(gobold.TTF)
	})
	return regularFont, boldFont, parseErr
}

type faceKey struct {
	bold bool
	size float64
}

// faceCache holds font faces by weight and pixel size. Faces are not safe for concurrent use, so a
// cache belongs to one Raster and is only touched under its lock.
type faceCache struct {
	faces map[faceKey]font.Face
}

func (c *faceCache) face(bold bool, size float64) (font.Face, error) {
	k := faceKey{bold: bold, size: size}
	if f, ok := c.faces[k]; ok {
		return f, nil
	}
	regular, b, err := parsedFonts()
	if err != nil {
		return nil, fmt.Errorf("parse fonts: %w", err)
	}
	src := regular
	if bold {
		src = b
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("new face %.1fpx: %w", size, err)
	}
	if c.faces == nil {
		c.faces = make(map[faceKey]font.Face)
	}
	c.faces[k] = f
	return f, nil
}

func (c *faceCache) close() {
	for k, f := range c.faces {
		_ = f.Close()
		delete(c.faces, k)
	}
}

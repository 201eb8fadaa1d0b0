package cards

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTemplate is returned for any template id that has no descriptor.
var ErrUnknownTemplate = errors.New("unknown template")

// ID names a card template.
type ID string

const (
	Classic      ID = "classic"
	Modern       ID = "modern"
	Elegant      ID = "elegant"
	Professional ID = "professional"
	Landscape    ID = "landscape"
	Admit        ID = "admit"
)

// Kind separates identity cards from exam admit cards.
type Kind string

const (
	IDCard    Kind = "id_card"
	AdmitCard Kind = "admit_card"
)

// PageLayout is how cards of one template are tiled on an A4 page. Sizes are millimetres.
type PageLayout struct {
	Cols  int     `json:"cols"`
	Rows  int     `json:"rows"`
	CardW float64 `json:"card_w_mm"`
	CardH float64 `json:"card_h_mm"`
	Gap   float64 `json:"gap_mm"`
}

// PerPage is the number of cards on one page.
func (p PageLayout) PerPage() int { return p.Cols * p.Rows }

// Descriptor is the fixed contract of a template: its id and card face size in logical pixels.
type Descriptor struct {
	ID     ID         `json:"id"`
	Name   string     `json:"name"`
	Kind   Kind       `json:"kind"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Page   PageLayout `json:"page"`
}

const (
	A4WidthMM  = 210.0
	A4HeightMM = 297.0
)

var (
	portraitPage  = PageLayout{Cols: 2, Rows: 1, CardW: 54, CardH: 85.6, Gap: 10}
	landscapePage = PageLayout{Cols: 1, Rows: 2, CardW: 85.6, CardH: 54, Gap: 10}
	a4Page        = PageLayout{Cols: 1, Rows: 1, CardW: A4WidthMM, CardH: A4HeightMM}
)

var descriptors = []Descriptor{
	{ID: Classic, Name: "Classic", Kind: IDCard, Width: 320, Height: 506, Page: portraitPage},
	{ID: Modern, Name: "Modern", Kind: IDCard, Width: 320, Height: 506, Page: portraitPage},
	{ID: Elegant, Name: "Elegant", Kind: IDCard, Width: 320, Height: 506, Page: portraitPage},
	{ID: Professional, Name: "Professional", Kind: IDCard, Width: 320, Height: 506, Page: portraitPage},
	{ID: Landscape, Name: "Landscape", Kind: IDCard, Width: 506, Height: 320, Page: landscapePage},
	{ID: Admit, Name: "Admit Card", Kind: AdmitCard, Width: 794, Height: 1123, Page: a4Page},
}

// Descriptors lists every known template in a stable order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup finds a descriptor by id, case-insensitively.
func Lookup(id string) (Descriptor, error) {
	want := ID(strings.ToLower(strings.TrimSpace(id)))
	for _, d := range descriptors {
		if d.ID == want {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
}

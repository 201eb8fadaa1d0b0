package cards

import (
	"fmt"
	"image/color"
	"strings"
)

// RegionKind selects how a region is drawn.
type RegionKind string

const (
	Band   RegionKind = "band"
	Text   RegionKind = "text"
	Image  RegionKind = "image"
	Fields RegionKind = "fields"
	QR     RegionKind = "qr"
	Table  RegionKind = "table"
)

// Align is horizontal text alignment inside a region box.
type Align string

const (
	Left   Align = "left"
	Center Align = "center"
	Right  Align = "right"
)

// Box is a rectangle in logical card pixels.
type Box struct {
	X, Y, W, H int
}

// Style holds presentation tokens. Colour fields name a theme token or a literal "#rrggbb".
type Style struct {
	Fill       string
	Color      string
	Border     string
	Size       float64
	Bold       bool
	Upper      bool
	Align      Align
	Lines      int
	Round      bool
	LabelWidth int
}

// Field is one label/value row of a Fields region.
type Field struct {
	Label string
	Key   string
}

// Region is one positioned element of a layout. Text regions print Literal when set, otherwise the
// card value under Key; Image regions use Key as the slot name ("photo" or "logo").
type Region struct {
	Kind    RegionKind
	Box     Box
	Key     string
	Literal string
	Fields  []Field
	Style   Style
}

// Theme maps colour tokens to "#rrggbb".
type Theme map[string]string

// Hex resolves a token. Literal colours pass through and unknown tokens fall back to "ink".
func (t Theme) Hex(token string) string {
	if strings.HasPrefix(token, "#") {
		return token
	}
	if v, ok := t[token]; ok {
		return v
	}
	if v, ok := t["ink"]; ok {
		return v
	}
	return "#000000"
}

// RGBA resolves a token to a colour.
func (t Theme) RGBA(token string) color.NRGBA {
	return parseHex(t.Hex(token))
}

// Layout is the declarative description of one template. Both the markup and raster
// interpreters walk the same regions in order.
type Layout struct {
	Width      int
	Height     int
	Background string
	Theme      Theme
	Regions    []Region
}

func parseHex(s string) color.NRGBA {
	c := color.NRGBA{A: 0xff}
	s = strings.TrimPrefix(s, "#")
	switch len(s) {
	case 6:
		_, _ = fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B)
	case 3:
		_, _ = fmt.Sscanf(s, "%1x%1x%1x", &c.R, &c.G, &c.B)
		c.R, c.G, c.B = c.R*17, c.G*17, c.B*17
	}
	return c
}

// LayoutFor returns the layout of a template.
func LayoutFor(d Descriptor) (Layout, error) {
	build, ok := layouts[d.ID]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, d.ID)
	}
	l := build()
	l.Width, l.Height = d.Width, d.Height
	return l, nil
}

var layouts = map[ID]func() Layout{
	Classic:      classicLayout,
	Modern:       modernLayout,
	Elegant:      elegantLayout,
	Professional: professionalLayout,
	Landscape:    landscapeLayout,
	Admit:        admitLayout,
}

var idFields = []Field{
	{Label: "Class", Key: "class"},
	{Label: "Roll No", Key: "roll_no"},
	{Label: "Adm. No", Key: "admission_no"},
	{Label: "DOB", Key: "dob"},
	{Label: "Blood", Key: "blood_group"},
	{Label: "Father", Key: "father_name"},
	{Label: "Mobile", Key: "mobile"},
}

func text(key string, box Box, st Style) Region {
	return Region{Kind: Text, Key: key, Box: box, Style: st}
}

func label(lit string, box Box, st Style) Region {
	return Region{Kind: Text, Literal: lit, Box: box, Style: st}
}

func band(box Box, fill string) Region {
	return Region{Kind: Band, Box: box, Style: Style{Fill: fill}}
}

func classicLayout() Layout {
	return Layout{
		Background: "paper",
		Theme:      Theme{"primary": "#1e3a8a", "accent": "#f59e0b", "paper": "#ffffff", "ink": "#111827", "muted": "#4b5563", "on_primary": "#ffffff"},
		Regions: []Region{
			band(Box{0, 0, 320, 110}, "primary"),
			{Kind: Image, Key: "logo", Box: Box{12, 14, 44, 44}, Style: Style{Round: true, Fill: "paper", Color: "primary"}},
			text("institute.name", Box{64, 14, 244, 40}, Style{Size: 15, Bold: true, Upper: true, Color: "on_primary", Lines: 2}),
			text("institute.address", Box{12, 62, 296, 28}, Style{Size: 9, Color: "on_primary", Align: Center, Lines: 2}),
			label("STUDENT IDENTITY CARD", Box{0, 92, 320, 14}, Style{Size: 9, Bold: true, Color: "accent", Align: Center}),
			{Kind: Image, Key: "photo", Box: Box{105, 122, 110, 130}, Style: Style{Border: "primary"}},
			text("name", Box{12, 262, 296, 24}, Style{Size: 17, Bold: true, Color: "primary", Align: Center}),
			{Kind: Fields, Box: Box{24, 294, 272, 170}, Fields: idFields, Style: Style{Size: 11, Color: "ink", LabelWidth: 80}},
			band(Box{0, 474, 320, 32}, "primary"),
			text("institute.phone", Box{12, 482, 296, 16}, Style{Size: 9, Color: "on_primary", Align: Center}),
		},
	}
}

func modernLayout() Layout {
	return Layout{
		Background: "paper",
		Theme:      Theme{"primary": "#0f766e", "accent": "#14b8a6", "paper": "#f8fafc", "ink": "#0f172a", "muted": "#475569", "on_primary": "#ffffff"},
		Regions: []Region{
			band(Box{0, 0, 320, 170}, "primary"),
			band(Box{0, 170, 320, 6}, "accent"),
			{Kind: Image, Key: "logo", Box: Box{14, 14, 36, 36}, Style: Style{Round: true, Fill: "paper", Color: "primary"}},
			text("institute.name", Box{58, 14, 250, 36}, Style{Size: 13, Bold: true, Color: "on_primary", Lines: 2}),
			{Kind: Image, Key: "photo", Box: Box{100, 64, 120, 120}, Style: Style{Round: true, Border: "paper"}},
			text("name", Box{12, 196, 296, 26}, Style{Size: 18, Bold: true, Color: "ink", Align: Center}),
			text("class", Box{12, 224, 296, 18}, Style{Size: 11, Color: "muted", Align: Center}),
			{Kind: Fields, Box: Box{28, 256, 264, 170}, Fields: idFields[1:], Style: Style{Size: 11, Color: "ink", LabelWidth: 78}},
			text("institute.address", Box{12, 440, 296, 30}, Style{Size: 8, Color: "muted", Align: Center, Lines: 2}),
			band(Box{0, 478, 320, 28}, "primary"),
			label("IDENTITY CARD", Box{0, 484, 320, 16}, Style{Size: 10, Bold: true, Color: "on_primary", Align: Center}),
		},
	}
}

func elegantLayout() Layout {
	return Layout{
		Background: "paper",
		Theme:      Theme{"primary": "#7c2d12", "accent": "#b45309", "paper": "#fffbeb", "ink": "#292524", "muted": "#78716c", "on_primary": "#fef3c7"},
		Regions: []Region{
			band(Box{0, 0, 320, 8}, "accent"),
			{Kind: Image, Key: "logo", Box: Box{138, 18, 44, 44}, Style: Style{Round: true, Fill: "primary", Color: "on_primary"}},
			text("institute.name", Box{12, 66, 296, 36}, Style{Size: 15, Bold: true, Color: "primary", Align: Center, Lines: 2}),
			text("institute.address", Box{12, 102, 296, 24}, Style{Size: 8, Color: "muted", Align: Center, Lines: 2}),
			band(Box{40, 130, 240, 1}, "accent"),
			{Kind: Image, Key: "photo", Box: Box{110, 140, 100, 120}, Style: Style{Border: "accent"}},
			text("name", Box{12, 268, 296, 24}, Style{Size: 17, Bold: true, Color: "ink", Align: Center}),
			{Kind: Fields, Box: Box{30, 300, 260, 168}, Fields: idFields, Style: Style{Size: 11, Color: "ink", LabelWidth: 76}},
			band(Box{0, 474, 320, 32}, "primary"),
			label("STUDENT IDENTITY CARD", Box{0, 482, 320, 16}, Style{Size: 10, Bold: true, Color: "on_primary", Align: Center}),
		},
	}
}

func professionalLayout() Layout {
	return Layout{
		Background: "paper",
		Theme:      Theme{"primary": "#111827", "accent": "#2563eb", "paper": "#ffffff", "ink": "#111827", "muted": "#6b7280", "on_primary": "#ffffff"},
		Regions: []Region{
			band(Box{0, 0, 320, 72}, "primary"),
			band(Box{0, 72, 320, 4}, "accent"),
			{Kind: Image, Key: "logo", Box: Box{12, 14, 44, 44}, Style: Style{Round: true, Fill: "paper", Color: "primary"}},
			text("institute.name", Box{64, 12, 244, 34}, Style{Size: 13, Bold: true, Upper: true, Color: "on_primary", Lines: 2}),
			text("institute.phone", Box{64, 48, 244, 14}, Style{Size: 8, Color: "on_primary"}),
			{Kind: Image, Key: "photo", Box: Box{12, 92, 100, 120}, Style: Style{Border: "accent"}},
			text("name", Box{122, 96, 186, 44}, Style{Size: 15, Bold: true, Color: "ink", Lines: 2}),
			text("class", Box{122, 142, 186, 16}, Style{Size: 11, Color: "accent"}),
			text("admission_no", Box{122, 160, 186, 16}, Style{Size: 10, Color: "muted"}),
			{Kind: Fields, Box: Box{16, 226, 288, 150}, Fields: []Field{
				{Label: "Roll No", Key: "roll_no"},
				{Label: "DOB", Key: "dob"},
				{Label: "Blood", Key: "blood_group"},
				{Label: "Father", Key: "father_name"},
				{Label: "Mobile", Key: "mobile"},
				{Label: "Email", Key: "email"},
			}, Style: Style{Size: 11, Color: "ink", LabelWidth: 72}},
			{Kind: QR, Key: "qr", Box: Box{230, 386, 76, 76}},
			text("address", Box{16, 390, 206, 60}, Style{Size: 9, Color: "muted", Lines: 4}),
			band(Box{0, 478, 320, 28}, "primary"),
			text("institute.address", Box{8, 484, 304, 16}, Style{Size: 8, Color: "on_primary", Align: Center}),
		},
	}
}

func landscapeLayout() Layout {
	return Layout{
		Background: "paper",
		Theme:      Theme{"primary": "#1d4ed8", "accent": "#f97316", "paper": "#ffffff", "ink": "#0f172a", "muted": "#64748b", "on_primary": "#ffffff"},
		Regions: []Region{
			band(Box{0, 0, 506, 64}, "primary"),
			{Kind: Image, Key: "logo", Box: Box{12, 10, 44, 44}, Style: Style{Round: true, Fill: "paper", Color: "primary"}},
			text("institute.name", Box{66, 8, 428, 28}, Style{Size: 16, Bold: true, Upper: true, Color: "on_primary"}),
			text("institute.address", Box{66, 38, 428, 18}, Style{Size: 9, Color: "on_primary"}),
			{Kind: Image, Key: "photo", Box: Box{16, 80, 110, 130}, Style: Style{Border: "primary"}},
			text("name", Box{142, 78, 350, 26}, Style{Size: 18, Bold: true, Color: "ink"}),
			{Kind: Fields, Box: Box{142, 110, 260, 150}, Fields: idFields, Style: Style{Size: 11, Color: "ink", LabelWidth: 74}},
			{Kind: QR, Key: "qr", Box: Box{412, 150, 80, 80}},
			label("STUDENT IDENTITY CARD", Box{16, 222, 110, 28}, Style{Size: 8, Bold: true, Color: "accent", Align: Center, Lines: 2}),
			band(Box{0, 292, 506, 28}, "primary"),
			text("institute.phone", Box{12, 298, 482, 16}, Style{Size: 9, Color: "on_primary", Align: Center}),
		},
	}
}

func admitLayout() Layout {
	return Layout{
		Background: "paper",
		Theme:      Theme{"primary": "#1e3a8a", "accent": "#dc2626", "paper": "#ffffff", "ink": "#111827", "muted": "#4b5563", "on_primary": "#ffffff", "rule": "#cbd5e1", "header": "#e0e7ff"},
		Regions: []Region{
			band(Box{0, 0, 794, 130}, "primary"),
			{Kind: Image, Key: "logo", Box: Box{40, 25, 80, 80}, Style: Style{Round: true, Fill: "paper", Color: "primary"}},
			text("institute.name", Box{140, 24, 620, 40}, Style{Size: 26, Bold: true, Upper: true, Color: "on_primary"}),
			text("institute.address", Box{140, 68, 620, 22}, Style{Size: 13, Color: "on_primary"}),
			text("institute.contact", Box{140, 92, 620, 20}, Style{Size: 12, Color: "on_primary"}),
			label("ADMIT CARD", Box{0, 150, 794, 36}, Style{Size: 26, Bold: true, Color: "accent", Align: Center}),
			text("event.title", Box{40, 190, 714, 26}, Style{Size: 16, Bold: true, Color: "ink", Align: Center}),
			band(Box{40, 226, 714, 2}, "rule"),
			{Kind: Fields, Box: Box{40, 250, 520, 240}, Fields: []Field{
				{Label: "Name", Key: "name"},
				{Label: "Class", Key: "class"},
				{Label: "Roll No", Key: "roll_no"},
				{Label: "Admission No", Key: "admission_no"},
				{Label: "Date of Birth", Key: "dob"},
				{Label: "Father's Name", Key: "father_name"},
				{Label: "Mother's Name", Key: "mother_name"},
				{Label: "Exam Dates", Key: "event.dates"},
			}, Style: Style{Size: 15, Color: "ink", LabelWidth: 170}},
			{Kind: Image, Key: "photo", Box: Box{604, 250, 150, 180}, Style: Style{Border: "primary"}},
			{Kind: QR, Key: "qr", Box: Box{629, 440, 100, 100}},
			label("EXAMINATION SCHEDULE", Box{40, 560, 714, 24}, Style{Size: 15, Bold: true, Color: "primary"}),
			{Kind: Table, Key: "schedule", Box: Box{40, 590, 714, 340}, Style: Style{Size: 13, Color: "ink", Fill: "header", Border: "rule"}},
			band(Box{40, 950, 714, 1}, "rule"),
			label("Instructions: carry this card to every examination. Arrive 30 minutes early. Electronic devices are not permitted.",
				Box{40, 958, 714, 40}, Style{Size: 11, Color: "muted", Lines: 2}),
			band(Box{60, 1050, 200, 1}, "ink"),
			label("Student's Signature", Box{60, 1056, 200, 18}, Style{Size: 12, Color: "muted", Align: Center}),
			band(Box{534, 1050, 200, 1}, "ink"),
			label("Principal's Signature", Box{534, 1056, 200, 18}, Style{Size: 12, Color: "muted", Align: Center}),
			text("generated_on", Box{40, 1090, 714, 18}, Style{Size: 10, Color: "muted", Align: Right}),
		},
	}
}

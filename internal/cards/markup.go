package cards

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// silhouette is the placeholder avatar for a missing photo.
const silhouette = template.HTML(`<svg class="silhouette" xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 120" width="100%" height="100%" preserveAspectRatio="xMidYMid meet"><rect width="100" height="120" fill="#e5e7eb"/><circle cx="50" cy="44" r="22" fill="#9ca3af"/><path d="M10 120c0-26 18-42 40-42s40 16 40 42z" fill="#9ca3af"/></svg>`)

var markupTmpl = template.Must(template.New("card").Parse(`<div class="card card-{{.ID}}" data-template="{{.ID}}" style="{{.Style}}">
{{- range .Elements}}
{{- if eq .Kind "band"}}<div class="region band" style="{{.Style}}"></div>
{{- else if eq .Kind "text"}}<div class="region text"{{if .Key}} data-key="{{.Key}}"{{end}} style="{{.Style}}">{{.Text}}</div>
{{- else if eq .Kind "image"}}{{if .Src}}<img class="region image {{.Key}}" src="{{.Src}}" alt="{{.Key}}" style="{{.Style}}">{{else}}<div class="region image {{.Key}} placeholder" style="{{.Style}}">{{.Glyph}}</div>{{end}}
{{- else if eq .Kind "fields"}}<div class="region fields" style="{{.Style}}">
{{- range .Rows}}<div class="row" data-key="{{.Key}}"><span class="label" style="{{$.LabelStyle}}">{{.Label}}</span><span class="value">{{.Value}}</span></div>{{end -}}
</div>
{{- else if eq .Kind "qr"}}<img class="region qr" src="{{.Src}}" alt="verification code" style="{{.Style}}">
{{- else if eq .Kind "table"}}<table class="region schedule" style="{{.Style}}"><thead><tr style="{{.HeadStyle}}"><th>Subject</th><th>Date</th><th>Time</th></tr></thead><tbody>
{{- range .Schedule}}<tr><td>{{.Subject}}</td><td>{{.Date}}</td><td>{{.Time}}</td></tr>{{else}}<tr><td colspan="3">N/A</td></tr>{{end -}}
</tbody></table>
{{- end}}
{{- end}}
</div>`))

type markupRow struct {
	Key, Label, Value string
}

type markupElement struct {
	Kind      RegionKind
	Key       string
	Style     template.CSS
	HeadStyle template.CSS
	Text      string
	Src       template.URL
	Glyph     template.HTML
	Rows      []markupRow
	Schedule  []ScheduleRow
}

type markupDoc struct {
	ID         ID
	Style      template.CSS
	LabelStyle template.CSS
	Elements   []markupElement
}

// Markup renders a card as a self-contained HTML fragment with fixed pixel dimensions. Output is a
// pure function of the card: identical cards give byte-identical markup.
func Markup(c Card) (string, error) {
	l, err := LayoutFor(c.Template)
	if err != nil {
		return "", err
	}
	doc := markupDoc{
		ID: c.Template.ID,
		Style: css(
			"position:relative", "overflow:hidden", "box-sizing:border-box",
			fmt.Sprintf("width:%dpx", l.Width), fmt.Sprintf("height:%dpx", l.Height),
			"background:"+l.Theme.Hex(l.Background),
			"font-family:'Go','Helvetica Neue',Arial,sans-serif",
		),
		LabelStyle: "font-weight:700",
	}
	for _, r := range l.Regions {
		el, err := markupRegion(c, l, r)
		if err != nil {
			return "", err
		}
		doc.Elements = append(doc.Elements, el)
	}
	var buf bytes.Buffer
	if err := markupTmpl.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("render %s markup: %w", c.Template.ID, err)
	}
	return buf.String(), nil
}

func markupRegion(c Card, l Layout, r Region) (markupElement, error) {
	el := markupElement{Kind: r.Kind, Key: r.Key}
	pos := boxCSS(r.Box)
	st := r.Style
	switch r.Kind {
	case Band:
		el.Style = css(pos, "background:"+l.Theme.Hex(st.Fill))
	case Text:
		el.Text = regionText(c, r)
		el.Style = css(pos, textCSS(l.Theme, st)...)
	case Image:
		parts := []string{pos, "object-fit:cover"}
		if st.Border != "" {
			parts = append(parts, "border:2px solid "+l.Theme.Hex(st.Border), "box-sizing:border-box")
		}
		if st.Round {
			parts = append(parts, "border-radius:50%", "overflow:hidden")
		}
		if a := c.Asset(r.Key); a != nil {
			el.Src = template.URL(a.DataURI())
		} else if r.Key == "logo" {
			el.Glyph = template.HTML(template.HTMLEscapeString(c.Value("institute.initials")))
			parts = append(parts,
				"display:flex", "align-items:center", "justify-content:center",
				"background:"+l.Theme.Hex(st.Fill), "color:"+l.Theme.Hex(st.Color),
				fmt.Sprintf("font-size:%dpx", r.Box.H*2/5), "font-weight:700")
		} else {
			el.Glyph = silhouette
		}
		el.Style = css(parts[0], parts[1:]...)
	case Fields:
		el.Style = css(pos, textCSS(l.Theme, st)...)
		for _, f := range r.Fields {
			el.Rows = append(el.Rows, markupRow{Key: f.Key, Label: f.Label, Value: c.Value(f.Key)})
		}
	case QR:
		png, err := qrcode.Encode(c.Value(r.Key), qrcode.Medium, r.Box.W*2)
		if err != nil {
			return el, fmt.Errorf("encode qr: %w", err)
		}
		el.Src = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
		el.Style = css(pos)
	case Table:
		el.Schedule = c.Schedule
		el.Style = css(pos, append(textCSS(l.Theme, st), "border-collapse:collapse", "border:1px solid "+l.Theme.Hex(st.Border))...)
		el.HeadStyle = css("background:" + l.Theme.Hex(st.Fill))
	default:
		return el, fmt.Errorf("unsupported region kind %q", r.Kind)
	}
	return el, nil
}

func regionText(c Card, r Region) string {
	s := r.Literal
	if s == "" {
		s = c.Value(r.Key)
	}
	if r.Style.Upper {
		s = strings.ToUpper(s)
	}
	return s
}

func boxCSS(b Box) string {
	return fmt.Sprintf("position:absolute;left:%dpx;top:%dpx;width:%dpx;height:%dpx", b.X, b.Y, b.W, b.H)
}

func textCSS(t Theme, st Style) []string {
	out := []string{
		fmt.Sprintf("font-size:%gpx", st.Size),
		"color:" + t.Hex(st.Color),
		"overflow:hidden",
		"line-height:1.3",
	}
	if st.Bold {
		out = append(out, "font-weight:700")
	}
	if st.Align != "" {
		out = append(out, "text-align:"+string(st.Align))
	}
	if st.Lines <= 1 {
		out = append(out, "white-space:nowrap", "text-overflow:ellipsis")
	}
	return out
}

func css(first string, rest ...string) template.CSS {
	return template.CSS(strings.Join(append([]string{first}, rest...), ";"))
}

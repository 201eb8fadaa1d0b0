package export

import (
	"bytes"
	"fmt"

	"github.com/signintech/gopdf"

	"cardexport/internal/cards"
)

const ptPerMM = 72 / 25.4

func mmToPt(mm float64) float64 { return mm * ptPerMM }

// Placement is where card index lands: its zero-based page and the top-left corner in mm.
type Placement struct {
	Page int
	Slot int
	X, Y float64
}

// Place computes the page and position of card index. The grid of Cols x Rows cards is centred on
// the A4 page; slot = index % cardsPerPage fills rows left to right, top to bottom.
func Place(l cards.PageLayout, index int) Placement {
	per := l.PerPage()
	if per < 1 {
		per = 1
	}
	slot := index % per
	col, row := 0, 0
	if l.Cols > 0 {
		col, row = slot%l.Cols, slot/l.Cols
	}
	gridW := float64(l.Cols)*l.CardW + float64(l.Cols-1)*l.Gap
	gridH := float64(l.Rows)*l.CardH + float64(l.Rows-1)*l.Gap
	return Placement{
		Page: index / per,
		Slot: slot,
		X:    (cards.A4WidthMM-gridW)/2 + float64(col)*(l.CardW+l.Gap),
		Y:    (cards.A4HeightMM-gridH)/2 + float64(row)*(l.CardH+l.Gap),
	}
}

// PageCount is ceil(n / cardsPerPage).
func PageCount(l cards.PageLayout, n int) int {
	per := l.PerPage()
	if per < 1 {
		per = 1
	}
	return (n + per - 1) / per
}

type pdfAssembler struct {
	pdf    *gopdf.GoPdf
	layout cards.PageLayout
	pages  int
	cards  int
}

func newPDFAssembler(l cards.PageLayout) *pdfAssembler {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{
		Unit:     gopdf.UnitPT,
		PageSize: *gopdf.PageSizeA4,
	})
	return &pdfAssembler{pdf: pdf, layout: l}
}

func (a *pdfAssembler) Add(index int, _ string, jpeg []byte) error {
	pl := Place(a.layout, index)
	if pl.Slot == 0 {
		a.pdf.AddPage()
		a.pages++
	}
	holder, err := gopdf.ImageHolderByBytes(jpeg)
	if err != nil {
		return fmt.Errorf("pdf image holder: %w", err)
	}
	rect := &gopdf.Rect{W: mmToPt(a.layout.CardW), H: mmToPt(a.layout.CardH)}
	if err := a.pdf.ImageByHolder(holder, mmToPt(pl.X), mmToPt(pl.Y), rect); err != nil {
		return fmt.Errorf("pdf place card %d: %w", index+1, err)
	}
	a.cards++
	return nil
}

func (a *pdfAssembler) Finish() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := a.pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	a.pdf.Close()
	return buf.Bytes(), nil
}

func (a *pdfAssembler) Discard() { a.pdf.Close() }

func (a *pdfAssembler) Pages() int { return a.pages }

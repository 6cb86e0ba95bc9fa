package services

import (
	"testing"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
	"github.com/stretchr/testify/require"
)

// A3 landscape in points.
const (
	a3W = 1191.0
	a3H = 842.0
)

func testRules(t *testing.T) *rules.Table {
	t.Helper()
	rt, err := rules.Default()
	require.NoError(t, err)
	return rt
}

// run places text with its top-left corner at (x, y) in page pixels.
func run(text string, x, y, size float64) pdfdoc.TextRun {
	w := float64(len([]rune(text))) * 0.5 * size
	return pdfdoc.TextRun{Text: text, BBox: models.BBox{X: x, Y: y, Width: w, Height: size}, FontSize: size}
}

func page(n int, runs ...pdfdoc.TextRun) pdfdoc.Page {
	return pdfdoc.Page{Number: n, WidthPt: a3W, HeightPt: a3H, DPI: pdfdoc.DefaultDPI, Text: runs}
}

func docOf(pages ...pdfdoc.Page) *pdfdoc.Document {
	return &pdfdoc.Document{Hash: "testhash", PageCount: len(pages), Pages: pages, DPI: pdfdoc.DefaultDPI}
}

func scaleAt(t *testing.T, denominator int) *models.ScaleContext {
	t.Helper()
	sc, err := models.NewScaleContext(PixelsPerMeter(pdfdoc.DefaultDPI, denominator), models.ScaleMethodUserInput, 1, 1, models.BBox{}, "", "")
	require.NoError(t, err)
	return sc
}

// rectangle adds a stroked closed rectangle the way the content-stream
// interpreter reports a "re S" operator.
func rectangle(p *pdfdoc.Page, x, y, w, h float64) {
	pts := []models.Point{{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h}}
	for i := range pts {
		p.Segments = append(p.Segments, pdfdoc.Segment{A: pts[i], B: pts[(i+1)%len(pts)]})
	}
	p.Subpaths = append(p.Subpaths, pdfdoc.Subpath{Points: pts, Closed: true})
	p.DrawingOps += 4
}

func hasWarning(ws []models.Warning, code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}

func countWarnings(ws []models.Warning, code string) int {
	n := 0
	for _, w := range ws {
		if w.Code == code {
			n++
		}
	}
	return n
}

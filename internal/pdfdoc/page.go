package pdfdoc

import (
	"math"
	"strings"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
)

// TextRun is one shown string with its estimated box in page-pixel space.
type TextRun struct {
	Text     string      `json:"text"`
	BBox     models.BBox `json:"bbox"`
	FontSize float64     `json:"font_size"`
}

// Segment is a stroked or filled straight edge in page-pixel space.
type Segment struct {
	A models.Point `json:"a"`
	B models.Point `json:"b"`
}

// Length of the segment in pixels.
func (s Segment) Length() float64 {
	return math.Hypot(s.B.X-s.A.X, s.B.Y-s.A.Y)
}

// Curve is a cubic Bezier in page-pixel space.
type Curve struct {
	P0, P1, P2, P3 models.Point
}

// Subpath is a painted path piece made only of straight edges.
// Paths containing curves keep their straight edges in Segments and the
// curves in Curves; they are not reported as subpaths.
type Subpath struct {
	Points []models.Point `json:"points"`
	Closed bool           `json:"closed"`
	Filled bool           `json:"filled"`
}

// Image describes a raster XObject used on a page.
type Image struct {
	ObjNr   int    `json:"obj_nr"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Filter  string `json:"filter,omitempty"`
	HasEXIF bool   `json:"has_exif"`
	// Data holds the encoded bytes for DCT (JPEG) images; other filters are
	// not forwarded to detectors.
	Data []byte `json:"-"`
}

// Page is the read-only extraction view of one PDF page.
type Page struct {
	Number     int       `json:"number"`
	WidthPt    float64   `json:"width_pt"`
	HeightPt   float64   `json:"height_pt"`
	DPI        float64   `json:"dpi"`
	Text       []TextRun `json:"text,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
	Curves     []Curve   `json:"curves,omitempty"`
	Subpaths   []Subpath `json:"subpaths,omitempty"`
	Images     []Image   `json:"images,omitempty"`
	DrawingOps int       `json:"drawing_ops"`
	// OCR marks text that came from an OCR provider rather than the text layer.
	OCR bool `json:"ocr,omitempty"`
}

// WidthPx is the page width at the page's render DPI.
func (p *Page) WidthPx() float64 { return p.WidthPt * p.DPI / 72 }

// HeightPx is the page height at the page's render DPI.
func (p *Page) HeightPx() float64 { return p.HeightPt * p.DPI / 72 }

// TextChars counts non-space characters of the text layer.
func (p *Page) TextChars() int {
	n := 0
	for _, r := range p.Text {
		n += len([]rune(strings.TrimSpace(r.Text)))
	}
	return n
}

// PlainText joins the runs in reading order, one line per visual row.
func (p *Page) PlainText() string {
	lines := GroupLines(p.Text, 0)
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.Text)
	}
	return strings.Join(parts, "\n")
}

// HasRaster reports whether the page uses at least one image.
func (p *Page) HasRaster() bool { return len(p.Images) > 0 }

// LargestJPEG returns the biggest DCT-encoded image, if any.
func (p *Page) LargestJPEG() (Image, bool) {
	var best Image
	found := false
	for _, img := range p.Images {
		if len(img.Data) == 0 {
			continue
		}
		if !found || img.Width*img.Height > best.Width*best.Height {
			best = img
			found = true
		}
	}
	return best, found
}

// Document is a parsed PDF. It is never mutated after Load.
type Document struct {
	Hash      string  `json:"hash"`
	PageCount int     `json:"page_count"`
	Pages     []Page  `json:"pages"`
	DPI       float64 `json:"dpi"`
}

// Page returns the 1-based page, or nil.
func (d *Document) Page(n int) *Page {
	if n < 1 || n > len(d.Pages) {
		return nil
	}
	return &d.Pages[n-1]
}

// WithOCRText returns a copy of the document where page n's text layer is
// replaced with runs from an OCR provider. The receiver is left untouched.
func (d *Document) WithOCRText(n int, runs []TextRun) *Document {
	cp := *d
	cp.Pages = make([]Page, len(d.Pages))
	copy(cp.Pages, d.Pages)
	if p := cp.Page(n); p != nil {
		p.Text = runs
		p.OCR = true
	}
	return &cp
}

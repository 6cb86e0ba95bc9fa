package services

import (
	"fmt"
	"math"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
)

// Classification thresholds over the inspected pages.
const (
	minTextChars       = 100
	minMarkerKinds     = 2
	minVectorOps       = 100
	maxRasterVectorOps = 50
)

var categoryPipelines = map[models.InputCategory]models.Pipeline{
	models.CategoryCADWithText: models.PipelineTextExtraction,
	models.CategoryCADNoText:   models.PipelineHybrid,
	models.CategoryScanned:     models.PipelineDetectionOnly,
	models.CategoryPhoto:       models.PipelineDetectionOnly,
}

// Paper sizes in points, portrait.
var paperSizes = [][2]float64{
	{2384, 3370}, {1684, 2384}, {1191, 1684}, {842, 1191}, {595, 842}, {420, 595},
	{612, 792}, {612, 1008}, {792, 1224},
}

// Classifier assigns an input category from the first pages of a document.
type Classifier struct {
	rules *rules.Table
	pages int
}

// NewClassifier inspects at most pages pages (5 when pages <= 0).
func NewClassifier(rt *rules.Table, pages int) *Classifier {
	if pages <= 0 {
		pages = 5
	}
	return &Classifier{rules: rt, pages: pages}
}

// Classify is a pure function of the document content.
func (c *Classifier) Classify(doc *pdfdoc.Document) (models.InputClassification, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return models.InputClassification{}, fmt.Errorf("%w: document has no pages", models.ErrMalformedDocument)
	}
	n := min(c.pages, len(doc.Pages))

	var chars, ops, images int
	var exif, irregular bool
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		p := &doc.Pages[i]
		if !p.OCR {
			chars += p.TextChars()
			for _, m := range c.rules.MarkersIn(p.PlainText()) {
				seen[m] = true
			}
		}
		ops += p.DrawingOps
		images += len(p.Images)
		for _, img := range p.Images {
			if img.HasEXIF {
				exif = true
			}
			if aspectMismatch(p, img) {
				irregular = true
			}
		}
		if !standardPaper(p.WidthPt, p.HeightPt) {
			irregular = true
		}
	}

	// Keep marker order stable by following the rule table.
	var markers []string
	for _, m := range c.rules.Markers {
		if seen[m.Name] {
			markers = append(markers, m.Name)
		}
	}

	res := models.InputClassification{
		Markers:        markers,
		HasTextLayer:   chars > minTextChars,
		HasVectorLayer: ops > minVectorOps,
		IsRasterOnly:   images > 0 && ops < maxRasterVectorOps,
		PagesInspected: n,
	}
	switch {
	case res.HasTextLayer && len(markers) >= minMarkerKinds:
		res.Category, res.Confidence = models.CategoryCADWithText, 0.95
	case res.HasVectorLayer:
		res.Category, res.Confidence = models.CategoryCADNoText, 0.85
	case res.IsRasterOnly && (exif || irregular):
		res.Category, res.Confidence = models.CategoryPhoto, 0.80
	case res.IsRasterOnly:
		res.Category, res.Confidence = models.CategoryScanned, 0.90
	default:
		res.Category, res.Confidence = models.CategoryCADNoText, 0.70
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"no decisive signal (chars=%d markers=%d drawings=%d images=%d), defaulting to %s", chars, len(markers), ops, images, models.CategoryCADNoText))
	}
	res.RecommendedPipeline = categoryPipelines[res.Category]
	return res, nil
}

func standardPaper(w, h float64) bool {
	if w > h {
		w, h = h, w
	}
	for _, s := range paperSizes {
		if math.Abs(w-s[0])/s[0] <= 0.03 && math.Abs(h-s[1])/s[1] <= 0.03 {
			return true
		}
	}
	return false
}

// aspectMismatch flags page-filling images whose aspect ratio differs from
// the page, as happens when a phone photo is dropped onto a PDF page.
func aspectMismatch(p *pdfdoc.Page, img pdfdoc.Image) bool {
	if img.Width <= 0 || img.Height <= 0 || p.WidthPt <= 0 || p.HeightPt <= 0 {
		return false
	}
	pa := p.WidthPt / p.HeightPt
	ia := float64(img.Width) / float64(img.Height)
	return math.Abs(pa-ia)/pa > 0.10
}

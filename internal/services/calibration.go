package services

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
)

const (
	inchesPerMeter = 39.3701
	// earlyExitConfidence stops the document-wide annotation search.
	earlyExitConfidence = 0.9
	// ocrConfidenceFactor discounts annotations read by OCR.
	ocrConfidenceFactor  = 0.85
	dimensionConfidence  = 0.80
	dimensionAgreement   = 0.05
	minDimensionPairs    = 2
	minDimensionSegPx    = 20.0
	scaleStringTolerance = 0.05
)

var (
	userScale      = regexp.MustCompile(`^\s*1\s*:\s*(\d+)\s*$`)
	dimensionLabel = regexp.MustCompile(`^\d{1,3}[.,]\d{1,3}$`)
	commonScales   = []int{1, 2, 5, 10, 20, 25, 50, 100, 200, 250, 500, 1000}
)

// CalibrationRequest carries the caller-supplied calibration inputs.
type CalibrationRequest struct {
	// Scale is "auto" or an explicit ratio like "1:100".
	Scale     string
	Reference *models.ScaleReference
}

// Calibrator determines the pixels-per-meter factor of a document.
type Calibrator struct {
	rules *rules.Table
}

func NewCalibrator(rt *rules.Table) *Calibrator {
	return &Calibrator{rules: rt}
}

// ParseScaleString reads "1:N" and returns N.
func ParseScaleString(s string) (int, error) {
	m := userScale.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q is not a 1:N ratio", models.ErrInvalidScale, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 10000 {
		return 0, fmt.Errorf("%w: ratio denominator %q out of range", models.ErrInvalidScale, m[1])
	}
	return n, nil
}

// PixelsPerMeter is the page-pixel length of one real meter at 1:N.
func PixelsPerMeter(dpi float64, denominator int) float64 {
	return inchesPerMeter * dpi / float64(denominator)
}

// InferScaleString names the common ratio within 5% of ppm, or "".
func InferScaleString(ppm, dpi float64) string {
	if ppm <= 0 || dpi <= 0 {
		return ""
	}
	n := inchesPerMeter * dpi / ppm
	for _, c := range commonScales {
		if math.Abs(n-float64(c))/float64(c) <= scaleStringTolerance {
			return fmt.Sprintf("1:%d", c)
		}
	}
	return ""
}

// ValidateScale compares a calibration against an expected factor and
// returns the relative deviation and whether it is within tolerance.
func ValidateScale(actual, expected, tolerance float64) (bool, float64) {
	if expected <= 0 {
		return false, math.Inf(1)
	}
	dev := math.Abs(actual-expected) / expected
	return dev <= tolerance, dev
}

// Calibrate tries user input first, then scale annotations, then dimension
// lines. page > 0 is searched before the remaining pages. It never falls
// back to a default: with no result it returns ErrScaleNotDetermined.
func (c *Calibrator) Calibrate(doc *pdfdoc.Document, page int, req CalibrationRequest) (*models.ScaleContext, error) {
	if sc, err := c.fromUser(doc, page, req); sc != nil || err != nil {
		return sc, err
	}
	order := searchOrder(doc, page)
	if sc := c.fromAnnotations(doc, order); sc != nil {
		return sc, nil
	}
	for _, n := range order {
		if sc := c.fromDimensionLines(doc.Page(n)); sc != nil {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("%w: no scale annotation, dimension line or reference", models.ErrScaleNotDetermined)
}

// Annotation only runs the annotation strategy; the pipeline uses it to
// cross-check a user-supplied scale.
func (c *Calibrator) Annotation(doc *pdfdoc.Document, page int) *models.ScaleContext {
	return c.fromAnnotations(doc, searchOrder(doc, page))
}

func searchOrder(doc *pdfdoc.Document, page int) []int {
	order := make([]int, 0, len(doc.Pages))
	if doc.Page(page) != nil {
		order = append(order, page)
	}
	for i := 1; i <= len(doc.Pages); i++ {
		if i != page {
			order = append(order, i)
		}
	}
	return order
}

func (c *Calibrator) fromUser(doc *pdfdoc.Document, page int, req CalibrationRequest) (*models.ScaleContext, error) {
	if ref := req.Reference; ref != nil {
		if ref.MeterLength <= 0 {
			return nil, fmt.Errorf("%w: reference meter length %v", models.ErrInvalidScale, ref.MeterLength)
		}
		ppm := ref.PixelLength / ref.MeterLength
		src := fmt.Sprintf("%.2f px = %.3f m", ref.PixelLength, ref.MeterLength)
		p := ref.Page
		if p < 1 {
			p = max(page, 1)
		}
		return models.NewScaleContext(ppm, models.ScaleMethodUserInput, 1.0, p, models.BBox{}, InferScaleString(ppm, doc.DPI), src)
	}
	s := strings.ToLower(strings.TrimSpace(req.Scale))
	if s == "" || s == "auto" {
		return nil, nil
	}
	n, err := ParseScaleString(req.Scale)
	if err != nil {
		return nil, err
	}
	return models.NewScaleContext(PixelsPerMeter(doc.DPI, n), models.ScaleMethodUserInput, 1.0, max(page, 1), models.BBox{}, fmt.Sprintf("1:%d", n), req.Scale)
}

type annotationHit struct {
	page  int
	match rules.ScaleMatch
	line  pdfdoc.Line
	conf  float64
}

func (c *Calibrator) fromAnnotations(doc *pdfdoc.Document, order []int) *models.ScaleContext {
	var best *annotationHit
	for _, n := range order {
		p := doc.Page(n)
		for _, line := range pdfdoc.GroupLines(p.Text, 0) {
			for _, m := range c.rules.MatchScales(line.Text) {
				conf := m.Confidence
				if p.OCR {
					conf *= ocrConfidenceFactor
				}
				if best == nil || conf > best.conf {
					best = &annotationHit{page: n, match: m, line: line, conf: conf}
				}
			}
		}
		if best != nil && best.conf >= earlyExitConfidence {
			break
		}
	}
	if best == nil {
		return nil
	}
	sc, err := models.NewScaleContext(PixelsPerMeter(doc.DPI, best.match.Denominator), models.ScaleMethodAnnotation,
		best.conf, best.page, best.line.BBox, fmt.Sprintf("1:%d", best.match.Denominator), best.match.Raw)
	if err != nil {
		return nil
	}
	return sc
}

type dimensionPair struct {
	ratio float64
	bbox  models.BBox
	text  string
}

// fromDimensionLines pairs printed metre values with the axis-aligned
// segment they label. At least two pairs must agree.
func (c *Calibrator) fromDimensionLines(p *pdfdoc.Page) *models.ScaleContext {
	if p == nil || len(p.Segments) == 0 {
		return nil
	}
	var pairs []dimensionPair
	for _, run := range p.Text {
		txt := strings.TrimSpace(run.Text)
		if !dimensionLabel.MatchString(txt) {
			continue
		}
		meters, err := rules.ParseDecimal(txt)
		if err != nil || meters < 0.1 || meters > 100 {
			continue
		}
		seg, ok := labelledSegment(p.Segments, run.BBox)
		if !ok {
			continue
		}
		pairs = append(pairs, dimensionPair{ratio: seg.Length() / meters, bbox: run.BBox, text: txt})
	}
	if len(pairs) < minDimensionPairs {
		return nil
	}

	// Largest group agreeing with its median within tolerance.
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ratio < pairs[j].ratio })
	var bestGroup []dimensionPair
	for i := range pairs {
		ref := pairs[i].ratio
		var group []dimensionPair
		for _, q := range pairs {
			if math.Abs(q.ratio-ref)/ref <= dimensionAgreement {
				group = append(group, q)
			}
		}
		if len(group) > len(bestGroup) {
			bestGroup = group
		}
	}
	if len(bestGroup) < minDimensionPairs {
		return nil
	}
	ppm := bestGroup[len(bestGroup)/2].ratio
	var bbox models.BBox
	texts := make([]string, 0, len(bestGroup))
	for _, g := range bestGroup {
		bbox = bbox.Union(g.bbox)
		texts = append(texts, g.text)
	}
	sc, err := models.NewScaleContext(ppm, models.ScaleMethodDimensionLine, dimensionConfidence, p.Number, bbox,
		InferScaleString(ppm, p.DPI), strings.Join(texts, " "))
	if err != nil {
		return nil
	}
	return sc
}

// labelledSegment finds the axis-aligned segment a label sits centred on.
func labelledSegment(segs []pdfdoc.Segment, label models.BBox) (pdfdoc.Segment, bool) {
	c := label.Center()
	reach := math.Max(3*label.Height, 20)
	var best pdfdoc.Segment
	bestD := math.Inf(1)
	for _, s := range segs {
		l := s.Length()
		if l < minDimensionSegPx {
			continue
		}
		horizontal := math.Abs(s.B.Y-s.A.Y) <= 0.5
		vertical := math.Abs(s.B.X-s.A.X) <= 0.5
		if !horizontal && !vertical {
			continue
		}
		mid := models.Point{X: (s.A.X + s.B.X) / 2, Y: (s.A.Y + s.B.Y) / 2}
		var along, across float64
		if horizontal {
			along, across = math.Abs(c.X-mid.X), math.Abs(c.Y-mid.Y)
		} else {
			along, across = math.Abs(c.Y-mid.Y), math.Abs(c.X-mid.X)
		}
		if along > 0.25*l || across > reach {
			continue
		}
		if across < bestD {
			best, bestD = s, across
		}
	}
	return best, !math.IsInf(bestD, 1)
}

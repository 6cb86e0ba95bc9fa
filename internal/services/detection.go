package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/clarencejohnson126/SnapPlanApp/internal/geometry"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"golang.org/x/sync/errgroup"
)

const nmsIoU = 0.5

var detectorClasses = map[string]models.ObjectType{
	"door":         models.ObjectDoor,
	"sliding door": models.ObjectDoor,
	"window":       models.ObjectWindow,
	"curtain wall": models.ObjectWindow,
	"wall":         models.ObjectWall,
	"column":       models.ObjectColumn,
	"stair case":   models.ObjectStairs,
	"stairs":       models.ObjectStairs,
	"dimension":    models.ObjectDimensionLine,
	"railing":      models.ObjectFixture,
	"fixtures":     models.ObjectFixture,
	"room":         models.ObjectRoom,
	"scale":        models.ObjectScaleAnnotation,
	"elevator":     models.ObjectElevator,
}

// ObjectTypeOf maps a detector class name to an object type.
func ObjectTypeOf(class string) (models.ObjectType, bool) {
	c := strings.ToLower(strings.TrimSpace(class))
	c = strings.NewReplacer("_", " ", "-", " ").Replace(c)
	t, ok := detectorClasses[c]
	return t, ok
}

// AdaptDetections turns raw detections in page-pixel space into records.
// Detections below threshold are dropped and overlapping detections of
// the same class on the same page are suppressed. Without a scale only
// pixel measurements are produced.
func AdaptDetections(docHash string, dets []models.ExternalDetection, scale *models.ScaleContext, threshold float64) *models.ExtractorOutput {
	out := &models.ExtractorOutput{Extractor: "detection"}
	scaling := models.MethodBBoxPixels
	if scale != nil {
		scaling = models.MethodBBoxScaled
	}

	type key struct {
		page int
		typ  models.ObjectType
	}
	groups := map[key][]models.ExternalDetection{}
	var keys []key
	for _, d := range dets {
		if d.Confidence < threshold {
			continue
		}
		typ, ok := ObjectTypeOf(d.ClassName)
		if !ok {
			out.Warnings = append(out.Warnings, models.NewWarning(models.WarnDroppedMeasurement, d.Page, d.BBox, d.ClassName,
				"unknown detector class %q ignored", d.ClassName))
			continue
		}
		k := key{d.Page, typ}
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], d)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].page != keys[j].page {
			return keys[i].page < keys[j].page
		}
		return keys[i].typ < keys[j].typ
	})

	pixelWarned := map[int]bool{}
	for _, k := range keys {
		kept := nms(groups[k], nmsIoU)
		for i, d := range kept {
			id := fmt.Sprintf("P%d-%s-%d", k.page, k.typ, i+1)
			method := detectionMethod(d)
			out.Objects = append(out.Objects, models.DetectedObject{
				ID:              id,
				ObjectType:      k.typ,
				Page:            d.Page,
				BBox:            d.BBox,
				Confidence:      d.Confidence,
				DetectionMethod: method,
				Attributes:      map[string]string{"class": d.ClassName, "scaling": scaling},
			})
			if scale == nil && !pixelWarned[k.page] {
				pixelWarned[k.page] = true
				out.Warnings = append(out.Warnings, models.NewWarning(models.WarnPixelOnly, k.page, models.BBox{}, "",
					"no scale available; detections measured in pixels only"))
			}
			switch k.typ {
			case models.ObjectDoor, models.ObjectWindow:
				adaptOpening(out, id, k.typ, d, scale, method)
			case models.ObjectRoom:
				adaptRoom(out, docHash, id, d, scale, method)
			}
		}
	}
	return out
}

// detectionMethod is the model that produced d. Detections supplied
// without a model id are attributed to the generic external detector.
func detectionMethod(d models.ExternalDetection) string {
	if m := strings.TrimSpace(d.Model); m != "" {
		return m
	}
	return models.MethodExternalDetector
}

func adaptOpening(out *models.ExtractorOutput, id string, typ models.ObjectType, d models.ExternalDetection, scale *models.ScaleContext, method string) {
	w := d.BBox.Width
	if d.BBox.Height > w {
		w = d.BBox.Height
	}
	m := models.Measurement{Value: w, Unit: models.UnitPixels, MeasurementType: models.MeasureWidth, Confidence: d.Confidence,
		Method: method, SourcePage: d.Page, SourceBBox: d.BBox, Subject: id}
	if scale != nil {
		m.Value, m.Unit, m.PixelsPerMeter = scale.ToMeters(w), models.UnitMeter, scale.PixelsPerMeter()
	}
	out.Measurements = append(out.Measurements, m)
	if typ != models.ObjectDoor {
		return
	}
	rec := models.DoorRecord{DoorID: id, Confidence: d.Confidence, DetectionMethod: method, SourcePage: d.Page, SourceBBox: d.BBox}
	if scale != nil {
		rec.WidthM = floatPtr(m.Value)
	}
	out.Doors = append(out.Doors, rec)
}

func adaptRoom(out *models.ExtractorOutput, docHash, id string, d models.ExternalDetection, scale *models.ScaleContext, method string) {
	verts := d.Polygon
	if len(verts) < 3 {
		out.Warnings = append(out.Warnings, models.NewWarning(models.WarnInvalidPolygon, d.Page, d.BBox, "",
			"room %s has no outline; bounding box area is not used", id))
		return
	}
	if err := geometry.Validate(verts); err != nil {
		out.Warnings = append(out.Warnings, models.NewWarning(models.WarnInvalidPolygon, d.Page, d.BBox, "",
			"room %s outline rejected: %v", id, err))
		return
	}
	s := models.Sector{
		ID:          sectorID(docHash, d.Page, models.MethodPolygonArea, verts),
		Page:        d.Page,
		Vertices:    verts,
		AreaPx:      geometry.Area(verts),
		PerimeterPx: geometry.Perimeter(verts),
		Method:      models.MethodPolygonArea,
		Confidence:  d.Confidence,
	}
	if wkt, err := geometry.WKT(verts); err == nil {
		s.WKT = wkt
	}
	m := models.Measurement{Value: s.AreaPx, Unit: models.UnitPixels, MeasurementType: models.MeasureArea, Confidence: d.Confidence,
		Method: method, SourcePage: d.Page, SourceBBox: s.BBox(), Subject: id}
	if scale != nil {
		s.AreaM2 = floatPtr(scale.ToSquareMeters(s.AreaPx))
		s.PerimeterM = floatPtr(scale.ToMeters(s.PerimeterPx))
		m.Value, m.Unit, m.PixelsPerMeter = *s.AreaM2, models.UnitSquareMeter, scale.PixelsPerMeter()
	}
	out.Sectors = append(out.Sectors, s)
	out.Measurements = append(out.Measurements, m)
}

// nms keeps the most confident of each cluster of overlapping boxes.
func nms(dets []models.ExternalDetection, iou float64) []models.ExternalDetection {
	sorted := append([]models.ExternalDetection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	var kept []models.ExternalDetection
	for _, d := range sorted {
		overlap := false
		for _, k := range kept {
			if k.BBox.IoU(d.BBox) > iou {
				overlap = true
				break
			}
		}
		if !overlap {
			kept = append(kept, d)
		}
	}
	return kept
}

// DetectionExtractor combines caller-supplied detections with an optional
// hosted detector run on each raster page.
type DetectionExtractor struct {
	detector Detector
}

// NewDetectionExtractor accepts a nil detector; then only detections
// passed in the options are used.
func NewDetectionExtractor(d Detector) *DetectionExtractor {
	return &DetectionExtractor{detector: d}
}

func (e *DetectionExtractor) Name() string { return "detection" }

func (e *DetectionExtractor) Extract(ctx context.Context, doc *pdfdoc.Document, scale *models.ScaleContext, opts Options) (*models.ExtractorOutput, error) {
	selected := map[int]bool{}
	for _, n := range opts.pages(doc) {
		selected[n] = true
	}
	var dets []models.ExternalDetection
	for _, d := range opts.Detections {
		if selected[d.Page] {
			dets = append(dets, d)
		}
	}

	var warnings []models.Warning
	var detectErr error
	if e.detector != nil {
		found, warns, err := e.detectPages(ctx, doc, opts)
		dets = append(dets, found...)
		warnings = warns
		if err != nil {
			detectErr = fmt.Errorf("%w: %v", models.ErrExtractorUnavailable, err)
		}
	}

	out := AdaptDetections(doc.Hash, dets, scale, opts.ConfidenceThreshold)
	out.Warnings = append(warnings, out.Warnings...)
	return out, detectErr
}

// detectPages runs the detector on every selected page with the same
// bounded fan-out as the other extractors. A page the detector rejects
// becomes a warning; only cancellation stops the fan-out, and the pages
// finished before it are still returned.
func (e *DetectionExtractor) detectPages(ctx context.Context, doc *pdfdoc.Document, opts Options) ([]models.ExternalDetection, []models.Warning, error) {
	pages := opts.pages(doc)
	dets := make([][]models.ExternalDetection, len(pages))
	warns := make([]*models.Warning, len(pages))

	limit := opts.PageConcurrency
	if limit < 1 {
		limit = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, n := range pages {
		idx, pageNumber := i, n
		eg.Go(func() error {
			found, w, err := e.detectPage(gctx, doc.Page(pageNumber), opts)
			if err != nil {
				if gctx.Err() != nil {
					return fmt.Errorf("page %d: %w", pageNumber, err)
				}
				slog.Warn("Detector failed for page.", "page", pageNumber, "error", err)
				fw := models.NewWarning(models.WarnExtractorFailed, pageNumber, models.BBox{}, "",
					"%v: detector failed on page %d: %v", models.ErrExtractorUnavailable, pageNumber, err)
				warns[idx] = &fw
				return nil
			}
			dets[idx], warns[idx] = found, w
			return nil
		})
	}
	err := eg.Wait()
	var all []models.ExternalDetection
	var warnings []models.Warning
	for i := range pages {
		all = append(all, dets[i]...)
		if warns[i] != nil {
			warnings = append(warnings, *warns[i])
		}
	}
	return all, warnings, err
}

// detectPage runs the detector on the page's largest JPEG and maps the
// boxes into page-pixel space.
func (e *DetectionExtractor) detectPage(ctx context.Context, page *pdfdoc.Page, opts Options) ([]models.ExternalDetection, *models.Warning, error) {
	img, ok := page.LargestJPEG()
	if !ok {
		if page.HasRaster() {
			w := models.NewWarning(models.WarnExtractorSkipped, page.Number, models.BBox{}, "",
				"no JPEG image on page; object detection skipped")
			return nil, &w, nil
		}
		return nil, nil, nil
	}
	resp, err := e.detector.Detect(ctx, DetectRequest{Image: img.Data, Model: opts.DetectorModel, Confidence: opts.ConfidenceThreshold})
	if err != nil {
		return nil, nil, err
	}
	iw, ih := resp.ImageWidth, resp.ImageHeight
	if iw <= 0 || ih <= 0 {
		iw, ih = float64(img.Width), float64(img.Height)
	}
	if iw <= 0 || ih <= 0 {
		return nil, nil, nil
	}
	sx, sy := page.WidthPx()/iw, page.HeightPx()/ih
	out := make([]models.ExternalDetection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		d.Page = page.Number
		d.BBox = models.BBox{X: d.BBox.X * sx, Y: d.BBox.Y * sy, Width: d.BBox.Width * sx, Height: d.BBox.Height * sy}
		poly := make([]models.Point, 0, len(d.Polygon))
		for _, p := range d.Polygon {
			poly = append(poly, models.Point{X: p.X * sx, Y: p.Y * sy})
		}
		d.Polygon = poly
		out = append(out, d)
	}
	slog.Debug("Page detections mapped.", "page", page.Number, "detections", len(out))
	return out, nil, nil
}

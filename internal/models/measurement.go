package models

import (
	"fmt"
	"math"
)

// InputCategory is the classifier's verdict on what kind of PDF it was given.
type InputCategory string

const (
	CategoryCADWithText InputCategory = "cad_with_text"
	CategoryCADNoText   InputCategory = "cad_no_text"
	CategoryScanned     InputCategory = "scanned"
	CategoryPhoto       InputCategory = "photo"
)

// Pipeline names the extraction strategy recommended for a category.
type Pipeline string

const (
	PipelineTextExtraction Pipeline = "text_extraction"
	PipelineHybrid         Pipeline = "hybrid"
	PipelineDetectionOnly  Pipeline = "detection_only"
)

// ScaleMethod records how a ScaleContext was obtained.
type ScaleMethod string

const (
	ScaleMethodAnnotation    ScaleMethod = "ocr_annotation"
	ScaleMethodDimensionLine ScaleMethod = "dimension_line"
	ScaleMethodScaleBar      ScaleMethod = "scale_bar"
	ScaleMethodUserInput     ScaleMethod = "user_input"
)

// Unit of a Measurement value.
type Unit string

const (
	UnitMeter       Unit = "m"
	UnitSquareMeter Unit = "m2"
	UnitCount       Unit = "count"
	UnitPixels      Unit = "pixels"
)

// MeasurementType describes what a Measurement quantifies.
type MeasurementType string

const (
	MeasureWidth     MeasurementType = "width"
	MeasureHeight    MeasurementType = "height"
	MeasureArea      MeasurementType = "area"
	MeasurePerimeter MeasurementType = "perimeter"
	MeasureLength    MeasurementType = "length"
	MeasureCount     MeasurementType = "count"
)

// Provenance methods attached to measurements and derived records.
const (
	MethodTextAnnotation = "text_annotation"
	MethodScheduleTable  = "schedule_table"
	MethodVectorGeometry = "vector_geometry"
	MethodArcRadius      = "arc_radius"
	MethodWallOpening    = "wall_opening"
	MethodLineLength     = "line_length"
	MethodPolygonArea    = "polygon_area"
	MethodBBoxScaled     = "bbox_scaled"
	MethodBBoxPixels     = "bbox_pixels"
	MethodManual         = "manual"

	// MethodExternalDetector attributes detections that carry no model id.
	MethodExternalDetector = "external_detector"
)

// FireCategory is the derived door classification.
type FireCategory string

const (
	FireT90      FireCategory = "T90"
	FireT30      FireCategory = "T30"
	FireDSS      FireCategory = "DSS"
	FireStandard FireCategory = "Standard"
	FireUnknown  FireCategory = "Unknown"
)

// ObjectType of a DetectedObject.
type ObjectType string

const (
	ObjectDoor            ObjectType = "door"
	ObjectWindow          ObjectType = "window"
	ObjectWall            ObjectType = "wall"
	ObjectColumn          ObjectType = "column"
	ObjectStairs          ObjectType = "stairs"
	ObjectDimensionLine   ObjectType = "dimension_line"
	ObjectFixture         ObjectType = "fixture"
	ObjectRoom            ObjectType = "room"
	ObjectScaleAnnotation ObjectType = "scale_annotation"
	ObjectElevator        ObjectType = "elevator"
)

// BBox is an axis-aligned box in page-pixel space (origin top-left).
type BBox struct {
	X      float64 `json:"x" firestore:"x"`
	Y      float64 `json:"y" firestore:"y"`
	Width  float64 `json:"width" firestore:"width"`
	Height float64 `json:"height" firestore:"height"`
}

// Center returns the midpoint of the box.
func (b BBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Union returns the smallest box covering both b and o. A zero box is ignored.
func (b BBox) Union(o BBox) BBox {
	if b.Width == 0 && b.Height == 0 && b.X == 0 && b.Y == 0 {
		return o
	}
	if o.Width == 0 && o.Height == 0 && o.X == 0 && o.Y == 0 {
		return b
	}
	x0 := math.Min(b.X, o.X)
	y0 := math.Min(b.Y, o.Y)
	x1 := math.Max(b.X+b.Width, o.X+o.Width)
	y1 := math.Max(b.Y+b.Height, o.Y+o.Height)
	return BBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Area of the box in square pixels.
func (b BBox) Area() float64 { return b.Width * b.Height }

// IoU is the intersection-over-union of two boxes.
func (b BBox) IoU(o BBox) float64 {
	ix := math.Max(0, math.Min(b.X+b.Width, o.X+o.Width)-math.Max(b.X, o.X))
	iy := math.Max(0, math.Min(b.Y+b.Height, o.Y+o.Height)-math.Max(b.Y, o.Y))
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Point in page-pixel space.
type Point struct {
	X float64 `json:"x" firestore:"x"`
	Y float64 `json:"y" firestore:"y"`
}

// InputClassification is the classifier's output for one Document.
type InputClassification struct {
	Category            InputCategory `json:"category"`
	RecommendedPipeline Pipeline      `json:"recommended_pipeline"`
	Markers             []string      `json:"markers"`
	Confidence          float64       `json:"confidence"`
	HasTextLayer        bool          `json:"has_text_layer"`
	HasVectorLayer      bool          `json:"has_vector_layer"`
	IsRasterOnly        bool          `json:"is_raster_only"`
	PagesInspected      int           `json:"pages_inspected"`
	Warnings            []string      `json:"warnings,omitempty"`
}

// ScaleContext is an immutable pixel-to-meter calibration for a document.
// Construct it with NewScaleContext.
type ScaleContext struct {
	pixelsPerMeter float64
	method         ScaleMethod
	confidence     float64
	sourcePage     int
	sourceBBox     BBox
	scaleString    string
	sourceText     string
}

// NewScaleContext validates the calibration factor and returns a context.
// A non-positive or non-finite factor is rejected with ErrInvalidScale.
func NewScaleContext(ppm float64, method ScaleMethod, confidence float64, page int, bbox BBox, scaleString, sourceText string) (*ScaleContext, error) {
	if math.IsNaN(ppm) || math.IsInf(ppm, 0) || ppm <= 0 {
		return nil, fmt.Errorf("%w: pixels per meter %v", ErrInvalidScale, ppm)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidScale, confidence)
	}
	return &ScaleContext{
		pixelsPerMeter: ppm,
		method:         method,
		confidence:     confidence,
		sourcePage:     page,
		sourceBBox:     bbox,
		scaleString:    scaleString,
		sourceText:     sourceText,
	}, nil
}

func (s *ScaleContext) PixelsPerMeter() float64 { return s.pixelsPerMeter }
func (s *ScaleContext) Method() ScaleMethod     { return s.method }
func (s *ScaleContext) Confidence() float64     { return s.confidence }
func (s *ScaleContext) SourcePage() int         { return s.sourcePage }
func (s *ScaleContext) SourceBBox() BBox        { return s.sourceBBox }
func (s *ScaleContext) ScaleString() string     { return s.scaleString }
func (s *ScaleContext) SourceText() string      { return s.sourceText }

// ToMeters converts a pixel length.
func (s *ScaleContext) ToMeters(px float64) float64 { return px / s.pixelsPerMeter }

// ToSquareMeters converts a pixel area.
func (s *ScaleContext) ToSquareMeters(px2 float64) float64 {
	return px2 / (s.pixelsPerMeter * s.pixelsPerMeter)
}

// NeedsReview reports whether the calibration is below the review threshold.
func (s *ScaleContext) NeedsReview(threshold float64) bool { return s.confidence < threshold }

// Info is the serializable view of the context.
func (s *ScaleContext) Info(active bool) ScaleInfo {
	return ScaleInfo{
		PixelsPerMeter: s.pixelsPerMeter,
		Method:         s.method,
		Confidence:     s.confidence,
		SourcePage:     s.sourcePage,
		SourceBBox:     s.sourceBBox,
		ScaleString:    s.scaleString,
		SourceText:     s.sourceText,
		IsActive:       active,
	}
}

// ScaleInfo is the wire/persistence form of a ScaleContext.
type ScaleInfo struct {
	PixelsPerMeter float64     `json:"pixels_per_meter" firestore:"pixelsPerMeter"`
	Method         ScaleMethod `json:"method" firestore:"method"`
	Confidence     float64     `json:"confidence" firestore:"confidence"`
	SourcePage     int         `json:"source_page" firestore:"sourcePage"`
	SourceBBox     BBox        `json:"source_bbox" firestore:"sourceBBox"`
	ScaleString    string      `json:"scale_string,omitempty" firestore:"scaleString,omitempty"`
	SourceText     string      `json:"source_text,omitempty" firestore:"sourceText,omitempty"`
	IsActive       bool        `json:"is_active" firestore:"isActive"`
	NeedsReview    bool        `json:"needs_review" firestore:"needsReview"`
}

// CalibrationHistory keeps every calibration computed for a document.
// Exactly one entry is active once Activate has been called.
type CalibrationHistory struct {
	entries []*ScaleContext
	active  int
}

// NewCalibrationHistory returns an empty history with no active context.
func NewCalibrationHistory() *CalibrationHistory {
	return &CalibrationHistory{active: -1}
}

// Activate appends sc and makes it the single active calibration.
func (h *CalibrationHistory) Activate(sc *ScaleContext) {
	if sc == nil {
		return
	}
	h.entries = append(h.entries, sc)
	h.active = len(h.entries) - 1
}

// Active returns the active context, or nil.
func (h *CalibrationHistory) Active() *ScaleContext {
	if h.active < 0 {
		return nil
	}
	return h.entries[h.active]
}

// Infos lists all calibrations with their active flag.
func (h *CalibrationHistory) Infos(reviewThreshold float64) []ScaleInfo {
	out := make([]ScaleInfo, 0, len(h.entries))
	for i, sc := range h.entries {
		info := sc.Info(i == h.active)
		info.NeedsReview = sc.NeedsReview(reviewThreshold)
		out = append(out, info)
	}
	return out
}

// DetectedObject is a raw primitive found by an extractor.
type DetectedObject struct {
	ID              string            `json:"id" firestore:"id"`
	ObjectType      ObjectType        `json:"object_type" firestore:"objectType"`
	Page            int               `json:"page" firestore:"page"`
	BBox            BBox              `json:"bbox" firestore:"bbox"`
	Confidence      float64           `json:"confidence" firestore:"confidence"`
	DetectionMethod string            `json:"detection_method" firestore:"detectionMethod"`
	Attributes      map[string]string `json:"attributes,omitempty" firestore:"attributes,omitempty"`
}

// Measurement is the atomic audited output.
type Measurement struct {
	ID              string          `json:"id" firestore:"id"`
	Value           float64         `json:"value" firestore:"value"`
	Unit            Unit            `json:"unit" firestore:"unit"`
	MeasurementType MeasurementType `json:"measurement_type" firestore:"measurementType"`
	Confidence      float64         `json:"confidence" firestore:"confidence"`
	Method          string          `json:"method" firestore:"method"`
	PixelsPerMeter  float64         `json:"pixels_per_meter,omitempty" firestore:"pixelsPerMeter,omitempty"`
	SourcePage      int             `json:"source_page" firestore:"sourcePage"`
	SourceBBox      BBox            `json:"source_bbox" firestore:"sourceBBox"`
	SourceText      string          `json:"source_text,omitempty" firestore:"sourceText,omitempty"`
	Subject         string          `json:"subject,omitempty" firestore:"subject,omitempty"`
}

// Validate enforces the provenance invariant.
func (m Measurement) Validate() error {
	if m.SourcePage < 1 {
		return fmt.Errorf("measurement %s: missing source page", m.ID)
	}
	if m.Method == "" {
		return fmt.Errorf("measurement %s: missing provenance method", m.ID)
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("measurement %s: non-finite value", m.ID)
	}
	return nil
}

// Sector is a closed room/zone polygon in pixel space.
type Sector struct {
	ID          string   `json:"id" firestore:"id"`
	Page        int      `json:"page" firestore:"page"`
	Vertices    []Point  `json:"vertices" firestore:"vertices"`
	AreaPx      float64  `json:"area_px" firestore:"areaPx"`
	PerimeterPx float64  `json:"perimeter_px" firestore:"perimeterPx"`
	AreaM2      *float64 `json:"area_m2,omitempty" firestore:"areaM2,omitempty"`
	PerimeterM  *float64 `json:"perimeter_m,omitempty" firestore:"perimeterM,omitempty"`
	Method      string   `json:"method" firestore:"method"`
	Confidence  float64  `json:"confidence" firestore:"confidence"`
	Label       string   `json:"label,omitempty" firestore:"label,omitempty"`
	Name        string   `json:"name,omitempty" firestore:"name,omitempty"`
	WKT         string   `json:"wkt,omitempty" firestore:"wkt,omitempty"`
	DoorIDs     []string `json:"door_ids,omitempty" firestore:"doorIds,omitempty"`
	WallLengthM *float64 `json:"wall_length_m,omitempty" firestore:"wallLengthM,omitempty"`
}

// BBox of the sector vertices.
func (s Sector) BBox() BBox {
	if len(s.Vertices) == 0 {
		return BBox{}
	}
	x0, y0 := s.Vertices[0].X, s.Vertices[0].Y
	x1, y1 := x0, y0
	for _, v := range s.Vertices[1:] {
		x0, y0 = math.Min(x0, v.X), math.Min(y0, v.Y)
		x1, y1 = math.Max(x1, v.X), math.Max(y1, v.Y)
	}
	return BBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// CrossCheck records a secondary value retained for audit only.
type CrossCheck struct {
	Method       string  `json:"method" firestore:"method"`
	Value        float64 `json:"value" firestore:"value"`
	DeviationPct float64 `json:"deviation_pct" firestore:"deviationPct"`
	SourceID     string  `json:"source_id,omitempty" firestore:"sourceId,omitempty"`
}

// DoorRecord is the derived door entity.
type DoorRecord struct {
	DoorID          string       `json:"door_id" firestore:"doorId"`
	Position        string       `json:"position,omitempty" firestore:"position,omitempty"`
	Room            string       `json:"room,omitempty" firestore:"room,omitempty"`
	DoorType        string       `json:"door_type,omitempty" firestore:"doorType,omitempty"`
	WidthM          *float64     `json:"width_m" firestore:"widthM"`
	HeightM         float64      `json:"height_m" firestore:"heightM"`
	HeightAssumed   bool         `json:"height_assumed" firestore:"heightAssumed"`
	FireRating      *string      `json:"fire_rating" firestore:"fireRating"`
	FireCategory    FireCategory `json:"fire_category" firestore:"fireCategory"`
	Remarks         string       `json:"remarks,omitempty" firestore:"remarks,omitempty"`
	Confidence      float64      `json:"confidence" firestore:"confidence"`
	DetectionMethod string       `json:"detection_method" firestore:"detectionMethod"`
	SourcePage      int          `json:"source_page" firestore:"sourcePage"`
	SourceBBox      BBox         `json:"source_bbox" firestore:"sourceBBox"`
	SourceText      string       `json:"source_text,omitempty" firestore:"sourceText,omitempty"`
	SectorID        string       `json:"sector_id,omitempty" firestore:"sectorId,omitempty"`
	Cells           []TableCell  `json:"cells,omitempty" firestore:"cells,omitempty"`
}

// TableCell keeps a schedule cell's raw and parsed form.
type TableCell struct {
	Column string   `json:"column" firestore:"column"`
	Raw    string   `json:"raw" firestore:"raw"`
	Value  *float64 `json:"value,omitempty" firestore:"value,omitempty"`
	BBox   BBox     `json:"bbox" firestore:"bbox"`
}

// AreaRecord is the derived room-area entity.
type AreaRecord struct {
	RoomID          string       `json:"room_id" firestore:"roomId"`
	RoomName        string       `json:"room_name,omitempty" firestore:"roomName,omitempty"`
	RoomType        string       `json:"room_type" firestore:"roomType"`
	AreaM2          float64      `json:"area_m2" firestore:"areaM2"`
	AreaFactor      float64      `json:"area_factor" firestore:"areaFactor"`
	EffectiveAreaM2 float64      `json:"effective_area_m2" firestore:"effectiveAreaM2"`
	PerimeterM      *float64     `json:"perimeter_m,omitempty" firestore:"perimeterM,omitempty"`
	HeightM         *float64     `json:"height_m,omitempty" firestore:"heightM,omitempty"`
	SourceText      string       `json:"source_text" firestore:"sourceText"`
	SourcePage      int          `json:"source_page" firestore:"sourcePage"`
	SourceBBox      BBox         `json:"source_bbox" firestore:"sourceBBox"`
	Confidence      float64      `json:"confidence" firestore:"confidence"`
	Method          string       `json:"method" firestore:"method"`
	SectorID        string       `json:"sector_id,omitempty" firestore:"sectorId,omitempty"`
	CrossChecks     []CrossCheck `json:"cross_checks,omitempty" firestore:"crossChecks,omitempty"`
	Corrected       bool         `json:"corrected,omitempty" firestore:"corrected,omitempty"`
	// Ambiguous marks one of several conflicting annotations for the same
	// room. Ambiguous records are reported but left out of totals.
	Ambiguous bool `json:"ambiguous,omitempty" firestore:"ambiguous,omitempty"`
}

// DrywallRecord is a per-sector drywall quantity.
type DrywallRecord struct {
	RoomID      string       `json:"room_id" firestore:"roomId"`
	PerimeterM  float64      `json:"perimeter_m" firestore:"perimeterM"`
	WallHeightM float64      `json:"wall_height_m" firestore:"wallHeightM"`
	AreaM2      float64      `json:"area_m2" firestore:"areaM2"`
	SourcePage  int          `json:"source_page" firestore:"sourcePage"`
	Method      string       `json:"method" firestore:"method"`
	CrossChecks []CrossCheck `json:"cross_checks,omitempty" firestore:"crossChecks,omitempty"`
}

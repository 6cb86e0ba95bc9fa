package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode"

	"github.com/clarencejohnson126/SnapPlanApp/internal/geometry"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
)

const (
	minSegmentPx = 5.0
	minWallPx    = 10.0
	snapTolPx    = 1.5
	// Room reconstruction is quadratic in the number of segments.
	maxFaceSegments = 4000

	minRoomAreaM2   = 0.5
	minRoomSideM    = 0.5
	minRoomAreaPx   = 1000.0
	minRoomSidePx   = 20.0
	minCompactness  = 0.05
	maxPageCoverage = 0.9

	outlineConfidence = 0.85
	faceConfidence    = 0.80
	arcConfidence     = 0.85
	leafConfidence    = 0.90
	openingConfidence = 0.55

	minDoorM, maxDoorM   = 0.5, 2.5
	minDoorPx, maxDoorPx = 20.0, 200.0
	minOpeningContextM   = 0.5
	minOpeningContextPx  = 20.0
	geomCheckTolerance   = 1e-6
)

// VectorExtractor reconstructs walls, rooms and door swings from the
// page's path primitives. All geometry stays in pixels; the scale is
// applied once when records are built.
type VectorExtractor struct {
	rules *rules.Table
}

func NewVectorExtractor(rt *rules.Table) *VectorExtractor {
	return &VectorExtractor{rules: rt}
}

func (e *VectorExtractor) Name() string { return "vector" }

func (e *VectorExtractor) Extract(ctx context.Context, doc *pdfdoc.Document, scale *models.ScaleContext, opts Options) (*models.ExtractorOutput, error) {
	return forEachPage(ctx, doc, opts, e.Name(), func(ctx context.Context, page *pdfdoc.Page) (*models.ExtractorOutput, error) {
		return e.extractPage(doc.Hash, page, scale), nil
	})
}

type candidate struct {
	verts  []models.Point
	method string
	conf   float64
	area   float64
}

func (e *VectorExtractor) extractPage(docHash string, page *pdfdoc.Page, scale *models.ScaleContext) *models.ExtractorOutput {
	out := &models.ExtractorOutput{Extractor: e.Name()}
	if len(page.Segments) == 0 && len(page.Curves) == 0 && len(page.Subpaths) == 0 {
		return out
	}

	var segs []geometry.Seg
	for _, s := range page.Segments {
		if s.Length() >= minSegmentPx {
			segs = append(segs, geometry.Seg{A: s.A, B: s.B})
		}
	}
	dense := len(segs) > maxFaceSegments
	if dense {
		out.Warnings = append(out.Warnings, models.NewWarning(models.WarnExtractorSkipped, page.Number, models.BBox{}, "",
			"%d segments exceed the reconstruction limit of %d; walls and enclosed rooms skipped, closed outlines still used", len(segs), maxFaceSegments))
	}

	var walls []geometry.Seg
	if !dense {
		walls = e.walls(page, segs, scale, out)
	}

	cands := e.outlines(page, out)
	if !dense {
		for _, f := range geometry.Faces(geometry.SplitAtIntersections(segs, snapTolPx), snapTolPx) {
			f = geometry.Simplify(f, 0.5)
			cands = append(cands, candidate{verts: f, method: models.MethodPolygonArea, conf: faceConfidence, area: geometry.Area(f)})
		}
	}
	sectors := e.sectors(docHash, page, filterCandidates(page, cands, scale), walls, scale, out)

	arcs := e.doors(page, segs, scale, out)
	if !dense {
		e.openings(page, walls, arcs, scale, out)
	}
	attachDoors(sectors, out.Doors)
	out.Sectors = append(out.Sectors, sectors...)
	return out
}

func (e *VectorExtractor) walls(page *pdfdoc.Page, segs []geometry.Seg, scale *models.ScaleContext, out *models.ExtractorOutput) []geometry.Seg {
	merged := geometry.MergeCollinear(segs, geometry.MergeOptions{AngleTolDeg: 2, DistTolPx: 2, GapTolPx: 3})
	var walls []geometry.Seg
	var total float64
	var bbox models.BBox
	for _, w := range merged {
		l := w.Length()
		if l < minWallPx {
			continue
		}
		walls = append(walls, w)
		out.Walls = append(out.Walls, models.WallSegment{Page: page.Number, A: w.A, B: w.B, LengthPx: l})
		total += l
		bbox = bbox.Union(segBBox(w))
	}
	if len(walls) > 0 {
		m := models.Measurement{
			Value:           total,
			Unit:            models.UnitPixels,
			MeasurementType: models.MeasureLength,
			Confidence:      faceConfidence,
			Method:          models.MethodLineLength,
			SourcePage:      page.Number,
			SourceBBox:      bbox,
			Subject:         "walls",
		}
		if scale != nil {
			m.Value, m.Unit, m.PixelsPerMeter = scale.ToMeters(total), models.UnitMeter, scale.PixelsPerMeter()
		}
		out.Measurements = append(out.Measurements, m)
	}
	return walls
}

// outlines returns explicitly closed stroked subpaths and flags the ones
// that cannot carry an area.
func (e *VectorExtractor) outlines(page *pdfdoc.Page, out *models.ExtractorOutput) []candidate {
	var cands []candidate
	for _, sp := range page.Subpaths {
		if sp.Filled || len(sp.Points) < 3 {
			continue
		}
		bb := pointsBBox(sp.Points)
		if bb.Area() < minRoomAreaPx {
			continue
		}
		if !sp.Closed {
			first, last := sp.Points[0], sp.Points[len(sp.Points)-1]
			gap := math.Hypot(last.X-first.X, last.Y-first.Y)
			if len(sp.Points) >= 4 && gap <= 0.05*geometry.Perimeter(sp.Points) {
				out.Warnings = append(out.Warnings, models.NewWarning(models.WarnInvalidPolygon, page.Number, bb, "",
					"unclosed outline (gap %.1f px) excluded from area totals", gap))
			}
			continue
		}
		if err := geometry.Validate(sp.Points); err != nil {
			if errors.Is(err, geometry.ErrSelfIntersecting) {
				out.Warnings = append(out.Warnings, models.NewWarning(models.WarnInvalidPolygon, page.Number, bb, "",
					"outline excluded from area totals: %v", err))
			}
			continue
		}
		cands = append(cands, candidate{verts: sp.Points, method: models.MethodVectorGeometry, conf: outlineConfidence, area: geometry.Area(sp.Points)})
	}
	return cands
}

// filterCandidates drops slivers, sheet frames and duplicates. Explicit
// outlines win over reconstructed faces of the same shape.
func filterCandidates(page *pdfdoc.Page, cands []candidate, scale *models.ScaleContext) []candidate {
	minArea, minSide := minRoomAreaPx, minRoomSidePx
	if scale != nil {
		ppm := scale.PixelsPerMeter()
		minArea, minSide = minRoomAreaM2*ppm*ppm, minRoomSideM*ppm
	}
	pageArea := page.WidthPx() * page.HeightPx()

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].conf > cands[j].conf })
	var kept []candidate
	for _, c := range cands {
		bb := pointsBBox(c.verts)
		if c.area < minArea || math.Min(bb.Width, bb.Height) < minSide {
			continue
		}
		if pageArea > 0 && c.area > maxPageCoverage*pageArea {
			continue
		}
		p := geometry.Perimeter(c.verts)
		if p == 0 || 4*math.Pi*c.area/(p*p) < minCompactness {
			continue
		}
		dup := false
		for _, k := range kept {
			if pointsBBox(k.verts).IoU(bb) >= 0.95 && math.Abs(k.area-c.area) <= 0.02*k.area {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}
	return kept
}

func (e *VectorExtractor) sectors(docHash string, page *pdfdoc.Page, cands []candidate, walls []geometry.Seg, scale *models.ScaleContext, out *models.ExtractorOutput) []models.Sector {
	phrases := splitPhrases(pdfdoc.GroupLines(page.Text, 0), phraseGapFactor)
	var sectors []models.Sector
	for _, c := range cands {
		s := models.Sector{
			Page:        page.Number,
			Vertices:    c.verts,
			AreaPx:      c.area,
			PerimeterPx: geometry.Perimeter(c.verts),
			Method:      c.method,
			Confidence:  c.conf,
		}
		s.ID = sectorID(docHash, page.Number, c.method, c.verts)
		if w, err := geometry.WKT(c.verts); err == nil {
			s.WKT = w
		}
		if g := geometry.GeomArea(c.verts); math.Abs(g-c.area) > geomCheckTolerance*c.area {
			out.Warnings = append(out.Warnings, models.NewWarning(models.WarnCrossCheck, page.Number, s.BBox(), "",
				"sector %s: shoelace area %.3f px² differs from independent area %.3f px²", s.ID, c.area, g))
		}
		s.Label, s.Name = e.sectorText(phrases, c.verts)

		var wallPx float64
		for _, w := range walls {
			if geometry.ContainsOrTouches(c.verts, w.A, 3) && geometry.ContainsOrTouches(c.verts, w.B, 3) {
				wallPx += w.Length()
			}
		}

		unit := models.UnitPixels
		area, perim := s.AreaPx, s.PerimeterPx
		var ppm float64
		if scale != nil {
			s.AreaM2 = floatPtr(scale.ToSquareMeters(s.AreaPx))
			s.PerimeterM = floatPtr(scale.ToMeters(s.PerimeterPx))
			if wallPx > 0 {
				s.WallLengthM = floatPtr(scale.ToMeters(wallPx))
			}
			unit, area, perim, ppm = models.UnitSquareMeter, *s.AreaM2, *s.PerimeterM, scale.PixelsPerMeter()
		}
		subject := s.ID
		if s.Label != "" {
			subject = s.Label
		}
		out.Measurements = append(out.Measurements,
			models.Measurement{Value: area, Unit: unit, MeasurementType: models.MeasureArea, Confidence: c.conf, Method: c.method,
				PixelsPerMeter: ppm, SourcePage: page.Number, SourceBBox: s.BBox(), Subject: subject},
			models.Measurement{Value: perim, Unit: lengthUnit(unit), MeasurementType: models.MeasurePerimeter, Confidence: c.conf, Method: c.method,
				PixelsPerMeter: ppm, SourcePage: page.Number, SourceBBox: s.BBox(), Subject: subject},
		)
		sectors = append(sectors, s)
	}
	return sectors
}

func lengthUnit(area models.Unit) models.Unit {
	if area == models.UnitSquareMeter {
		return models.UnitMeter
	}
	return area
}

// sectorText returns the first room label and name found inside verts.
func (e *VectorExtractor) sectorText(phrases []phrase, verts []models.Point) (label, name string) {
	for _, ph := range phrases {
		if !geometry.Contains(verts, ph.BBox.Center()) {
			continue
		}
		if m := e.rules.RoomLabel.FindStringSubmatch(ph.Text); m != nil && label == "" {
			label = m[1]
			continue
		}
		if name == "" && isNameLike(ph.Text) {
			name = ph.Text
		}
	}
	return label, name
}

func isNameLike(s string) bool {
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			return false
		case unicode.IsLetter(r):
			letters++
		}
	}
	return letters >= 2
}

func (e *VectorExtractor) doors(page *pdfdoc.Page, segs []geometry.Seg, scale *models.ScaleContext, out *models.ExtractorOutput) []geometry.Arc {
	var arcs []geometry.Arc
	for _, c := range page.Curves {
		arc, ok := geometry.QuarterArc(c.P0, c.P1, c.P2, c.P3)
		if !ok || !doorSized(arc.Radius, scale) {
			continue
		}
		dup := false
		for _, a := range arcs {
			if math.Hypot(a.Center.X-arc.Center.X, a.Center.Y-arc.Center.Y) <= 2 && math.Abs(a.Radius-arc.Radius) <= 0.05*a.Radius {
				dup = true
				break
			}
		}
		if !dup {
			arcs = append(arcs, arc)
		}
	}

	for i, arc := range arcs {
		conf := arcConfidence
		if hasLeaf(arc, segs) {
			conf = leafConfidence
		}
		id := fmt.Sprintf("P%d-D%d", page.Number, i+1)
		bbox := arc.BBox()
		rec := models.DoorRecord{
			DoorID:          id,
			Confidence:      conf,
			DetectionMethod: models.MethodArcRadius,
			SourcePage:      page.Number,
			SourceBBox:      bbox,
		}
		m := models.Measurement{Value: arc.Radius, Unit: models.UnitPixels, MeasurementType: models.MeasureWidth, Confidence: conf,
			Method: models.MethodArcRadius, SourcePage: page.Number, SourceBBox: bbox, Subject: id}
		if scale != nil {
			w := scale.ToMeters(arc.Radius)
			rec.WidthM = floatPtr(w)
			m.Value, m.Unit, m.PixelsPerMeter = w, models.UnitMeter, scale.PixelsPerMeter()
		}
		out.Doors = append(out.Doors, rec)
		out.Measurements = append(out.Measurements, m)
		out.Objects = append(out.Objects, models.DetectedObject{
			ID:              id,
			ObjectType:      models.ObjectDoor,
			Page:            page.Number,
			BBox:            bbox,
			Confidence:      conf,
			DetectionMethod: models.MethodArcRadius,
			Attributes:      map[string]string{"radius_px": fmt.Sprintf("%.2f", arc.Radius), "sweep_deg": fmt.Sprintf("%.1f", arc.SweepDeg)},
		})
	}
	return arcs
}

func doorSized(radiusPx float64, scale *models.ScaleContext) bool {
	if scale == nil {
		return radiusPx >= minDoorPx && radiusPx <= maxDoorPx
	}
	w := scale.ToMeters(radiusPx)
	return w >= minDoorM && w <= maxDoorM
}

// hasLeaf looks for the door leaf: a line from the hinge of about the
// swing radius.
func hasLeaf(arc geometry.Arc, segs []geometry.Seg) bool {
	for _, s := range segs {
		for _, end := range []models.Point{s.A, s.B} {
			if math.Hypot(end.X-arc.Center.X, end.Y-arc.Center.Y) <= 0.6*arc.Radius &&
				math.Abs(s.Length()-arc.Radius) < 0.3*arc.Radius {
				return true
			}
		}
	}
	return false
}

// openings finds door-sized gaps between collinear walls that no swing
// arc already explains.
func (e *VectorExtractor) openings(page *pdfdoc.Page, walls []geometry.Seg, arcs []geometry.Arc, scale *models.ScaleContext, out *models.ExtractorOutput) {
	minContext := minOpeningContextPx
	if scale != nil {
		minContext = minOpeningContextM * scale.PixelsPerMeter()
	}
	type opening struct {
		mid  models.Point
		gap  float64
		bbox models.BBox
	}
	var found []opening
	for i := 0; i < len(walls); i++ {
		for j := i + 1; j < len(walls); j++ {
			a, b := walls[i], walls[j]
			if a.Length() < minContext || b.Length() < minContext {
				continue
			}
			gap, mid, ok := collinearGap(a, b)
			if !ok || !doorSized(gap, scale) {
				continue
			}
			explained := false
			for _, arc := range arcs {
				if math.Hypot(mid.X-arc.Center.X, mid.Y-arc.Center.Y) <= arc.Radius+2 {
					explained = true
					break
				}
			}
			for _, f := range found {
				if math.Hypot(mid.X-f.mid.X, mid.Y-f.mid.Y) <= f.gap/2 {
					explained = true
					break
				}
			}
			if explained {
				continue
			}
			half := gap / 2
			found = append(found, opening{mid: mid, gap: gap, bbox: models.BBox{X: mid.X - half, Y: mid.Y - half, Width: gap, Height: gap}})
		}
	}
	for i, o := range found {
		id := fmt.Sprintf("P%d-O%d", page.Number, i+1)
		rec := models.DoorRecord{DoorID: id, Confidence: openingConfidence, DetectionMethod: models.MethodWallOpening, SourcePage: page.Number, SourceBBox: o.bbox}
		m := models.Measurement{Value: o.gap, Unit: models.UnitPixels, MeasurementType: models.MeasureWidth, Confidence: openingConfidence,
			Method: models.MethodWallOpening, SourcePage: page.Number, SourceBBox: o.bbox, Subject: id}
		if scale != nil {
			w := scale.ToMeters(o.gap)
			rec.WidthM = floatPtr(w)
			m.Value, m.Unit, m.PixelsPerMeter = w, models.UnitMeter, scale.PixelsPerMeter()
		}
		out.Doors = append(out.Doors, rec)
		out.Measurements = append(out.Measurements, m)
	}
}

// collinearGap measures the gap between two walls on the same line.
func collinearGap(a, b geometry.Seg) (float64, models.Point, bool) {
	if geometry.AngleDiff(a.Angle(), b.Angle()) > 2 {
		return 0, models.Point{}, false
	}
	l := a.Length()
	ux, uy := (a.B.X-a.A.X)/l, (a.B.Y-a.A.Y)/l
	for _, p := range []models.Point{b.A, b.B} {
		if math.Abs((p.X-a.A.X)*uy-(p.Y-a.A.Y)*ux) > 2 {
			return 0, models.Point{}, false
		}
	}
	t := func(p models.Point) float64 { return (p.X-a.A.X)*ux + (p.Y-a.A.Y)*uy }
	a0, a1 := 0.0, l
	b0, b1 := t(b.A), t(b.B)
	if b0 > b1 {
		b0, b1 = b1, b0
	}
	var lo, hi float64
	switch {
	case b0 > a1:
		lo, hi = a1, b0
	case a0 > b1:
		lo, hi = b1, a0
	default:
		return 0, models.Point{}, false
	}
	mt := (lo + hi) / 2
	return hi - lo, models.Point{X: a.A.X + mt*ux, Y: a.A.Y + mt*uy}, true
}

// attachDoors links each door to the sector its swing opens into.
func attachDoors(sectors []models.Sector, doors []models.DoorRecord) {
	for i := range doors {
		c := doors[i].SourceBBox.Center()
		for j := range sectors {
			if geometry.Contains(sectors[j].Vertices, c) {
				doors[i].SectorID = sectors[j].ID
				sectors[j].DoorIDs = append(sectors[j].DoorIDs, doors[i].DoorID)
				break
			}
		}
	}
}

func pointsBBox(pts []models.Point) models.BBox {
	return models.Sector{Vertices: pts}.BBox()
}

func segBBox(s geometry.Seg) models.BBox {
	return pointsBBox([]models.Point{s.A, s.B})
}

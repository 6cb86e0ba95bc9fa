package services

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/clarencejohnson126/SnapPlanApp/internal/geometry"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
)

// crossCheckTolerancePct is the deviation above which a cross-check is
// reported as a warning.
const crossCheckTolerancePct = 10.0

var smokeProtection = regexp.MustCompile(`(^|[^A-Z])RS([^A-Z]|$)`)

// ClassifyFireRating maps free fire-rating text to a category. Every input
// maps to exactly one category; text that matches nothing is Unknown.
func ClassifyFireRating(rating *string) models.FireCategory {
	if rating == nil {
		return models.FireStandard
	}
	upper := strings.ToUpper(strings.TrimSpace(*rating))
	switch upper {
	case "", "-", "–", "—", "OHNE", "KEINE", "STANDARD", "NONE":
		return models.FireStandard
	}
	compact := strings.Join(strings.Fields(upper), "")
	switch {
	case strings.Contains(compact, "T90"):
		return models.FireT90
	case strings.Contains(compact, "T30"):
		return models.FireT30
	case strings.Contains(compact, "DSS"), smokeProtection.MatchString(upper):
		return models.FireDSS
	}
	return models.FireUnknown
}

// Engine merges extractor outputs into the final result.
type Engine struct {
	rules *rules.Table
}

func NewEngine(rt *rules.Table) *Engine {
	return &Engine{rules: rt}
}

// ClassifyRoomType returns the room type for a name and its area factor.
func (e *Engine) ClassifyRoomType(name string, balconyFactor float64) (string, float64) {
	return e.rules.ClassifyRoom(name, balconyFactor)
}

// Aggregate combines outputs in the order given. Text annotations are
// authoritative for rooms and schedules for doors; geometry from the other
// extractors is attached as cross-checks and never summed with them.
func (e *Engine) Aggregate(doc *pdfdoc.Document, outputs []*models.ExtractorOutput, scale *models.ScaleContext, opts Options) (*models.ExtractionResult, error) {
	if doc == nil {
		return nil, errors.New("aggregate: nil document")
	}
	res := &models.ExtractionResult{
		Status:       models.ResultCompleted,
		Rooms:        []models.AreaRecord{},
		Doors:        []models.DoorRecord{},
		Measurements: []models.Measurement{},
		Warnings:     []models.Warning{},
	}
	all := &models.ExtractorOutput{}
	for _, o := range outputs {
		all.Merge(o)
	}
	res.Warnings = append(res.Warnings, all.Warnings...)
	res.Sectors = all.Sectors
	res.Objects = all.Objects

	if opts.NeedsArea() {
		res.Rooms = e.rooms(all, opts, res)
	}
	if opts.Wants(models.OptionDoors) {
		res.Doors = e.doors(all, opts, res)
	}
	if opts.Wants(models.OptionDrywall) {
		res.Drywall = e.drywall(res.Rooms, res.Sectors, opts, res)
	}
	res.Measurements = e.measurements(doc.Hash, all.Measurements, res)

	sortResult(res)
	res.Totals = totals(res.Rooms, res.Doors, res.Drywall)
	if n := len(res.Totals.UnreconciledRooms); n > 0 {
		res.Warnings = append(res.Warnings, models.NewWarning(models.WarnAmbiguousAnnotation, 0, models.BBox{}, "",
			"%d room(s) with conflicting area annotations excluded from area totals: %s",
			n, strings.Join(res.Totals.UnreconciledRooms, ", ")))
	}

	// Outlines and raw objects are intermediate; only the requested
	// outputs count as data.
	if len(res.Rooms) == 0 && len(res.Doors) == 0 && len(res.Drywall) == 0 {
		res.Status = models.ResultNoData
		res.Warnings = append(res.Warnings, models.NewWarning(models.WarnNoData, 0, models.BBox{}, "",
			"%v: no rooms or doors found for %s", models.ErrNoDataExtracted, strings.Join(opts.requested(), ", ")))
	}
	if scale == nil && opts.NeedsArea() && len(res.Rooms) > 0 {
		for _, r := range res.Rooms {
			if r.Method != models.MethodTextAnnotation {
				res.Warnings = append(res.Warnings, models.NewWarning(models.WarnPixelOnly, 0, models.BBox{}, "",
					"geometric areas need a scale; only annotated areas are reported"))
				break
			}
		}
	}
	return res, nil
}

func (e *Engine) rooms(all *models.ExtractorOutput, opts Options, res *models.ExtractionResult) []models.AreaRecord {
	used := make([]bool, len(all.Sectors))
	textPages := map[int]bool{}
	rooms := make([]models.AreaRecord, 0, len(all.Rooms))
	// conflicting records of one room share its outline
	matched := map[string]int{}

	for _, r := range all.Rooms {
		textPages[r.SourcePage] = true
		name := r.RoomName
		if name == "" {
			name = r.RoomID
		}
		r.RoomType, r.AreaFactor = e.ClassifyRoomType(name, opts.BalconyFactor)
		r.EffectiveAreaM2 = r.AreaM2 * r.AreaFactor

		i, seen := matched[roomKeyOf(r)]
		if !seen {
			i = matchSector(r, all.Sectors, used)
			matched[roomKeyOf(r)] = i
		}
		if i >= 0 {
			s := all.Sectors[i]
			used[i] = true
			r.SectorID = s.ID
			if s.AreaM2 != nil {
				dev := deviationPct(*s.AreaM2, r.AreaM2)
				r.CrossChecks = append(r.CrossChecks, models.CrossCheck{Method: s.Method, Value: *s.AreaM2, DeviationPct: dev, SourceID: s.ID})
				if math.Abs(dev) > crossCheckTolerancePct {
					res.Warnings = append(res.Warnings, models.NewWarning(models.WarnCrossCheck, r.SourcePage, r.SourceBBox, r.SourceText,
						"room %s: annotated %.2f m² vs outline %.2f m² (%.1f%%)", r.RoomID, r.AreaM2, *s.AreaM2, dev))
				}
			}
		}
		rooms = append(rooms, r)
	}

	// Outlines become rooms only where no annotation exists on the page.
	for i, s := range all.Sectors {
		if used[i] {
			continue
		}
		if textPages[s.Page] {
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnUnmatchedGeometry, s.Page, s.BBox(), s.Label,
				"outline %s matches no annotated room; its area is not counted", s.ID))
			continue
		}
		if s.AreaM2 == nil {
			continue
		}
		id := s.Label
		if id == "" {
			id = s.ID
		}
		name := s.Name
		if name == "" {
			name = s.Label
		}
		typ, factor := e.ClassifyRoomType(name, opts.BalconyFactor)
		rooms = append(rooms, models.AreaRecord{
			RoomID:          id,
			RoomName:        s.Name,
			RoomType:        typ,
			AreaM2:          *s.AreaM2,
			AreaFactor:      factor,
			EffectiveAreaM2: *s.AreaM2 * factor,
			PerimeterM:      s.PerimeterM,
			SourcePage:      s.Page,
			SourceBBox:      s.BBox(),
			Confidence:      s.Confidence,
			Method:          s.Method,
			SectorID:        s.ID,
		})
	}
	return rooms
}

func roomKeyOf(r models.AreaRecord) string {
	return fmt.Sprintf("%d/%s", r.SourcePage, r.RoomID)
}

// matchSector finds the outline of an annotated room: by label first, then
// by containment of the annotation.
func matchSector(r models.AreaRecord, sectors []models.Sector, used []bool) int {
	for i, s := range sectors {
		if !used[i] && s.Page == r.SourcePage && s.Label != "" && s.Label == r.RoomID {
			return i
		}
	}
	c := r.SourceBBox.Center()
	best, bestArea := -1, math.Inf(1)
	for i, s := range sectors {
		if used[i] || s.Page != r.SourcePage || !geometry.Contains(s.Vertices, c) {
			continue
		}
		// innermost outline wins
		if s.AreaPx < bestArea {
			best, bestArea = i, s.AreaPx
		}
	}
	return best
}

func (e *Engine) doors(all *models.ExtractorOutput, opts Options, res *models.ExtractionResult) []models.DoorRecord {
	var schedule, drawn, detected []models.DoorRecord
	for _, d := range all.Doors {
		switch d.DetectionMethod {
		case models.MethodScheduleTable:
			schedule = append(schedule, d)
		case models.MethodArcRadius, models.MethodWallOpening, models.MethodVectorGeometry:
			drawn = append(drawn, d)
		default:
			// detector doors carry the model id
			detected = append(detected, d)
		}
	}

	doors := schedule
	switch {
	case len(schedule) > 0:
		if n := len(drawn) + len(detected); n > 0 && n != len(schedule) {
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnCrossCheck, 0, models.BBox{}, "",
				"schedule lists %d doors, drawing shows %d", len(schedule), n))
		}
	case len(drawn) > 0:
		doors = drawn
		if len(detected) > 0 && len(detected) != len(drawn) {
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnCrossCheck, 0, models.BBox{}, "",
				"drawing shows %d doors, detector found %d", len(drawn), len(detected)))
		}
	default:
		doors = detected
	}

	out := make([]models.DoorRecord, 0, len(doors))
	for _, d := range doors {
		d.FireCategory = ClassifyFireRating(d.FireRating)
		if d.FireCategory == models.FireUnknown {
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnUnknownFireRating, d.SourcePage, d.SourceBBox, *d.FireRating,
				"door %s: unrecognised fire rating %q", d.DoorID, *d.FireRating))
		}
		if d.HeightM <= 0 {
			d.HeightM = opts.DefaultDoorHeightM
			d.HeightAssumed = true
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) drywall(rooms []models.AreaRecord, sectors []models.Sector, opts Options, res *models.ExtractionResult) []models.DrywallRecord {
	if len(rooms) == 0 {
		return nil
	}
	if opts.WallHeightM <= 0 {
		res.Warnings = append(res.Warnings, models.NewWarning(models.WarnDroppedMeasurement, 0, models.BBox{}, "",
			"drywall requested but wall_height_m is not set"))
		return nil
	}
	byID := make(map[string]models.Sector, len(sectors))
	for _, s := range sectors {
		byID[s.ID] = s
	}
	h := opts.WallHeightM
	var out []models.DrywallRecord
	done := map[string]bool{}
	for _, r := range rooms {
		if done[roomKeyOf(r)] {
			continue
		}
		s, hasSector := byID[r.SectorID]
		perimeter, method := r.PerimeterM, r.Method
		if perimeter == nil && hasSector && s.PerimeterM != nil {
			perimeter, method = s.PerimeterM, s.Method
		}
		if perimeter == nil {
			continue
		}
		done[roomKeyOf(r)] = true
		rec := models.DrywallRecord{
			RoomID:      r.RoomID,
			PerimeterM:  *perimeter,
			WallHeightM: h,
			AreaM2:      *perimeter * h,
			SourcePage:  r.SourcePage,
			Method:      method,
		}
		if hasSector && s.WallLengthM != nil {
			v := *s.WallLengthM * h
			dev := deviationPct(v, rec.AreaM2)
			rec.CrossChecks = append(rec.CrossChecks, models.CrossCheck{Method: models.MethodLineLength, Value: v, DeviationPct: dev, SourceID: s.ID})
			if math.Abs(dev) > crossCheckTolerancePct {
				res.Warnings = append(res.Warnings, models.NewWarning(models.WarnCrossCheck, r.SourcePage, r.SourceBBox, "",
					"room %s: drywall from perimeter %.2f m² vs wall lines %.2f m² (%.1f%%)", r.RoomID, rec.AreaM2, v, dev))
			}
		}
		out = append(out, rec)
	}
	return out
}

// measurements assigns deterministic ids and drops records without
// provenance.
func (e *Engine) measurements(docHash string, in []models.Measurement, res *models.ExtractionResult) []models.Measurement {
	out := make([]models.Measurement, 0, len(in))
	seen := map[string]bool{}
	for _, m := range in {
		m.ID = measurementID(docHash, m)
		if err := m.Validate(); err != nil {
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnDroppedMeasurement, m.SourcePage, m.SourceBBox, m.SourceText,
				"%v", err))
			continue
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

func sortResult(res *models.ExtractionResult) {
	sort.SliceStable(res.Rooms, func(i, j int) bool { return res.Rooms[i].SourcePage < res.Rooms[j].SourcePage })
	sort.SliceStable(res.Doors, func(i, j int) bool { return res.Doors[i].SourcePage < res.Doors[j].SourcePage })
	sort.SliceStable(res.Sectors, func(i, j int) bool {
		if res.Sectors[i].Page != res.Sectors[j].Page {
			return res.Sectors[i].Page < res.Sectors[j].Page
		}
		return res.Sectors[i].ID < res.Sectors[j].ID
	})
	sort.SliceStable(res.Objects, func(i, j int) bool {
		if res.Objects[i].Page != res.Objects[j].Page {
			return res.Objects[i].Page < res.Objects[j].Page
		}
		return res.Objects[i].ID < res.Objects[j].ID
	})
	sort.SliceStable(res.Measurements, func(i, j int) bool {
		if res.Measurements[i].SourcePage != res.Measurements[j].SourcePage {
			return res.Measurements[i].SourcePage < res.Measurements[j].SourcePage
		}
		return res.Measurements[i].ID < res.Measurements[j].ID
	})
}

func totals(rooms []models.AreaRecord, doors []models.DoorRecord, drywall []models.DrywallRecord) models.Totals {
	t := models.Totals{
		AreaByType: map[string]float64{},
		Doors:      doorSummary(doors),
	}
	counted, unreconciled := map[string]bool{}, map[string]bool{}
	for _, r := range rooms {
		key := roomKeyOf(r)
		if !counted[key] {
			counted[key] = true
			t.TotalRooms++
			if r.PerimeterM != nil {
				t.TotalPerimeterM += *r.PerimeterM
			}
		}
		if r.Ambiguous {
			if !unreconciled[key] {
				unreconciled[key] = true
				t.UnreconciledRooms = append(t.UnreconciledRooms, r.RoomID)
			}
			continue
		}
		t.TotalAreaM2 += r.AreaM2
		t.TotalEffectiveAreaM2 += r.EffectiveAreaM2
		t.AreaByType[r.RoomType] += r.AreaM2
	}
	for _, d := range drywall {
		t.TotalDrywallM2 += d.AreaM2
	}
	return t
}

func doorSummary(doors []models.DoorRecord) models.DoorSummary {
	s := models.DoorSummary{
		TotalDoors:    len(doors),
		ByCategory:    map[string]int{},
		ByType:        map[string]int{},
		ByFireRating:  map[string]int{},
		UniqueWidths:  []float64{},
		UniqueHeights: []float64{},
	}
	widths, heights := map[string]float64{}, map[string]float64{}
	for _, d := range doors {
		s.ByCategory[string(d.FireCategory)]++
		typ := d.DoorType
		if typ == "" {
			typ = "unspecified"
		}
		s.ByType[typ]++
		rating := "none"
		if d.FireRating != nil && strings.TrimSpace(*d.FireRating) != "" {
			rating = strings.TrimSpace(*d.FireRating)
		}
		s.ByFireRating[rating]++
		if d.WidthM != nil {
			widths[fmt.Sprintf("%.3f", *d.WidthM)] = *d.WidthM
		}
		heights[fmt.Sprintf("%.3f", d.HeightM)] = d.HeightM
	}
	for _, w := range widths {
		s.UniqueWidths = append(s.UniqueWidths, w)
	}
	for _, h := range heights {
		s.UniqueHeights = append(s.UniqueHeights, h)
	}
	sort.Float64s(s.UniqueWidths)
	sort.Float64s(s.UniqueHeights)
	return s
}

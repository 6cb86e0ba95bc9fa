package services

import (
	"testing"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFireRating(t *testing.T) {
	cases := []struct {
		in   *string
		want models.FireCategory
	}{
		{nil, models.FireStandard},
		{strPtr(""), models.FireStandard},
		{strPtr(" - "), models.FireStandard},
		{strPtr("–"), models.FireStandard},
		{strPtr("ohne"), models.FireStandard},
		{strPtr("T30"), models.FireT30},
		{strPtr("T30-RS"), models.FireT30},
		{strPtr("t 30"), models.FireT30},
		{strPtr("T90-RS"), models.FireT90},
		{strPtr("EI2 30 / T90"), models.FireT90},
		{strPtr("RS"), models.FireDSS},
		{strPtr("DSS"), models.FireDSS},
		{strPtr("rs-tür"), models.FireDSS},
		{strPtr("FIRST"), models.FireUnknown},
		{strPtr("EI30"), models.FireUnknown},
	}
	for _, c := range cases {
		name := "<nil>"
		if c.in != nil {
			name = *c.in
		}
		assert.Equal(t, c.want, ClassifyFireRating(c.in), name)
	}
}

func TestEngine_AnnotatedBalcony(t *testing.T) {
	out := &models.ExtractorOutput{Extractor: "text", Rooms: []models.AreaRecord{{
		RoomID: "B.03.1.001", RoomName: "Balkon", AreaM2: 42.18, SourcePage: 3,
		SourceText: "NRF: 42,18 m²", Confidence: 0.95, Method: models.MethodTextAnnotation,
	}}}
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1), page(2), page(3)), []*models.ExtractorOutput{out}, nil, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, res.Rooms, 1)
	r := res.Rooms[0]
	assert.Equal(t, "Balcony", r.RoomType)
	assert.Equal(t, 0.5, r.AreaFactor)
	assert.InDelta(t, 21.09, r.EffectiveAreaM2, 1e-9)
	assert.Equal(t, 3, r.SourcePage)
	assert.Equal(t, models.ResultCompleted, res.Status)
	assert.InDelta(t, 42.18, res.Totals.TotalAreaM2, 1e-9)
	assert.InDelta(t, 21.09, res.Totals.TotalEffectiveAreaM2, 1e-9)
	assert.InDelta(t, 42.18, res.Totals.AreaByType["Balcony"], 1e-9)
}

func TestEngine_NoData(t *testing.T) {
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1)), []*models.ExtractorOutput{{Extractor: "text"}}, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, models.ResultNoData, res.Status)
	assert.Empty(t, res.Rooms)
	assert.Empty(t, res.Doors)
	assert.Equal(t, 0, res.Totals.TotalRooms)
	assert.True(t, hasWarning(res.Warnings, models.WarnNoData))
}

func TestEngine_ScheduleIsAuthoritativeForDoors(t *testing.T) {
	w := 0.9
	out := &models.ExtractorOutput{Doors: []models.DoorRecord{
		{DoorID: "T01", WidthM: &w, HeightM: 2.1, FireRating: strPtr("T30-RS"), SourcePage: 1, DetectionMethod: models.MethodScheduleTable, DoorType: "Holz"},
		{DoorID: "T02", WidthM: &w, SourcePage: 1, DetectionMethod: models.MethodScheduleTable},
		{DoorID: "P1-D1", WidthM: &w, SourcePage: 1, DetectionMethod: models.MethodArcRadius},
	}}
	opts := DefaultOptions()
	opts.ExtractOptions = []string{models.OptionDoors}
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, nil, opts)
	require.NoError(t, err)

	require.Len(t, res.Doors, 2)
	assert.Equal(t, models.FireT30, res.Doors[0].FireCategory)
	assert.False(t, res.Doors[0].HeightAssumed)
	assert.Equal(t, models.FireStandard, res.Doors[1].FireCategory)
	assert.Equal(t, 2.01, res.Doors[1].HeightM)
	assert.True(t, res.Doors[1].HeightAssumed)
	assert.True(t, hasWarning(res.Warnings, models.WarnCrossCheck))

	s := res.Totals.Doors
	assert.Equal(t, 2, s.TotalDoors)
	assert.Equal(t, 1, s.ByCategory["T30"])
	assert.Equal(t, 1, s.ByType["unspecified"])
	assert.Equal(t, 1, s.ByFireRating["none"])
	assert.Equal(t, []float64{0.9}, s.UniqueWidths)
	assert.Equal(t, []float64{2.01, 2.1}, s.UniqueHeights)
	assert.Empty(t, res.Rooms, "rooms are not requested")
}

func TestEngine_UnknownFireRatingWarns(t *testing.T) {
	out := &models.ExtractorOutput{Doors: []models.DoorRecord{
		{DoorID: "T01", HeightM: 2.1, FireRating: strPtr("EI30"), SourcePage: 1, DetectionMethod: models.MethodScheduleTable},
	}}
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, models.FireUnknown, res.Doors[0].FireCategory)
	assert.True(t, hasWarning(res.Warnings, models.WarnUnknownFireRating))
}

func TestEngine_SectorsBecomeRoomsOnlyWithoutAnnotations(t *testing.T) {
	area, perim, walls := 12.0, 14.0, 14.0
	sq := []models.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}
	out := &models.ExtractorOutput{
		Rooms: []models.AreaRecord{{RoomID: "B.01.1.001", AreaM2: 11, SourcePage: 1, Method: models.MethodTextAnnotation, SourceBBox: models.BBox{X: 40, Y: 40, Width: 10, Height: 5}}},
		Sectors: []models.Sector{
			{ID: "sect_a", Page: 1, Vertices: sq, AreaPx: 10000, AreaM2: &area, PerimeterM: &perim, Method: models.MethodVectorGeometry},
			{ID: "sect_b", Page: 2, Vertices: sq, AreaPx: 10000, AreaM2: &area, PerimeterM: &perim, WallLengthM: &walls, Method: models.MethodVectorGeometry, Name: "Küche"},
		},
	}
	opts := DefaultOptions()
	opts.WallHeightM = 2.5
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1), page(2)), []*models.ExtractorOutput{out}, scaleAt(t, 100), opts)
	require.NoError(t, err)

	require.Len(t, res.Rooms, 2)
	annotated := res.Rooms[0]
	assert.Equal(t, "sect_a", annotated.SectorID)
	assert.InDelta(t, 11, annotated.AreaM2, 1e-9, "annotation stays authoritative")
	require.Len(t, annotated.CrossChecks, 1)
	assert.InDelta(t, 9.09, annotated.CrossChecks[0].DeviationPct, 0.01)
	assert.False(t, hasWarning(res.Warnings, models.WarnCrossCheck))

	derived := res.Rooms[1]
	assert.Equal(t, "sect_b", derived.RoomID)
	assert.Equal(t, "Kitchen", derived.RoomType)
	assert.Equal(t, 2, derived.SourcePage)

	// the annotated room has no perimeter of its own and borrows the outline's
	require.Len(t, res.Drywall, 2)
	assert.InDelta(t, 35, res.Drywall[0].AreaM2, 1e-9)
	assert.InDelta(t, 35, res.Drywall[1].AreaM2, 1e-9)
	require.Len(t, res.Drywall[1].CrossChecks, 1)
	assert.InDelta(t, 0, res.Drywall[1].CrossChecks[0].DeviationPct, 1e-9)
	assert.InDelta(t, 70, res.Totals.TotalDrywallM2, 1e-9)
}

func TestEngine_CrossCheckDeviationWarns(t *testing.T) {
	area := 20.0
	sq := []models.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}
	out := &models.ExtractorOutput{
		Rooms:   []models.AreaRecord{{RoomID: "B.01.1.001", AreaM2: 15, SourcePage: 1, Method: models.MethodTextAnnotation}},
		Sectors: []models.Sector{{ID: "sect_a", Page: 1, Label: "B.01.1.001", Vertices: sq, AreaPx: 10000, AreaM2: &area, Method: models.MethodVectorGeometry}},
	}
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, scaleAt(t, 100), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "sect_a", res.Rooms[0].SectorID)
	assert.True(t, hasWarning(res.Warnings, models.WarnCrossCheck))
}

func TestEngine_DrywallNeedsWallHeight(t *testing.T) {
	perim := 20.0
	out := &models.ExtractorOutput{Rooms: []models.AreaRecord{{RoomID: "r", AreaM2: 10, PerimeterM: &perim, SourcePage: 1, Method: models.MethodTextAnnotation}}}
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Drywall)
	assert.True(t, hasWarning(res.Warnings, models.WarnDroppedMeasurement))
}

func TestEngine_MeasurementsGetStableIDs(t *testing.T) {
	out := &models.ExtractorOutput{Measurements: []models.Measurement{
		{Value: 1, Unit: models.UnitMeter, MeasurementType: models.MeasureLength, Method: models.MethodLineLength, SourcePage: 1},
		{Value: 1, Unit: models.UnitMeter, MeasurementType: models.MeasureLength, Method: models.MethodLineLength, SourcePage: 1},
		{Value: 2, Unit: models.UnitMeter, MeasurementType: models.MeasureLength, Method: "", SourcePage: 1},
	}}
	e := NewEngine(testRules(t))
	a, err := e.Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, nil, DefaultOptions())
	require.NoError(t, err)
	b, err := e.Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, nil, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, a.Measurements, 1)
	assert.Regexp(t, `^meas_[0-9a-f]{12}$`, a.Measurements[0].ID)
	assert.Equal(t, a.Measurements[0].ID, b.Measurements[0].ID)
	assert.True(t, hasWarning(a.Warnings, models.WarnDroppedMeasurement))
}

func TestEngine_OutlinesAloneAreNoData(t *testing.T) {
	area := 12.0
	sq := []models.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}
	out := &models.ExtractorOutput{Sectors: []models.Sector{
		{ID: "sect_a", Page: 1, Vertices: sq, AreaPx: 10000, AreaM2: &area, Method: models.MethodVectorGeometry},
	}}
	opts := DefaultOptions()
	opts.ExtractOptions = []string{models.OptionDoors}
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, scaleAt(t, 100), opts)
	require.NoError(t, err)
	assert.Equal(t, models.ResultNoData, res.Status)
	assert.Empty(t, res.Doors)
	assert.Len(t, res.Sectors, 1)
	assert.True(t, hasWarning(res.Warnings, models.WarnNoData))
}

func TestEngine_ConflictingAnnotationsAreNotSummed(t *testing.T) {
	perim := 18.0
	out := &models.ExtractorOutput{Rooms: []models.AreaRecord{
		{RoomID: "B.03.1.001", AreaM2: 20, PerimeterM: &perim, SourcePage: 1, Method: models.MethodTextAnnotation, Ambiguous: true},
		{RoomID: "B.03.1.001", AreaM2: 22, PerimeterM: &perim, SourcePage: 1, Method: models.MethodTextAnnotation, Ambiguous: true},
		{RoomID: "B.03.1.002", AreaM2: 10, SourcePage: 1, Method: models.MethodTextAnnotation},
	}}
	opts := DefaultOptions()
	opts.WallHeightM = 2.5
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, nil, opts)
	require.NoError(t, err)

	assert.Len(t, res.Rooms, 3, "both conflicting values stay visible")
	assert.Equal(t, 2, res.Totals.TotalRooms)
	assert.InDelta(t, 10, res.Totals.TotalAreaM2, 1e-9)
	assert.InDelta(t, 10, res.Totals.TotalEffectiveAreaM2, 1e-9)
	assert.InDelta(t, 18, res.Totals.TotalPerimeterM, 1e-9)
	assert.Equal(t, []string{"B.03.1.001"}, res.Totals.UnreconciledRooms)
	assert.True(t, hasWarning(res.Warnings, models.WarnAmbiguousAnnotation))

	require.Len(t, res.Drywall, 1, "one wall area per room")
	assert.InDelta(t, 45, res.Totals.TotalDrywallM2, 1e-9)
}

func TestEngine_UnmatchedOutlineOnAnnotatedPageWarns(t *testing.T) {
	area := 12.0
	inner := []models.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}
	other := []models.Point{{X: 500, Y: 0}, {X: 600, Y: 0}, {X: 600, Y: 100}, {X: 500, Y: 100}}
	out := &models.ExtractorOutput{
		Rooms: []models.AreaRecord{{RoomID: "B.01.1.001", AreaM2: 12, SourcePage: 1, Method: models.MethodTextAnnotation, SourceBBox: models.BBox{X: 40, Y: 40, Width: 10, Height: 5}}},
		Sectors: []models.Sector{
			{ID: "sect_a", Page: 1, Vertices: inner, AreaPx: 10000, AreaM2: &area, Method: models.MethodVectorGeometry},
			{ID: "sect_b", Page: 1, Vertices: other, AreaPx: 10000, AreaM2: &area, Method: models.MethodVectorGeometry},
		},
	}
	res, err := NewEngine(testRules(t)).Aggregate(docOf(page(1)), []*models.ExtractorOutput{out}, scaleAt(t, 100), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Rooms, 1)
	assert.Equal(t, "sect_a", res.Rooms[0].SectorID)
	assert.InDelta(t, 12, res.Totals.TotalAreaM2, 1e-9)

	var found *models.Warning
	for i, w := range res.Warnings {
		if w.Code == models.WarnUnmatchedGeometry {
			found = &res.Warnings[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 1, found.Page)
	assert.Contains(t, found.Message, "sect_b")
}

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(t *testing.T) *Table {
	t.Helper()
	tb, err := Default()
	require.NoError(t, err)
	return tb
}

func TestDefault_Compiles(t *testing.T) {
	tb := table(t)
	assert.NotEmpty(t, tb.Markers)
	assert.NotEmpty(t, tb.Tags)
	assert.NotEmpty(t, tb.Scales)
	assert.NotNil(t, tb.RoomLabel)
}

func TestLoad_RejectsTagWithoutValueGroup(t *testing.T) {
	_, err := Load([]byte("tags:\n  - name: X\n    pattern: 'X'\nroom_label: 'a'\n"))
	assert.Error(t, err)
}

func TestMarkersIn(t *testing.T) {
	tb := table(t)
	got := tb.MarkersIn("B.01.1.012 Büro NRF: 24,50 m² U: 20,10 m LH 2,60 m")
	assert.ElementsMatch(t, []string{"NRF", "U", "LH", "ROOM_ID"}, got)

	assert.Contains(t, tb.MarkersIn("Tür 12 T30-RS"), "DOOR_ID")
	assert.Contains(t, tb.MarkersIn("Tür 12 T30-RS"), "FIRE_RATING")
	assert.NotContains(t, tb.MarkersIn("T30"), "DOOR_ID")
	assert.Contains(t, tb.MarkersIn("Maßstab 1:100"), "SCALE")
	assert.Empty(t, tb.MarkersIn("Ansicht Nord"))
}

func TestNormalizeHeader(t *testing.T) {
	tb := table(t)
	cases := map[string]string{
		"Pos.":            "pos",
		"Tür-Nr.":         "door_number",
		"  TÜRNUMMER ":    "door_number",
		"Raum":            "room",
		"Lichte Breite":   "width_m",
		"B [m]":           "width_m",
		"Brandschutz":     "fire_rating",
		"Bemerkungen":     "remarks",
		"Typ/Art":         "type",
		"Oberfläche Holz": "oberfläche_holz",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, tb.NormalizeHeader(in), in)
	}
	assert.True(t, tb.IsKeyColumn("door_number"))
	assert.False(t, tb.IsKeyColumn("remarks"))
	assert.True(t, tb.IsKnownHeader("Höhe"))
	assert.False(t, tb.IsKnownHeader("Farbe"))
}

func TestClassifyRoom(t *testing.T) {
	tb := table(t)
	typ, f := tb.ClassifyRoom("Balkon", 0.5)
	assert.Equal(t, "Balcony", typ)
	assert.Equal(t, 0.5, f)

	typ, f = tb.ClassifyRoom("Dachterrasse", 0.25)
	assert.Equal(t, "Terrace", typ)
	assert.Equal(t, 0.25, f)

	typ, f = tb.ClassifyRoom("TREPPENHAUS", 0.5)
	assert.Equal(t, "Stairwell", typ)
	assert.Equal(t, 1.0, f)

	typ, _ = tb.ClassifyRoom("Flur 2.OG", 0.5)
	assert.Equal(t, "Corridor", typ)

	typ, f = tb.ClassifyRoom("", 0.5)
	assert.Equal(t, RoomOther, typ)
	assert.Equal(t, 1.0, f)

	typ, _ = tb.ClassifyRoom("Raum 17", 0.5)
	assert.Equal(t, RoomOther, typ)
}

func TestIsCorrection(t *testing.T) {
	tb := table(t)
	assert.True(t, tb.IsCorrection("NRF 24,10 m² (korrigiert)"))
	assert.True(t, tb.IsCorrection("Korrektur: 12,0"))
	assert.False(t, tb.IsCorrection("NRF 24,10 m²"))
	assert.True(t, tb.IsCorrection("NRF 24,10 m² (neu)"))
	assert.True(t, tb.IsCorrection("NRF 24,10 m² korr. 03/26"))
	assert.True(t, tb.IsCorrection("NRF 24,10 m² Geändert"))

	// markers inside longer words do not count
	assert.False(t, tb.IsCorrection("Neubau Wohnhaus NRF 24,10 m²"))
	assert.False(t, tb.IsCorrection("Erneuerung Bad"))
	assert.False(t, tb.IsCorrection("unkorrigiert"))
}

func TestMatchScales(t *testing.T) {
	tb := table(t)

	m := tb.MatchScales("Grundriss EG  Maßstab 1:100")
	require.Len(t, m, 1)
	assert.Equal(t, 100, m[0].Denominator)
	assert.Equal(t, 0.95, m[0].Confidence)

	m = tb.MatchScales("M 1:50")
	require.Len(t, m, 1)
	assert.Equal(t, 50, m[0].Denominator)
	assert.Equal(t, 0.85, m[0].Confidence)

	m = tb.MatchScales("Scale: 1:200")
	require.Len(t, m, 1)
	assert.Equal(t, 0.90, m[0].Confidence)

	m = tb.MatchScales("Detail 1 : 20")
	require.Len(t, m, 1)
	assert.Equal(t, 20, m[0].Denominator)
	assert.Equal(t, 0.70, m[0].Confidence)

	// bare ratios glued to digits or slashes are not scales
	assert.Empty(t, tb.MatchScales("Plan 11:30 Uhr"))
	assert.Empty(t, tb.MatchScales("Index 2/1:5"))
	assert.Empty(t, tb.MatchScales("1:0"))
}

func TestParseDecimal(t *testing.T) {
	ok := map[string]float64{
		"24,50":    24.5,
		"24.50":    24.5,
		"12":       12,
		"1.234,56": 1234.56,
		"12.345,6": 12345.6,
		" 3,0 ":    3,
		"7,":       7,
	}
	for in, want := range ok {
		got, err := ParseDecimal(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}

	_, err := ParseDecimal("1,234.56")
	assert.ErrorIs(t, err, ErrAmbiguousNumber)
	_, err = ParseDecimal("1.2.3")
	assert.ErrorIs(t, err, ErrAmbiguousNumber)
	_, err = ParseDecimal("abc")
	assert.ErrorIs(t, err, ErrNotANumber)
	_, err = ParseDecimal("")
	assert.ErrorIs(t, err, ErrNotANumber)
}

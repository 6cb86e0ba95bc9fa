package services

import (
	"testing"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScaleString(t *testing.T) {
	n, err := ParseScaleString(" 1 : 100 ")
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	for _, bad := range []string{"", "abc", "1:0", "2:100", "1:100000"} {
		_, err := ParseScaleString(bad)
		assert.ErrorIs(t, err, models.ErrInvalidScale, bad)
	}
}

func TestPixelsPerMeterAndInference(t *testing.T) {
	ppm := PixelsPerMeter(150, 100)
	assert.InDelta(t, 59.055, ppm, 1e-3)
	assert.Equal(t, "1:100", InferScaleString(ppm, 150))
	assert.Equal(t, "1:50", InferScaleString(ppm*2*1.03, 150))
	assert.Equal(t, "", InferScaleString(ppm*1.2, 150))
	assert.Equal(t, "", InferScaleString(0, 150))
}

func TestValidateScale(t *testing.T) {
	ok, dev := ValidateScale(103, 100, 0.05)
	assert.True(t, ok)
	assert.InDelta(t, 0.03, dev, 1e-9)
	ok, _ = ValidateScale(110, 100, 0.05)
	assert.False(t, ok)
	ok, _ = ValidateScale(1, 0, 0.05)
	assert.False(t, ok)
}

func TestCalibrate_UserScale(t *testing.T) {
	c := NewCalibrator(testRules(t))
	sc, err := c.Calibrate(docOf(page(1, run("Maßstab 1:50", 10, 10, 10))), 1, CalibrationRequest{Scale: "1:100"})
	require.NoError(t, err)
	assert.Equal(t, models.ScaleMethodUserInput, sc.Method())
	assert.Equal(t, 1.0, sc.Confidence())
	assert.InDelta(t, 59.055, sc.PixelsPerMeter(), 1e-3)

	_, err = c.Calibrate(docOf(page(1)), 1, CalibrationRequest{Scale: "hundred"})
	assert.ErrorIs(t, err, models.ErrInvalidScale)
}

func TestCalibrate_Reference(t *testing.T) {
	c := NewCalibrator(testRules(t))
	sc, err := c.Calibrate(docOf(page(1), page(2)), 1, CalibrationRequest{Reference: &models.ScaleReference{Page: 2, PixelLength: 300, MeterLength: 5}})
	require.NoError(t, err)
	assert.InDelta(t, 60, sc.PixelsPerMeter(), 1e-9)
	assert.Equal(t, 2, sc.SourcePage())
	assert.Equal(t, "1:100", sc.ScaleString())
}

func TestCalibrate_Annotation(t *testing.T) {
	c := NewCalibrator(testRules(t))
	doc := docOf(page(1, run("Grundriss EG  Maßstab 1:50", 900, 700, 10)))
	sc, err := c.Calibrate(doc, 1, CalibrationRequest{Scale: "auto"})
	require.NoError(t, err)
	assert.Equal(t, models.ScaleMethodAnnotation, sc.Method())
	assert.Equal(t, 0.95, sc.Confidence())
	assert.InDelta(t, 118.11, sc.PixelsPerMeter(), 1e-2)
	assert.Equal(t, "1:50", sc.ScaleString())
	assert.Equal(t, 1, sc.SourcePage())
}

func TestCalibrate_StrongerAnnotationOnLaterPage(t *testing.T) {
	c := NewCalibrator(testRules(t))
	doc := docOf(page(1, run("Detail 1 : 20", 10, 10, 10)), page(2, run("Maßstab 1:100", 10, 10, 10)))
	sc, err := c.Calibrate(doc, 1, CalibrationRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, sc.SourcePage())
	assert.Equal(t, "1:100", sc.ScaleString())
}

func TestCalibrate_OCRAnnotationIsDiscounted(t *testing.T) {
	c := NewCalibrator(testRules(t))
	doc := docOf(page(1)).WithOCRText(1, []pdfdoc.TextRun{run("Maßstab 1:100", 10, 10, 10)})
	sc, err := c.Calibrate(doc, 1, CalibrationRequest{})
	require.NoError(t, err)
	assert.InDelta(t, 0.95*0.85, sc.Confidence(), 1e-9)
	assert.True(t, sc.NeedsReview(0.9))
}

func TestCalibrate_DimensionLines(t *testing.T) {
	ppm := PixelsPerMeter(150, 100)
	p := page(1)
	// 5 m and 3 m dimension lines with their values printed above the middle.
	p.Segments = []pdfdoc.Segment{
		{A: models.Point{X: 100, Y: 200}, B: models.Point{X: 100 + 5*ppm, Y: 200}},
		{A: models.Point{X: 100, Y: 400}, B: models.Point{X: 100 + 3*ppm, Y: 400}},
	}
	p.Text = []pdfdoc.TextRun{
		run("5,00", 100+2.5*ppm-10, 186, 8),
		run("3,00", 100+1.5*ppm-10, 386, 8),
	}
	sc, err := NewCalibrator(testRules(t)).Calibrate(docOf(p), 1, CalibrationRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ScaleMethodDimensionLine, sc.Method())
	assert.Equal(t, 0.80, sc.Confidence())
	assert.InDelta(t, ppm, sc.PixelsPerMeter(), 1e-6)
	assert.Equal(t, "1:100", sc.ScaleString())
}

func TestCalibrate_SingleDimensionLineIsNotEnough(t *testing.T) {
	p := page(1, run("5,00", 240, 186, 8))
	p.Segments = []pdfdoc.Segment{{A: models.Point{X: 100, Y: 200}, B: models.Point{X: 400, Y: 200}}}
	_, err := NewCalibrator(testRules(t)).Calibrate(docOf(p), 1, CalibrationRequest{})
	assert.ErrorIs(t, err, models.ErrScaleNotDetermined)
}

func TestCalibrate_NothingFound(t *testing.T) {
	_, err := NewCalibrator(testRules(t)).Calibrate(docOf(page(1, run("Ansicht Nord", 10, 10, 10))), 1, CalibrationRequest{Scale: "auto"})
	assert.ErrorIs(t, err, models.ErrScaleNotDetermined)
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	runs []models.AnalysisRun
	err  error
}

func (s *recordingSink) Save(ctx context.Context, run *models.AnalysisRun, _ *models.ExtractionResult) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.runs = append(s.runs, *run)
	return s.err
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(10 * time.Millisecond)
		return t
	}
}

// drawingPage is a vector page without a text layer.
func drawingPage(n int) pdfdoc.Page {
	p := page(n)
	p.DrawingOps = 150
	return p
}

func TestPipeline_NoScaleFailsForGeometricAreas(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(testRules(t), WithSinks(sink), WithClock(fixedClock()))
	opts := DefaultOptions()
	opts.RunID = "run-d"

	run, res, err := p.Run(context.Background(), docOf(drawingPage(1)), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrScaleNotDetermined)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.False(t, run.Partial)
	assert.Equal(t, models.ResultFailed, res.Status)
	assert.Equal(t, models.CategoryCADNoText, res.Classification.Category)
	assert.Equal(t, "hybrid", run.Pipeline)

	require.Len(t, sink.runs, 1)
	assert.Equal(t, models.RunFailed, sink.runs[0].Status)
	assert.Equal(t, "run-d", sink.runs[0].RunID)
}

func TestPipeline_DoorsOnlyWithoutScaleIsNoData(t *testing.T) {
	p := NewPipeline(testRules(t), WithClock(fixedClock()))
	opts := DefaultOptions()
	opts.ExtractOptions = []string{models.OptionDoors}

	run, res, err := p.Run(context.Background(), docOf(drawingPage(1)), opts)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, "no_data", run.Outcome)
	assert.Equal(t, models.ResultNoData, res.Status)
	assert.Equal(t, []string{models.OptionDoors}, run.RequestedAnalyses)
	assert.True(t, hasWarning(res.Warnings, models.WarnScaleNotDetermined))
	assert.True(t, hasWarning(res.Warnings, models.WarnExtractorSkipped))
	assert.True(t, hasWarning(res.Warnings, models.WarnNoData))
	assert.Equal(t, int64(20), res.ProcessingTimeMs)
}

func TestPipeline_DoorsOnlyWithOutlinesButNoDoorsIsNoData(t *testing.T) {
	ppm := PixelsPerMeter(pdfdoc.DefaultDPI, 100)
	pg := drawingPage(1)
	rectangle(&pg, 200, 200, 10*ppm, 5*ppm)
	opts := DefaultOptions()
	opts.Scale = "1:100"
	opts.ExtractOptions = []string{models.OptionDoors}

	run, res, err := NewPipeline(testRules(t)).Run(context.Background(), docOf(pg), opts)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Sectors, "the outline is still found")
	assert.Empty(t, res.Doors)
	assert.Equal(t, models.ResultNoData, res.Status)
	assert.Equal(t, "no_data", run.Outcome)
	assert.Equal(t, models.ResultNoData, models.NewMeasureResponse(res).Status)
}

func TestPipeline_PageOutOfRangeIsRejected(t *testing.T) {
	sink := &recordingSink{}
	opts := DefaultOptions()
	n := 7
	opts.PageNumber = &n

	doc := docOf(page(1, run("NRF: 12,00 m²", 100, 100, 10)))

	ar, _, err := NewPipeline(testRules(t), WithSinks(sink)).Run(context.Background(), doc, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "page 7")
	assert.Equal(t, models.RunFailed, ar.Status)
	require.Len(t, sink.runs, 1)
	assert.Equal(t, models.RunFailed, sink.runs[0].Status)
}

func TestPipeline_AnnotatedPlan(t *testing.T) {
	pg := page(1,
		run("Grundriss 3.OG  Maßstab 1:100", 1500, 1600, 12),
		run("B.03.1.001 Balkon", 400, 300, 12),
		run("NRF: 42,18 m²", 400, 316, 12),
		run("U: 27,40 m", 400, 332, 12),
		run("B.03.1.002 Büro", 400, 700, 12),
		run("NRF: 18,50 m²", 400, 716, 12),
		run("U: 17,20 m", 400, 732, 12),
		run("LH 2,60 m", 400, 748, 12),
		run("Bauvorhaben Wohn- und Geschäftshaus Musterstraße 12", 1500, 1500, 12),
	)
	sink := &recordingSink{}
	p := NewPipeline(testRules(t), WithSinks(sink), WithClock(fixedClock()))
	opts := DefaultOptions()
	opts.WallHeightM = 2.6

	ar, res, err := p.Run(context.Background(), docOf(pg), opts)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, ar.Status)
	assert.Equal(t, string(models.PipelineTextExtraction), ar.Pipeline)
	assert.NotEmpty(t, ar.RunID)
	assert.Equal(t, ar.RunID, res.RunID)

	require.Len(t, res.Scales, 1)
	assert.True(t, res.Scales[0].IsActive)
	assert.Equal(t, "1:100", res.Scales[0].ScaleString)

	require.Len(t, res.Rooms, 2)
	assert.InDelta(t, 42.18+18.50, res.Totals.TotalAreaM2, 1e-9)
	assert.InDelta(t, 21.09+18.50, res.Totals.TotalEffectiveAreaM2, 1e-9)
	assert.InDelta(t, (27.40+17.20)*2.6, res.Totals.TotalDrywallM2, 1e-9)

	require.Len(t, sink.runs, 1)
	assert.Equal(t, models.RunCompleted, sink.runs[0].Status)
	assert.True(t, sink.runs[0].Terminal())
}

func TestPipeline_CancelledDuringDetectionKeepsPartialOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ppm := PixelsPerMeter(pdfdoc.DefaultDPI, 100)
	pg := drawingPage(1)
	rectangle(&pg, 200, 200, 10*ppm, 5*ppm)
	pg.Images = []pdfdoc.Image{{ObjNr: 7, Width: 1000, Height: 700, Filter: "DCTDecode", Data: []byte{0xff, 0xd8}}}

	det := &stubDetector{fn: func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}}
	sink := &recordingSink{}
	p := NewPipeline(testRules(t), WithDetector(det), WithSinks(sink), WithClock(fixedClock()))
	opts := DefaultOptions()
	opts.Scale = "1:100"

	run, res, err := p.Run(ctx, docOf(pg), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, models.RunFailed, run.Status)
	assert.True(t, run.Partial)
	assert.True(t, res.Partial)
	assert.Equal(t, models.ResultFailed, res.Status)
	require.NotEmpty(t, res.Sectors, "vector output finished before the cancellation")
	assert.InDelta(t, 50, *res.Sectors[0].AreaM2, 0.01)
	assert.True(t, hasWarning(res.Warnings, models.WarnCancelled))
	assert.Equal(t, 1, det.calls)

	// sinks still run with a live context
	require.Len(t, sink.runs, 1)
	assert.True(t, sink.runs[0].Partial)
}

func TestPipeline_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, _, err := NewPipeline(testRules(t)).Run(ctx, docOf(drawingPage(1)), DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.False(t, run.Partial)
}

func TestPipeline_SinkFailureDoesNotFailRun(t *testing.T) {
	bad := &recordingSink{err: errors.New("firestore unavailable")}
	good := &recordingSink{}
	p := NewPipeline(testRules(t), WithSinks(bad, good))
	opts := DefaultOptions()
	opts.ExtractOptions = []string{models.OptionDoors}

	run, res, err := p.Run(context.Background(), docOf(drawingPage(1)), opts)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.True(t, hasWarning(res.Warnings, models.WarnSinkFailed))
	assert.Len(t, good.runs, 1)
}

func TestPipeline_InvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.ExtractOptions = []string{"roofing"}
	run, _, err := NewPipeline(testRules(t)).Run(context.Background(), docOf(drawingPage(1)), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "roofing")
	assert.Equal(t, models.RunFailed, run.Status)
}

func TestPipeline_MalformedDocument(t *testing.T) {
	_, _, err := NewPipeline(testRules(t)).Run(context.Background(), &pdfdoc.Document{Hash: "x"}, DefaultOptions())
	assert.ErrorIs(t, err, models.ErrMalformedDocument)
}

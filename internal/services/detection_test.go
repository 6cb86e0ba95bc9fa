package services

import (
	"context"
	"errors"
	"testing"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	resp  *DetectResponse
	err   error
	calls int
	fn    func(ctx context.Context) error
}

func (s *stubDetector) Detect(ctx context.Context, _ DetectRequest) (*DetectResponse, error) {
	s.calls++
	if s.fn != nil {
		if err := s.fn(ctx); err != nil {
			return nil, err
		}
	}
	return s.resp, s.err
}

func TestObjectTypeOf(t *testing.T) {
	typ, ok := ObjectTypeOf("Sliding_Door")
	require.True(t, ok)
	assert.Equal(t, models.ObjectDoor, typ)
	typ, ok = ObjectTypeOf("stair-case")
	require.True(t, ok)
	assert.Equal(t, models.ObjectStairs, typ)
	_, ok = ObjectTypeOf("sofa")
	assert.False(t, ok)
}

func TestAdaptDetections_NMSAndThreshold(t *testing.T) {
	scale := scaleAt(t, 100)
	w := 0.9 * scale.PixelsPerMeter()
	dets := []models.ExternalDetection{
		{ClassName: "door", Confidence: 0.9, Page: 1, BBox: models.BBox{X: 100, Y: 100, Width: w, Height: 10}, Model: "floorplan-doors/3"},
		{ClassName: "door", Confidence: 0.8, Page: 1, BBox: models.BBox{X: 102, Y: 101, Width: w, Height: 10}, Model: "floorplan-doors/3"},
		{ClassName: "door", Confidence: 0.3, Page: 1, BBox: models.BBox{X: 400, Y: 100, Width: w, Height: 10}},
		{ClassName: "window", Confidence: 0.7, Page: 1, BBox: models.BBox{X: 100, Y: 100, Width: w, Height: 10}},
		{ClassName: "sofa", Confidence: 0.9, Page: 1, BBox: models.BBox{X: 0, Y: 0, Width: 10, Height: 10}},
	}
	out := AdaptDetections("h", dets, scale, 0.5)

	require.Len(t, out.Doors, 1)
	d := out.Doors[0]
	assert.Equal(t, "P1-door-1", d.DoorID)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, "floorplan-doors/3", d.DetectionMethod)
	require.NotNil(t, d.WidthM)
	assert.InDelta(t, 0.9, *d.WidthM, 1e-6)

	require.Len(t, out.Objects, 2)
	for _, o := range out.Objects {
		assert.Equal(t, models.MethodBBoxScaled, o.Attributes["scaling"])
		if o.ObjectType == models.ObjectDoor {
			assert.Equal(t, "floorplan-doors/3", o.DetectionMethod)
		} else {
			assert.Equal(t, models.MethodExternalDetector, o.DetectionMethod)
		}
	}
	for _, m := range out.Measurements {
		if m.Subject == d.DoorID {
			assert.Equal(t, "floorplan-doors/3", m.Method)
		}
	}
	assert.True(t, hasWarning(out.Warnings, models.WarnDroppedMeasurement))
	assert.False(t, hasWarning(out.Warnings, models.WarnPixelOnly))
}

func TestAdaptDetections_PixelOnlyWithoutScale(t *testing.T) {
	dets := []models.ExternalDetection{
		{ClassName: "door", Confidence: 0.9, Page: 1, BBox: models.BBox{X: 0, Y: 0, Width: 50, Height: 10}},
		{ClassName: "door", Confidence: 0.9, Page: 1, BBox: models.BBox{X: 300, Y: 0, Width: 50, Height: 10}},
		{ClassName: "door", Confidence: 0.9, Page: 2, BBox: models.BBox{X: 0, Y: 0, Width: 50, Height: 10}},
	}
	out := AdaptDetections("h", dets, nil, 0.5)
	require.Len(t, out.Doors, 3)
	for _, d := range out.Doors {
		assert.Nil(t, d.WidthM)
		assert.Equal(t, models.MethodExternalDetector, d.DetectionMethod)
	}
	for _, o := range out.Objects {
		assert.Equal(t, models.MethodBBoxPixels, o.Attributes["scaling"])
	}
	n := 0
	for _, w := range out.Warnings {
		if w.Code == models.WarnPixelOnly {
			n++
		}
	}
	assert.Equal(t, 2, n, "one pixel-only warning per page")
	for _, m := range out.Measurements {
		assert.Equal(t, models.UnitPixels, m.Unit)
		assert.Equal(t, 50.0, m.Value)
	}
}

func TestAdaptDetections_Rooms(t *testing.T) {
	scale := scaleAt(t, 100)
	ppm := scale.PixelsPerMeter()
	poly := []models.Point{{X: 0, Y: 0}, {X: 4 * ppm, Y: 0}, {X: 4 * ppm, Y: 3 * ppm}, {X: 0, Y: 3 * ppm}}
	dets := []models.ExternalDetection{
		{ClassName: "room", Confidence: 0.8, Page: 1, BBox: models.BBox{Width: 4 * ppm, Height: 3 * ppm}, Polygon: poly},
		{ClassName: "room", Confidence: 0.8, Page: 1, BBox: models.BBox{X: 1000, Y: 1000, Width: 100, Height: 100}},
	}
	out := AdaptDetections("h", dets, scale, 0.5)
	require.Len(t, out.Sectors, 1)
	require.NotNil(t, out.Sectors[0].AreaM2)
	assert.InDelta(t, 12, *out.Sectors[0].AreaM2, 1e-6)
	assert.Equal(t, models.MethodPolygonArea, out.Sectors[0].Method)
	assert.True(t, hasWarning(out.Warnings, models.WarnInvalidPolygon))
}

func TestDetectionExtractor_SuppliedDetectionsOnly(t *testing.T) {
	doc := docOf(page(1), page(2))
	opts := DefaultOptions()
	n := 2
	opts.PageNumber = &n
	opts.Detections = []models.ExternalDetection{
		{ClassName: "door", Confidence: 0.9, Page: 1, BBox: models.BBox{Width: 50, Height: 5}},
		{ClassName: "door", Confidence: 0.9, Page: 2, BBox: models.BBox{Width: 50, Height: 5}},
	}
	out, err := NewDetectionExtractor(nil).Extract(context.Background(), doc, nil, opts)
	require.NoError(t, err)
	require.Len(t, out.Doors, 1)
	assert.Equal(t, 2, out.Doors[0].SourcePage)
}

func TestDetectionExtractor_MapsImageToPagePixels(t *testing.T) {
	p := pdfdoc.Page{Number: 1, WidthPt: 720, HeightPt: 360, DPI: 150,
		Images: []pdfdoc.Image{{Width: 1000, Height: 500, Filter: "DCTDecode", Data: []byte{0xFF, 0xD8, 0xFF}}}}
	det := &stubDetector{resp: &DetectResponse{
		ImageWidth: 1000, ImageHeight: 500,
		Detections: []models.ExternalDetection{{ClassName: "door", Confidence: 0.9, BBox: models.BBox{X: 100, Y: 100, Width: 40, Height: 20}}},
	}}
	out, err := NewDetectionExtractor(det).Extract(context.Background(), docOf(p), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, det.calls)
	require.Len(t, out.Objects, 1)
	assert.Equal(t, models.BBox{X: 150, Y: 150, Width: 60, Height: 30}, out.Objects[0].BBox)
}

func TestDetectionExtractor_NonJPEGRasterSkipped(t *testing.T) {
	p := pdfdoc.Page{Number: 1, WidthPt: 720, HeightPt: 360, DPI: 150, Images: []pdfdoc.Image{{Width: 10, Height: 10, Filter: "FlateDecode"}}}
	det := &stubDetector{resp: &DetectResponse{}}
	out, err := NewDetectionExtractor(det).Extract(context.Background(), docOf(p), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, det.calls)
	assert.True(t, hasWarning(out.Warnings, models.WarnExtractorSkipped))
}

func TestDetectionExtractor_DetectorFailureKeepsSuppliedDetections(t *testing.T) {
	p := pdfdoc.Page{Number: 1, WidthPt: 720, HeightPt: 360, DPI: 150, Images: []pdfdoc.Image{{Width: 10, Height: 10, Data: []byte{1}}}}
	det := &stubDetector{err: errors.New("400 bad image")}
	opts := DefaultOptions()
	opts.Detections = []models.ExternalDetection{
		{ClassName: "door", Confidence: 0.9, Page: 1, BBox: models.BBox{Width: 50, Height: 5}},
	}
	out, err := NewDetectionExtractor(det).Extract(context.Background(), docOf(p), nil, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, det.calls)
	require.NotNil(t, out)
	require.Len(t, out.Doors, 1)
	assert.True(t, hasWarning(out.Warnings, models.WarnExtractorFailed))
}

func TestDetectionExtractor_FailedPageDoesNotDropOtherPages(t *testing.T) {
	img := []pdfdoc.Image{{Width: 1000, Height: 500, Data: []byte{0xFF, 0xD8, 0xFF}}}
	p1 := pdfdoc.Page{Number: 1, WidthPt: 720, HeightPt: 360, DPI: 150, Images: img}
	p2 := pdfdoc.Page{Number: 2, WidthPt: 720, HeightPt: 360, DPI: 150, Images: img}
	det := &stubDetector{resp: &DetectResponse{
		ImageWidth: 1000, ImageHeight: 500,
		Detections: []models.ExternalDetection{{ClassName: "door", Confidence: 0.9, BBox: models.BBox{X: 100, Y: 100, Width: 40, Height: 20}}},
	}}
	det.fn = func(context.Context) error {
		if det.calls == 1 {
			return errors.New("400 bad image")
		}
		return nil
	}
	opts := DefaultOptions()
	opts.PageConcurrency = 1
	out, err := NewDetectionExtractor(det).Extract(context.Background(), docOf(p1, p2), nil, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, det.calls)
	require.Len(t, out.Doors, 1)
	assert.Equal(t, 2, out.Doors[0].SourcePage)
	require.Len(t, out.Warnings, 2)
	assert.Equal(t, models.WarnExtractorFailed, out.Warnings[0].Code)
	assert.Equal(t, 1, out.Warnings[0].Page)
}

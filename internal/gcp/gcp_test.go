package gcp

import (
	"testing"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOCR(t *testing.T) {
	schema, err := OCRSchema()
	require.NoError(t, err)

	raw := []byte(`{"lines":[{"text":" Maßstab 1:100 ","x":0.5,"y":0.9,"width":0.1,"height":0.01},{"text":"","x":0,"y":0,"width":0,"height":0}]}`)
	runs, err := ParseOCR(schema, raw, 1000, 2000)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "Maßstab 1:100", runs[0].Text)
	assert.InDelta(t, 500, runs[0].BBox.X, 1e-9)
	assert.InDelta(t, 1800, runs[0].BBox.Y, 1e-9)
	assert.InDelta(t, 100, runs[0].BBox.Width, 1e-9)
	assert.InDelta(t, 20, runs[0].BBox.Height, 1e-9)
}

func TestParseOCR_RejectsBadPayload(t *testing.T) {
	schema, err := OCRSchema()
	require.NoError(t, err)

	_, err = ParseOCR(schema, []byte(`not json`), 100, 100)
	assert.Error(t, err)
	_, err = ParseOCR(schema, []byte(`{"lines":[{"text":"x","x":2,"y":0,"width":0,"height":0}]}`), 100, 100)
	assert.Error(t, err)
	_, err = ParseOCR(schema, []byte(`{"words":[]}`), 100, 100)
	assert.Error(t, err)
}

func TestParseGCSURI(t *testing.T) {
	b, o, err := ParseGCSURI("gs://plans/uploads/a b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "plans", b)
	assert.Equal(t, "uploads/a b.pdf", o)

	for _, bad := range []string{"https://x/y", "gs://bucket", "gs:///obj"} {
		_, _, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestObjectName(t *testing.T) {
	run := &models.AnalysisRun{RunID: "r1", FileHash: "abc"}
	assert.Equal(t, "results/abc/r1.json", ObjectName(run))
	assert.Equal(t, "results/unhashed/r2.json", ObjectName(&models.AnalysisRun{RunID: "r2"}))
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteSink {
	t.Helper()
	st, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func completedRun(t *testing.T, id, hash string, at time.Time) *models.AnalysisRun {
	t.Helper()
	run := models.NewAnalysisRun(id, []string{models.OptionDoors}, 0.5, at)
	run.FileHash = hash
	require.NoError(t, run.Start(at))
	require.NoError(t, run.Complete(string(models.ResultCompleted), at.Add(time.Second)))
	return run
}

func TestSQLite_SaveAndGetResult(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	w := 0.9
	res := &models.ExtractionResult{
		RunID:  "run-1",
		Status: models.ResultCompleted,
		Rooms:  []models.AreaRecord{{RoomID: "B.03.1.001", RoomType: "Balcony", AreaM2: 42.18, AreaFactor: 0.5, EffectiveAreaM2: 21.09, SourcePage: 3, Method: models.MethodTextAnnotation}},
		Doors:  []models.DoorRecord{{DoorID: "T01", WidthM: &w, HeightM: 2.1, FireCategory: models.FireT30, SourcePage: 1, DetectionMethod: models.MethodScheduleTable}},
	}
	require.NoError(t, st.Save(ctx, completedRun(t, "run-1", "h1", at), res))

	got, err := st.GetResult(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got.Rooms, 1)
	assert.Equal(t, 21.09, got.Rooms[0].EffectiveAreaM2)
	require.Len(t, got.Doors, 1)
	assert.Equal(t, models.FireT30, got.Doors[0].FireCategory)

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunCompleted, runs[0].Status)
	assert.InDelta(t, 42.18, runs[0].TotalAreaM2, 1e-9)
	assert.Equal(t, 1, runs[0].Doors)
}

func TestSQLite_SaveReplacesRun(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	run := completedRun(t, "run-1", "h1", at)

	res := &models.ExtractionResult{Rooms: []models.AreaRecord{{RoomID: "a", AreaM2: 1, SourcePage: 1, Method: "m"}, {RoomID: "b", AreaM2: 2, SourcePage: 1, Method: "m"}}}
	require.NoError(t, st.Save(ctx, run, res))
	res.Rooms = res.Rooms[:1]
	require.NoError(t, st.Save(ctx, run, res))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.InDelta(t, 1, runs[0].TotalAreaM2, 1e-9)
}

func TestSQLite_GetResultMissing(t *testing.T) {
	st := newTestSQLite(t)
	_, err := st.GetResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_FindCompletedByHash(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	failed := models.NewAnalysisRun("run-f", nil, 0.5, at)
	failed.FileHash = "h1"
	require.NoError(t, failed.Start(at))
	require.NoError(t, failed.Fail(models.ErrMalformedDocument, false, at))
	require.NoError(t, st.Save(ctx, failed, &models.ExtractionResult{}))

	_, found, err := st.FindCompletedByHash(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.Save(ctx, completedRun(t, "run-ok", "h1", at), &models.ExtractionResult{}))
	id, found, err := st.FindCompletedByHash(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "run-ok", id)
}

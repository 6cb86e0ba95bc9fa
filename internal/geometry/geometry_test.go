package geometry

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pts(xy ...float64) []models.Point {
	out := make([]models.Point, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		out = append(out, models.Point{X: xy[i], Y: xy[i+1]})
	}
	return out
}

func rect(x, y, w, h float64) []Seg {
	return []Seg{
		{A: models.Point{X: x, Y: y}, B: models.Point{X: x + w, Y: y}},
		{A: models.Point{X: x + w, Y: y}, B: models.Point{X: x + w, Y: y + h}},
		{A: models.Point{X: x + w, Y: y + h}, B: models.Point{X: x, Y: y + h}},
		{A: models.Point{X: x, Y: y + h}, B: models.Point{X: x, Y: y}},
	}
}

// fanArea triangulates from vertex 0 and sums signed triangle areas.
func fanArea(p []models.Point) float64 {
	var s float64
	for i := 1; i+1 < len(p); i++ {
		s += cross(p[0], p[i], p[i+1]) / 2
	}
	return math.Abs(s)
}

func TestArea_Rectangle(t *testing.T) {
	r := pts(0, 0, 10, 0, 10, 5, 0, 5)
	assert.Equal(t, 50.0, Area(r))
	assert.Equal(t, 30.0, Perimeter(r))
	assert.NoError(t, Validate(r))
}

func TestArea_MatchesTriangulationAndGeom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 50; n++ {
		// Star-shaped polygons around a centre are simple by construction.
		k := 3 + rng.Intn(12)
		angles := make([]float64, k)
		for i := range angles {
			angles[i] = rng.Float64() * 2 * math.Pi
		}
		sort.Float64s(angles)
		var poly []models.Point
		for _, a := range angles {
			r := 10 + rng.Float64()*90
			poly = append(poly, models.Point{X: 500 + r*math.Cos(a), Y: 500 + r*math.Sin(a)})
		}
		if Area(poly) < 1 {
			continue
		}
		shoelace := Area(poly)
		assert.InEpsilon(t, fanArea(poly), shoelace, 1e-6)
		assert.InEpsilon(t, GeomArea(poly), shoelace, 1e-6)
	}
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(pts(0, 0, 1, 1)), ErrTooFewVertices)
	assert.ErrorIs(t, Validate(pts(0, 0, 1, 1, 2, 2)), ErrDegenerate)
	bowtie := pts(0, 0, 10, 10, 10, 0, 0, 10)
	assert.True(t, SelfIntersects(bowtie))
	assert.ErrorIs(t, Validate(bowtie), ErrSelfIntersecting)
	assert.False(t, SelfIntersects(pts(0, 0, 10, 0, 10, 10, 5, 15, 0, 10)))
}

func TestContains(t *testing.T) {
	l := pts(0, 0, 20, 0, 20, 10, 10, 10, 10, 20, 0, 20)
	assert.True(t, Contains(l, models.Point{X: 5, Y: 15}))
	assert.True(t, Contains(l, models.Point{X: 15, Y: 5}))
	assert.False(t, Contains(l, models.Point{X: 15, Y: 15}))
	assert.False(t, Contains(l, models.Point{X: -1, Y: 5}))
	assert.True(t, ContainsOrTouches(l, models.Point{X: 20.5, Y: 5}, 1))
}

func TestFaces_SingleRectangle(t *testing.T) {
	faces := Faces(rect(100, 100, 1000, 500), 1)
	require.Len(t, faces, 1)
	assert.InDelta(t, 500000, Area(faces[0]), 1e-6)
	assert.InDelta(t, 3000, Perimeter(faces[0]), 1e-6)
}

func TestFaces_TwoRoomsSharingAWall(t *testing.T) {
	segs := rect(0, 0, 200, 100)
	// partition wall stopping a hair short of the outer walls
	segs = append(segs, Seg{A: models.Point{X: 120, Y: 0.4}, B: models.Point{X: 120, Y: 99.6}})
	split := SplitAtIntersections(segs, 1)
	faces := Faces(split, 1)
	require.Len(t, faces, 2)
	areas := []float64{Area(faces[0]), Area(faces[1])}
	sort.Float64s(areas)
	assert.InDelta(t, 8000, areas[0], 100)
	assert.InDelta(t, 12000, areas[1], 100)
}

func TestFaces_DanglingLinesIgnored(t *testing.T) {
	segs := append(rect(0, 0, 100, 100), Seg{A: models.Point{X: 100, Y: 50}, B: models.Point{X: 180, Y: 50}})
	faces := Faces(SplitAtIntersections(segs, 1), 1)
	require.Len(t, faces, 1)
	assert.InDelta(t, 10000, Area(faces[0]), 1e-6)
}

func TestMergeCollinear(t *testing.T) {
	segs := []Seg{
		{A: models.Point{X: 0, Y: 0}, B: models.Point{X: 50, Y: 0}},
		{A: models.Point{X: 51, Y: 0.5}, B: models.Point{X: 100, Y: 0.5}},
		{A: models.Point{X: 0, Y: 30}, B: models.Point{X: 100, Y: 30}},
	}
	merged := MergeCollinear(segs, MergeOptions{AngleTolDeg: 2, DistTolPx: 2, GapTolPx: 3})
	require.Len(t, merged, 2)
	assert.InDelta(t, 100, merged[0].Length(), 0.1)
	assert.InDelta(t, 100, merged[1].Length(), 1e-9)
}

func TestQuarterArc(t *testing.T) {
	const k = 0.5522847498
	r := 60.0
	c := models.Point{X: 200, Y: 300}
	p0 := models.Point{X: c.X + r, Y: c.Y}
	p3 := models.Point{X: c.X, Y: c.Y - r}
	p1 := models.Point{X: c.X + r, Y: c.Y - k*r}
	p2 := models.Point{X: c.X + k*r, Y: c.Y - r}

	arc, ok := QuarterArc(p0, p1, p2, p3)
	require.True(t, ok)
	assert.InDelta(t, c.X, arc.Center.X, 1e-9)
	assert.InDelta(t, c.Y, arc.Center.Y, 1e-9)
	assert.InDelta(t, r, arc.Radius, 1e-9)
	assert.InDelta(t, 90, arc.SweepDeg, 1e-6)

	// A nearly straight "curve" is not a swing.
	_, ok = QuarterArc(models.Point{X: 0, Y: 0}, models.Point{X: 10, Y: 0}, models.Point{X: 20, Y: 0}, models.Point{X: 30, Y: 1})
	assert.False(t, ok)
}

func TestWKT(t *testing.T) {
	s, err := WKT(pts(0, 0, 10, 0, 10, 5))
	require.NoError(t, err)
	assert.Contains(t, s, "POLYGON")
	_, err = WKT(pts(0, 0))
	assert.ErrorIs(t, err, ErrTooFewVertices)
}

func TestSimplify(t *testing.T) {
	p := Simplify(pts(0, 0, 5, 0, 10, 0, 10, 10, 0, 10), 1e-6)
	assert.Len(t, p, 4)
	assert.Equal(t, Area(pts(0, 0, 10, 0, 10, 10, 0, 10)), Area(p))
}

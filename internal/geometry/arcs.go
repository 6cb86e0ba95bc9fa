package geometry

import (
	"math"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
)

// Quarter-arc acceptance limits for door swings.
const (
	minArcChordPx    = 5.0
	maxRadiusError   = 0.3
	minSweepDeg      = 70.0
	maxSweepDeg      = 110.0
	maxMidpointError = 0.3
)

// Arc is a circular arc fitted to a cubic Bezier.
type Arc struct {
	Center   models.Point
	Radius   float64
	Start    models.Point
	End      models.Point
	SweepDeg float64
}

// BBox covers the quarter disc swept by the arc.
func (a Arc) BBox() models.BBox {
	pts := []models.Point{a.Center, a.Start, a.End}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return models.BBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// bezierPoint evaluates a cubic Bezier at t.
func bezierPoint(p0, p1, p2, p3 models.Point, t float64) models.Point {
	mt := 1 - t
	a, b, c, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
	return models.Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

// QuarterArc tests whether a cubic Bezier approximates a quarter circle
// as CAD tools draw door swings. The centre is taken at one of the two
// corners of the axis-aligned box spanned by the endpoints.
func QuarterArc(p0, p1, p2, p3 models.Point) (Arc, bool) {
	chord := math.Hypot(p3.X-p0.X, p3.Y-p0.Y)
	if chord < minArcChordPx {
		return Arc{}, false
	}
	mid := bezierPoint(p0, p1, p2, p3, 0.5)

	var best Arc
	bestErr := math.Inf(1)
	for _, c := range []models.Point{{X: p0.X, Y: p3.Y}, {X: p3.X, Y: p0.Y}} {
		d1 := math.Hypot(p0.X-c.X, p0.Y-c.Y)
		d2 := math.Hypot(p3.X-c.X, p3.Y-c.Y)
		r := (d1 + d2) / 2
		if r <= 0 || math.Abs(d1-d2) > maxRadiusError*r {
			continue
		}
		v1x, v1y := p0.X-c.X, p0.Y-c.Y
		v2x, v2y := p3.X-c.X, p3.Y-c.Y
		cosA := (v1x*v2x + v1y*v2y) / (d1 * d2)
		cosA = math.Max(-1, math.Min(1, cosA))
		sweep := math.Acos(cosA) * 180 / math.Pi
		if sweep < minSweepDeg || sweep > maxSweepDeg {
			continue
		}
		midErr := math.Abs(math.Hypot(mid.X-c.X, mid.Y-c.Y)-r) / r
		if midErr > maxMidpointError || midErr >= bestErr {
			continue
		}
		bestErr = midErr
		best = Arc{Center: c, Radius: r, Start: p0, End: p3, SweepDeg: sweep}
	}
	return best, !math.IsInf(bestErr, 1)
}

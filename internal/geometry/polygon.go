// Package geometry holds the pixel-space geometry used by the vector and
// detection extractors. Nothing here knows about meters; scaling happens
// once, at the boundary, in the callers.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

var (
	ErrTooFewVertices   = errors.New("polygon has fewer than 3 vertices")
	ErrDegenerate       = errors.New("polygon has zero area")
	ErrSelfIntersecting = errors.New("polygon self-intersects")
)

const eps = 1e-9

// SignedArea is the shoelace sum ½Σ(x_i·y_{i+1} − x_{i+1}·y_i).
func SignedArea(pts []models.Point) float64 {
	n := len(pts)
	if n < 3 {
		return 0
	}
	var s float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		s += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return s / 2
}

// Area is the absolute shoelace area.
func Area(pts []models.Point) float64 {
	return math.Abs(SignedArea(pts))
}

// Perimeter is the closed-ring length.
func Perimeter(pts []models.Point) float64 {
	n := len(pts)
	if n < 2 {
		return 0
	}
	var p float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		p += math.Hypot(pts[j].X-pts[i].X, pts[j].Y-pts[i].Y)
	}
	return p
}

// Validate checks the ring is usable for area computation.
func Validate(pts []models.Point) error {
	if len(pts) < 3 {
		return fmt.Errorf("%w: %d", ErrTooFewVertices, len(pts))
	}
	if Area(pts) < eps {
		return ErrDegenerate
	}
	if SelfIntersects(pts) {
		return ErrSelfIntersecting
	}
	return nil
}

// SelfIntersects reports whether any two non-adjacent edges touch.
func SelfIntersects(pts []models.Point) bool {
	n := len(pts)
	if n < 4 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i || (j+1)%n == i || (i+1)%n == j {
				continue
			}
			b1, b2 := pts[j], pts[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func cross(o, a, b models.Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func onSegment(p, a, b models.Point) bool {
	return math.Min(a.X, b.X)-eps <= p.X && p.X <= math.Max(a.X, b.X)+eps &&
		math.Min(a.Y, b.Y)-eps <= p.Y && p.Y <= math.Max(a.Y, b.Y)+eps
}

func sign(v float64) int {
	switch {
	case v > eps:
		return 1
	case v < -eps:
		return -1
	}
	return 0
}

func segmentsIntersect(a1, a2, b1, b2 models.Point) bool {
	d1 := sign(cross(b1, b2, a1))
	d2 := sign(cross(b1, b2, a2))
	d3 := sign(cross(a1, a2, b1))
	d4 := sign(cross(a1, a2, b2))
	if d1*d2 < 0 && d3*d4 < 0 {
		return true
	}
	return (d1 == 0 && onSegment(a1, b1, b2)) ||
		(d2 == 0 && onSegment(a2, b1, b2)) ||
		(d3 == 0 && onSegment(b1, a1, a2)) ||
		(d4 == 0 && onSegment(b2, a1, a2))
}

// Contains is the ray-casting point-in-polygon test.
func Contains(pts []models.Point, p models.Point) bool {
	inside := false
	n := len(pts)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := pts[i], pts[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			x := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// ContainsOrTouches treats points within tol of the boundary as inside.
func ContainsOrTouches(pts []models.Point, p models.Point, tol float64) bool {
	if Contains(pts, p) {
		return true
	}
	n := len(pts)
	for i := 0; i < n; i++ {
		if DistanceToSegment(p, pts[i], pts[(i+1)%n]) <= tol {
			return true
		}
	}
	return false
}

// DistanceToSegment is the Euclidean distance from p to segment ab.
func DistanceToSegment(p, a, b models.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

// Centroid of a simple polygon.
func Centroid(pts []models.Point) models.Point {
	a := SignedArea(pts)
	if math.Abs(a) < eps {
		var c models.Point
		for _, p := range pts {
			c.X += p.X
			c.Y += p.Y
		}
		if len(pts) > 0 {
			c.X /= float64(len(pts))
			c.Y /= float64(len(pts))
		}
		return c
	}
	var cx, cy float64
	n := len(pts)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		f := pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
		cx += (pts[i].X + pts[j].X) * f
		cy += (pts[i].Y + pts[j].Y) * f
	}
	return models.Point{X: cx / (6 * a), Y: cy / (6 * a)}
}

// Simplify drops vertices that are collinear with their neighbours.
func Simplify(pts []models.Point, tol float64) []models.Point {
	if len(pts) < 4 {
		return pts
	}
	out := make([]models.Point, 0, len(pts))
	n := len(pts)
	for i := 0; i < n; i++ {
		prev, cur, next := pts[(i+n-1)%n], pts[i], pts[(i+1)%n]
		if DistanceToSegment(cur, prev, next) <= tol && math.Hypot(next.X-prev.X, next.Y-prev.Y) > 0 {
			continue
		}
		out = append(out, cur)
	}
	if len(out) < 3 {
		return pts
	}
	return out
}

func toGeom(pts []models.Point) *geom.Polygon {
	flat := make([]float64, 0, 2*len(pts)+2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	flat = append(flat, pts[0].X, pts[0].Y)
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// GeomArea computes the area with go-geom as an independent check of the
// shoelace implementation.
func GeomArea(pts []models.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	return toGeom(pts).Area()
}

// WKT renders the ring as a WKT POLYGON in pixel coordinates.
func WKT(pts []models.Point) (string, error) {
	if len(pts) < 3 {
		return "", fmt.Errorf("%w: %d", ErrTooFewVertices, len(pts))
	}
	return wkt.Marshal(toGeom(pts))
}

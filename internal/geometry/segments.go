package geometry

import (
	"math"
	"sort"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
)

// Seg is a straight segment in pixel space.
type Seg struct {
	A, B models.Point
}

// Length in pixels.
func (s Seg) Length() float64 { return math.Hypot(s.B.X-s.A.X, s.B.Y-s.A.Y) }

// Angle in degrees folded into [0, 180).
func (s Seg) Angle() float64 {
	a := math.Atan2(s.B.Y-s.A.Y, s.B.X-s.A.X) * 180 / math.Pi
	for a < 0 {
		a += 180
	}
	for a >= 180 {
		a -= 180
	}
	return a
}

// Mid is the midpoint.
func (s Seg) Mid() models.Point {
	return models.Point{X: (s.A.X + s.B.X) / 2, Y: (s.A.Y + s.B.Y) / 2}
}

// AngleDiff is the unsigned difference of two folded angles.
func AngleDiff(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 90 {
		d = 180 - d
	}
	return d
}

// IsAxisAligned reports whether the segment is within tol degrees of
// horizontal or vertical.
func (s Seg) IsAxisAligned(tol float64) bool {
	a := s.Angle()
	return AngleDiff(a, 0) <= tol || AngleDiff(a, 90) <= tol
}

// MergeOptions controls collinear merging.
type MergeOptions struct {
	AngleTolDeg float64
	DistTolPx   float64
	GapTolPx    float64
}

// MergeCollinear joins segments that lie on the same line and overlap or
// nearly touch. The result is deterministic for a given input order.
func MergeCollinear(segs []Seg, opt MergeOptions) []Seg {
	n := len(segs)
	if n < 2 {
		return append([]Seg(nil), segs...)
	}
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if collinearTouching(segs[i], segs[j], opt) {
				ri, rj := find(i), find(j)
				if ri != rj {
					if ri < rj {
						parent[rj] = ri
					} else {
						parent[ri] = rj
					}
				}
			}
		}
	}

	groups := map[int][]int{}
	var roots []int
	for i := 0; i < n; i++ {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}
	sort.Ints(roots)

	out := make([]Seg, 0, len(roots))
	for _, r := range roots {
		members := groups[r]
		if len(members) == 1 {
			out = append(out, segs[members[0]])
			continue
		}
		out = append(out, spanOf(segs, members))
	}
	return out
}

func collinearTouching(a, b Seg, opt MergeOptions) bool {
	if AngleDiff(a.Angle(), b.Angle()) > opt.AngleTolDeg {
		return false
	}
	if lineDistance(b.A, a) > opt.DistTolPx || lineDistance(b.B, a) > opt.DistTolPx {
		return false
	}
	ux, uy := unit(a)
	a0, a1 := proj(a.A, a.A, ux, uy), proj(a.B, a.A, ux, uy)
	b0, b1 := proj(b.A, a.A, ux, uy), proj(b.B, a.A, ux, uy)
	if a0 > a1 {
		a0, a1 = a1, a0
	}
	if b0 > b1 {
		b0, b1 = b1, b0
	}
	gap := math.Max(b0-a1, a0-b1)
	return gap <= opt.GapTolPx
}

func unit(s Seg) (float64, float64) {
	l := s.Length()
	if l == 0 {
		return 1, 0
	}
	return (s.B.X - s.A.X) / l, (s.B.Y - s.A.Y) / l
}

func proj(p, origin models.Point, ux, uy float64) float64 {
	return (p.X-origin.X)*ux + (p.Y-origin.Y)*uy
}

// lineDistance is the distance from p to the infinite line through s.
func lineDistance(p models.Point, s Seg) float64 {
	l := s.Length()
	if l == 0 {
		return math.Hypot(p.X-s.A.X, p.Y-s.A.Y)
	}
	return math.Abs(cross(s.A, s.B, p)) / l
}

// spanOf returns the segment covering all members, along the longest one.
func spanOf(segs []Seg, members []int) Seg {
	longest := segs[members[0]]
	for _, m := range members[1:] {
		if segs[m].Length() > longest.Length() {
			longest = segs[m]
		}
	}
	ux, uy := unit(longest)
	origin := longest.A
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, m := range members {
		for _, p := range []models.Point{segs[m].A, segs[m].B} {
			t := proj(p, origin, ux, uy)
			lo, hi = math.Min(lo, t), math.Max(hi, t)
		}
	}
	return Seg{
		A: models.Point{X: origin.X + lo*ux, Y: origin.Y + lo*uy},
		B: models.Point{X: origin.X + hi*ux, Y: origin.Y + hi*uy},
	}
}

// Intersection returns the crossing point of two segments, if any. Collinear
// overlaps report no single crossing point.
func Intersection(a, b Seg) (models.Point, bool) {
	rX, rY := a.B.X-a.A.X, a.B.Y-a.A.Y
	sX, sY := b.B.X-b.A.X, b.B.Y-b.A.Y
	den := rX*sY - rY*sX
	if math.Abs(den) < eps {
		return models.Point{}, false
	}
	qpX, qpY := b.A.X-a.A.X, b.A.Y-a.A.Y
	t := (qpX*sY - qpY*sX) / den
	u := (qpX*rY - qpY*rX) / den
	if t < -eps || t > 1+eps || u < -eps || u > 1+eps {
		return models.Point{}, false
	}
	return models.Point{X: a.A.X + t*rX, Y: a.A.Y + t*rY}, true
}

// SplitAtIntersections cuts every segment where another one crosses it or
// ends on it (within tol), so a planar graph can be built from the pieces.
func SplitAtIntersections(segs []Seg, tol float64) []Seg {
	cuts := make([][]float64, len(segs))
	for i := range segs {
		cuts[i] = []float64{0, 1}
	}
	addCut := func(i int, p models.Point) {
		s := segs[i]
		l := s.Length()
		if l == 0 {
			return
		}
		ux, uy := unit(s)
		t := proj(p, s.A, ux, uy) / l
		if t > tol/l && t < 1-tol/l {
			cuts[i] = append(cuts[i], t)
		}
	}
	for i := 0; i < len(segs); i++ {
		for j := i + 1; j < len(segs); j++ {
			if p, ok := Intersection(segs[i], segs[j]); ok {
				addCut(i, p)
				addCut(j, p)
				continue
			}
			// T-junctions that stop just short of the other segment.
			for _, e := range []models.Point{segs[j].A, segs[j].B} {
				if DistanceToSegment(e, segs[i].A, segs[i].B) <= tol {
					addCut(i, e)
				}
			}
			for _, e := range []models.Point{segs[i].A, segs[i].B} {
				if DistanceToSegment(e, segs[j].A, segs[j].B) <= tol {
					addCut(j, e)
				}
			}
		}
	}

	var out []Seg
	for i, s := range segs {
		ts := cuts[i]
		sort.Float64s(ts)
		for k := 1; k < len(ts); k++ {
			if ts[k]-ts[k-1] < eps {
				continue
			}
			a := lerp(s.A, s.B, ts[k-1])
			b := lerp(s.A, s.B, ts[k])
			out = append(out, Seg{A: a, B: b})
		}
	}
	return out
}

func lerp(a, b models.Point, t float64) models.Point {
	return models.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

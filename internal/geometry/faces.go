package geometry

import (
	"math"
	"sort"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
)

// graph is a planar graph over snapped segment endpoints.
type graph struct {
	nodes []models.Point
	adj   [][]int
}

// snapper merges endpoints closer than tol into one node.
type snapper struct {
	tol   float64
	cells map[[2]int64][]int
	g     *graph
}

func (s *snapper) node(p models.Point) int {
	cx, cy := int64(math.Floor(p.X/s.tol)), int64(math.Floor(p.Y/s.tol))
	best, bestD := -1, math.Inf(1)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, id := range s.cells[[2]int64{cx + dx, cy + dy}] {
				q := s.g.nodes[id]
				if d := math.Hypot(p.X-q.X, p.Y-q.Y); d <= s.tol && d < bestD {
					best, bestD = id, d
				}
			}
		}
	}
	if best >= 0 {
		return best
	}
	id := len(s.g.nodes)
	s.g.nodes = append(s.g.nodes, p)
	s.g.adj = append(s.g.adj, nil)
	key := [2]int64{cx, cy}
	s.cells[key] = append(s.cells[key], id)
	return id
}

func buildGraph(segs []Seg, tol float64) *graph {
	g := &graph{}
	sn := &snapper{tol: tol, cells: map[[2]int64][]int{}, g: g}
	seen := map[[2]int]bool{}
	for _, s := range segs {
		a, b := sn.node(s.A), sn.node(s.B)
		if a == b {
			continue
		}
		key := [2]int{min(a, b), max(a, b)}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.adj[a] = append(g.adj[a], b)
		g.adj[b] = append(g.adj[b], a)
	}
	return g
}

// pruneDangling removes degree-1 chains, which cannot bound a face.
func (g *graph) pruneDangling() {
	removed := make([]bool, len(g.nodes))
	changed := true
	for changed {
		changed = false
		for v := range g.adj {
			if removed[v] || len(g.adj[v]) > 1 {
				continue
			}
			for _, w := range g.adj[v] {
				g.adj[w] = without(g.adj[w], v)
			}
			g.adj[v] = nil
			removed[v] = true
			changed = true
		}
	}
}

func without(xs []int, v int) []int {
	out := xs[:0]
	for _, x := range xs {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (g *graph) angle(from, to int) float64 {
	a, b := g.nodes[from], g.nodes[to]
	return math.Atan2(b.Y-a.Y, b.X-a.X)
}

// Faces enumerates the bounded faces of the planar arrangement formed by
// segs. Endpoints within snapTol are treated as one vertex; segments are
// expected to be split at their crossings already. Faces are returned with
// positive signed area, in a deterministic order.
func Faces(segs []Seg, snapTol float64) [][]models.Point {
	if snapTol <= 0 {
		snapTol = 1
	}
	g := buildGraph(segs, snapTol)
	g.pruneDangling()

	// Neighbours sorted counter-clockwise by angle.
	for v := range g.adj {
		nb := g.adj[v]
		sort.Slice(nb, func(i, j int) bool {
			ai, aj := g.angle(v, nb[i]), g.angle(v, nb[j])
			if ai != aj {
				return ai < aj
			}
			return nb[i] < nb[j]
		})
	}

	visited := map[[2]int]bool{}
	var faces [][]models.Point
	for u := range g.adj {
		for _, v := range g.adj[u] {
			if visited[[2]int{u, v}] {
				continue
			}
			var cycle []int
			a, b := u, v
			ok := true
			for steps := 0; ; steps++ {
				if steps > 4*len(g.nodes)+4 {
					ok = false
					break
				}
				visited[[2]int{a, b}] = true
				cycle = append(cycle, a)
				next := g.nextEdge(a, b)
				if next < 0 {
					ok = false
					break
				}
				a, b = b, next
				if a == u && b == v {
					break
				}
			}
			if !ok || len(cycle) < 3 {
				continue
			}
			pts := make([]models.Point, len(cycle))
			for i, id := range cycle {
				pts[i] = g.nodes[id]
			}
			// With the turn rule in nextEdge, bounded faces come out with
			// positive signed area and the unbounded face negative.
			if SignedArea(pts) > eps {
				faces = append(faces, pts)
			}
		}
	}
	return faces
}

// nextEdge picks, at node to (reached from from), the neighbour that comes
// immediately clockwise of from.
func (g *graph) nextEdge(from, to int) int {
	nb := g.adj[to]
	if len(nb) == 0 {
		return -1
	}
	idx := -1
	for i, w := range nb {
		if w == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -1
	}
	return nb[(idx-1+len(nb))%len(nb)]
}

package pdfdoc

import (
	"math"
	"strings"
	"unicode/utf16"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"golang.org/x/text/encoding/charmap"
)

// Glyph metrics are unknown without font programs; runs are sized with an
// average advance of half an em, which is close for the sans fonts CAD
// exporters embed.
const (
	avgGlyphAdvance = 0.5
	descentRatio    = 0.2
	ascentRatio     = 0.8
	// A TJ kerning adjustment beyond this many thousandths of an em is
	// treated as a word gap.
	tjSpaceThreshold = 200
	closeTolerancePx = 0.5
)

type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n (apply m first, then n).
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

func (m matrix) scale() float64 {
	return math.Sqrt(math.Abs(m[0]*m[3] - m[1]*m[2]))
}

func translate(tx, ty float64) matrix {
	return matrix{1, 0, 0, 1, tx, ty}
}

type textState struct {
	tm, tlm  matrix
	fontSize float64
	leading  float64
	charSp   float64
	wordSp   float64
	hScale   float64
}

type pathPiece struct {
	points []models.Point
	curves []Curve
	closed bool
}

type interpreter struct {
	page    *Page
	k       float64
	ctm     matrix
	stack   []matrix
	ts      textState
	path    []pathPiece
	current *pathPiece
}

// Parse interprets a page content stream into text runs and path primitives
// in page-pixel space (origin top-left, scaled by dpi/72).
func Parse(pageNr int, content []byte, widthPt, heightPt, dpi float64) Page {
	p := Page{Number: pageNr, WidthPt: widthPt, HeightPt: heightPt, DPI: dpi}
	in := &interpreter{
		page: &p,
		k:    dpi / 72,
		ctm:  identity,
		ts:   textState{tm: identity, tlm: identity, hScale: 1},
	}
	scan(content, in.exec)
	return p
}

func (in *interpreter) toPx(x, y float64) models.Point {
	ux, uy := in.ctm.apply(x, y)
	return models.Point{X: ux * in.k, Y: (in.page.HeightPt - uy) * in.k}
}

func nums(args []operand, n int) ([]float64, bool) {
	if len(args) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, a := range args[len(args)-n:] {
		f, ok := a.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func (in *interpreter) exec(ins instruction) {
	switch ins.op {
	case "q":
		in.stack = append(in.stack, in.ctm)
	case "Q":
		if n := len(in.stack); n > 0 {
			in.ctm = in.stack[n-1]
			in.stack = in.stack[:n-1]
		}
	case "cm":
		if v, ok := nums(ins.args, 6); ok {
			in.ctm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.mul(in.ctm)
		}

	case "BT":
		in.ts.tm, in.ts.tlm = identity, identity
	case "Tf":
		if v, ok := nums(ins.args, 1); ok {
			in.ts.fontSize = v[0]
		}
	case "TL":
		if v, ok := nums(ins.args, 1); ok {
			in.ts.leading = v[0]
		}
	case "Tc":
		if v, ok := nums(ins.args, 1); ok {
			in.ts.charSp = v[0]
		}
	case "Tw":
		if v, ok := nums(ins.args, 1); ok {
			in.ts.wordSp = v[0]
		}
	case "Tz":
		if v, ok := nums(ins.args, 1); ok {
			in.ts.hScale = v[0] / 100
		}
	case "Td":
		if v, ok := nums(ins.args, 2); ok {
			in.moveText(v[0], v[1])
		}
	case "TD":
		if v, ok := nums(ins.args, 2); ok {
			in.ts.leading = -v[1]
			in.moveText(v[0], v[1])
		}
	case "Tm":
		if v, ok := nums(ins.args, 6); ok {
			in.ts.tm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			in.ts.tlm = in.ts.tm
		}
	case "T*":
		in.moveText(0, -in.ts.leading)
	case "Tj":
		if s, ok := lastString(ins.args); ok {
			in.show([]operand{s})
		}
	case "'":
		in.moveText(0, -in.ts.leading)
		if s, ok := lastString(ins.args); ok {
			in.show([]operand{s})
		}
	case "\"":
		if v, ok := nums(ins.args[:max(0, len(ins.args)-1)], 2); ok {
			in.ts.wordSp, in.ts.charSp = v[0], v[1]
		}
		in.moveText(0, -in.ts.leading)
		if s, ok := lastString(ins.args); ok {
			in.show([]operand{s})
		}
	case "TJ":
		if len(ins.args) > 0 {
			if arr, ok := ins.args[len(ins.args)-1].([]operand); ok {
				in.show(arr)
			}
		}

	case "m":
		if v, ok := nums(ins.args, 2); ok {
			in.moveTo(in.toPx(v[0], v[1]))
		}
	case "l":
		if v, ok := nums(ins.args, 2); ok {
			in.lineTo(in.toPx(v[0], v[1]))
		}
	case "c":
		if v, ok := nums(ins.args, 6); ok {
			in.curveTo(in.toPx(v[0], v[1]), in.toPx(v[2], v[3]), in.toPx(v[4], v[5]))
		}
	case "v":
		if v, ok := nums(ins.args, 4); ok && in.current != nil && len(in.current.points) > 0 {
			cp := in.current.points[len(in.current.points)-1]
			in.curveTo(cp, in.toPx(v[0], v[1]), in.toPx(v[2], v[3]))
		}
	case "y":
		if v, ok := nums(ins.args, 4); ok {
			end := in.toPx(v[2], v[3])
			in.curveTo(in.toPx(v[0], v[1]), end, end)
		}
	case "h":
		in.closePath()
	case "re":
		if v, ok := nums(ins.args, 4); ok {
			x, y, w, h := v[0], v[1], v[2], v[3]
			in.moveTo(in.toPx(x, y))
			in.lineTo(in.toPx(x+w, y))
			in.lineTo(in.toPx(x+w, y+h))
			in.lineTo(in.toPx(x, y+h))
			in.closePath()
		}
	case "S":
		in.paint(false)
	case "s":
		in.closePath()
		in.paint(false)
	case "f", "F", "f*", "B", "B*":
		in.paint(true)
	case "b", "b*":
		in.closePath()
		in.paint(true)
	case "n":
		in.path, in.current = nil, nil
	case "BI":
		in.page.Images = append(in.page.Images, Image{Filter: "inline"})
	}
}

func lastString(args []operand) ([]byte, bool) {
	if len(args) == 0 {
		return nil, false
	}
	s, ok := args[len(args)-1].([]byte)
	return s, ok
}

func (in *interpreter) moveText(tx, ty float64) {
	in.ts.tlm = translate(tx, ty).mul(in.ts.tlm)
	in.ts.tm = in.ts.tlm
}

// show renders a TJ-style array (strings and kerning numbers) as one run.
func (in *interpreter) show(items []operand) {
	ts := &in.ts
	start := ts.tm
	var text strings.Builder
	var adv float64
	for _, it := range items {
		switch v := it.(type) {
		case []byte:
			s := decodeText(v)
			n := float64(len([]rune(s)))
			spaces := float64(strings.Count(s, " "))
			w := (n*avgGlyphAdvance*ts.fontSize + n*ts.charSp + spaces*ts.wordSp) * ts.hScale
			text.WriteString(s)
			adv += w
		case float64:
			if v < -tjSpaceThreshold && text.Len() > 0 {
				text.WriteByte(' ')
			}
			adv += -v / 1000 * ts.fontSize * ts.hScale
		}
	}
	ts.tm = translate(adv, 0).mul(ts.tm)

	str := strings.TrimRight(text.String(), "\x00")
	if strings.TrimSpace(str) == "" {
		return
	}
	m := start.mul(in.ctm)
	lo, hi := -descentRatio*ts.fontSize, ascentRatio*ts.fontSize
	corners := [4][2]float64{{0, lo}, {adv, lo}, {adv, hi}, {0, hi}}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		ux, uy := m.apply(c[0], c[1])
		px, py := ux*in.k, (in.page.HeightPt-uy)*in.k
		minX, maxX = math.Min(minX, px), math.Max(maxX, px)
		minY, maxY = math.Min(minY, py), math.Max(maxY, py)
	}
	in.page.Text = append(in.page.Text, TextRun{
		Text:     str,
		BBox:     models.BBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY},
		FontSize: ts.fontSize * m.scale() * in.k,
	})
}

func (in *interpreter) moveTo(p models.Point) {
	in.path = append(in.path, pathPiece{points: []models.Point{p}})
	in.current = &in.path[len(in.path)-1]
}

func (in *interpreter) lineTo(p models.Point) {
	if in.current == nil {
		in.moveTo(p)
		return
	}
	in.current.points = append(in.current.points, p)
}

func (in *interpreter) curveTo(c1, c2, end models.Point) {
	if in.current == nil || len(in.current.points) == 0 {
		in.moveTo(end)
		return
	}
	start := in.current.points[len(in.current.points)-1]
	in.current.curves = append(in.current.curves, Curve{P0: start, P1: c1, P2: c2, P3: end})
	// The endpoint continues the straight-edge chain but the curve itself
	// is not a straight edge; a NaN marker separates the chains.
	in.current.points = append(in.current.points, models.Point{X: math.NaN(), Y: math.NaN()}, end)
}

func (in *interpreter) closePath() {
	if in.current == nil {
		return
	}
	in.current.closed = true
	// Later operators start a fresh subpath at the same point.
	first := in.current.points[0]
	in.path = append(in.path, pathPiece{points: []models.Point{first}})
	in.current = &in.path[len(in.path)-1]
}

// paint flushes the current path. Each painted path counts as one drawing
// operation regardless of how many pieces it has.
func (in *interpreter) paint(filled bool) {
	drawn := false
	for _, piece := range in.path {
		if len(piece.points) > 1 || len(piece.curves) > 0 {
			drawn = true
		}
		in.emit(piece, filled)
	}
	if drawn {
		in.page.DrawingOps++
	}
	in.path, in.current = nil, nil
}

func isGap(p models.Point) bool { return math.IsNaN(p.X) }

func near(a, b models.Point, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol
}

func (in *interpreter) emit(piece pathPiece, filled bool) {
	pts := piece.points
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		if isGap(a) || isGap(b) {
			continue
		}
		if a != b {
			in.page.Segments = append(in.page.Segments, Segment{A: a, B: b})
		}
	}
	if piece.closed && len(pts) > 1 && !isGap(pts[len(pts)-1]) && !near(pts[0], pts[len(pts)-1], 0) {
		in.page.Segments = append(in.page.Segments, Segment{A: pts[len(pts)-1], B: pts[0]})
	}
	in.page.Curves = append(in.page.Curves, piece.curves...)

	if len(piece.curves) > 0 || len(pts) < 2 {
		return
	}
	closed := piece.closed
	verts := pts
	if len(verts) > 2 && near(verts[0], verts[len(verts)-1], closeTolerancePx) {
		verts = verts[:len(verts)-1]
		closed = true
	}
	cp := make([]models.Point, len(verts))
	copy(cp, verts)
	in.page.Subpaths = append(in.page.Subpaths, Subpath{Points: cp, Closed: closed, Filled: filled})
}

// decodeText maps PDF string bytes to text. UTF-16BE with BOM and
// zero-padded two-byte codes are decoded as UTF-16; everything else is
// read as WinAnsi (Windows-1252).
func decodeText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		return decodeUTF16(b[2:])
	}
	if len(b) >= 2 && len(b)%2 == 0 {
		padded := true
		for i := 0; i < len(b); i += 2 {
			if b[i] != 0 || b[i+1] == 0 {
				padded = false
				break
			}
		}
		if padded {
			return decodeUTF16(b)
		}
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return string(utf16.Decode(u))
}

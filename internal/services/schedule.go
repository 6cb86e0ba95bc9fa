package services

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
)

const (
	tableConfidence = 0.95
	cellGapFactor   = 0.6
	// A row further below the previous one than this many row heights ends the table.
	maxRowGapFactor = 3.0
)

var (
	idLike     = regexp.MustCompile(`^[A-Za-zÄÖÜäöü]{0,4}[-.]?\d`)
	hasDigit   = regexp.MustCompile(`\d`)
	headerUnit = regexp.MustCompile(`(?i)[\[(]\s*(mm|cm|m)\s*[\])]`)
)

var unitDivisor = map[string]float64{"m": 1, "cm": 100, "mm": 1000}

// ScheduleParser finds door schedules (Türlisten) in a page's text layer.
type ScheduleParser struct {
	rules *rules.Table
}

func NewScheduleParser(rt *rules.Table) *ScheduleParser {
	return &ScheduleParser{rules: rt}
}

type cell struct {
	text string
	bbox models.BBox
}

type column struct {
	name        string
	left, right float64
	header      cell

	// unit declared in the header cell, if any
	unit string

	// units guessed from value magnitude
	inferred map[string]bool
}

// Parse returns one DoorRecord per data row of every schedule on the page.
func (s *ScheduleParser) Parse(page *pdfdoc.Page) *models.ExtractorOutput {
	out := &models.ExtractorOutput{Extractor: "text"}
	lines := pdfdoc.GroupLines(page.Text, 0)
	for i := 0; i < len(lines); i++ {
		cols, ok := s.header(lines[i])
		if !ok {
			continue
		}
		doors, consumed := s.rows(page, lines[i], lines[i+1:], cols, out)
		if len(doors) == 0 {
			out.Warnings = append(out.Warnings, models.NewWarning(models.WarnNoDoors, page.Number, lines[i].BBox, lines[i].Text,
				"door schedule header found but no doors listed"))
		}
		out.Doors = append(out.Doors, doors...)
		i += consumed
	}
	return out
}

func splitCells(l pdfdoc.Line) []cell {
	var cells []cell
	for _, ph := range splitPhrases([]pdfdoc.Line{l}, cellGapFactor) {
		cells = append(cells, cell{text: ph.Text, bbox: ph.BBox})
	}
	return cells
}

// header recognises a row with at least two known column names including
// one that identifies a door schedule.
func (s *ScheduleParser) header(l pdfdoc.Line) ([]column, bool) {
	cells := splitCells(l)
	known, key := 0, false
	for _, c := range cells {
		if s.rules.IsKnownHeader(c.text) {
			known++
			if s.rules.IsKeyColumn(s.rules.NormalizeHeader(c.text)) {
				key = true
			}
		}
	}
	if known < 2 || !key {
		return nil, false
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].bbox.X < cells[j].bbox.X })
	cols := make([]column, len(cells))
	for i, c := range cells {
		cols[i] = column{name: s.rules.NormalizeHeader(c.text), left: math.Inf(-1), right: math.Inf(1), header: c, inferred: map[string]bool{}}
		if m := headerUnit.FindStringSubmatch(c.text); m != nil {
			cols[i].unit = strings.ToLower(m[1])
		}
		if i > 0 {
			prev := cells[i-1].bbox
			boundary := (prev.X + prev.Width + c.bbox.X) / 2
			cols[i].left = boundary
			cols[i-1].right = boundary
		}
	}
	// Bound the outer columns so text elsewhere on the row is ignored.
	first, last := cells[0].bbox, cells[len(cells)-1].bbox
	margin := math.Max(4*first.Height, 40)
	cols[0].left = first.X - margin
	cols[len(cols)-1].right = last.X + last.Width + margin
	return cols, true
}

func (s *ScheduleParser) isHeaderLike(cells []cell) bool {
	n := 0
	for _, c := range cells {
		if s.rules.IsKnownHeader(c.text) {
			n++
		}
	}
	return n >= 2
}

func assign(cols []column, cells []cell) (map[string]cell, int) {
	row := map[string]cell{}
	n := 0
	for _, c := range cells {
		x := c.bbox.Center().X
		for _, col := range cols {
			if x >= col.left && x < col.right {
				if prev, ok := row[col.name]; ok {
					c = cell{text: prev.text + " " + c.text, bbox: prev.bbox.Union(c.bbox)}
				} else {
					n++
				}
				row[col.name] = c
				break
			}
		}
	}
	return row, n
}

func (s *ScheduleParser) rows(page *pdfdoc.Page, header pdfdoc.Line, lines []pdfdoc.Line, cols []column, out *models.ExtractorOutput) ([]models.DoorRecord, int) {
	var doors []models.DoorRecord
	prev := header.BBox
	rowHeight := math.Max(header.BBox.Height, 1)
	consumed := 0
	for _, l := range lines {
		if l.BBox.Y-(prev.Y+prev.Height) > maxRowGapFactor*rowHeight {
			break
		}
		cells := splitCells(l)
		if _, ok := s.header(l); ok {
			break
		}
		row, n := assign(cols, cells)
		if n == 0 {
			break
		}
		consumed++
		prev = l.BBox
		if s.isHeaderLike(cells) || !isDataRow(cols, row, n) {
			continue
		}
		doors = append(doors, s.door(page.Number, cols, row, len(doors)+1, out))
	}
	for _, col := range cols {
		if len(col.inferred) == 0 {
			continue
		}
		units := make([]string, 0, len(col.inferred))
		for u := range col.inferred {
			units = append(units, u)
		}
		sort.Strings(units)
		if col.unit == "" {
			out.Warnings = append(out.Warnings, models.NewWarning(models.WarnInferredUnit, page.Number, col.header.bbox, col.header.text,
				"column %q has no unit; values read as %s by magnitude", col.header.text, strings.Join(units, "/")))
		} else {
			out.Warnings = append(out.Warnings, models.NewWarning(models.WarnInferredUnit, page.Number, col.header.bbox, col.header.text,
				"column %q declares %s but values were read as %s by magnitude", col.header.text, col.unit, strings.Join(units, "/")))
		}
	}
	return doors, consumed
}

// isDataRow: two cells with an id-like first cell, or at least three cells.
func isDataRow(cols []column, row map[string]cell, n int) bool {
	if n >= 3 {
		return true
	}
	if n < 2 {
		return false
	}
	first, ok := row[cols[0].name]
	if !ok {
		return false
	}
	t := strings.TrimSpace(first.text)
	return hasDigit.MatchString(t) || idLike.MatchString(t)
}

func (s *ScheduleParser) door(pageNr int, cols []column, row map[string]cell, n int, out *models.ExtractorOutput) models.DoorRecord {
	var bbox models.BBox
	var texts []string
	rec := models.DoorRecord{
		Confidence:      tableConfidence,
		DetectionMethod: models.MethodScheduleTable,
		SourcePage:      pageNr,
	}
	for i := range cols {
		col := &cols[i]
		c, ok := row[col.name]
		if !ok {
			continue
		}
		bbox = bbox.Union(c.bbox)
		texts = append(texts, c.text)
		tc := models.TableCell{Column: col.name, Raw: c.text, BBox: c.bbox}
		if v, err := rules.ParseDecimal(c.text); err == nil {
			tc.Value = floatPtr(v)
		}
		rec.Cells = append(rec.Cells, tc)

		switch col.name {
		case "pos":
			rec.Position = c.text
		case "door_number":
			rec.DoorID = c.text
		case "room":
			rec.Room = c.text
		case "type":
			rec.DoorType = c.text
		case "fire_rating":
			rec.FireRating = strPtr(c.text)
		case "remarks":
			rec.Remarks = c.text
		case "width_m":
			if v, ok := s.dimension(pageNr, col, c, 0.3, 5, "width", out); ok {
				rec.WidthM = floatPtr(v)
			}
		case "height_m":
			if v, ok := s.dimension(pageNr, col, c, 1.5, 5, "height", out); ok {
				rec.HeightM = v
			}
		}
	}
	if rec.DoorID == "" {
		rec.DoorID = rec.Position
	}
	if rec.DoorID == "" {
		rec.DoorID = fmt.Sprintf("P%d-row-%d", pageNr, n)
	}
	rec.SourceBBox = bbox
	rec.SourceText = strings.Join(texts, " | ")
	return rec
}

// dimension reads a width/height cell in the column's declared unit. Without
// one, or when the declared unit gives an implausible value, the unit is
// guessed from magnitude: above 10 is centimetres, from 300 millimetres.
func (s *ScheduleParser) dimension(pageNr int, col *column, c cell, lo, hi float64, what string, out *models.ExtractorOutput) (float64, bool) {
	v, err := rules.ParseDecimal(c.text)
	if err != nil {
		out.Warnings = append(out.Warnings, models.NewWarning(models.WarnUnparsedNumber, pageNr, c.bbox, c.text,
			"door %s %q not parsed: %v", what, c.text, err))
		return 0, false
	}
	inRange := func(m float64) bool { return m >= lo && m <= hi }
	unit := col.unit
	if unit == "" || !inRange(v/unitDivisor[unit]) {
		if guess := magnitudeUnit(v); unit == "" || inRange(v/unitDivisor[guess]) {
			unit = guess
			col.inferred[guess] = true
		}
	}
	v /= unitDivisor[unit]
	if !inRange(v) {
		out.Warnings = append(out.Warnings, models.NewWarning(models.WarnOutOfRange, pageNr, c.bbox, c.text,
			"door %s %.3f m outside %.1f-%.1f m", what, v, lo, hi))
		return 0, false
	}
	return v, true
}

func magnitudeUnit(v float64) string {
	switch {
	case v >= 300:
		return "mm"
	case v > 10:
		return "cm"
	}
	return "m"
}

package pdfdoc

import (
	"math"
	"sort"
	"strings"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
)

// Line is a visual row of text runs sorted left to right.
type Line struct {
	Text string
	Runs []TextRun
	BBox models.BBox
}

// GroupLines clusters runs whose vertical centres lie within tolerance of
// each other. A tolerance <= 0 uses half the median font height.
func GroupLines(runs []TextRun, tolerance float64) []Line {
	if len(runs) == 0 {
		return nil
	}
	if tolerance <= 0 {
		tolerance = medianHeight(runs) / 2
		if tolerance <= 0 {
			tolerance = 3
		}
	}

	sorted := make([]TextRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].BBox.Center().Y, sorted[j].BBox.Center().Y
		if ci != cj {
			return ci < cj
		}
		return sorted[i].BBox.X < sorted[j].BBox.X
	})

	var rows [][]TextRun
	var rowY float64
	for _, r := range sorted {
		cy := r.BBox.Center().Y
		if len(rows) > 0 && math.Abs(cy-rowY) <= tolerance {
			rows[len(rows)-1] = append(rows[len(rows)-1], r)
			continue
		}
		rows = append(rows, []TextRun{r})
		rowY = cy
	}

	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].BBox.X < row[j].BBox.X })
		var parts []string
		var bbox models.BBox
		for _, r := range row {
			if t := strings.TrimSpace(r.Text); t != "" {
				parts = append(parts, t)
			}
			bbox = bbox.Union(r.BBox)
		}
		lines = append(lines, Line{Text: strings.Join(parts, " "), Runs: row, BBox: bbox})
	}
	return lines
}

func medianHeight(runs []TextRun) float64 {
	hs := make([]float64, 0, len(runs))
	for _, r := range runs {
		if r.BBox.Height > 0 {
			hs = append(hs, r.BBox.Height)
		}
	}
	if len(hs) == 0 {
		return 0
	}
	sort.Float64s(hs)
	return hs[len(hs)/2]
}

package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
)

const (
	inlineTagConfidence = 0.95
	splitTagConfidence  = 0.90
	phraseGapFactor     = 2.0
	labelRadiusFactor   = 8.0
)

var leadingNumber = regexp.MustCompile(`^\s*(\d[\d.,]*)`)

// TextExtractor reads inline annotation tags and door schedules from the
// text layer.
type TextExtractor struct {
	rules    *rules.Table
	schedule *ScheduleParser
}

func NewTextExtractor(rt *rules.Table) *TextExtractor {
	return &TextExtractor{rules: rt, schedule: NewScheduleParser(rt)}
}

func (e *TextExtractor) Name() string { return "text" }

// Extract does not need a scale: annotated values are already in meters.
func (e *TextExtractor) Extract(ctx context.Context, doc *pdfdoc.Document, _ *models.ScaleContext, opts Options) (*models.ExtractorOutput, error) {
	return forEachPage(ctx, doc, opts, e.Name(), func(ctx context.Context, page *pdfdoc.Page) (*models.ExtractorOutput, error) {
		out := e.extractPage(page)
		out.Merge(e.schedule.Parse(page))
		return out, nil
	})
}

type phrase struct {
	pdfdoc.Line
}

type roomLabel struct {
	id   string
	name string
	bbox models.BBox
}

type tagHit struct {
	tag       rules.Tag
	value     float64
	conf      float64
	bbox      models.BBox
	source    string
	corrected bool
	order     int
	room      *roomLabel
}

func (e *TextExtractor) extractPage(page *pdfdoc.Page) *models.ExtractorOutput {
	out := &models.ExtractorOutput{Extractor: e.Name()}
	phrases := splitPhrases(pdfdoc.GroupLines(page.Text, 0), phraseGapFactor)
	if len(phrases) == 0 {
		return out
	}
	h := medianPhraseHeight(phrases)

	labels := e.findLabels(phrases, h)
	hits := e.findTags(page.Number, phrases, h, out)
	for i := range hits {
		hits[i].room = nearestLabel(labels, hits[i].bbox, h*labelRadiusFactor)
	}

	// Group by room, keeping reading order.
	type roomTags struct {
		label     *roomLabel
		key       string
		area      []tagHit
		floor     []tagHit
		perimeter []tagHit
		height    []tagHit
	}
	var rooms []*roomTags
	byKey := map[string]*roomTags{}
	unlabelled := 0
	get := func(hit tagHit) *roomTags {
		key := ""
		if hit.room != nil {
			key = hit.room.id
		} else {
			unlabelled++
			key = fmt.Sprintf("P%d-%s-%d", page.Number, hit.tag.Name, unlabelled)
		}
		rt, ok := byKey[key]
		if !ok {
			rt = &roomTags{label: hit.room, key: key}
			byKey[key] = rt
			rooms = append(rooms, rt)
		}
		return rt
	}
	for _, hit := range hits {
		switch hit.tag.Kind {
		case rules.KindArea:
			rt := get(hit)
			if hit.tag.Name == "NRF" {
				rt.area = append(rt.area, hit)
			} else {
				rt.floor = append(rt.floor, hit)
			}
		case rules.KindPerimeter:
			if hit.room != nil {
				rt := get(hit)
				rt.perimeter = append(rt.perimeter, hit)
			}
			out.Measurements = append(out.Measurements, tagMeasurement(page.Number, hit, models.MeasurePerimeter, roomKey(hit)))
		case rules.KindHeight:
			if hit.room != nil {
				rt := get(hit)
				rt.height = append(rt.height, hit)
			}
			out.Measurements = append(out.Measurements, tagMeasurement(page.Number, hit, models.MeasureHeight, roomKey(hit)))
		case rules.KindGross:
			out.Measurements = append(out.Measurements, tagMeasurement(page.Number, hit, models.MeasureArea, "BGF"))
		}
	}

	for _, rt := range rooms {
		areas := rt.area
		var crossChecks []models.CrossCheck
		if len(areas) == 0 {
			areas = rt.floor
		} else {
			for _, f := range rt.floor {
				crossChecks = append(crossChecks, models.CrossCheck{Method: models.MethodTextAnnotation + ":" + f.tag.Name, Value: f.value, DeviationPct: deviationPct(f.value, areas[0].value)})
			}
		}
		if len(areas) == 0 {
			continue
		}
		chosen, warnings := resolveAreaConflicts(page.Number, rt.key, areas)
		out.Warnings = append(out.Warnings, warnings...)

		perimeter := singleValue(page.Number, rt.key, rt.perimeter, out)
		height := singleValue(page.Number, rt.key, rt.height, out)
		for _, a := range chosen {
			rec := models.AreaRecord{
				RoomID:      rt.key,
				AreaM2:      a.value,
				SourceText:  a.source,
				SourcePage:  page.Number,
				SourceBBox:  a.bbox,
				Confidence:  a.conf,
				Method:      models.MethodTextAnnotation,
				PerimeterM:  perimeter,
				HeightM:     height,
				CrossChecks: crossChecks,
				Corrected:   a.corrected && len(areas) > 1,
				Ambiguous:   len(chosen) > 1,
			}
			if rt.label != nil {
				rec.RoomName = rt.label.name
			}
			out.Rooms = append(out.Rooms, rec)
			out.Measurements = append(out.Measurements, tagMeasurement(page.Number, a, models.MeasureArea, rt.key))
		}
	}
	return out
}

func roomKey(hit tagHit) string {
	if hit.room != nil {
		return hit.room.id
	}
	return ""
}

// resolveAreaConflicts applies the correction rule: among several values for
// one room the last one wins only when it is marked as a correction.
// Otherwise every value is kept and flagged for manual reconciliation.
func resolveAreaConflicts(page int, room string, areas []tagHit) ([]tagHit, []models.Warning) {
	if len(areas) == 1 {
		return areas, nil
	}
	lastCorrected := -1
	for i, a := range areas {
		if i > 0 && a.corrected {
			lastCorrected = i
		}
	}
	var warnings []models.Warning
	if lastCorrected >= 0 {
		for i, a := range areas {
			if i != lastCorrected {
				warnings = append(warnings, models.NewWarning(models.WarnSupersededValue, page, a.bbox, a.source,
					"room %s: %.2f m² superseded by corrected value %.2f m²", room, a.value, areas[lastCorrected].value))
			}
		}
		return []tagHit{areas[lastCorrected]}, warnings
	}
	values := make([]string, 0, len(areas))
	var bbox models.BBox
	for _, a := range areas {
		values = append(values, fmt.Sprintf("%.2f", a.value))
		bbox = bbox.Union(a.bbox)
	}
	warnings = append(warnings, models.NewWarning(models.WarnAmbiguousAnnotation, page, bbox, areas[0].source,
		"room %s: %d conflicting area annotations (%s m²), all kept for manual reconciliation: %v",
		room, len(areas), strings.Join(values, ", "), models.ErrAmbiguousAnnotation))
	return areas, warnings
}

// singleValue returns the value shared by all hits, or nil with a warning
// when they disagree.
func singleValue(page int, room string, hits []tagHit, out *models.ExtractorOutput) *float64 {
	if len(hits) == 0 {
		return nil
	}
	for _, h := range hits[1:] {
		if math.Abs(h.value-hits[0].value) > 1e-9 {
			out.Warnings = append(out.Warnings, models.NewWarning(models.WarnAmbiguousAnnotation, page, h.bbox, h.source,
				"room %s: conflicting %s values %.2f and %.2f", room, h.tag.Name, hits[0].value, h.value))
			return nil
		}
	}
	return floatPtr(hits[0].value)
}

func tagMeasurement(page int, hit tagHit, kind models.MeasurementType, subject string) models.Measurement {
	return models.Measurement{
		Value:           hit.value,
		Unit:            hit.tag.Unit,
		MeasurementType: kind,
		Confidence:      hit.conf,
		Method:          models.MethodTextAnnotation,
		SourcePage:      page,
		SourceBBox:      hit.bbox,
		SourceText:      hit.source,
		Subject:         subject,
	}
}

func (e *TextExtractor) findLabels(phrases []phrase, h float64) []*roomLabel {
	var labels []*roomLabel
	for i, ph := range phrases {
		for _, loc := range e.rules.RoomLabel.FindAllStringSubmatchIndex(ph.Text, -1) {
			id := ph.Text[loc[2]:loc[3]]
			lbl := &roomLabel{id: id, bbox: subBBox(ph.Line, loc[2], loc[3])}
			lbl.name = e.labelName(phrases, i, id, h)
			labels = append(labels, lbl)
		}
	}
	return labels
}

// labelName takes the room name from the label's own phrase or from the
// phrase right above it.
func (e *TextExtractor) labelName(phrases []phrase, i int, id string, h float64) string {
	if n := e.nameText(strings.Replace(phrases[i].Text, id, "", 1)); n != "" {
		return n
	}
	lb := phrases[i].BBox
	best, bestGap := "", math.Inf(1)
	for j, ph := range phrases {
		if j == i {
			continue
		}
		gap := lb.Y - (ph.BBox.Y + ph.BBox.Height)
		if gap < -h/2 || gap > 2*h || !overlapsX(lb, ph.BBox) {
			continue
		}
		if e.rules.RoomLabel.MatchString(ph.Text) {
			continue
		}
		if n := e.nameText(ph.Text); n != "" && gap < bestGap {
			best, bestGap = n, gap
		}
	}
	return best
}

// nameText keeps text that reads like a room name: letters, no tags.
func (e *TextExtractor) nameText(s string) string {
	for _, t := range e.rules.Tags {
		if t.Re.MatchString(s) {
			return ""
		}
	}
	s = strings.Trim(strings.TrimSpace(s), " -–:,;")
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 2 {
		return ""
	}
	return s
}

func (e *TextExtractor) findTags(pageNr int, phrases []phrase, h float64, out *models.ExtractorOutput) []tagHit {
	var hits []tagHit
	order := 0
	for i, ph := range phrases {
		for _, tag := range e.rules.Tags {
			vi := tag.Re.SubexpIndex("value")
			for _, loc := range tag.Re.FindAllStringSubmatchIndex(ph.Text, -1) {
				hit := tagHit{tag: tag, bbox: subBBox(ph.Line, loc[0], loc[1]), source: ph.Text, corrected: e.rules.IsCorrection(ph.Text)}
				raw := ""
				if loc[2*vi] >= 0 {
					raw = ph.Text[loc[2*vi]:loc[2*vi+1]]
					hit.conf = inlineTagConfidence
				} else {
					// A bare tag needs a separator or must end the phrase
					// before the value is looked up on the next line.
					m := strings.TrimSpace(ph.Text[loc[0]:loc[1]])
					if !strings.HasSuffix(m, ":") && !strings.HasSuffix(m, "=") && strings.TrimSpace(ph.Text[loc[1]:]) != "" {
						continue
					}
					next, ok := phraseBelow(phrases, i, h)
					if !ok {
						continue
					}
					nm := leadingNumber.FindStringSubmatch(next.Text)
					if nm == nil {
						continue
					}
					raw = nm[1]
					hit.conf = splitTagConfidence
					hit.bbox = hit.bbox.Union(next.BBox)
					hit.source = ph.Text + " " + next.Text
					hit.corrected = hit.corrected || e.rules.IsCorrection(next.Text)
				}
				v, err := rules.ParseDecimal(raw)
				if err != nil {
					code := models.WarnUnparsedNumber
					msg := "could not parse %s value %q: %v"
					if errors.Is(err, rules.ErrAmbiguousNumber) {
						msg = "rejected ambiguous %s value %q: %v"
					}
					out.Warnings = append(out.Warnings, models.NewWarning(code, pageNr, hit.bbox, hit.source, msg, tag.Name, raw, err))
					continue
				}
				if !plausible(tag.Kind, v) {
					out.Warnings = append(out.Warnings, models.NewWarning(models.WarnOutOfRange, pageNr, hit.bbox, hit.source,
						"%s value %v outside plausible range", tag.Name, v))
					continue
				}
				hit.value = v
				hit.order = order
				order++
				hits = append(hits, hit)
			}
		}
	}
	return hits
}

func plausible(kind rules.TagKind, v float64) bool {
	switch kind {
	case rules.KindHeight:
		return v > 0 && v < 20
	case rules.KindGross:
		return v > 0 && v < 1e6
	default:
		return v > 0 && v < 10000
	}
}

// nearestLabel prefers labels in the same row or above the tag.
func nearestLabel(labels []*roomLabel, tag models.BBox, radius float64) *roomLabel {
	tc := tag.Center()
	var best *roomLabel
	bestScore := math.Inf(1)
	for _, l := range labels {
		lc := l.bbox.Center()
		dy := tc.Y - lc.Y
		dx := intervalGap(tag.X, tag.X+tag.Width, l.bbox.X, l.bbox.X+l.bbox.Width)
		if math.Abs(dy) > radius || dx > radius {
			continue
		}
		score := math.Abs(dy) + 2*dx
		if dy < -tag.Height/2 {
			score += radius / 2
		}
		if score < bestScore {
			best, bestScore = l, score
		}
	}
	return best
}

func phraseBelow(phrases []phrase, i int, h float64) (phrase, bool) {
	cur := phrases[i].BBox
	var best phrase
	bestGap := math.Inf(1)
	for j, ph := range phrases {
		if j == i {
			continue
		}
		gap := ph.BBox.Y - (cur.Y + cur.Height)
		if gap < -h/2 || gap > 2*h || !overlapsX(cur, ph.BBox) {
			continue
		}
		if gap < bestGap {
			best, bestGap = ph, gap
		}
	}
	return best, !math.IsInf(bestGap, 1)
}

func intervalGap(a0, a1, b0, b1 float64) float64 {
	if a1 < b0 {
		return b0 - a1
	}
	if b1 < a0 {
		return a0 - b1
	}
	return 0
}

func overlapsX(a, b models.BBox) bool {
	return intervalGap(a.X, a.X+a.Width, b.X, b.X+b.Width) == 0
}

// splitPhrases breaks visual rows at horizontal gaps wider than factor
// times the text height, so side-by-side stamps stay apart.
func splitPhrases(lines []pdfdoc.Line, factor float64) []phrase {
	var out []phrase
	for _, l := range lines {
		var cur []pdfdoc.TextRun
		flush := func() {
			if len(cur) == 0 {
				return
			}
			var parts []string
			var bbox models.BBox
			for _, r := range cur {
				if t := strings.TrimSpace(r.Text); t != "" {
					parts = append(parts, t)
				}
				bbox = bbox.Union(r.BBox)
			}
			if len(parts) > 0 {
				out = append(out, phrase{Line: pdfdoc.Line{Text: strings.Join(parts, " "), Runs: cur, BBox: bbox}})
			}
			cur = nil
		}
		for i, r := range l.Runs {
			if i > 0 {
				prev := l.Runs[i-1]
				gap := r.BBox.X - (prev.BBox.X + prev.BBox.Width)
				if gap > factor*math.Max(prev.BBox.Height, r.BBox.Height) {
					flush()
				}
			}
			cur = append(cur, r)
		}
		flush()
	}
	return out
}

func medianPhraseHeight(phrases []phrase) float64 {
	hs := make([]float64, 0, len(phrases))
	for _, p := range phrases {
		hs = append(hs, p.BBox.Height)
	}
	sort.Float64s(hs)
	if m := hs[len(hs)/2]; m > 0 {
		return m
	}
	return 10
}

// subBBox estimates the box of a byte range of a phrase by its share of
// the phrase's characters.
func subBBox(l pdfdoc.Line, start, end int) models.BBox {
	total := utf8.RuneCountInString(l.Text)
	if total == 0 {
		return l.BBox
	}
	s := utf8.RuneCountInString(l.Text[:start])
	e := utf8.RuneCountInString(l.Text[:end])
	w := l.BBox.Width / float64(total)
	return models.BBox{X: l.BBox.X + float64(s)*w, Y: l.BBox.Y, Width: float64(e-s) * w, Height: l.BBox.Height}
}

func deviationPct(v, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return math.Abs(v-ref) / math.Abs(ref) * 100
}

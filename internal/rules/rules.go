// Package rules holds the declarative pattern table used to read German
// construction annotations. The table is embedded YAML so token sets can
// be swapped without touching extraction code.
package rules

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// TagKind says what an inline tag quantifies.
type TagKind string

const (
	KindArea      TagKind = "area"
	KindPerimeter TagKind = "perimeter"
	KindHeight    TagKind = "height"
	KindGross     TagKind = "gross_area"
)

// RoomOther is the room type assigned when no keyword matches.
const RoomOther = "Other"

type rawTable struct {
	Markers []struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"markers"`
	Tags []struct {
		Name    string `yaml:"name"`
		Kind    string `yaml:"kind"`
		Unit    string `yaml:"unit"`
		Pattern string `yaml:"pattern"`
		Area    bool   `yaml:"area"`
	} `yaml:"tags"`
	RoomLabel string `yaml:"room_label"`
	Scales    []struct {
		Pattern    string  `yaml:"pattern"`
		Confidence float64 `yaml:"confidence"`
		Guard      bool    `yaml:"guard"`
	} `yaml:"scales"`
	CorrectionMarkers  []string          `yaml:"correction_markers"`
	Headers            map[string]string `yaml:"headers"`
	ScheduleKeyColumns []string          `yaml:"schedule_key_columns"`
	RoomTypes          []RoomType        `yaml:"room_types"`
}

// Marker is a token whose presence signals an annotated CAD export.
type Marker struct {
	Name string
	Re   *regexp.Regexp
}

// Tag is an inline value annotation such as "NRF: 42,18 m²".
type Tag struct {
	Name string
	Kind TagKind
	Unit models.Unit
	Re   *regexp.Regexp
	// Area tags produce room area records.
	Area bool
}

// ScalePattern recognises a scale ratio annotation.
type ScalePattern struct {
	Re         *regexp.Regexp
	Confidence float64
	// Guard rejects matches preceded by a digit or '/'.
	Guard bool
}

// RoomType maps keywords to a canonical type.
type RoomType struct {
	Type     string   `yaml:"type"`
	Keywords []string `yaml:"keywords"`
	// Reduced types count with the balcony factor.
	Reduced bool `yaml:"reduced"`
}

// Table is the compiled rule set.
type Table struct {
	Markers           []Marker
	Tags              []Tag
	RoomLabel         *regexp.Regexp
	Scales            []ScalePattern
	CorrectionMarkers []string
	Headers           map[string]string
	KeyColumns        []string
	RoomTypes         []RoomType

	headerKeys  []string
	corrections []*regexp.Regexp
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the embedded rule table, compiled once.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Load(defaultRules)
	})
	return defaultTable, defaultErr
}

// Load compiles a YAML rule table.
func Load(data []byte) (*Table, error) {
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("rules: decode yaml: %w", err)
	}
	t := &Table{
		CorrectionMarkers: raw.CorrectionMarkers,
		Headers:           map[string]string{},
		KeyColumns:        raw.ScheduleKeyColumns,
		RoomTypes:         raw.RoomTypes,
	}
	for _, m := range raw.Markers {
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rules: marker %s: %w", m.Name, err)
		}
		t.Markers = append(t.Markers, Marker{Name: m.Name, Re: re})
	}
	for _, tg := range raw.Tags {
		re, err := regexp.Compile(tg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rules: tag %s: %w", tg.Name, err)
		}
		if re.SubexpIndex("value") < 0 {
			return nil, fmt.Errorf("rules: tag %s has no value group", tg.Name)
		}
		t.Tags = append(t.Tags, Tag{Name: tg.Name, Kind: TagKind(tg.Kind), Unit: models.Unit(tg.Unit), Re: re, Area: tg.Area})
	}
	re, err := regexp.Compile(raw.RoomLabel)
	if err != nil {
		return nil, fmt.Errorf("rules: room label: %w", err)
	}
	t.RoomLabel = re
	for i, s := range raw.Scales {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rules: scale pattern %d: %w", i, err)
		}
		if re.SubexpIndex("value") < 0 {
			return nil, fmt.Errorf("rules: scale pattern %d has no value group", i)
		}
		t.Scales = append(t.Scales, ScalePattern{Re: re, Confidence: s.Confidence, Guard: s.Guard})
	}
	for _, m := range raw.CorrectionMarkers {
		re, err := wordPattern(m)
		if err != nil {
			return nil, fmt.Errorf("rules: correction marker %q: %w", m, err)
		}
		t.corrections = append(t.corrections, re)
	}
	for k, v := range raw.Headers {
		key := normalizeHeader(k)
		t.Headers[key] = v
		t.headerKeys = append(t.headerKeys, key)
	}
	// Longest synonyms first so partial matching prefers specific keys.
	sort.Slice(t.headerKeys, func(i, j int) bool {
		li, lj := len([]rune(t.headerKeys[i])), len([]rune(t.headerKeys[j]))
		if li != lj {
			return li > lj
		}
		return t.headerKeys[i] < t.headerKeys[j]
	})
	return t, nil
}

// MarkersIn returns the distinct marker names found in text.
func (t *Table) MarkersIn(text string) []string {
	var out []string
	for _, m := range t.Markers {
		if m.Re.MatchString(text) {
			out = append(out, m.Name)
		}
	}
	return out
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.Fields(h), " ")
}

// NormalizeHeader maps a schedule column header to its canonical name.
// Exact synonyms win; otherwise the longest synonym of at least three
// characters contained in the header is used. Unknown headers are returned
// snake_cased.
func (t *Table) NormalizeHeader(h string) string {
	clean := normalizeHeader(h)
	if clean == "" {
		return ""
	}
	if v, ok := t.Headers[clean]; ok {
		return v
	}
	if v, ok := t.Headers[strings.TrimSuffix(clean, ".")]; ok {
		return v
	}
	for _, k := range t.headerKeys {
		if len([]rune(k)) < 3 {
			continue
		}
		if strings.Contains(clean, k) {
			return t.Headers[k]
		}
	}
	return strings.ReplaceAll(clean, " ", "_")
}

// IsKeyColumn reports whether a canonical header identifies a door schedule.
func (t *Table) IsKeyColumn(canonical string) bool {
	for _, k := range t.KeyColumns {
		if k == canonical {
			return true
		}
	}
	return false
}

// IsKnownHeader reports whether h maps to a canonical schedule column.
func (t *Table) IsKnownHeader(h string) bool {
	c := t.NormalizeHeader(h)
	for _, v := range t.Headers {
		if v == c {
			return true
		}
	}
	return false
}

// wordPattern matches marker case-insensitively as a whole word. RE2's \b
// is ASCII-only, so the boundary is spelled out to cover umlauts.
func wordPattern(marker string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(strings.TrimSpace(marker)) + `(?:$|[^\p{L}\p{N}])`)
}

// IsCorrection reports whether text carries a correction marker as a
// separate word, so "Neubau" is not read as "neu".
func (t *Table) IsCorrection(text string) bool {
	for _, re := range t.corrections {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ClassifyRoom assigns a room type by case-insensitive keyword substring
// match. Reduced types get reducedFactor, everything else 1.0.
func (t *Table) ClassifyRoom(name string, reducedFactor float64) (string, float64) {
	lower := strings.ToLower(name)
	if strings.TrimSpace(lower) == "" {
		return RoomOther, 1.0
	}
	for _, rt := range t.RoomTypes {
		for _, kw := range rt.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				if rt.Reduced {
					return rt.Type, reducedFactor
				}
				return rt.Type, 1.0
			}
		}
	}
	return RoomOther, 1.0
}

// ScaleMatch is one scale annotation found in text.
type ScaleMatch struct {
	Denominator int
	Confidence  float64
	Raw         string
}

// MatchScales returns every accepted scale annotation in text, strongest
// pattern first. Denominators outside 1..10000 are dropped.
func (t *Table) MatchScales(text string) []ScaleMatch {
	var out []ScaleMatch
	for _, sp := range t.Scales {
		vi := sp.Re.SubexpIndex("value")
		for _, loc := range sp.Re.FindAllStringSubmatchIndex(text, -1) {
			if sp.Guard && loc[0] > 0 {
				prev := text[loc[0]-1]
				if prev == '/' || (prev >= '0' && prev <= '9') {
					continue
				}
			}
			n, err := strconv.Atoi(text[loc[2*vi]:loc[2*vi+1]])
			if err != nil || n < 1 || n > 10000 {
				continue
			}
			out = append(out, ScaleMatch{Denominator: n, Confidence: sp.Confidence, Raw: text[loc[0]:loc[1]]})
		}
		if len(out) > 0 {
			return out
		}
	}
	return out
}

package services

import (
	"fmt"
	"strings"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
)

// Options is the per-invocation configuration of a pipeline run. It is
// passed by value; nothing in this package keeps process-wide settings.
type Options struct {
	DPI                 float64
	ConfidenceThreshold float64
	PageConcurrency     int
	ClassifierPages     int
	ReviewThreshold     float64
	DefaultDoorHeightM  float64
	BalconyFactor       float64
	WallHeightM         float64

	// Request-level fields.
	PageNumber     *int
	Scale          string
	Reference      *models.ScaleReference
	ExtractOptions []string
	Detections     []models.ExternalDetection
	DetectorModel  string

	// RunID and Filename label the run; a UUID is generated when RunID is empty.
	RunID    string
	Filename string
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		DPI:                 pdfdoc.DefaultDPI,
		ConfidenceThreshold: 0.5,
		PageConcurrency:     10,
		ClassifierPages:     5,
		ReviewThreshold:     0.7,
		DefaultDoorHeightM:  2.01,
		BalconyFactor:       0.5,
		Scale:               "auto",
	}
}

// WithRequest overlays a caller's ExtractConfig.
func (o Options) WithRequest(cfg models.ExtractConfig) Options {
	if cfg.PageNumber != nil {
		n := *cfg.PageNumber
		o.PageNumber = &n
	}
	if s := strings.TrimSpace(cfg.Scale); s != "" {
		o.Scale = s
	}
	if cfg.WallHeightM != 0 {
		o.WallHeightM = cfg.WallHeightM
	}
	if cfg.BalconyFactor != nil {
		o.BalconyFactor = *cfg.BalconyFactor
	}
	if len(cfg.ExtractOptions) > 0 {
		o.ExtractOptions = append([]string(nil), cfg.ExtractOptions...)
	}
	if cfg.Reference != nil {
		ref := *cfg.Reference
		o.Reference = &ref
	}
	if len(cfg.Detections) > 0 {
		o.Detections = append([]models.ExternalDetection(nil), cfg.Detections...)
	}
	return o
}

// Request returns the request-level view used for option checks.
func (o Options) Request() models.ExtractConfig {
	return models.ExtractConfig{PageNumber: o.PageNumber, Scale: o.Scale, WallHeightM: o.WallHeightM, ExtractOptions: o.ExtractOptions}
}

// Wants reports whether an extract option is enabled.
func (o Options) Wants(option string) bool { return o.Request().Wants(option) }

// NeedsArea reports whether area-dependent output was requested.
func (o Options) NeedsArea() bool { return o.Request().NeedsArea() }

// AutoScale reports whether the scale should be detected from the document.
func (o Options) AutoScale() bool {
	s := strings.ToLower(strings.TrimSpace(o.Scale))
	return s == "" || s == "auto"
}

// Validate rejects option values that would make results meaningless.
func (o Options) Validate() error {
	switch {
	case o.DPI <= 0:
		return fmt.Errorf("dpi must be positive, got %v", o.DPI)
	case o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1:
		return fmt.Errorf("confidence threshold %v outside [0,1]", o.ConfidenceThreshold)
	case o.BalconyFactor < 0 || o.BalconyFactor > 1:
		return fmt.Errorf("balcony factor %v outside [0,1]", o.BalconyFactor)
	case o.WallHeightM < 0:
		return fmt.Errorf("wall height must not be negative, got %v", o.WallHeightM)
	case o.PageNumber != nil && *o.PageNumber < 1:
		return fmt.Errorf("page number must be >= 1, got %d", *o.PageNumber)
	case o.Reference != nil && (o.Reference.PixelLength <= 0 || o.Reference.MeterLength <= 0):
		return fmt.Errorf("reference lengths must be positive")
	}
	for _, opt := range o.ExtractOptions {
		switch opt {
		case models.OptionDoors, models.OptionFlooring, models.OptionDrywall, models.OptionWindows:
		default:
			return fmt.Errorf("unknown extract option %q", opt)
		}
	}
	return nil
}

// requested lists the analyses a run was asked for.
func (o Options) requested() []string {
	if len(o.ExtractOptions) > 0 {
		return append([]string(nil), o.ExtractOptions...)
	}
	return []string{models.OptionDoors, models.OptionFlooring, models.OptionDrywall, models.OptionWindows}
}

// pages returns the page numbers selected for extraction.
func (o Options) pages(doc *pdfdoc.Document) []int {
	if o.PageNumber != nil {
		if doc.Page(*o.PageNumber) == nil {
			return nil
		}
		return []int{*o.PageNumber}
	}
	out := make([]int, 0, doc.PageCount)
	for i := 1; i <= len(doc.Pages); i++ {
		out = append(out, i)
	}
	return out
}

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedDocument means the PDF could not be parsed or has no pages.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrScaleNotDetermined means no calibration strategy produced a scale.
	ErrScaleNotDetermined = errors.New("scale not determined")
	// ErrNoDataExtracted marks a successful run that found nothing.
	ErrNoDataExtracted = errors.New("no data extracted")
	// ErrExtractorUnavailable means an extractor's backing service could not be used.
	ErrExtractorUnavailable = errors.New("extractor unavailable")
	// ErrAmbiguousAnnotation means conflicting source values for one entity.
	ErrAmbiguousAnnotation = errors.New("ambiguous annotation")
	// ErrInvalidScale rejects non-positive calibration factors.
	ErrInvalidScale = errors.New("invalid scale")
)

// Warning codes. Every warning keeps enough context to be resolved by hand.
const (
	WarnAmbiguousAnnotation = "ambiguous_annotation"
	WarnSupersededValue     = "superseded_value"
	WarnExtractorFailed     = "extractor_failed"
	WarnExtractorSkipped    = "extractor_skipped"
	WarnScaleNotDetermined  = "scale_not_determined"
	WarnScaleReview         = "scale_needs_review"
	WarnInvalidPolygon      = "invalid_polygon"
	WarnUnparsedNumber      = "unparsed_number"
	WarnOutOfRange          = "out_of_range"
	WarnCrossCheck          = "cross_check_deviation"
	WarnUnknownFireRating   = "unknown_fire_rating"
	WarnNoDoors             = "no_doors_in_schedule"
	WarnNoData              = "no_data_extracted"
	WarnDroppedMeasurement  = "dropped_measurement"
	WarnPixelOnly           = "pixel_only"
	WarnCancelled           = "cancelled"
	WarnClassification      = "classification"
	WarnSinkFailed          = "sink_failed"
	WarnUnmatchedGeometry   = "unmatched_geometry"
	WarnInferredUnit        = "inferred_unit"
)

// Warning is a recoverable issue raised during a run.
type Warning struct {
	Code       string `json:"code" firestore:"code"`
	Message    string `json:"message" firestore:"message"`
	Page       int    `json:"page,omitempty" firestore:"page,omitempty"`
	BBox       *BBox  `json:"bbox,omitempty" firestore:"bbox,omitempty"`
	SourceText string `json:"source_text,omitempty" firestore:"sourceText,omitempty"`
}

func (w Warning) String() string {
	if w.Page > 0 {
		return fmt.Sprintf("[%s] page %d: %s", w.Code, w.Page, w.Message)
	}
	return fmt.Sprintf("[%s] %s", w.Code, w.Message)
}

// NewWarning builds a warning for page p. A zero bbox is omitted.
func NewWarning(code string, page int, bbox BBox, sourceText, format string, args ...any) Warning {
	w := Warning{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Page:       page,
		SourceText: sourceText,
	}
	if bbox != (BBox{}) {
		b := bbox
		w.BBox = &b
	}
	return w
}

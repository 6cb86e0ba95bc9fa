package models

// These structs define the JSON payloads exchanged with callers of the
// measurement functions and with the downstream workflow.

// Extract options recognised in ExtractConfig.ExtractOptions.
const (
	OptionDoors    = "doors"
	OptionFlooring = "flooring"
	OptionDrywall  = "drywall"
	OptionWindows  = "windows"
)

// ExtractConfig is the per-request configuration object.
type ExtractConfig struct {
	PageNumber     *int     `json:"page_number"`
	Scale          string   `json:"scale"`
	WallHeightM    float64  `json:"wall_height_m"`
	BalconyFactor  *float64 `json:"balcony_factor"`
	ExtractOptions []string `json:"extract_options"`
	// Reference is an optional user-measured calibration line.
	Reference *ScaleReference `json:"reference,omitempty"`
	// Detections may be supplied by a caller that already ran a detector.
	Detections []ExternalDetection `json:"detections,omitempty"`
}

// Wants reports whether an extract option is enabled. An empty option set
// means all options.
func (c ExtractConfig) Wants(option string) bool {
	if len(c.ExtractOptions) == 0 {
		return true
	}
	for _, o := range c.ExtractOptions {
		if o == option {
			return true
		}
	}
	return false
}

// NeedsArea reports whether any area-dependent option is requested.
func (c ExtractConfig) NeedsArea() bool {
	return c.Wants(OptionFlooring) || c.Wants(OptionDrywall)
}

// ScaleReference is a user-supplied pixel length with its real length.
type ScaleReference struct {
	Page        int     `json:"page"`
	PixelLength float64 `json:"pixel_length"`
	MeterLength float64 `json:"meter_length"`
}

// ExternalDetection is one bounding box from a black-box detector.
type ExternalDetection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Page       int     `json:"page"`
	BBox       BBox    `json:"bbox"`
	Polygon    []Point `json:"polygon,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// MeasureRequest is the input for the plan-measure function.
type MeasureRequest struct {
	GCSUri      string        `json:"gcsUri,omitempty"`
	PDFBase64   string        `json:"pdfBase64,omitempty"`
	Filename    string        `json:"filename,omitempty"`
	Config      ExtractConfig `json:"config"`
	ExecutionID string        `json:"executionId,omitempty"`
}

// MeasureResponse is the output of the plan-measure function.
type MeasureResponse struct {
	Rooms            []AreaRecord    `json:"rooms"`
	Doors            []DoorRecord    `json:"doors"`
	Drywall          []DrywallRecord `json:"drywall,omitempty"`
	Totals           Totals          `json:"totals"`
	Warnings         []string        `json:"warnings"`
	Status           ResultStatus    `json:"status"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	RunID            string          `json:"run_id"`
	ResultGCSUri     string          `json:"result_gcs_uri,omitempty"`
}

// NewMeasureResponse flattens a result into the upward shape.
func NewMeasureResponse(res *ExtractionResult) *MeasureResponse {
	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, w.String())
	}
	return &MeasureResponse{
		Rooms:            res.Rooms,
		Doors:            res.Doors,
		Drywall:          res.Drywall,
		Totals:           res.Totals,
		Warnings:         warnings,
		Status:           res.Status,
		ProcessingTimeMs: res.ProcessingTimeMs,
		RunID:            res.RunID,
	}
}

// RunNotification is the argument passed to the downstream workflow.
type RunNotification struct {
	RunID        string       `json:"runId"`
	FileHash     string       `json:"fileHash"`
	Status       ResultStatus `json:"status"`
	ResultGCSUri string       `json:"resultGcsUri,omitempty"`
}

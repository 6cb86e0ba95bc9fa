package services

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/retry"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"
)

//go:embed detector_response.schema.json
var detectorResponseSchema string

// DetectRequest is one image sent to a detector.
type DetectRequest struct {
	Image      []byte
	Model      string
	Confidence float64
}

// DetectResponse holds detections in the image's own pixel space.
type DetectResponse struct {
	Detections  []models.ExternalDetection
	ImageWidth  float64
	ImageHeight float64
}

// Detector finds construction objects in a raster image.
type Detector interface {
	Detect(ctx context.Context, req DetectRequest) (*DetectResponse, error)
}

// HTTPDetectorConfig configures a hosted inference endpoint.
type HTTPDetectorConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
}

// HTTPDetector calls a Roboflow-style hosted model:
// POST {base}/{model}?api_key=..&confidence=.. with a base64 image body.
type HTTPDetector struct {
	cfg     HTTPDetectorConfig
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
}

func NewHTTPDetector(cfg HTTPDetectorConfig) *HTTPDetector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	p := retry.Default()
	p.MaxAttempts = cfg.MaxAttempts
	p.AttemptTimeout = cfg.Timeout
	return &HTTPDetector{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		policy:  p,
	}
}

type detectorPrediction struct {
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Confidence float64        `json:"confidence"`
	Class      string         `json:"class"`
	Points     []models.Point `json:"points"`
}

type detectorResponse struct {
	Predictions []detectorPrediction `json:"predictions"`
	Image       struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"image"`
}

func (d *HTTPDetector) Detect(ctx context.Context, req DetectRequest) (*DetectResponse, error) {
	model := req.Model
	if model == "" {
		model = d.cfg.Model
	}
	if d.cfg.BaseURL == "" || model == "" {
		return nil, fmt.Errorf("%w: detector endpoint not configured", models.ErrExtractorUnavailable)
	}
	endpoint, err := url.JoinPath(d.cfg.BaseURL, model)
	if err != nil {
		return nil, fmt.Errorf("invalid detector url: %w", err)
	}
	q := url.Values{}
	q.Set("api_key", d.cfg.APIKey)
	q.Set("confidence", strconv.Itoa(int(req.Confidence*100)))
	endpoint += "?" + q.Encode()
	body := base64.StdEncoding.EncodeToString(req.Image)

	var raw []byte
	err = retry.Do(ctx, d.policy, "detector "+model, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := d.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &retry.StatusError{Code: resp.StatusCode, Body: truncate(string(b), 256)}
		}
		raw = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrExtractorUnavailable, err)
	}
	return d.decode(raw, model)
}

func (d *HTTPDetector) decode(raw []byte, model string) (*DetectResponse, error) {
	d.schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("detector.json", strings.NewReader(detectorResponseSchema)); err != nil {
			d.schemaErr = err
			return
		}
		d.schema, d.schemaErr = c.Compile("detector.json")
	})
	if d.schemaErr != nil {
		return nil, fmt.Errorf("compile detector schema: %w", d.schemaErr)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: detector returned invalid json: %v", models.ErrExtractorUnavailable, err)
	}
	if err := d.schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: detector response does not match schema: %v", models.ErrExtractorUnavailable, err)
	}
	var resp detectorResponse
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	out := &DetectResponse{ImageWidth: resp.Image.Width, ImageHeight: resp.Image.Height}
	for _, p := range resp.Predictions {
		out.Detections = append(out.Detections, models.ExternalDetection{
			ClassName:  p.Class,
			Confidence: p.Confidence,
			BBox:       models.BBox{X: p.X - p.Width/2, Y: p.Y - p.Height/2, Width: p.Width, Height: p.Height},
			Polygon:    p.Points,
			Model:      model,
		})
	}
	slog.Debug("Detector response decoded.", "model", model, "predictions", len(out.Detections))
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package config loads deployment settings for the plan functions and CLI.
// Values come from an optional YAML file with environment overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/clarencejohnson126/SnapPlanApp/internal/gcp"
	"github.com/clarencejohnson126/SnapPlanApp/internal/services"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all settings. Secrets only come from the environment.
type Config struct {
	ProjectID     string `yaml:"project_id" env:"PROJECT_ID" env-default:""`
	ResultsBucket string `yaml:"results_bucket" env:"RESULTS_BUCKET" env-default:""`
	Collection    string `yaml:"collection" env:"FIRESTORE_COLLECTION" env-default:"analysisRuns"`

	Workflow WorkflowConfig `yaml:"workflow"`
	Vertex   VertexConfig   `yaml:"vertex"`
	Detector DetectorConfig `yaml:"detector"`
	Extract  ExtractConfig  `yaml:"extract"`

	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:""`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// WorkflowConfig names the downstream workflow triggered after a run.
type WorkflowConfig struct {
	ID       string `yaml:"id" env:"WORKFLOW_ID" env-default:""`
	Location string `yaml:"location" env:"WORKFLOW_LOCATION" env-default:"us-central1"`
}

// VertexConfig controls the OCR fallback for pages without a text layer.
type VertexConfig struct {
	Enabled bool   `yaml:"enabled" env:"VERTEX_OCR_ENABLED" env-default:"false"`
	Region  string `yaml:"region" env:"VERTEX_AI_REGION" env-default:"us-central1"`
	Model   string `yaml:"model" env:"VERTEX_OCR_MODEL" env-default:"gemini-1.5-pro"`
}

// DetectorConfig points at the hosted object detector.
type DetectorConfig struct {
	BaseURL           string        `yaml:"base_url" env:"DETECTOR_BASE_URL" env-default:""`
	APIKey            string        `yaml:"-" env:"DETECTOR_API_KEY"`
	Model             string        `yaml:"model" env:"DETECTOR_MODEL" env-default:""`
	Timeout           time.Duration `yaml:"timeout" env:"DETECTOR_TIMEOUT" env-default:"30s"`
	MaxAttempts       int           `yaml:"max_attempts" env:"DETECTOR_MAX_ATTEMPTS" env-default:"4"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"DETECTOR_RPS" env-default:"2"`
}

// Enabled reports whether a detector endpoint is configured.
func (d DetectorConfig) Enabled() bool { return d.BaseURL != "" && d.Model != "" }

// ExtractConfig holds extraction defaults.
type ExtractConfig struct {
	DPI                 float64 `yaml:"dpi" env:"RENDER_DPI" env-default:"150"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD" env-default:"0.5"`
	PageConcurrency     int     `yaml:"page_concurrency" env:"PAGE_CONCURRENCY" env-default:"10"`
	ClassifierPages     int     `yaml:"classifier_pages" env:"CLASSIFIER_PAGES" env-default:"5"`
	ReviewThreshold     float64 `yaml:"review_threshold" env:"SCALE_REVIEW_THRESHOLD" env-default:"0.7"`
	DefaultDoorHeightM  float64 `yaml:"default_door_height_m" env:"DEFAULT_DOOR_HEIGHT_M" env-default:"2.01"`
	BalconyFactor       float64 `yaml:"balcony_factor" env:"BALCONY_FACTOR" env-default:"0.5"`
	WallHeightM         float64 `yaml:"wall_height_m" env:"WALL_HEIGHT_M" env-default:"0"`
}

// Load reads path when it exists, otherwise the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			return cfg, cfg.validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Extract.DPI <= 0 {
		return fmt.Errorf("dpi must be positive")
	}
	if c.Extract.PageConcurrency < 1 {
		return fmt.Errorf("page_concurrency must be at least 1")
	}
	if c.Detector.MaxAttempts < 1 {
		return fmt.Errorf("detector max_attempts must be at least 1")
	}
	return c.Options().Validate()
}

// RequireCloud checks the settings the cloud functions cannot run without.
func (c *Config) RequireCloud() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if c.ResultsBucket == "" {
		return fmt.Errorf("RESULTS_BUCKET environment variable must be set")
	}
	return nil
}

// Options converts the loaded settings into per-run pipeline options.
func (c *Config) Options() services.Options {
	o := services.DefaultOptions()
	o.DPI = c.Extract.DPI
	o.ConfidenceThreshold = c.Extract.ConfidenceThreshold
	o.PageConcurrency = c.Extract.PageConcurrency
	o.ClassifierPages = c.Extract.ClassifierPages
	o.ReviewThreshold = c.Extract.ReviewThreshold
	o.DefaultDoorHeightM = c.Extract.DefaultDoorHeightM
	o.BalconyFactor = c.Extract.BalconyFactor
	o.WallHeightM = c.Extract.WallHeightM
	o.DetectorModel = c.Detector.Model
	return o
}

// DetectorClient returns the hosted detector client, or nil when none is configured.
func (c *Config) DetectorClient() services.Detector {
	if !c.Detector.Enabled() {
		return nil
	}
	return services.NewHTTPDetector(services.HTTPDetectorConfig{
		BaseURL:           c.Detector.BaseURL,
		APIKey:            c.Detector.APIKey,
		Model:             c.Detector.Model,
		Timeout:           c.Detector.Timeout,
		MaxAttempts:       c.Detector.MaxAttempts,
		RequestsPerSecond: c.Detector.RequestsPerSecond,
	})
}

// PipelineOptions wires the optional detector and OCR backends. The returned
// close function releases the OCR client and is never nil.
func (c *Config) PipelineOptions(ctx context.Context) ([]services.PipelineOption, func(), error) {
	var opts []services.PipelineOption
	closeFn := func() {}
	if d := c.DetectorClient(); d != nil {
		opts = append(opts, services.WithDetector(d))
		slog.Info("Object detector enabled.", "baseUrl", c.Detector.BaseURL, "model", c.Detector.Model)
	}
	if c.Vertex.Enabled {
		if c.ProjectID == "" {
			return nil, closeFn, fmt.Errorf("vertex OCR needs PROJECT_ID")
		}
		ocr, err := gcp.NewVertexOCR(ctx, c.ProjectID, c.Vertex.Region, c.Vertex.Model)
		if err != nil {
			return nil, closeFn, err
		}
		opts = append(opts, services.WithOCR(ocr))
		closeFn = func() {
			if err := ocr.Close(); err != nil {
				slog.Warn("Failed to close Vertex client.", "error", err)
			}
		}
		slog.Info("Vertex OCR enabled.", "region", c.Vertex.Region, "model", c.Vertex.Model)
	}
	return opts, closeFn, nil
}

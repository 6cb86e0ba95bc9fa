package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/clarencejohnson126/SnapPlanApp/internal/gcp"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
)

// ErrInvalidRequest marks a request the caller must fix.
var ErrInvalidRequest = errors.New("invalid request")

// MeasureConfig holds all configuration for the synchronous measure service.
type MeasureConfig struct {
	// ResultsBucket, when set, receives the result JSON of every run.
	ResultsBucket string
}

// MeasureFunction measures one PDF per request.
type MeasureFunction struct {
	storageClient *storage.Client
	results       *gcp.GCSResultSink
	pipeline      *Pipeline
	opts          Options
	config        MeasureConfig
}

// NewMeasure creates a MeasureFunction. storageClient may be nil when
// neither gs:// inputs nor result storage are used.
func NewMeasure(storageClient *storage.Client, config MeasureConfig, rt *rules.Table, opts Options, pipeOpts ...PipelineOption) *MeasureFunction {
	f := &MeasureFunction{storageClient: storageClient, opts: opts, config: config}
	if storageClient != nil && config.ResultsBucket != "" {
		f.results = gcp.NewGCSResultSink(storageClient, config.ResultsBucket)
		pipeOpts = append(pipeOpts, WithSinks(f.results))
	}
	f.pipeline = NewPipeline(rt, pipeOpts...)
	return f
}

// Process handles the core logic of measuring a single PDF. A failed run
// is returned together with its error so callers can report partial data.
func (f *MeasureFunction) Process(ctx context.Context, req *models.MeasureRequest) (*models.MeasureResponse, error) {
	logCtx := slog.With("filename", req.Filename, "executionId", req.ExecutionID)

	data, err := f.readPDF(ctx, req)
	if err != nil {
		logCtx.Error("Failed to read request PDF.", "error", err)
		return nil, err
	}
	opts := f.opts.WithRequest(req.Config)
	opts.Filename = req.Filename
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	doc, err := pdfdoc.Load(ctx, data, opts.DPI)
	if err != nil {
		logCtx.Error("Failed to parse PDF.", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("documentHash", doc.Hash)

	run, res, err := f.pipeline.Run(ctx, doc, opts)
	if res == nil {
		return nil, err
	}
	resp := models.NewMeasureResponse(res)
	if f.results != nil {
		resp.ResultGCSUri = f.results.URI(run)
	}
	if err != nil {
		logCtx.Error("Measurement failed.", "runId", run.RunID, "error", err)
		return resp, err
	}
	logCtx.Info("Measurement complete.", "runId", run.RunID, "status", res.Status)
	return resp, nil
}

func (f *MeasureFunction) readPDF(ctx context.Context, req *models.MeasureRequest) ([]byte, error) {
	switch {
	case req.PDFBase64 != "":
		data, err := base64.StdEncoding.DecodeString(req.PDFBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: pdfBase64 is not valid base64: %v", ErrInvalidRequest, err)
		}
		return data, nil
	case req.GCSUri != "":
		if f.storageClient == nil {
			return nil, fmt.Errorf("%w: gcsUri given but storage is not configured", ErrInvalidRequest)
		}
		bucket, object, err := gcp.ParseGCSURI(req.GCSUri)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return gcp.ReadObject(ctx, f.storageClient, bucket, object)
	}
	return nil, fmt.Errorf("%w: one of pdfBase64 or gcsUri is required", ErrInvalidRequest)
}

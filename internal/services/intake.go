package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/clarencejohnson126/SnapPlanApp/internal/gcp"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
	"github.com/google/uuid"
)

type IntakeConfig struct {
	ProjectID        string
	ResultsBucket    string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
}

// IntakeFunction measures every PDF uploaded to the intake bucket.
type IntakeFunction struct {
	storageClient *storage.Client
	runs          *gcp.RunStore
	results       *gcp.GCSResultSink
	notifier      *gcp.WorkflowNotifier
	pipeline      *Pipeline
	opts          Options
	config        IntakeConfig
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func NewIntake(ctx context.Context, config IntakeConfig, rt *rules.Table, opts Options, pipeOpts ...PipelineOption) (*IntakeFunction, error) {
	if config.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if config.ResultsBucket == "" {
		return nil, fmt.Errorf("RESULTS_BUCKET environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	var notifier *gcp.WorkflowNotifier
	if config.WorkflowID != "" {
		notifier, err = gcp.NewWorkflowNotifier(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			return nil, err
		}
	}

	runs := gcp.NewRunStore(firestoreClient, config.CollectionName)
	results := gcp.NewGCSResultSink(storageClient, config.ResultsBucket)
	f := &IntakeFunction{
		storageClient: storageClient,
		runs:          runs,
		results:       results,
		notifier:      notifier,
		pipeline:      NewPipeline(rt, append(pipeOpts, WithSinks(gcp.NewFirestoreSink(runs), results))...),
		opts:          opts,
		config:        config,
	}
	slog.Info("Plan intake initialized.", "workflowId", config.WorkflowID, "collection", config.CollectionName)
	return f, nil
}

func (f *IntakeFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Not a PDF. Skipping.")
		return nil
	}

	data, err := gcp.ReadObject(ctx, f.storageClient, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	fileHash := pdfdoc.Hash(data)
	logCtx = logCtx.With("fileHash", fileHash)

	existing, dup, err := f.runs.FindCompletedByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if dup {
		results, err := f.results.ListResults(ctx, fileHash)
		if err != nil {
			logCtx.Warn("Failed to list stored results for duplicate.", "error", err)
		}
		logCtx.Info("Duplicate file detected. Skipping.", "existingRunId", existing, "storedResults", results)
		return nil
	}

	runID := uuid.NewString()
	logCtx = logCtx.With("runId", runID)
	if err := f.runs.CreatePending(ctx, runID, fileHash, e.Name); err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return err
	}
	logCtx.Info("Created run document in Firestore.")

	doc, err := pdfdoc.Load(ctx, data, f.opts.DPI)
	if err != nil {
		return f.handleError(ctx, logCtx, runID, "failed to parse PDF", err)
	}

	opts := f.opts
	opts.RunID, opts.Filename = runID, path.Base(e.Name)
	run, res, runErr := f.pipeline.Run(ctx, doc, opts)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		return runErr
	}

	status := models.ResultFailed
	if res != nil {
		status = res.Status
	}
	if err := f.triggerWorkflow(ctx, logCtx, run, status); err != nil {
		return err
	}
	if runErr != nil {
		// The pipeline already stored the failed run.
		return fmt.Errorf("run %s failed: %w", runID, runErr)
	}
	logCtx.Info("Intake complete.", "status", status)
	return nil
}

func (f *IntakeFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, run *models.AnalysisRun, status models.ResultStatus) error {
	if f.notifier == nil {
		return nil
	}
	logCtx.Info("Triggering workflow.")
	execID, err := f.notifier.Notify(ctx, models.RunNotification{
		RunID:        run.RunID,
		FileHash:     run.FileHash,
		Status:       status,
		ResultGCSUri: f.results.URI(run),
	})
	if err != nil {
		return f.handleError(ctx, logCtx, run.RunID, "failed to trigger workflow execution", err)
	}
	if err := f.runs.SetWorkflowExecution(ctx, run.RunID, execID); err != nil {
		logCtx.Warn("Failed to record workflow execution.", "executionId", execID, "error", err)
	}
	return nil
}

func (f *IntakeFunction) handleError(ctx context.Context, logCtx *slog.Logger, runID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.runs.UpdateStatus(ctx, runID, models.RunFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/clarencejohnson126/SnapPlanApp/internal/config"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
	"github.com/clarencejohnson126/SnapPlanApp/internal/services"
)

var (
	intakeInstance *services.IntakeFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("IngestPlan", ingestPlan)
}

// main is required by the Go Functions Framework.
func main() {}

func newIntake(ctx context.Context) (*services.IntakeFunction, error) {
	cfg, err := config.Load(os.Getenv("SNAPPLAN_CONFIG"))
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireCloud(); err != nil {
		return nil, err
	}
	rt, err := rules.Default()
	if err != nil {
		return nil, err
	}
	// Clients live for the lifetime of the instance.
	pipeOpts, _, err := cfg.PipelineOptions(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewIntake(ctx, services.IntakeConfig{
		ProjectID:        cfg.ProjectID,
		ResultsBucket:    cfg.ResultsBucket,
		CollectionName:   cfg.Collection,
		WorkflowID:       cfg.Workflow.ID,
		WorkflowLocation: cfg.Workflow.Location,
	}, rt, cfg.Options(), pipeOpts...)
}

// ingestPlan is triggered by an object finalize event on the intake bucket.
func ingestPlan(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		intakeInstance, initErr = newIntake(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return intakeInstance.Process(ctx, gcsEvent)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/clarencejohnson126/SnapPlanApp/internal/config"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
	"github.com/clarencejohnson126/SnapPlanApp/internal/services"
)

var (
	measureInstance *services.MeasureFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleMeasurePlan", handleMeasurePlan)
}

func main() {}

func newMeasure(ctx context.Context) (*services.MeasureFunction, error) {
	cfg, err := config.Load(os.Getenv("SNAPPLAN_CONFIG"))
	if err != nil {
		return nil, err
	}
	rt, err := rules.Default()
	if err != nil {
		return nil, err
	}
	pipeOpts, _, err := cfg.PipelineOptions(ctx)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewMeasure(storageClient, services.MeasureConfig{ResultsBucket: cfg.ResultsBucket}, rt, cfg.Options(), pipeOpts...), nil
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, models.ErrInvalidScale):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrMalformedDocument), errors.Is(err, models.ErrScaleNotDetermined):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error  string                  `json:"error"`
	Result *models.MeasureResponse `json:"result,omitempty"`
}

func handleMeasurePlan(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		measureInstance, initErr = newMeasure(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Measure initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.MeasureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := measureInstance.Process(r.Context(), &req)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		// Error is already logged with context in the Process method.
		w.WriteHeader(statusFor(err))
		if encErr := json.NewEncoder(w).Encode(errorBody{Error: err.Error(), Result: res}); encErr != nil {
			slog.Error("Failed to write error response", "error", encErr)
		}
		return
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error(
			"Failed to write response",
			"error", err,
			"filename", req.Filename,
			"executionId", req.ExecutionID,
		)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}

package models

import (
	"fmt"
	"time"
)

// RunStatus is the AnalysisRun lifecycle state.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// ResultStatus is the outcome reported upward.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultNoData    ResultStatus = "no_data"
)

// AnalysisRun groups everything produced by one extraction. It is the
// Firestore document stored per run; it is frozen once terminal.
type AnalysisRun struct {
	RunID               string    `json:"run_id" firestore:"runId"`
	FileHash            string    `json:"file_hash" firestore:"fileHash,omitempty"`
	OriginalFilename    string    `json:"original_filename,omitempty" firestore:"originalFilename,omitempty"`
	Status              RunStatus `json:"status" firestore:"status"`
	Outcome             string    `json:"outcome,omitempty" firestore:"outcome,omitempty"`
	RequestedAnalyses   []string  `json:"requested_analyses" firestore:"requestedAnalyses"`
	ConfidenceThreshold float64   `json:"confidence_threshold" firestore:"confidenceThreshold"`
	PageCount           int       `json:"page_count,omitempty" firestore:"pageCount,omitempty"`
	Category            string    `json:"category,omitempty" firestore:"category,omitempty"`
	Pipeline            string    `json:"pipeline,omitempty" firestore:"pipeline,omitempty"`
	Partial             bool      `json:"partial" firestore:"partial"`
	Errors              []string  `json:"errors,omitempty" firestore:"errors,omitempty"`
	Warnings            []Warning `json:"warnings,omitempty" firestore:"warnings,omitempty"`
	ErrorDetails        string    `json:"error_details,omitempty" firestore:"errorDetails,omitempty"`
	WorkflowExecutionID string    `json:"workflow_execution_id,omitempty" firestore:"workflowExecutionId,omitempty"`
	CreatedAt           time.Time `json:"created_at" firestore:"createdAt"`
	StartedAt           time.Time `json:"started_at,omitempty" firestore:"startedAt,omitempty"`
	FinishedAt          time.Time `json:"finished_at,omitempty" firestore:"finishedAt,omitempty"`
}

// NewAnalysisRun creates a pending run.
func NewAnalysisRun(id string, analyses []string, threshold float64, now time.Time) *AnalysisRun {
	return &AnalysisRun{
		RunID:               id,
		Status:              RunPending,
		RequestedAnalyses:   analyses,
		ConfidenceThreshold: threshold,
		CreatedAt:           now,
	}
}

// Terminal reports whether the run can no longer change.
func (r *AnalysisRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// Start moves pending -> processing.
func (r *AnalysisRun) Start(now time.Time) error {
	if r.Status != RunPending {
		return fmt.Errorf("run %s: cannot start from %s", r.RunID, r.Status)
	}
	r.Status = RunProcessing
	r.StartedAt = now
	return nil
}

// Complete moves processing -> completed. outcome distinguishes no_data runs.
func (r *AnalysisRun) Complete(outcome string, now time.Time) error {
	if r.Status != RunProcessing {
		return fmt.Errorf("run %s: cannot complete from %s", r.RunID, r.Status)
	}
	r.Status = RunCompleted
	r.Outcome = outcome
	r.FinishedAt = now
	return nil
}

// Fail moves a non-terminal run to failed.
func (r *AnalysisRun) Fail(err error, partial bool, now time.Time) error {
	if r.Terminal() {
		return fmt.Errorf("run %s: already %s", r.RunID, r.Status)
	}
	r.Status = RunFailed
	r.Partial = partial
	if err != nil {
		r.ErrorDetails = err.Error()
		r.Errors = append(r.Errors, err.Error())
	}
	r.FinishedAt = now
	return nil
}

// AddWarnings appends warnings while the run is still open.
func (r *AnalysisRun) AddWarnings(ws ...Warning) {
	if r.Terminal() {
		return
	}
	r.Warnings = append(r.Warnings, ws...)
}

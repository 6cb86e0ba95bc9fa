package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// RunStore keeps one document per AnalysisRun, keyed by run id.
type RunStore struct {
	client     *firestore.Client
	collection string
}

func NewRunStore(client *firestore.Client, collection string) *RunStore {
	return &RunStore{client: client, collection: collection}
}

func (s *RunStore) doc(runID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(runID)
}

// FindCompletedByHash returns the id of a completed run for fileHash.
func (s *RunStore) FindCompletedByHash(ctx context.Context, fileHash string) (string, bool, error) {
	docs, err := s.client.Collection(s.collection).
		Where("fileHash", "==", fileHash).
		Where("status", "==", string(models.RunCompleted)).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

// CreatePending records a run before processing starts.
func (s *RunStore) CreatePending(ctx context.Context, runID, fileHash, filename string) error {
	run := models.NewAnalysisRun(runID, nil, 0, time.Now())
	run.FileHash, run.OriginalFilename = fileHash, filename
	if _, err := s.doc(runID).Create(ctx, run); err != nil {
		return fmt.Errorf("failed to create run document: %w", err)
	}
	return nil
}

// UpdateStatus sets the status and, when given, the error details.
func (s *RunStore) UpdateStatus(ctx context.Context, runID string, status models.RunStatus, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(status)},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := s.doc(runID).Update(ctx, updates)
	return err
}

// SetWorkflowExecution records the downstream execution started for a run.
func (s *RunStore) SetWorkflowExecution(ctx context.Context, runID, executionID string) error {
	_, err := s.doc(runID).Update(ctx, []firestore.Update{{Path: "workflowExecutionId", Value: executionID}})
	return err
}

// FirestoreSink writes the run document plus rooms, doors and drywall as
// subcollections. The writes go through a BulkWriter.
type FirestoreSink struct {
	runs *RunStore
}

func NewFirestoreSink(runs *RunStore) *FirestoreSink {
	return &FirestoreSink{runs: runs}
}

type runResult struct {
	Status           models.ResultStatus `firestore:"status"`
	Partial          bool                `firestore:"partial"`
	Category         string              `firestore:"category"`
	Pipeline         string              `firestore:"pipeline"`
	Scales           []models.ScaleInfo  `firestore:"scales,omitempty"`
	Totals           models.Totals       `firestore:"totals"`
	MeasurementCount int                 `firestore:"measurementCount"`
	ProcessingTimeMs int64               `firestore:"processingTimeMs"`
}

func (s *FirestoreSink) Save(ctx context.Context, run *models.AnalysisRun, res *models.ExtractionResult) error {
	ref := s.runs.doc(run.RunID)
	bw := s.runs.client.BulkWriter(ctx)

	var jobs []*firestore.BulkWriterJob
	add := func(j *firestore.BulkWriterJob, err error) error {
		if err != nil {
			return err
		}
		jobs = append(jobs, j)
		return nil
	}
	if err := add(bw.Set(ref, run)); err != nil {
		bw.End()
		return fmt.Errorf("failed to queue run document: %w", err)
	}
	if err := add(bw.Set(ref.Collection("result").Doc("summary"), runResult{
		Status:           res.Status,
		Partial:          res.Partial,
		Category:         string(res.Classification.Category),
		Pipeline:         string(res.Classification.RecommendedPipeline),
		Scales:           res.Scales,
		Totals:           res.Totals,
		MeasurementCount: len(res.Measurements),
		ProcessingTimeMs: res.ProcessingTimeMs,
	})); err != nil {
		bw.End()
		return fmt.Errorf("failed to queue result summary: %w", err)
	}
	for i, r := range res.Rooms {
		if err := add(bw.Set(ref.Collection("rooms").Doc(fmt.Sprintf("%05d", i)), r)); err != nil {
			bw.End()
			return fmt.Errorf("failed to queue room %s: %w", r.RoomID, err)
		}
	}
	for i, d := range res.Doors {
		if err := add(bw.Set(ref.Collection("doors").Doc(fmt.Sprintf("%05d", i)), d)); err != nil {
			bw.End()
			return fmt.Errorf("failed to queue door %s: %w", d.DoorID, err)
		}
	}
	for i, d := range res.Drywall {
		if err := add(bw.Set(ref.Collection("drywall").Doc(fmt.Sprintf("%05d", i)), d)); err != nil {
			bw.End()
			return fmt.Errorf("failed to queue drywall %s: %w", d.RoomID, err)
		}
	}
	bw.End()

	failed := 0
	var firstErr error
	for _, j := range jobs {
		if _, err := j.Results(); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d firestore writes failed: %w", failed, len(jobs), firstErr)
	}
	return nil
}

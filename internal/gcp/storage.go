package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not an error: result objects are immutable.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// ParseGCSURI splits gs://bucket/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs uri %q needs a bucket and an object", uri)
	}
	return bucket, object, nil
}

// ReadObject downloads an object, retrying transient failures.
func ReadObject(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, retry.Default(), "read gs://"+bucket+"/"+object, func(ctx context.Context) error {
		r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
		}
		defer r.Close()
		b, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
		}
		data = b
		return nil
	})
	return data, err
}

// GCSResultSink stores each ExtractionResult as JSON under
// results/{fileHash}/{runId}.json.
type GCSResultSink struct {
	bucket *storage.BucketHandle
	name   string
}

func NewGCSResultSink(client *storage.Client, bucket string) *GCSResultSink {
	return &GCSResultSink{bucket: client.Bucket(bucket), name: bucket}
}

// ObjectName is where the result of run is stored.
func ObjectName(run *models.AnalysisRun) string {
	hash := run.FileHash
	if hash == "" {
		hash = "unhashed"
	}
	return path.Join("results", hash, run.RunID+".json")
}

// URI is the gs:// location of a run's result.
func (s *GCSResultSink) URI(run *models.AnalysisRun) string {
	return fmt.Sprintf("gs://%s/%s", s.name, ObjectName(run))
}

func (s *GCSResultSink) Save(ctx context.Context, run *models.AnalysisRun, res *models.ExtractionResult) error {
	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return retry.Do(ctx, retry.Default(), "save result "+run.RunID, func(ctx context.Context) error {
		return SaveToGCSAtomically(ctx, s.bucket, ObjectName(run), payload)
	})
}

// ListResults returns the result objects stored for a document hash.
func (s *GCSResultSink) ListResults(ctx context.Context, fileHash string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: path.Join("results", fileHash) + "/"})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list results for %s: %w", fileHash, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

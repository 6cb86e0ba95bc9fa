package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"golang.org/x/sync/errgroup"
)

// Extractor is one measurement strategy. Implementations must be pure
// functions of the document, the scale and the options.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, doc *pdfdoc.Document, scale *models.ScaleContext, opts Options) (*models.ExtractorOutput, error)
}

// stableID derives a short deterministic id so identical inputs produce
// identical ids across runs.
func stableID(prefix string, parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return prefix + hex.EncodeToString(h.Sum(nil))[:12]
}

func measurementID(docHash string, m models.Measurement) string {
	return stableID("meas_", docHash, m.SourcePage, m.Method, m.MeasurementType, m.Subject,
		fmt.Sprintf("%.6f", m.Value), fmt.Sprintf("%.3f,%.3f,%.3f,%.3f", m.SourceBBox.X, m.SourceBBox.Y, m.SourceBBox.Width, m.SourceBBox.Height))
}

func sectorID(docHash string, page int, method string, verts []models.Point) string {
	parts := []any{docHash, page, method}
	for _, v := range verts {
		parts = append(parts, fmt.Sprintf("%.3f,%.3f", v.X, v.Y))
	}
	return stableID("sect_", parts...)
}

// forEachPage runs fn over the selected pages with bounded concurrency and
// merges the outputs in page order. Pages finished before a failure or a
// cancellation are kept in the returned output.
func forEachPage(ctx context.Context, doc *pdfdoc.Document, opts Options, name string, fn func(ctx context.Context, page *pdfdoc.Page) (*models.ExtractorOutput, error)) (*models.ExtractorOutput, error) {
	pages := opts.pages(doc)
	results := make([]*models.ExtractorOutput, len(pages))

	limit := opts.PageConcurrency
	if limit < 1 {
		limit = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, n := range pages {
		idx, pageNumber := i, n
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := fn(gctx, doc.Page(pageNumber))
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			results[idx] = out
			return nil
		})
	}
	err := eg.Wait()

	merged := &models.ExtractorOutput{Extractor: name}
	for _, r := range results {
		merged.Merge(r)
	}
	return merged, err
}

func floatPtr(v float64) *float64 { return &v }

func strPtr(s string) *string { return &s }

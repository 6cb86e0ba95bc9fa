package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/clarencejohnson126/SnapPlanApp/internal/rules"
	"github.com/google/uuid"
)

// ResultSink persists a finished run. Sink failures never change the
// outcome of the extraction.
type ResultSink interface {
	Save(ctx context.Context, run *models.AnalysisRun, res *models.ExtractionResult) error
}

// OCRSource reads text from a page image when the page has no text layer.
type OCRSource interface {
	Recognize(ctx context.Context, page *pdfdoc.Page, img pdfdoc.Image) ([]pdfdoc.TextRun, error)
}

// Pipeline runs classification, calibration, extraction and aggregation
// for one document.
type Pipeline struct {
	rules      *rules.Table
	calibrator *Calibrator
	engine     *Engine
	text       Extractor
	vector     Extractor
	detector   Detector
	ocr        OCRSource
	sinks      []ResultSink
	now        func() time.Time
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithDetector enables hosted object detection on raster pages.
func WithDetector(d Detector) PipelineOption { return func(p *Pipeline) { p.detector = d } }

// WithOCR enables OCR for scanned and photographed pages.
func WithOCR(o OCRSource) PipelineOption { return func(p *Pipeline) { p.ocr = o } }

// WithSinks adds result sinks, called in order after every run.
func WithSinks(s ...ResultSink) PipelineOption {
	return func(p *Pipeline) { p.sinks = append(p.sinks, s...) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PipelineOption { return func(p *Pipeline) { p.now = now } }

func NewPipeline(rt *rules.Table, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		rules:      rt,
		calibrator: NewCalibrator(rt),
		engine:     NewEngine(rt),
		text:       NewTextExtractor(rt),
		vector:     NewVectorExtractor(rt),
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run processes doc. The returned run is always terminal. err is non-nil
// when the run failed; res then holds whatever was computed before the
// failure.
func (p *Pipeline) Run(ctx context.Context, doc *pdfdoc.Document, opts Options) (*models.AnalysisRun, *models.ExtractionResult, error) {
	start := p.now()
	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	run := models.NewAnalysisRun(id, opts.requested(), opts.ConfidenceThreshold, start)
	run.OriginalFilename = opts.Filename
	res := &models.ExtractionResult{
		RunID:        id,
		Status:       models.ResultFailed,
		Rooms:        []models.AreaRecord{},
		Doors:        []models.DoorRecord{},
		Measurements: []models.Measurement{},
		Warnings:     []models.Warning{},
	}
	if doc != nil {
		run.FileHash, run.PageCount = doc.Hash, doc.PageCount
	}
	logCtx := slog.With("runId", id, "documentHash", run.FileHash)

	fail := func(err error, partial bool) (*models.AnalysisRun, *models.ExtractionResult, error) {
		logCtx.Error("Analysis run failed.", "error", err, "partial", partial)
		now := p.now()
		res.Status, res.Partial = models.ResultFailed, partial
		res.ProcessingTimeMs = now.Sub(start).Milliseconds()
		run.AddWarnings(res.Warnings...)
		_ = run.Fail(err, partial, now)
		p.save(ctx, logCtx, run, res)
		return run, res, err
	}

	if err := run.Start(p.now()); err != nil {
		return fail(err, false)
	}
	if err := opts.Validate(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidRequest, err), false)
	}
	logCtx.Info("Starting analysis run.", "pages", run.PageCount)

	cls, err := NewClassifier(p.rules, opts.ClassifierPages).Classify(doc)
	if err != nil {
		return fail(err, false)
	}
	if opts.PageNumber != nil && doc.Page(*opts.PageNumber) == nil {
		return fail(fmt.Errorf("%w: page %d out of range, document has %d pages", ErrInvalidRequest, *opts.PageNumber, doc.PageCount), false)
	}
	res.Classification = cls
	run.Category, run.Pipeline = string(cls.Category), string(cls.RecommendedPipeline)
	for _, w := range cls.Warnings {
		res.Warnings = append(res.Warnings, models.NewWarning(models.WarnClassification, 0, models.BBox{}, "", "%s", w))
	}
	logCtx.Info("Document classified.", "category", cls.Category, "pipeline", cls.RecommendedPipeline, "markers", cls.Markers)

	if cls.Category == models.CategoryScanned || cls.Category == models.CategoryPhoto {
		doc = p.recognize(ctx, logCtx, doc, opts, res)
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("cancelled before calibration: %w", err), false)
	}

	scale, err := p.calibrate(doc, opts, cls, res)
	if err != nil {
		return fail(err, false)
	}

	var outputs []*models.ExtractorOutput
	for _, ex := range p.extractors(doc, cls, opts, res) {
		out, err := ex.Extract(ctx, doc, scale, opts)
		if out != nil {
			outputs = append(outputs, out)
		}
		if ctx.Err() != nil {
			partial, aggErr := p.engine.Aggregate(doc, outputs, scale, opts)
			if aggErr == nil {
				partial.RunID, partial.Classification, partial.Scales = id, cls, res.Scales
				partial.Warnings = append(res.Warnings, partial.Warnings...)
				res = partial
			}
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnCancelled, 0, models.BBox{}, "",
				"run cancelled during %s extraction", ex.Name()))
			return fail(fmt.Errorf("cancelled during %s extraction: %w", ex.Name(), ctx.Err()), true)
		}
		if err != nil {
			logCtx.Warn("Extractor failed, continuing with remaining extractors.", "extractor", ex.Name(), "error", err)
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnExtractorFailed, 0, models.BBox{}, "",
				"%s extractor: %v", ex.Name(), err))
		}
	}

	agg, err := p.engine.Aggregate(doc, outputs, scale, opts)
	if err != nil {
		return fail(err, false)
	}
	agg.RunID, agg.Classification, agg.Scales = id, cls, res.Scales
	agg.Warnings = append(res.Warnings, agg.Warnings...)
	res = agg

	now := p.now()
	res.ProcessingTimeMs = now.Sub(start).Milliseconds()
	run.AddWarnings(res.Warnings...)
	if err := run.Complete(string(res.Status), now); err != nil {
		return fail(err, false)
	}
	logCtx.Info("Analysis run completed.", "status", res.Status, "rooms", len(res.Rooms), "doors", len(res.Doors), "ms", res.ProcessingTimeMs)
	p.save(ctx, logCtx, run, res)
	return run, res, nil
}

// calibrate resolves the active scale. A missing scale is fatal only when
// area output is requested from geometry; annotated areas need none.
func (p *Pipeline) calibrate(doc *pdfdoc.Document, opts Options, cls models.InputClassification, res *models.ExtractionResult) (*models.ScaleContext, error) {
	page := 1
	if opts.PageNumber != nil {
		page = *opts.PageNumber
	}
	history := models.NewCalibrationHistory()
	defer func() { res.Scales = history.Infos(opts.ReviewThreshold) }()

	userScale := !opts.AutoScale() || opts.Reference != nil
	if userScale {
		if ann := p.calibrator.Annotation(doc, page); ann != nil {
			history.Activate(ann)
		}
	}
	scale, err := p.calibrator.Calibrate(doc, page, CalibrationRequest{Scale: opts.Scale, Reference: opts.Reference})
	if err != nil {
		if errors.Is(err, models.ErrScaleNotDetermined) && !(opts.NeedsArea() && cls.RecommendedPipeline != models.PipelineTextExtraction) {
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnScaleNotDetermined, 0, models.BBox{}, "",
				"%v; geometric measurements are reported in pixels", err))
			return nil, nil
		}
		return nil, err
	}

	if prev := history.Active(); userScale && prev != nil {
		if ok, dev := ValidateScale(scale.PixelsPerMeter(), prev.PixelsPerMeter(), scaleStringTolerance); !ok {
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnCrossCheck, prev.SourcePage(), prev.SourceBBox(), prev.SourceText(),
				"supplied scale deviates %.1f%% from the drawing's annotation %s", dev*100, prev.ScaleString()))
		}
	}
	history.Activate(scale)
	if scale.NeedsReview(opts.ReviewThreshold) {
		res.Warnings = append(res.Warnings, models.NewWarning(models.WarnScaleReview, scale.SourcePage(), scale.SourceBBox(), scale.SourceText(),
			"scale %s detected with confidence %.2f; please confirm", scale.ScaleString(), scale.Confidence()))
	}
	return scale, nil
}

// extractors picks the strategies for the recommended pipeline.
func (p *Pipeline) extractors(doc *pdfdoc.Document, cls models.InputClassification, opts Options, res *models.ExtractionResult) []Extractor {
	hasText := false
	for i := range doc.Pages {
		if len(doc.Pages[i].Text) > 0 {
			hasText = true
			break
		}
	}
	detection := func() []Extractor {
		if p.detector == nil && len(opts.Detections) == 0 {
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnExtractorSkipped, 0, models.BBox{}, "",
				"%v: no detector configured and no detections supplied", models.ErrExtractorUnavailable))
			return nil
		}
		return []Extractor{NewDetectionExtractor(p.detector)}
	}

	switch cls.RecommendedPipeline {
	case models.PipelineTextExtraction:
		return []Extractor{p.text, p.vector}
	case models.PipelineHybrid:
		exs := append([]Extractor{p.vector}, detection()...)
		return append(exs, p.text)
	default:
		exs := detection()
		if hasText {
			exs = append(exs, p.text)
		}
		return exs
	}
}

// recognize replaces empty text layers of raster pages with OCR text.
func (p *Pipeline) recognize(ctx context.Context, logCtx *slog.Logger, doc *pdfdoc.Document, opts Options, res *models.ExtractionResult) *pdfdoc.Document {
	if p.ocr == nil {
		return doc
	}
	for _, n := range opts.pages(doc) {
		if ctx.Err() != nil {
			return doc
		}
		page := doc.Page(n)
		if len(page.Text) > 0 {
			continue
		}
		img, ok := page.LargestJPEG()
		if !ok {
			continue
		}
		runs, err := p.ocr.Recognize(ctx, page, img)
		if err != nil {
			logCtx.Warn("OCR failed for page.", "page", n, "error", err)
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnExtractorFailed, n, models.BBox{}, "", "ocr: %v", err))
			continue
		}
		doc = doc.WithOCRText(n, runs)
	}
	return doc
}

func (p *Pipeline) save(ctx context.Context, logCtx *slog.Logger, run *models.AnalysisRun, res *models.ExtractionResult) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range p.sinks {
		if err := s.Save(ctx, run, res); err != nil {
			logCtx.Error("Failed to save result.", "sink", fmt.Sprintf("%T", s), "error", err)
			res.Warnings = append(res.Warnings, models.NewWarning(models.WarnSinkFailed, 0, models.BBox{}, "",
				"result sink %T: %v", s, err))
		}
	}
}

package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/clarencejohnson126/SnapPlanApp/internal/pdfdoc"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are an OCR engine for German construction drawings. You transcribe every piece of printed text exactly as it appears and report where it is. You must output your response as valid JSON."
const OCRUserPrompt = `Transcribe all text visible in the attached plan image.

Follow these rules precisely:
1.  Emit one entry per line of text. Keep German characters (ä, ö, ü, ß, ²) and decimal commas exactly as printed.
2.  Keep annotation tokens intact, e.g. "NRF: 24,50 m²", "U: 20,10 m", "M 1:100", "B.01.1.012", "T30-RS".
3.  Give each line's bounding box as fractions of the image size: "x" and "y" are the top-left corner, "width" and "height" the size, all between 0 and 1.
4.  Output a single JSON object {"lines": [{"text": "...", "x": 0.1, "y": 0.2, "width": 0.05, "height": 0.01}]} and nothing else.`

var ocrSchema = map[string]any{
	"type":     "object",
	"required": []any{"lines"},
	"properties": map[string]any{
		"lines": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"text", "x", "y", "width", "height"},
				"properties": map[string]any{
					"text":   map[string]any{"type": "string"},
					"x":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"y":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"width":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"height": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
		},
	},
}

// VertexOCR reads text from raster plan pages with a Gemini model.
type VertexOCR struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
	schema     *jsonschema.Schema
}

// NewVertexOCR creates the OCR model with JSON output forced.
func NewVertexOCR(ctx context.Context, projectID, region, modelName string) (*VertexOCR, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexOCR: projectID and region cannot be empty")
	}
	schema, err := compileSchema("ocr.json", ocrSchema)
	if err != nil {
		return nil, err
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexOCR{model: model, baseClient: baseClient, schema: schema}, nil
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(string(b))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(name)
}

type ocrResponse struct {
	Lines []struct {
		Text   string  `json:"text"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"lines"`
}

// Recognize returns the page's text lines in page-pixel space.
func (v *VertexOCR) Recognize(ctx context.Context, page *pdfdoc.Page, img pdfdoc.Image) ([]pdfdoc.TextRun, error) {
	resp, err := v.model.GenerateContent(ctx, genai.Blob{MIMEType: "image/jpeg", Data: img.Data}, genai.Text(OCRUserPrompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	raw := responseText(resp)
	if raw == "" {
		slog.Warn("OCR returned no text parts.", "page", page.Number)
		return nil, nil
	}
	return ParseOCR(v.schema, []byte(raw), page.WidthPx(), page.HeightPx())
}

// ParseOCR validates an OCR JSON payload and scales its boxes to the page.
func ParseOCR(schema *jsonschema.Schema, raw []byte, widthPx, heightPx float64) ([]pdfdoc.TextRun, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("ocr returned invalid json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}
	var parsed ocrResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	runs := make([]pdfdoc.TextRun, 0, len(parsed.Lines))
	for _, l := range parsed.Lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		h := l.Height * heightPx
		runs = append(runs, pdfdoc.TextRun{
			Text:     text,
			BBox:     models.BBox{X: l.X * widthPx, Y: l.Y * heightPx, Width: l.Width * widthPx, Height: h},
			FontSize: h,
		})
	}
	return runs, nil
}

// OCRSchema compiles the OCR response schema.
func OCRSchema() (*jsonschema.Schema, error) {
	return compileSchema("ocr.json", ocrSchema)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	s := strings.TrimSpace(b.String())
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (v *VertexOCR) Close() error {
	if v.baseClient != nil {
		return v.baseClient.Close()
	}
	return nil
}

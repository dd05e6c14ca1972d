package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"medihelp/internal/config"
)

// ErrEmptyExtraction is returned when the model answers with no text.
var ErrEmptyExtraction = errors.New("model returned no report text")

// DefaultExtractionPrompt asks for a plain summary of the attached document
// or recording.
const DefaultExtractionPrompt = `The attached file is a medical report, a photo of one, or a voice recording in which a patient describes their health.
Extract every medically relevant detail: patient details, vitals, lab values with units and reference ranges, diagnoses, medications and doctor notes.
For a recording, transcribe what was said and then summarise the symptoms and concerns it describes.
Write the result as a plain-text summary in clear sections. Do not add advice or information that is not in the file.`

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Extractor sends uploaded files to Gemini and returns the report text as
// the model wrote it.
type Extractor struct {
	models contentGenerator
	model  string
	prompt string
	logger *zap.Logger
}

// NewExtractor builds a Gemini extractor from the extraction section of cfg.
func NewExtractor(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Extractor, error) {
	prov := cfg.Provider(cfg.Extraction.Provider)
	if prov.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, cfg.Extraction.Provider)
	}
	client, err := newGenaiClient(ctx, prov)
	if err != nil {
		return nil, err
	}
	return newExtractor(client.Models, cfg.Extraction.Model, cfg.Extraction.Prompt, logger), nil
}

func newExtractor(models contentGenerator, model, prompt string, logger *zap.Logger) *Extractor {
	if prompt == "" {
		prompt = DefaultExtractionPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{models: models, model: model, prompt: prompt, logger: logger}
}

// Extract implements worker.Extractor.
func (e *Extractor) Extract(ctx context.Context, mimeType string, data []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(e.prompt),
		}, genai.RoleUser),
	}
	resp, err := e.models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyExtraction
	}
	e.logger.Debug("report extracted",
		zap.String("model", e.model),
		zap.String("mime", mimeType),
		zap.Int("chars", len(text)))
	return text, nil
}

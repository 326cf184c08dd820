package intent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-flash-latest"

// Classifier reads an utterance into a Record.
// Implementations must not fail: on any internal error they return a
// Record of kind Unknown.
type Classifier interface {
	Classify(ctx context.Context, utterance string, now time.Time, contacts map[string]string) Record
}

// Generator produces the raw model answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ClassifierConfig holds the optional collaborators of a GeminiClassifier.
type ClassifierConfig struct {
	// Location is the user's time zone; now is rendered in it and offsetless
	// timestamps are read in it (default: UTC).
	Location *time.Location
	// Model is reported in spans and logs.
	Model   string
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// GeminiClassifier classifies utterances with a generative model.
type GeminiClassifier struct {
	gen     Generator
	loc     *time.Location
	model   string
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewClassifier creates a classifier backed by gen.
func NewClassifier(gen Generator, cfg ClassifierConfig) *GeminiClassifier {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &GeminiClassifier{
		gen:     gen,
		loc:     cfg.Location,
		model:   cfg.Model,
		logger:  logging.WithService(cfg.Logger, "classifier"),
		metrics: cfg.Metrics,
	}
}

// NewGeminiClassifier creates a classifier talking to the Gemini API.
func NewGeminiClassifier(ctx context.Context, apiKey string, cfg ClassifierConfig) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return NewClassifier(&geminiGenerator{client: client, model: cfg.Model}, cfg), nil
}

// Classify implements Classifier.
func (c *GeminiClassifier) Classify(ctx context.Context, utterance string, now time.Time, contacts map[string]string) Record {
	start := time.Now()
	ctx, span := instrumentation.StartSpan(ctx, "intent.classify",
		attribute.String(instrumentation.SpanAttrModel, c.model))
	defer span.End()

	rec, result, err := c.classify(ctx, utterance, now.In(c.loc), contacts)
	duration := time.Since(start)
	c.metrics.RecordClassification(ctx, result, duration)

	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.logger.WarnContext(ctx, "classification failed",
			logging.Err(err),
			slog.Duration(logging.KeyDuration, duration))
		return Record{Kind: Unknown}
	}

	span.SetAttributes(attribute.String(instrumentation.SpanAttrIntent, string(rec.Kind)))
	instrumentation.SetSpanSuccess(span)
	c.logger.DebugContext(ctx, "utterance classified",
		logging.Intent(string(rec.Kind)),
		slog.Bool("force", rec.ForceOverride),
		slog.Int("attendees", len(rec.Attendees)),
		slog.Duration(logging.KeyDuration, duration))
	return rec
}

func (c *GeminiClassifier) classify(ctx context.Context, utterance string, now time.Time, contacts map[string]string) (Record, string, error) {
	if c.gen == nil {
		return Record{}, instrumentation.ClassifyResultError, fmt.Errorf("no generator configured")
	}

	text, err := c.gen.Generate(ctx, BuildPrompt(utterance, now, contacts))
	if err != nil {
		return Record{}, instrumentation.ClassifyResultError, fmt.Errorf("failed to generate classification: %w", err)
	}

	rec, err := parseResponse(text, c.loc)
	if err != nil {
		return Record{}, instrumentation.ClassifyResultError, err
	}
	if rec.Kind == Unknown {
		return rec, instrumentation.ClassifyResultUnknown, nil
	}
	return rec, instrumentation.ClassifyResultOK, nil
}

// geminiGenerator calls the Gemini generateContent endpoint in JSON mode.
type geminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *geminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

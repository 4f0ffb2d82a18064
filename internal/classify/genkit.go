package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/inkwell-app/inkwell/internal/memory"
	"github.com/inkwell-app/inkwell/internal/shared"
	"github.com/inkwell-app/inkwell/internal/telemetry"
)

const classifierSystemPrompt = `You classify a journaling app user's message into intents.
Respond with a single JSON object matching this shape:
{"intents":[{"kind":"JOURNALING|GOAL|HABIT|REMINDER|QUERY","parsed_entities":{},"needs_clarification":false,"clarification":""}],"summary":"one short sentence"}
Rules:
- JOURNALING entities: date (YYYY-MM-DD).
- GOAL entities: title, target_date (optional).
- HABIT entities: habit, date.
- REMINDER entities: message, when (RFC3339) or cron (5-field cron expression).
- QUERY entities: question.
- If a reminder has no resolvable time, set needs_clarification true and put the question to ask in clarification.
Output only JSON.`

// GenkitConfig configures the LLM-backed classifier.
type GenkitConfig struct {
	Provider string
	Model    string
	APIKey   string
}

// GenkitClassifier calls the configured model through Genkit and validates
// the reply against the intent schema before trusting it.
type GenkitClassifier struct {
	g         *genkit.Genkit
	modelName string
	validator *resultValidator
	log       *slog.Logger
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
	llmOn     bool
}

// NewGenkitClassifier initializes the provider plugin. tracer and metrics may
// be nil when telemetry is off. A missing API key does not fail startup:
// classification errors fall back to the deterministic default at dispatch
// time, so the daemon stays useful without credentials.
func NewGenkitClassifier(ctx context.Context, cfg GenkitConfig, tracer trace.Tracer, metrics *telemetry.Metrics, log *slog.Logger) (*GenkitClassifier, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	modelID := strings.TrimSpace(cfg.Model)
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	var modelName string
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			modelName = "anthropic/" + modelID
			llmOn = true
			log.Info("classifier initialized", "provider", "anthropic", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			log.Warn("Anthropic API key missing; classifier will use deterministic fallback")
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			modelName = "openai/" + modelID
			llmOn = true
			log.Info("classifier initialized", "provider", "openai", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			log.Warn("OpenAI API key missing; classifier will use deterministic fallback")
		}
	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			modelName = "googleai/" + modelID
			llmOn = true
			log.Info("classifier initialized", "provider", "google", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			log.Warn("Google API key missing; classifier will use deterministic fallback")
		}
	default:
		g = genkit.Init(ctx)
		log.Warn("unknown LLM provider; classifier will use deterministic fallback", "provider", provider)
	}

	v, err := newResultValidator()
	if err != nil {
		return nil, fmt.Errorf("compile intent schema: %w", err)
	}
	return &GenkitClassifier{
		g:         g,
		modelName: modelName,
		validator: v,
		log:       log,
		tracer:    tracer,
		metrics:   metrics,
		llmOn:     llmOn,
	}, nil
}

// generate is the single instrumented path to the model: every call gets a
// client span and feeds the LLM duration histogram.
func (c *GenkitClassifier) generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
	var span trace.Span
	if c.tracer != nil {
		ctx, span = telemetry.StartClientSpan(ctx, c.tracer, "llm.generate",
			telemetry.AttrModel.String(c.modelName))
		defer span.End()
	}
	start := time.Now()
	resp, err := genkit.Generate(ctx, c.g, opts...)
	if c.metrics != nil {
		c.metrics.LLMCallDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("model", c.modelName)))
	}
	if err != nil {
		if span != nil {
			span.SetStatus(codes.Error, "generate failed")
		}
		return nil, err
	}
	return resp, nil
}

// Classify sends the message plus recent history to the model and parses the
// structured reply.
func (c *GenkitClassifier) Classify(ctx context.Context, ownerID, text string, history []memory.Message, timezone string) (*Result, error) {
	if !c.llmOn {
		return nil, fmt.Errorf("classifier unavailable: no API key configured")
	}

	system := classifierSystemPrompt
	if timezone != "" {
		system += fmt.Sprintf("\nThe user's timezone is %s. Today is %s there.",
			timezone, localToday(timezone))
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem("%s", system),
		ai.WithPrompt("%s", text),
	}
	if msgs := historyToMessages(history); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}

	resp, err := c.generate(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("classifier generate: %w", err)
	}
	raw := resp.Text()

	jsonStr, err := c.validator.validate(raw)
	if err != nil {
		c.log.Warn("classifier output failed validation",
			"owner_id", ownerID,
			"trace_id", shared.TraceID(ctx),
			"error", err)
		return nil, fmt.Errorf("classifier output: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("decode classifier output: %w", err)
	}
	for i := range result.Intents {
		if result.Intents[i].Entities == nil {
			result.Intents[i].Entities = map[string]string{}
		}
	}
	return &result, nil
}

// Generate runs a plain prompt through the same model. Persona synthesis
// reuses the classifier's Genkit instance through this.
func (c *GenkitClassifier) Generate(ctx context.Context, system, prompt string) (string, error) {
	if !c.llmOn {
		return "", fmt.Errorf("generator unavailable: no API key configured")
	}
	resp, err := c.generate(ctx,
		ai.WithModelName(c.modelName),
		ai.WithSystem("%s", system),
		ai.WithPrompt("%s", prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}

func localToday(timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return time.Now().In(loc).Format("2006-01-02")
}

// historyToMessages converts the memory window into chat turns, oldest first.
func historyToMessages(history []memory.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(history))
	for _, m := range history {
		role := ai.RoleUser
		switch m.Role {
		case "agent":
			role = ai.RoleModel
		case "system":
			role = ai.RoleSystem
		}
		out = append(out, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		})
	}
	return out
}

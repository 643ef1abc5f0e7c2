// Package compose phrases the next question for the user.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/inference"
)

// Fixed messages for terminal actions.
const (
	DoneMessage    = "Thanks, that's everything I need! I'm putting together your personalized learning plan now."
	ConfirmMessage = "I think I have a good picture of you now. Is there anything else you'd like to add before I build your plan?"
)

// Question sources, recorded for logs.
const (
	SourceFixed     = "fixed"
	SourceInference = "inference"
	SourceTemplate  = "template"
	SourceGeneric   = "generic"
)

// Request describes the question to compose.
type Request struct {
	ConversationID   string
	Action           domain.Action
	Field            string
	RepeatCount      int
	PreviousQuestion string
	Fields           map[string]domain.FieldRecord
}

// Question is the composed text and where it came from.
type Question struct {
	Text   string
	Source string
}

// Composer asks the model for a natural question and falls back to templates.
type Composer struct {
	client inference.Client
	logger *slog.Logger
}

// New creates a composer. A nil client always uses templates.
func New(client inference.Client, logger *slog.Logger) *Composer {
	if client == nil {
		client = inference.Offline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{client: client, logger: logger}
}

const systemPrompt = `You write the next question of a friendly onboarding interview for a learning platform.
Ask exactly one short, warm question. Do not greet the user again and do not summarize their answers.`

const outputShape = `{"question": "<the question>"}`

// Compose returns the question for req. It never fails.
func (c *Composer) Compose(ctx context.Context, req Request) Question {
	switch req.Action {
	case domain.ActionDone, domain.ActionRunAnalysis:
		return Question{Text: DoneMessage, Source: SourceFixed}
	case domain.ActionConfirm:
		return Question{Text: ConfirmMessage, Source: SourceFixed}
	}

	spec, known := domain.LookupField(req.Field)
	if known {
		text, err := c.infer(ctx, req, spec)
		if err == nil && text != "" {
			return Question{Text: text, Source: SourceInference}
		}
		c.logger.Debug("question inference unavailable, using template",
			"session_id", req.ConversationID,
			"field", req.Field,
			"error", err,
		)
		if spec.Template != "" {
			return Question{Text: template(spec, req), Source: SourceTemplate}
		}
	}
	return Question{Text: Generic(req.Field), Source: SourceGeneric}
}

// Generic is the last-resort question for a field.
func Generic(field string) string {
	label := strings.ReplaceAll(field, "_", " ")
	if spec, ok := domain.LookupField(field); ok && spec.Label != "" {
		label = spec.Label
	}
	if label == "" {
		label = "goals"
	}
	return fmt.Sprintf("Could you tell me a bit more about your %s?", label)
}

func template(spec domain.FieldSpec, req Request) string {
	if req.Action == domain.ActionClarify || req.RepeatCount > 0 {
		return clarifyPrefix(spec) + spec.Template
	}
	return spec.Template
}

func clarifyPrefix(spec domain.FieldSpec) string {
	switch spec.Mode {
	case domain.ModeScale:
		return "Just a number from 1 to 5 is fine. "
	case domain.ModeNumeric:
		return "A rough number is fine, for example \"3 hours\". "
	case domain.ModeMultipleChoice:
		return fmt.Sprintf("Pick whichever is closest: %s. ", strings.Join(spec.Options, ", "))
	default:
		return "Sorry, I didn't quite catch that. "
	}
}

type payload struct {
	Question string `mapstructure:"question"`
}

func (c *Composer) infer(ctx context.Context, req Request, spec domain.FieldSpec) (string, error) {
	raw, err := c.client.Generate(ctx, inference.Request{
		Operation:      "compose",
		ConversationID: req.ConversationID,
		System:         systemPrompt,
		Prompt:         buildPrompt(req, spec),
		Shape:          outputShape,
	})
	if err != nil {
		return "", err
	}
	var p payload
	if err := mapstructure.WeakDecode(raw, &p); err != nil {
		return "", fmt.Errorf("decode question payload: %w", err)
	}
	return strings.TrimSpace(p.Question), nil
}

func buildPrompt(req Request, spec domain.FieldSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal of the question: %s.\n", spec.Goal)
	fmt.Fprintf(&b, "Answer format: %s.\n", spec.Mode)
	if len(spec.Options) > 0 {
		fmt.Fprintf(&b, "Offer these options: %s.\n", strings.Join(spec.Options, ", "))
	}
	if req.RepeatCount > 0 {
		fmt.Fprintf(&b, "This is attempt %d at getting this answer; the last reply did not answer it. Rephrase more simply.\n", req.RepeatCount+1)
	}
	if req.PreviousQuestion != "" {
		fmt.Fprintf(&b, "Previous question: %s\n", req.PreviousQuestion)
	}
	if name := req.Fields[domain.FieldName]; name.Filled() {
		fmt.Fprintf(&b, "The user's name is %s.\n", name.Value.String())
	}
	return b.String()
}

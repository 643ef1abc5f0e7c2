// Package extract turns a user reply into observed field values.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/guard"
	"github.com/ashureev/intakeflow/internal/inference"
)

// ExtractionError reports that neither pass produced any observation.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Input is everything the extractor looks at for one reply.
type Input struct {
	ConversationID   string
	Message          string
	Fields           map[string]domain.FieldRecord
	TargetField      string
	PreviousQuestion string
}

// Extractor combines the deterministic pass with model inference.
type Extractor struct {
	client inference.Client
	logger *slog.Logger
}

// New creates an extractor. A nil client means deterministic-only.
func New(client inference.Client, logger *slog.Logger) *Extractor {
	if client == nil {
		client = inference.Offline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, logger: logger}
}

type payload struct {
	Fields     map[string]any    `mapstructure:"fields"`
	Confidence map[string]string `mapstructure:"confidence"`
}

const systemPrompt = `You extract structured profile data from one message of an onboarding interview.
Only report values the user actually stated or clearly implied. Never guess.
Use the field names exactly as listed. Omit fields you cannot find.
Duration fields are a whole number of minutes (4 hours is 240), or a string that keeps the unit
("4 hours"). Use -1 when the user declines to give a duration.`

const outputShape = `{"fields": {"<field name>": <string | number | array of strings>}, "confidence": {"<field name>": "low" | "medium" | "high"}}`

// Extract returns the observations for in.Message. A non-nil error is always
// an *ExtractionError and comes with an empty map.
func (e *Extractor) Extract(ctx context.Context, in Input) (map[string]guard.Observation, error) {
	quick := Quick(in.Message, in.TargetField)

	inferred, inferErr := e.infer(ctx, in)
	if inferErr != nil {
		e.logger.Warn("field inference failed, using deterministic values",
			"session_id", in.ConversationID,
			"error", inferErr,
		)
		inferred = nil
	}

	merged := make(map[string]guard.Observation, len(quick)+len(inferred))
	for k, v := range inferred {
		merged[k] = v
	}
	for k, v := range quick {
		merged[k] = v
	}

	if obs, ok := targetFallback(in, merged); ok {
		merged[in.TargetField] = obs
	}

	if len(merged) == 0 && inferErr != nil {
		return merged, &ExtractionError{Err: inferErr}
	}
	return merged, nil
}

func (e *Extractor) infer(ctx context.Context, in Input) (map[string]guard.Observation, error) {
	raw, err := e.client.Generate(ctx, inference.Request{
		Operation:      "extract",
		ConversationID: in.ConversationID,
		System:         systemPrompt,
		Prompt:         buildPrompt(in),
		Shape:          outputShape,
	})
	if err != nil {
		return nil, err
	}

	var p payload
	if err := mapstructure.WeakDecode(raw, &p); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}
	if len(p.Fields) == 0 {
		// Some models answer with a flat object of field values.
		p.Fields = raw
	}

	out := make(map[string]guard.Observation, len(p.Fields))
	for name, value := range p.Fields {
		if !domain.KnownField(name) || value == nil {
			continue
		}
		out[name] = guard.Observation{
			Raw:        value,
			Evidence:   domain.EvidenceInference,
			Confidence: parseConfidence(p.Confidence[name]),
		}
	}
	return out, nil
}

func targetFallback(in Input, merged map[string]guard.Observation) (guard.Observation, bool) {
	if in.TargetField == "" {
		return guard.Observation{}, false
	}
	if _, ok := merged[in.TargetField]; ok {
		return guard.Observation{}, false
	}
	if rec, ok := in.Fields[in.TargetField]; ok && rec.Filled() {
		return guard.Observation{}, false
	}
	spec, ok := domain.LookupField(in.TargetField)
	if !ok || !spec.SafeFreeText || IsJunk(in.Message) {
		return guard.Observation{}, false
	}
	return guard.Observation{
		Raw:        strings.TrimSpace(in.Message),
		Evidence:   domain.EvidenceTargetAnswer,
		Confidence: domain.ConfidenceMedium,
	}, true
}

func parseConfidence(s string) domain.Confidence {
	switch domain.Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case domain.ConfidenceHigh:
		return domain.ConfidenceHigh
	case domain.ConfidenceLow:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceMedium
	}
}

func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Fields:\n")
	for _, f := range domain.Fields() {
		kind := string(f.Kind)
		if f.Kind == domain.KindDuration {
			kind += ", whole minutes"
		}
		fmt.Fprintf(&b, "- %s (%s): %s", f.Name, kind, f.Goal)
		if len(f.Options) > 0 {
			fmt.Fprintf(&b, " Options: %s.", strings.Join(f.Options, ", "))
		}
		b.WriteString("\n")
	}

	if known := knownValues(in.Fields); known != "" {
		b.WriteString("\nAlready known:\n")
		b.WriteString(known)
	}
	if in.PreviousQuestion != "" {
		fmt.Fprintf(&b, "\nPrevious question: %s\n", in.PreviousQuestion)
	}
	if in.TargetField != "" {
		fmt.Fprintf(&b, "The question was asking for: %s\n", in.TargetField)
	}
	msg, _ := json.Marshal(in.Message)
	fmt.Fprintf(&b, "\nUser message: %s\n", msg)
	return b.String()
}

func knownValues(fields map[string]domain.FieldRecord) string {
	names := make([]string, 0, len(fields))
	for name, rec := range fields {
		if rec.Filled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, fields[name].Value.String())
	}
	return b.String()
}

// IsExtractionError reports whether err came from a failed extraction.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

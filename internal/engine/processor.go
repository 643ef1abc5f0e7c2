// Package engine runs one interview turn end to end: extraction, coercion,
// the phase decision loop, question composition and best-effort persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashureev/intakeflow/internal/compose"
	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/extract"
	"github.com/ashureev/intakeflow/internal/flow"
	"github.com/ashureev/intakeflow/internal/guard"
	"github.com/ashureev/intakeflow/internal/metrics"
)

// MaxMessageLength caps a single user message, in characters.
const MaxMessageLength = 4000

const defaultPersistTimeout = 5 * time.Second

// ErrInvalidInput marks malformed turn requests.
var ErrInvalidInput = errors.New("invalid turn input")

// Extractor produces observations from a reply.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (map[string]guard.Observation, error)
}

// Composer phrases the next question.
type Composer interface {
	Compose(ctx context.Context, req compose.Request) compose.Question
}

// Persister saves snapshots. Failures never fail a turn.
type Persister interface {
	UpsertSession(ctx context.Context, state domain.ConversationState) error
}

// TurnRequest is one user message plus the state the client holds.
type TurnRequest struct {
	State       domain.ConversationState `json:"state"`
	UserMessage string                   `json:"userMessage"`
	Prefill     map[string]any           `json:"prefill,omitempty"`
}

// ActionHint tells the client how to render the answer input.
type ActionHint struct {
	TargetField string           `json:"targetField"`
	Mode        domain.InputMode `json:"mode"`
	Options     []string         `json:"options,omitempty"`
}

// TurnResponse is returned for every processed turn.
type TurnResponse struct {
	Message    string                   `json:"message"`
	State      domain.ConversationState `json:"state"`
	IsComplete bool                     `json:"isComplete"`
	Action     *ActionHint              `json:"action,omitempty"`
	Progress   int                      `json:"progress"`
}

// Processor orchestrates turns. It holds no per-conversation state.
type Processor struct {
	registry       *flow.Registry
	extractor      Extractor
	composer       Composer
	persister      Persister
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
	persistTimeout time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithPersister enables best-effort snapshot writes.
func WithPersister(p Persister) Option {
	return func(pr *Processor) { pr.persister = p }
}

// WithMetrics records turn metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(pr *Processor) { pr.metrics = m }
}

// WithLogger sets the processor logger.
func WithLogger(l *slog.Logger) Option {
	return func(pr *Processor) {
		if l != nil {
			pr.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(pr *Processor) { pr.now = now }
}

// NewProcessor wires a processor.
func NewProcessor(registry *flow.Registry, extractor Extractor, composer Composer, opts ...Option) *Processor {
	if registry == nil {
		registry = flow.Default()
	}
	p := &Processor{
		registry:       registry,
		extractor:      extractor,
		composer:       composer,
		logger:         slog.Default(),
		now:            time.Now,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the phase table in use.
func (p *Processor) Registry() *flow.Registry {
	return p.registry
}

// Start opens a conversation without consuming a turn.
func (p *Processor) Start(ctx context.Context, source string) (*TurnResponse, error) {
	now := p.now()
	first := p.registry.First()
	state := domain.NewConversationState(uuid.NewString(), first.ID, source, now)

	state, d := p.registry.Decide(state, flow.Input{Now: now})
	q := p.composer.Compose(ctx, compose.Request{
		ConversationID: state.SessionID,
		Action:         d.Action,
		Field:          d.TargetField,
		Fields:         state.Fields,
	})
	state.LastQuestion = q.Text
	state.CompletionPercent = p.registry.Progress(state)

	message := q.Text
	if first.Intro != "" {
		message = first.Intro + " " + q.Text
	}

	p.logger.Info("conversation started", "session_id", state.SessionID, "source", source)
	return p.respond(state, message, d), nil
}

// ProcessTurn handles one user message. Only malformed input returns an
// error; every downstream failure degrades to a fallback.
func (p *Processor) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	start := p.now()

	message := strings.TrimSpace(req.UserMessage)
	if message == "" {
		return nil, fmt.Errorf("%w: userMessage is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, fmt.Errorf("%w: userMessage exceeds %d characters", ErrInvalidInput, MaxMessageLength)
	}
	if req.State.TurnCount < 0 {
		return nil, fmt.Errorf("%w: negative turnCount", ErrInvalidInput)
	}

	state := p.normalize(req.State, start)
	logger := p.logger.With("session_id", state.SessionID)

	if state.IsComplete {
		logger.Info("message received for completed conversation")
		state.CompletionPercent = p.registry.Progress(state)
		return p.respond(state, compose.DoneMessage, flow.Decision{Action: domain.ActionDone, Complete: true}), nil
	}

	state.Handoff = nil
	state.TurnCount++
	previousTarget := state.TargetField
	previousQuestion := state.LastQuestion

	var justFilled []string
	prefilled := make(map[string]bool, len(req.Prefill))
	for _, name := range sortedKeys(req.Prefill) {
		next, ok := guard.Apply(state, name, guard.Observation{
			Raw:        req.Prefill[name],
			Evidence:   domain.EvidencePrefill,
			Confidence: domain.ConfidenceHigh,
		}, start)
		if !ok {
			logger.Debug("prefill value discarded", "field", name)
			continue
		}
		state = next
		prefilled[name] = true
		justFilled = append(justFilled, name)
	}

	observed, err := p.extractor.Extract(ctx, extract.Input{
		ConversationID:   state.SessionID,
		Message:          message,
		Fields:           state.Fields,
		TargetField:      previousTarget,
		PreviousQuestion: previousQuestion,
	})
	if err != nil {
		logger.Warn("extraction produced nothing", "error", err)
	}

	for _, name := range sortedKeys(observed) {
		if prefilled[name] {
			continue
		}
		next, ok := guard.Apply(state, name, observed[name], start)
		if !ok {
			logger.Debug("observed value discarded", "field", name)
			continue
		}
		state = next
		justFilled = append(justFilled, name)
	}

	state, d := p.registry.Decide(state, flow.Input{
		Reply: message,
		Now:   start,
	})
	for _, h := range d.Handoffs {
		p.metrics.IncHandoff(h.From, h.To)
		logger.Info("phase handoff", "from", h.From, "to", h.To)
	}
	for _, f := range d.ForceAccepted {
		p.metrics.IncForceAccept(f)
		logger.Info("field accepted verbatim after repeated asking", "field", f)
	}

	q := p.composer.Compose(ctx, compose.Request{
		ConversationID:   state.SessionID,
		Action:           d.Action,
		Field:            d.TargetField,
		RepeatCount:      state.RepeatCount(d.TargetField),
		PreviousQuestion: previousQuestion,
		Fields:           state.Fields,
	})

	reply := q.Text
	if state.Handoff != nil && state.Handoff.Message != "" && !d.Complete {
		reply = state.Handoff.Message + " " + q.Text
	}

	state.LastQuestion = q.Text
	state.CompletionPercent = p.registry.Progress(state)
	state.Metadata.UpdatedAt = start

	p.persist(ctx, state)

	elapsed := p.now().Sub(start)
	p.metrics.ObserveTurn(string(d.Action), elapsed)
	logger.Info("turn processed",
		"turn", state.TurnCount,
		"phase", state.ActivePhase,
		"action", d.Action,
		"field", d.TargetField,
		"question_source", q.Source,
		"filled", len(justFilled),
		"duration", elapsed,
	)

	return p.respond(state, reply, d), nil
}

// normalize repairs client-supplied state so the rest of the turn can rely on it.
func (p *Processor) normalize(in domain.ConversationState, now time.Time) domain.ConversationState {
	state := in.Clone()
	if state.SessionID == "" {
		state.SessionID = uuid.NewString()
	}
	if _, ok := p.registry.Phase(state.ActivePhase); !ok {
		state.ActivePhase = p.registry.First().ID
	}
	if state.Metadata.StartedAt.IsZero() {
		state.Metadata.StartedAt = now
	}
	if state.PendingAction == "" {
		state.PendingAction = domain.ActionAskNext
	}
	return state
}

func (p *Processor) persist(ctx context.Context, state domain.ConversationState) {
	if p.persister == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	defer cancel()
	if err := p.persister.UpsertSession(pctx, state); err != nil {
		p.metrics.IncPersistFailure()
		p.logger.Warn("failed to persist session snapshot", "session_id", state.SessionID, "error", err)
	}
}

func (p *Processor) respond(state domain.ConversationState, message string, d flow.Decision) *TurnResponse {
	resp := &TurnResponse{
		Message:    message,
		State:      state,
		IsComplete: state.IsComplete,
		Progress:   state.CompletionPercent,
	}
	if d.TargetField != "" {
		hint := &ActionHint{TargetField: d.TargetField, Mode: domain.ModeFor(d.TargetField)}
		if spec, ok := domain.LookupField(d.TargetField); ok && len(spec.Options) > 0 {
			hint.Options = append([]string(nil), spec.Options...)
		}
		resp.Action = hint
	}
	return resp
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

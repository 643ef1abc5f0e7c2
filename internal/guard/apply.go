package guard

import (
	"strings"
	"time"

	"github.com/ashureev/intakeflow/internal/domain"
)

// Observation is a raw value produced by extraction or a hand-off prefill.
type Observation struct {
	Raw        any
	Evidence   string
	Confidence domain.Confidence
}

// Apply coerces obs for field and returns the updated state. The bool is
// false when the value was discarded; the input state is never mutated.
func Apply(state domain.ConversationState, field string, obs Observation, now time.Time) (domain.ConversationState, bool) {
	spec, ok := domain.LookupField(field)
	if !ok {
		return state, false
	}

	value, err := Coerce(spec, obs.Raw)
	if err != nil {
		return state, false
	}

	status := domain.StatusConfirmed
	if spec.Kind == domain.KindText && obs.Evidence != domain.EvidencePrefill {
		status = domain.StatusCandidate
	}

	prev := state.Field(field)
	if prev.Status == domain.StatusConfirmed && status == domain.StatusCandidate && prev.Filled() {
		// A later free-text guess does not demote a confirmed answer.
		return state, false
	}

	confidence := obs.Confidence
	if confidence == "" {
		confidence = domain.ConfidenceMedium
	}

	return state.WithField(field, domain.FieldRecord{
		Value:      value,
		Status:     status,
		Confidence: confidence,
		Evidence:   obs.Evidence,
		UpdatedAt:  now,
	}), true
}

// ForceAccept stores the literal reply for field after repeated failed
// attempts to get a usable answer.
func ForceAccept(state domain.ConversationState, field, reply string, now time.Time) domain.ConversationState {
	return state.WithField(field, domain.FieldRecord{
		Value:      domain.TextValue(strings.TrimSpace(reply)),
		Status:     domain.StatusConfirmed,
		Confidence: domain.ConfidenceLow,
		Evidence:   domain.EvidenceGuardOverride,
		UpdatedAt:  now,
	})
}

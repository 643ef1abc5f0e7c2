// Package domain contains core domain types for the interview engine.
package domain

import (
	"time"
)

// FieldStatus is the trust level of a collected field.
type FieldStatus string

const (
	StatusMissing   FieldStatus = "missing"
	StatusCandidate FieldStatus = "candidate"
	StatusConfirmed FieldStatus = "confirmed"
)

// Confidence is the provenance confidence attached to a field record.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Action is what the engine intends to do after the current turn.
type Action string

const (
	ActionAskNext     Action = "ask_next"
	ActionClarify     Action = "clarify"
	ActionConfirm     Action = "confirm"
	ActionRunAnalysis Action = "run_analysis"
	ActionDone        Action = "done"
)

// Evidence tags recorded on field records.
const (
	EvidenceQuickExtract  = "quick_extract"
	EvidenceInference     = "inference"
	EvidenceTargetAnswer  = "target_answer"
	EvidencePrefill       = "prefill"
	EvidenceGuardOverride = "guard_override"
)

// FieldRecord is a single collected datum.
type FieldRecord struct {
	Value      Value       `json:"value"`
	Status     FieldStatus `json:"status"`
	Confidence Confidence  `json:"confidence"`
	Evidence   string      `json:"evidence"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Filled reports whether the record carries a usable value.
func (r FieldRecord) Filled() bool {
	return r.Status != StatusMissing && !r.Value.IsEmpty()
}

// Handoff announces a transition from one phase to the next.
type Handoff struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// Metadata carries bookkeeping about the conversation.
type Metadata struct {
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Source    string    `json:"source,omitempty"`
}

// ConversationState is the record round-tripped by the client between turns.
type ConversationState struct {
	SessionID         string                 `json:"sessionId"`
	Fields            map[string]FieldRecord `json:"fields"`
	TurnCount         int                    `json:"turnCount"`
	ActivePhase       string                 `json:"activePhase"`
	PendingAction     Action                 `json:"pendingAction"`
	TargetField       string                 `json:"targetField,omitempty"`
	LastAskedField    string                 `json:"lastAskedField,omitempty"`
	LastQuestion      string                 `json:"lastQuestion,omitempty"`
	RepeatCounts      map[string]int         `json:"repeatCounts,omitempty"`
	Handoff           *Handoff               `json:"handoff,omitempty"`
	CompletionPercent int                    `json:"completionPercent"`
	IsComplete        bool                   `json:"isComplete"`
	Metadata          Metadata               `json:"metadata"`
}

// NewConversationState returns an empty state positioned at the given phase.
func NewConversationState(sessionID, phase, source string, now time.Time) ConversationState {
	return ConversationState{
		SessionID:     sessionID,
		Fields:        make(map[string]FieldRecord),
		ActivePhase:   phase,
		PendingAction: ActionAskNext,
		RepeatCounts:  make(map[string]int),
		Metadata: Metadata{
			StartedAt: now,
			UpdatedAt: now,
			Source:    source,
		},
	}
}

// Clone returns a deep copy so the caller can mutate without aliasing s.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.Fields = make(map[string]FieldRecord, len(s.Fields))
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	out.RepeatCounts = make(map[string]int, len(s.RepeatCounts))
	for k, v := range s.RepeatCounts {
		out.RepeatCounts[k] = v
	}
	if s.Handoff != nil {
		h := *s.Handoff
		out.Handoff = &h
	}
	return out
}

// Field returns the record for name; absent fields are reported as missing.
func (s ConversationState) Field(name string) FieldRecord {
	if rec, ok := s.Fields[name]; ok {
		return rec
	}
	return FieldRecord{Status: StatusMissing}
}

// IsFilled reports whether name has a usable value.
func (s ConversationState) IsFilled(name string) bool {
	rec, ok := s.Fields[name]
	return ok && rec.Filled()
}

// AllFilled reports whether every named field has a usable value.
func (s ConversationState) AllFilled(names ...string) bool {
	for _, n := range names {
		if !s.IsFilled(n) {
			return false
		}
	}
	return true
}

// WithField returns a copy of s with name set to rec.
func (s ConversationState) WithField(name string, rec FieldRecord) ConversationState {
	out := s.Clone()
	out.Fields[name] = rec
	return out
}

// RepeatCount returns how many times name has been re-asked in a row.
func (s ConversationState) RepeatCount(name string) int {
	return s.RepeatCounts[name]
}

package flow

import (
	"time"

	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/guard"
)

// MaxIterations bounds the decision loop for one turn.
const MaxIterations = 5

// Input is the per-turn context the decision loop needs besides the state.
type Input struct {
	// Reply is the user's message, used verbatim when a field is force-accepted.
	Reply string
	Now   time.Time
}

// Decision is the outcome of one pass through the loop.
type Decision struct {
	Action        domain.Action
	TargetField   string
	Handoffs      []domain.Handoff
	ForceAccepted []string
	Complete      bool
}

// Decide advances phases whose exit predicate holds, applies the repetition
// guard and picks the next action. It never re-runs extraction and never
// moves the active phase backwards.
func (r *Registry) Decide(state domain.ConversationState, in Input) (domain.ConversationState, Decision) {
	s := state.Clone()
	var d Decision

	if _, ok := r.Phase(s.ActivePhase); !ok {
		s.ActivePhase = r.First().ID
	}

	for i := 0; i < MaxIterations; i++ {
		phase, _ := r.Phase(s.ActivePhase)

		var target string
		if phase.exit(s) {
			if next, ok := r.next(phase.ID); ok {
				s, d = r.handoff(s, d, phase, next)
				continue
			}
			target = r.wrapUp(&s, &d)
		} else {
			target = pickField(phase, s)
			if target == "" {
				// Nothing left to ask here; move on regardless of the predicate.
				if next, ok := r.next(phase.ID); ok {
					s, d = r.handoff(s, d, phase, next)
					continue
				}
				target = r.wrapUp(&s, &d)
			}
		}
		if target == "" {
			return finish(s, d)
		}

		if target == s.LastAskedField {
			if s.RepeatCount(target) >= 1 {
				s = guard.ForceAccept(s, target, in.Reply, in.Now)
				delete(s.RepeatCounts, target)
				d.ForceAccepted = append(d.ForceAccepted, target)
				continue
			}
			s.RepeatCounts[target] = s.RepeatCount(target) + 1
			d.Action = domain.ActionClarify
		} else {
			delete(s.RepeatCounts, s.LastAskedField)
			delete(s.RepeatCounts, target)
			d.Action = domain.ActionAskNext
		}
		d.TargetField = target
		return finish(s, d)
	}

	// The loop only runs out after repeated force-accepts and hand-offs.
	if target := r.FirstMissingRequired(s); target != "" {
		d.Action = domain.ActionAskNext
		d.TargetField = target
	} else if r.Complete(s) {
		d.Action = domain.ActionDone
		d.Complete = true
	} else {
		d.Action = domain.ActionConfirm
	}
	return finish(s, d)
}

// wrapUp handles the final phase having nothing more to ask. It returns a
// target when a required field is still open, otherwise sets the action.
func (r *Registry) wrapUp(s *domain.ConversationState, d *Decision) string {
	if r.Complete(*s) {
		d.Action = domain.ActionDone
		d.Complete = true
		d.TargetField = ""
		return ""
	}
	if f := r.FirstMissingRequired(*s); f != "" {
		return f
	}
	d.Action = domain.ActionConfirm
	d.TargetField = ""
	return ""
}

func (r *Registry) handoff(s domain.ConversationState, d Decision, from, to Phase) (domain.ConversationState, Decision) {
	h := domain.Handoff{From: from.ID, To: to.ID, Message: to.Intro}
	d.Handoffs = append(d.Handoffs, h)

	if s.Handoff != nil {
		h.From = s.Handoff.From
	}
	s.Handoff = &h
	s.ActivePhase = to.ID
	return s, d
}

func finish(s domain.ConversationState, d Decision) (domain.ConversationState, Decision) {
	s.PendingAction = d.Action
	s.TargetField = d.TargetField
	if d.TargetField != "" {
		s.LastAskedField = d.TargetField
	}
	if d.Complete {
		s.IsComplete = true
	}
	return s, d
}

// pickField returns the first unfilled field of phase. A field answered this
// turn is already filled in s, so it is never asked again.
func pickField(phase Phase, s domain.ConversationState) string {
	for _, f := range phase.Fields {
		if !s.IsFilled(f) {
			return f
		}
	}
	return ""
}

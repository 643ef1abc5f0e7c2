package flow

import "github.com/ashureev/intakeflow/internal/domain"

// Predicate decides whether a phase has collected enough to hand off.
// Predicates must be pure.
type Predicate func(domain.ConversationState) bool

// minDeepProfileTurns keeps the profile phase from being rushed.
const minDeepProfileTurns = 3

var predicates = map[string]Predicate{
	"email_captured": func(s domain.ConversationState) bool {
		return s.IsFilled(domain.FieldEmail)
	},
	"context_known": func(s domain.ConversationState) bool {
		return s.AllFilled(domain.FieldIndustry, domain.FieldRole)
	},
	"profile_deep_enough": func(s domain.ConversationState) bool {
		return s.AllFilled(domain.FieldSkillLevel, domain.FieldLearningStyle) && s.TurnCount >= minDeepProfileTurns
	},
	"time_budget_known": func(s domain.ConversationState) bool {
		return s.IsFilled(domain.FieldWeeklyTime)
	},
	"never": func(domain.ConversationState) bool {
		return false
	},
}

// LookupPredicate returns the exit predicate registered under name.
func LookupPredicate(name string) (Predicate, bool) {
	p, ok := predicates[name]
	return p, ok
}

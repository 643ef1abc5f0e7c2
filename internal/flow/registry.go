// Package flow owns the ordered interview phases and decides, after each
// reply, which phase is active and which field to ask for next.
package flow

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/intakeflow/internal/domain"
)

//go:embed phases.yaml
var defaultPhases []byte

// DefaultMinTurns applies when the table does not set min_turns.
const DefaultMinTurns = 5

var (
	// ErrNoPhases is returned for a table without phases.
	ErrNoPhases = errors.New("phase table has no phases")
	// ErrUnknownPredicate is returned when a phase names an unregistered exit predicate.
	ErrUnknownPredicate = errors.New("unknown exit predicate")
	// ErrUnknownField is returned when the table references a field outside the catalog.
	ErrUnknownField = errors.New("unknown field")
)

// Phase is one stage of the interview.
type Phase struct {
	ID     string   `yaml:"id"`
	Exit   string   `yaml:"exit"`
	Intro  string   `yaml:"intro"`
	Fields []string `yaml:"fields"`

	exit Predicate
}

type table struct {
	MinTurns int      `yaml:"min_turns"`
	Required []string `yaml:"required"`
	Phases   []Phase  `yaml:"phases"`
}

// Registry is the immutable phase table built once at startup.
type Registry struct {
	phases   []Phase
	index    map[string]int
	required []string
	minTurns int
}

// Default returns the registry built from the embedded table.
func Default() *Registry {
	r, err := Parse(defaultPhases)
	if err != nil {
		panic(fmt.Sprintf("embedded phase table: %v", err))
	}
	return r
}

// LoadFile builds a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase table: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML and checks every reference.
func Parse(data []byte) (*Registry, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse phase table: %w", err)
	}
	if len(t.Phases) == 0 {
		return nil, ErrNoPhases
	}
	if t.MinTurns <= 0 {
		t.MinTurns = DefaultMinTurns
	}

	r := &Registry{
		phases:   make([]Phase, 0, len(t.Phases)),
		index:    make(map[string]int, len(t.Phases)),
		required: t.Required,
		minTurns: t.MinTurns,
	}
	for _, p := range t.Phases {
		if p.ID == "" {
			return nil, fmt.Errorf("phase %d: missing id", len(r.phases))
		}
		if _, dup := r.index[p.ID]; dup {
			return nil, fmt.Errorf("duplicate phase %q", p.ID)
		}
		pred, ok := LookupPredicate(p.Exit)
		if !ok {
			return nil, fmt.Errorf("phase %q: %w %q", p.ID, ErrUnknownPredicate, p.Exit)
		}
		for _, f := range p.Fields {
			if !domain.KnownField(f) {
				return nil, fmt.Errorf("phase %q: %w %q", p.ID, ErrUnknownField, f)
			}
		}
		p.exit = pred
		r.index[p.ID] = len(r.phases)
		r.phases = append(r.phases, p)
	}
	for _, f := range r.required {
		if !domain.KnownField(f) {
			return nil, fmt.Errorf("required: %w %q", ErrUnknownField, f)
		}
	}
	return r, nil
}

// First returns the opening phase.
func (r *Registry) First() Phase {
	return r.phases[0]
}

// Phase returns the phase with id.
func (r *Registry) Phase(id string) (Phase, bool) {
	i, ok := r.index[id]
	if !ok {
		return Phase{}, false
	}
	return r.phases[i], true
}

// Phases returns the phases in order.
func (r *Registry) Phases() []Phase {
	out := make([]Phase, len(r.phases))
	copy(out, r.phases)
	return out
}

// Order returns the position of id, or -1 when unknown.
func (r *Registry) Order(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}

// Required returns the globally required fields.
func (r *Registry) Required() []string {
	out := make([]string, len(r.required))
	copy(out, r.required)
	return out
}

// MinTurns returns the minimum number of turns before completion.
func (r *Registry) MinTurns() int {
	return r.minTurns
}

// Complete reports whether every required field is filled and the turn
// minimum has been reached.
func (r *Registry) Complete(s domain.ConversationState) bool {
	return s.AllFilled(r.required...) && s.TurnCount >= r.minTurns
}

// FirstMissingRequired returns the first unfilled required field.
func (r *Registry) FirstMissingRequired(s domain.ConversationState) string {
	for _, f := range r.required {
		if !s.IsFilled(f) {
			return f
		}
	}
	return ""
}

// Progress returns the share of required fields filled, capped at 99 until
// the conversation is complete.
func (r *Registry) Progress(s domain.ConversationState) int {
	if s.IsComplete {
		return 100
	}
	if len(r.required) == 0 {
		return 0
	}
	filled := 0
	for _, f := range r.required {
		if s.IsFilled(f) {
			filled++
		}
	}
	pct := filled * 100 / len(r.required)
	if pct > 99 {
		pct = 99
	}
	return pct
}

func (r *Registry) next(id string) (Phase, bool) {
	i, ok := r.index[id]
	if !ok || i+1 >= len(r.phases) {
		return Phase{}, false
	}
	return r.phases[i+1], true
}

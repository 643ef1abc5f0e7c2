package domain

// FieldKind selects the coercion rules applied to a field.
type FieldKind string

const (
	KindScale    FieldKind = "scale"
	KindEnum     FieldKind = "enum"
	KindDuration FieldKind = "duration"
	KindList     FieldKind = "list"
	KindText     FieldKind = "text"
)

// InputMode is the answer shape hinted to the question composer and the UI.
type InputMode string

const (
	ModeMultipleChoice InputMode = "multiple_choice"
	ModeScale          InputMode = "scale"
	ModeNumeric        InputMode = "numeric"
	ModeList           InputMode = "list"
	ModeFreeText       InputMode = "free_text"
)

// Field names collected by the interview.
const (
	FieldName             = "name"
	FieldEmail            = "email"
	FieldRole             = "role"
	FieldGoal             = "goal"
	FieldIndustry         = "industry"
	FieldExperienceYears  = "experience_years"
	FieldCurrentSkills    = "current_skills"
	FieldSkillLevel       = "skill_level"
	FieldLearningStyle    = "learning_style"
	FieldMotivation       = "motivation"
	FieldChallenges       = "challenges"
	FieldWeeklyTime       = "weekly_time"
	FieldSessionLength    = "session_length"
	FieldPreferredFormats = "preferred_formats"
	FieldTimeline         = "timeline"
)

// DeclinedMinutes marks a duration the user explicitly declined to give.
const DeclinedMinutes = -1

// FieldSpec describes one collectable field. The catalog is the only place
// that maps a field to its input mode.
type FieldSpec struct {
	Name         string
	Label        string
	Kind         FieldKind
	Mode         InputMode
	Options      []string
	Goal         string
	Template     string
	SafeFreeText bool
}

var catalog = []FieldSpec{
	{
		Name:         FieldName,
		Label:        "name",
		Kind:         KindText,
		Mode:         ModeFreeText,
		Goal:         "learn what the user would like to be called",
		Template:     "Before we dive in, what should I call you?",
		SafeFreeText: true,
	},
	{
		Name:     FieldEmail,
		Label:    "email address",
		Kind:     KindText,
		Mode:     ModeFreeText,
		Goal:     "collect an email address where the learning plan can be sent",
		Template: "What email address should I send your plan to?",
	},
	{
		Name:     FieldRole,
		Label:    "current role",
		Kind:     KindEnum,
		Mode:     ModeMultipleChoice,
		Options:  []string{"student", "engineer", "designer", "product manager", "data analyst", "founder", "other"},
		Goal:     "find out the user's current job role",
		Template: "Which of these best describes your current role?",
	},
	{
		Name:         FieldGoal,
		Label:        "learning goal",
		Kind:         KindText,
		Mode:         ModeFreeText,
		Goal:         "understand the main thing the user wants to achieve by learning",
		Template:     "What's the main goal you want to reach with this learning plan?",
		SafeFreeText: true,
	},
	{
		Name:     FieldIndustry,
		Label:    "industry",
		Kind:     KindEnum,
		Mode:     ModeMultipleChoice,
		Options:  []string{"technology", "finance", "healthcare", "education", "retail", "manufacturing", "government", "other"},
		Goal:     "identify the industry the user works in or wants to work in",
		Template: "Which industry are you in, or hoping to move into?",
	},
	{
		Name:         FieldExperienceYears,
		Label:        "experience",
		Kind:         KindText,
		Mode:         ModeFreeText,
		Goal:         "learn how long the user has worked in their field",
		Template:     "Roughly how many years of experience do you have in your field?",
		SafeFreeText: true,
	},
	{
		Name:     FieldCurrentSkills,
		Label:    "current skills",
		Kind:     KindList,
		Mode:     ModeList,
		Goal:     "list the skills and tools the user already knows",
		Template: "Which skills or tools are you already comfortable with? A comma-separated list is perfect.",
	},
	{
		Name:     FieldSkillLevel,
		Label:    "skill level",
		Kind:     KindScale,
		Mode:     ModeScale,
		Goal:     "rate the user's skill in the goal area from 1 (beginner) to 5 (expert)",
		Template: "On a scale from 1 (beginner) to 5 (expert), how would you rate your current skill level?",
	},
	{
		Name:     FieldLearningStyle,
		Label:    "learning style",
		Kind:     KindEnum,
		Mode:     ModeMultipleChoice,
		Options:  []string{"visual", "reading", "hands-on", "auditory", "mixed"},
		Goal:     "find out how the user prefers to learn",
		Template: "How do you learn best: visual, reading, hands-on, auditory, or a mix?",
	},
	{
		Name:     FieldMotivation,
		Label:    "motivation",
		Kind:     KindScale,
		Mode:     ModeScale,
		Goal:     "rate how motivated the user feels right now from 1 to 5",
		Template: "From 1 to 5, how motivated do you feel to start right now?",
	},
	{
		Name:         FieldChallenges,
		Label:        "biggest challenges",
		Kind:         KindText,
		Mode:         ModeFreeText,
		Goal:         "understand what has held the user back so far",
		Template:     "What has been the biggest obstacle to your learning so far?",
		SafeFreeText: true,
	},
	{
		Name:     FieldWeeklyTime,
		Label:    "weekly time budget",
		Kind:     KindDuration,
		Mode:     ModeNumeric,
		Goal:     "find out how much time per week the user can spend learning",
		Template: "How many hours per week can you realistically set aside for learning?",
	},
	{
		Name:     FieldSessionLength,
		Label:    "session length",
		Kind:     KindDuration,
		Mode:     ModeNumeric,
		Goal:     "find out how long a single study session usually lasts",
		Template: "How long is a typical study session for you, in minutes or hours?",
	},
	{
		Name:     FieldPreferredFormats,
		Label:    "preferred formats",
		Kind:     KindList,
		Mode:     ModeList,
		Goal:     "list the content formats the user enjoys, such as videos, articles or projects",
		Template: "Which formats do you enjoy most, for example videos, articles, courses or projects?",
	},
	{
		Name:         FieldTimeline,
		Label:        "timeline",
		Kind:         KindText,
		Mode:         ModeFreeText,
		Goal:         "learn by when the user wants to reach the goal",
		Template:     "By when would you like to reach your goal?",
		SafeFreeText: true,
	},
}

var catalogIndex = func() map[string]int {
	idx := make(map[string]int, len(catalog))
	for i, f := range catalog {
		idx[f.Name] = i
	}
	return idx
}()

// LookupField returns the spec for name.
func LookupField(name string) (FieldSpec, bool) {
	i, ok := catalogIndex[name]
	if !ok {
		return FieldSpec{}, false
	}
	return catalog[i], true
}

// Fields returns every known field spec in catalog order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(catalog))
	copy(out, catalog)
	return out
}

// KnownField reports whether name is in the catalog.
func KnownField(name string) bool {
	_, ok := catalogIndex[name]
	return ok
}

// ModeFor returns the input mode for name, defaulting to free text.
func ModeFor(name string) InputMode {
	if f, ok := LookupField(name); ok {
		return f.Mode
	}
	return ModeFreeText
}

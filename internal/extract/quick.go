package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/guard"
)

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	bareHrsRe = regexp.MustCompile(`(?i)^\s*(?:about|around|maybe|roughly|~)?\s*(\d+(?:\.\d+)?)\s*[.!]?\s*$`)
	weekRe    = regexp.MustCompile(`(?i)\b(?:weeks?|weekly|weekends?)\b`)
	sessionRe = regexp.MustCompile(`(?i)\b(?:sessions?|sittings?|at a time)\b`)
	clauseRe  = regexp.MustCompile(`(?i)[,;]|\band\b|\bbut\b|\.\s`)
)

var junkReplies = map[string]struct{}{
	"":         {},
	"no":       {},
	"nah":      {},
	"idk":      {},
	"pass":     {},
	"skip":     {},
	"n/a":      {},
	"none":     {},
	"nothing":  {},
	"not sure": {},
	"dunno":    {},
}

// IsJunk reports whether a reply carries no answer at all.
func IsJunk(message string) bool {
	s := strings.ToLower(strings.TrimSpace(message))
	s = strings.TrimRight(s, ".!?")
	_, ok := junkReplies[strings.TrimSpace(s)]
	return ok
}

// Quick runs the deterministic pass. It recognizes email addresses and time
// budgets; a bare number answers a duration target in hours.
func Quick(message, target string) map[string]guard.Observation {
	out := make(map[string]guard.Observation)

	if email := emailRe.FindString(message); email != "" {
		out[domain.FieldEmail] = observe(strings.TrimRight(email, "."))
	}

	if phrases := guard.FindDurations(message); len(phrases) > 0 {
		for field, minutes := range assignDurations(message, phrases, target) {
			out[field] = observe(minutes)
		}
		return out
	}
	if isDurationField(target) {
		if m := bareHrsRe.FindStringSubmatch(message); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				out[target] = observe(int(math.Round(f * 60)))
			}
		}
	}
	return out
}

// assignDurations maps time phrases to fields by the wording of their own
// clause. A field claimed by more than one phrase is left to inference. One
// unclaimed phrase answers a duration target.
func assignDurations(message string, phrases []guard.DurationPhrase, target string) map[string]int {
	claims := make(map[string][]int)
	var unclaimed []int
	for i, p := range phrases {
		if field := phraseField(message, phrases, i); field != "" {
			claims[field] = append(claims[field], p.Minutes)
			continue
		}
		unclaimed = append(unclaimed, p.Minutes)
	}

	out := make(map[string]int, len(claims))
	for field, minutes := range claims {
		if len(minutes) == 1 {
			out[field] = minutes[0]
		}
	}
	if len(unclaimed) == 1 && isDurationField(target) {
		if _, claimed := claims[target]; !claimed {
			out[target] = unclaimed[0]
		}
	}
	return out
}

// phraseField classifies phrase i by the words after it up to the next
// clause break, then by the words before it back to the previous one.
func phraseField(message string, phrases []guard.DurationPhrase, i int) string {
	lo, hi := 0, len(message)
	if i > 0 {
		lo = phrases[i-1].End
	}
	if i+1 < len(phrases) {
		hi = phrases[i+1].Start
	}

	after := message[phrases[i].End:hi]
	if loc := clauseRe.FindStringIndex(after); loc != nil {
		after = after[:loc[0]]
	}
	before := message[lo:phrases[i].Start]
	if locs := clauseRe.FindAllStringIndex(before, -1); len(locs) > 0 {
		before = before[locs[len(locs)-1][1]:]
	}

	for _, clause := range []string{after, before} {
		switch {
		case sessionRe.MatchString(clause):
			return domain.FieldSessionLength
		case weekRe.MatchString(clause):
			return domain.FieldWeeklyTime
		}
	}
	return ""
}

func isDurationField(name string) bool {
	spec, ok := domain.LookupField(name)
	return ok && spec.Kind == domain.KindDuration
}

func observe(raw any) guard.Observation {
	return guard.Observation{
		Raw:        raw,
		Evidence:   domain.EvidenceQuickExtract,
		Confidence: domain.ConfidenceHigh,
	}
}

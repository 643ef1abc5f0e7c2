// Package guard validates and normalizes observed field values before they
// are written into the conversation state.
package guard

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ashureev/intakeflow/internal/domain"
)

// ErrInvalidValue is returned when a raw value cannot be coerced to its field kind.
var ErrInvalidValue = errors.New("invalid field value")

// Scale bounds.
const (
	ScaleMin = 1
	ScaleMax = 5
)

var scaleKeywords = map[string]int{
	"expert":       5,
	"advanced":     5,
	"high":         5,
	"pro":          5,
	"beginner":     1,
	"new":          1,
	"low":          1,
	"novice":       1,
	"intermediate": 3,
	"avg":          3,
	"average":      3,
	"medium":       3,
}

var (
	integerRe  = regexp.MustCompile(`-?\d+`)
	wordRe     = regexp.MustCompile(`[a-z]+`)
	listSepRe  = regexp.MustCompile(`(?i)\s*(?:,|;|\band\b)\s*`)
	bareNumRe  = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*$`)
	durationRe = regexp.MustCompile(`(?i)(?:(\d+(?:\.\d+)?)\s*(?:hours?|hrs?|h)\b(?:\s*(?:and\s+)?(\d+(?:\.\d+)?)\s*(?:minutes?|mins?|m)\b)?|(\d+(?:\.\d+)?)\s*(?:minutes?|mins?|m)\b)`)
)

// Coerce converts raw into the canonical value for spec's kind.
func Coerce(spec domain.FieldSpec, raw any) (domain.Value, error) {
	var (
		v   domain.Value
		err error
	)
	switch spec.Kind {
	case domain.KindScale:
		v, err = coerceScale(raw)
	case domain.KindEnum:
		v, err = coerceEnum(raw)
	case domain.KindDuration:
		v, err = coerceDuration(raw)
	case domain.KindList:
		v, err = coerceList(raw)
	default:
		v, err = coerceText(raw)
	}
	if err != nil {
		return domain.Value{}, fmt.Errorf("%s: %w", spec.Name, err)
	}
	return v, nil
}

func coerceScale(raw any) (domain.Value, error) {
	switch r := raw.(type) {
	case string:
		lower := strings.ToLower(r)
		for _, w := range wordRe.FindAllString(lower, -1) {
			if n, ok := scaleKeywords[w]; ok {
				return domain.NumberValue(n), nil
			}
		}
		m := integerRe.FindString(lower)
		if m == "" {
			return domain.Value{}, ErrInvalidValue
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return domain.Value{}, ErrInvalidValue
		}
		return domain.NumberValue(clamp(n, ScaleMin, ScaleMax)), nil
	default:
		n, err := decodeInt(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.NumberValue(clamp(n, ScaleMin, ScaleMax)), nil
	}
}

func coerceEnum(raw any) (domain.Value, error) {
	switch r := raw.(type) {
	case string:
		if s := strings.TrimSpace(r); s != "" {
			return domain.TextValue(s), nil
		}
	case []string, []any:
		items, err := decodeList(r)
		if err != nil {
			return domain.Value{}, err
		}
		if len(items) > 0 {
			return domain.TextValue(items[0]), nil
		}
	}
	return domain.Value{}, ErrInvalidValue
}

func coerceDuration(raw any) (domain.Value, error) {
	var n int
	switch r := raw.(type) {
	case string:
		if m, ok := ParseMinutes(r); ok {
			n = m
			break
		}
		m := bareNumRe.FindStringSubmatch(r)
		if m == nil {
			return domain.Value{}, ErrInvalidValue
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return domain.Value{}, ErrInvalidValue
		}
		n = int(math.Round(f))
	default:
		v, err := decodeInt(raw)
		if err != nil {
			return domain.Value{}, err
		}
		n = v
	}
	if n < 0 && n != domain.DeclinedMinutes {
		return domain.Value{}, ErrInvalidValue
	}
	return domain.NumberValue(n), nil
}

func coerceList(raw any) (domain.Value, error) {
	var items []string
	switch r := raw.(type) {
	case string:
		for _, part := range listSepRe.Split(r, -1) {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	case []string, []any:
		decoded, err := decodeList(r)
		if err != nil {
			return domain.Value{}, err
		}
		items = decoded
	default:
		return domain.Value{}, ErrInvalidValue
	}
	if len(items) == 0 {
		return domain.Value{}, ErrInvalidValue
	}
	return domain.ListValue(items), nil
}

func coerceText(raw any) (domain.Value, error) {
	switch r := raw.(type) {
	case string:
		if s := strings.TrimSpace(r); s != "" {
			return domain.TextValue(s), nil
		}
		return domain.Value{}, ErrInvalidValue
	case nil:
		return domain.Value{}, ErrInvalidValue
	case []string, []any:
		items, err := decodeList(r)
		if err != nil || len(items) == 0 {
			return domain.Value{}, ErrInvalidValue
		}
		return domain.TextValue(strings.Join(items, ", ")), nil
	default:
		var s string
		if err := mapstructure.WeakDecode(raw, &s); err != nil || strings.TrimSpace(s) == "" {
			return domain.Value{}, ErrInvalidValue
		}
		return domain.TextValue(strings.TrimSpace(s)), nil
	}
}

// DurationPhrase is one time phrase found in a message. Start and End are
// byte offsets into the message.
type DurationPhrase struct {
	Minutes int
	Start   int
	End     int
}

// FindDurations returns every duration phrase in text in order. Hours and
// minutes are added together only inside one compound phrase such as
// "1h 30m" or "1 hour and 15 mins".
func FindDurations(text string) []DurationPhrase {
	var out []DurationPhrase
	for _, loc := range durationRe.FindAllStringSubmatchIndex(text, -1) {
		var total float64
		if h, ok := submatchFloat(text, loc, 1); ok {
			total = h * 60
			if m, ok := submatchFloat(text, loc, 2); ok {
				total += m
			}
		} else if m, ok := submatchFloat(text, loc, 3); ok {
			total = m
		} else {
			continue
		}
		out = append(out, DurationPhrase{Minutes: int(math.Round(total)), Start: loc[0], End: loc[1]})
	}
	return out
}

// ParseMinutes converts text holding exactly one duration phrase into whole
// minutes. Text with several separate phrases is ambiguous and rejected.
func ParseMinutes(text string) (int, bool) {
	phrases := FindDurations(text)
	if len(phrases) != 1 {
		return 0, false
	}
	return phrases[0].Minutes, true
}

func submatchFloat(text string, loc []int, group int) (float64, bool) {
	start, end := loc[2*group], loc[2*group+1]
	if start < 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(text[start:end], 64)
	return f, err == nil
}

// decodeInt accepts JSON numbers and numeric strings.
func decodeInt(raw any) (int, error) {
	if raw == nil {
		return 0, ErrInvalidValue
	}
	if _, ok := raw.(bool); ok {
		return 0, ErrInvalidValue
	}
	var f float64
	if err := mapstructure.WeakDecode(raw, &f); err != nil {
		return 0, ErrInvalidValue
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrInvalidValue
	}
	return int(math.Round(f)), nil
}

// decodeList accepts string slices and untyped JSON arrays of scalars.
func decodeList(raw any) ([]string, error) {
	var items []string
	if err := mapstructure.WeakDecode(raw, &items); err != nil {
		return nil, ErrInvalidValue
	}
	out := items[:0]
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out, nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/inference"
)

func staticClient(out map[string]any, err error) inference.Client {
	return inference.ClientFunc(func(context.Context, inference.Request) (map[string]any, error) {
		return out, err
	})
}

func TestQuickDurations(t *testing.T) {
	tests := []struct {
		name    string
		message string
		target  string
		field   string
		want    int
	}{
		{"hours for target", "4 hours", domain.FieldWeeklyTime, domain.FieldWeeklyTime, 240},
		{"combined units", "1h 30m", domain.FieldSessionLength, domain.FieldSessionLength, 90},
		{"bare number is hours", "about 3", domain.FieldWeeklyTime, domain.FieldWeeklyTime, 180},
		{"week hint without target", "I can do 5 hours a week", domain.FieldGoal, domain.FieldWeeklyTime, 300},
		{"session hint", "45 minutes per session", "", domain.FieldSessionLength, 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quick(tt.message, tt.target)
			obs, ok := got[tt.field]
			require.True(t, ok)
			assert.Equal(t, tt.want, obs.Raw)
			assert.Equal(t, domain.EvidenceQuickExtract, obs.Evidence)
		})
	}
}

func TestQuickSeparatesDurationPhrases(t *testing.T) {
	tests := []struct {
		name    string
		message string
		target  string
		want    map[string]int
	}{
		{
			"week and session clauses",
			"3 hours a week, in 30 minute sessions",
			domain.FieldWeeklyTime,
			map[string]int{domain.FieldWeeklyTime: 180, domain.FieldSessionLength: 30},
		},
		{
			"session phrase before target",
			"sessions of 45 minutes and 5 hours weekly",
			domain.FieldWeeklyTime,
			map[string]int{domain.FieldWeeklyTime: 300, domain.FieldSessionLength: 45},
		},
		{
			"session wording beats target",
			"30 minute sessions",
			domain.FieldWeeklyTime,
			map[string]int{domain.FieldSessionLength: 30},
		},
		{
			"compound stays one phrase",
			"1 hour and 15 mins a week",
			domain.FieldSessionLength,
			map[string]int{domain.FieldWeeklyTime: 75},
		},
		{
			"ambiguous phrases left to inference",
			"2 hours or maybe 3 hours",
			domain.FieldWeeklyTime,
			map[string]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[string]int)
			for field, obs := range Quick(tt.message, tt.target) {
				got[field] = obs.Raw.(int)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractKeepsInferredWeeklyTimeWithSessionLength(t *testing.T) {
	ex := New(staticClient(map[string]any{
		"fields": map[string]any{"weekly_time": 180, "session_length": 30},
	}, nil), nil)

	got, err := ex.Extract(context.Background(), Input{
		Message:     "3 hours a week, in 30 minute sessions",
		TargetField: domain.FieldWeeklyTime,
	})
	require.NoError(t, err)
	require.Contains(t, got, domain.FieldWeeklyTime)
	require.Contains(t, got, domain.FieldSessionLength)
	assert.Equal(t, 180, got[domain.FieldWeeklyTime].Raw)
	assert.Equal(t, 30, got[domain.FieldSessionLength].Raw)
}

func TestQuickIgnoresBareNumberForOtherTargets(t *testing.T) {
	got := Quick("3", domain.FieldSkillLevel)
	assert.Empty(t, got)
}

func TestQuickEmail(t *testing.T) {
	got := Quick("sure, it's rahul@example.com.", "")
	require.Contains(t, got, domain.FieldEmail)
	assert.Equal(t, "rahul@example.com", got[domain.FieldEmail].Raw)
}

func TestIsJunk(t *testing.T) {
	for _, s := range []string{"", "  no ", "Nah.", "IDK", "n/a", "Not sure!", "dunno"} {
		assert.True(t, IsJunk(s), s)
	}
	for _, s := range []string{"no idea yet but maybe data science", "Rahul"} {
		assert.False(t, IsJunk(s), s)
	}
}

func TestExtractNameAndEmail(t *testing.T) {
	client := staticClient(map[string]any{
		"fields":     map[string]any{"name": "Rahul", "email": "wrong@example.com"},
		"confidence": map[string]any{"name": "high"},
	}, nil)
	ex := New(client, nil)

	got, err := ex.Extract(context.Background(), Input{
		ConversationID: "c1",
		Message:        "I'm Rahul, my email is rahul@example.com",
		TargetField:    domain.FieldName,
	})
	require.NoError(t, err)
	assert.Equal(t, "Rahul", got[domain.FieldName].Raw)
	assert.Equal(t, domain.ConfidenceHigh, got[domain.FieldName].Confidence)
	assert.Equal(t, "rahul@example.com", got[domain.FieldEmail].Raw, "deterministic match wins")
}

func TestExtractDeterministicOverridesInference(t *testing.T) {
	client := staticClient(map[string]any{"fields": map[string]any{"weekly_time": 4}}, nil)
	ex := New(client, nil)

	got, err := ex.Extract(context.Background(), Input{Message: "4 hours", TargetField: domain.FieldWeeklyTime})
	require.NoError(t, err)
	assert.Equal(t, 240, got[domain.FieldWeeklyTime].Raw)
}

func TestExtractFlatPayloadAndUnknownFields(t *testing.T) {
	client := staticClient(map[string]any{"industry": "finance", "favourite_colour": "blue", "role": nil}, nil)
	ex := New(client, nil)

	got, err := ex.Extract(context.Background(), Input{Message: "I work in finance"})
	require.NoError(t, err)
	assert.Equal(t, "finance", got[domain.FieldIndustry].Raw)
	assert.NotContains(t, got, "favourite_colour")
	assert.NotContains(t, got, domain.FieldRole)
}

func TestExtractTargetFallback(t *testing.T) {
	ex := New(staticClient(nil, inference.ErrUnavailable), nil)

	got, err := ex.Extract(context.Background(), Input{Message: "  ship a side project  ", TargetField: domain.FieldGoal})
	require.NoError(t, err)
	obs := got[domain.FieldGoal]
	assert.Equal(t, "ship a side project", obs.Raw)
	assert.Equal(t, domain.EvidenceTargetAnswer, obs.Evidence)
}

func TestExtractFallbackSkipsTypedAndJunk(t *testing.T) {
	ex := New(staticClient(map[string]any{}, nil), nil)

	got, err := ex.Extract(context.Background(), Input{Message: "somewhere in the middle", TargetField: domain.FieldSkillLevel})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ex.Extract(context.Background(), Input{Message: "idk", TargetField: domain.FieldGoal})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractFallbackSkipsFilledTarget(t *testing.T) {
	ex := New(staticClient(map[string]any{}, nil), nil)
	fields := map[string]domain.FieldRecord{
		domain.FieldGoal: {Value: domain.TextValue("learn Go"), Status: domain.StatusCandidate},
	}

	got, err := ex.Extract(context.Background(), Input{Message: "something else", TargetField: domain.FieldGoal, Fields: fields})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractionErrorOnlyWhenNothingFound(t *testing.T) {
	boom := errors.New("upstream down")
	ex := New(staticClient(nil, boom), nil)

	got, err := ex.Extract(context.Background(), Input{Message: "hmm", TargetField: domain.FieldSkillLevel})
	require.Error(t, err)
	assert.True(t, IsExtractionError(err))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, got)

	got, err = ex.Extract(context.Background(), Input{Message: "me@example.org"})
	require.NoError(t, err)
	assert.Contains(t, got, domain.FieldEmail)
}

func TestBuildPromptIncludesContext(t *testing.T) {
	p := buildPrompt(Input{
		Message:          "hello",
		PreviousQuestion: "What should I call you?",
		TargetField:      domain.FieldName,
		Fields: map[string]domain.FieldRecord{
			domain.FieldRole: {Value: domain.TextValue("engineer"), Status: domain.StatusConfirmed},
		},
	})
	assert.Contains(t, p, "- role: engineer")
	assert.Contains(t, p, "Previous question: What should I call you?")
	assert.Contains(t, p, `User message: "hello"`)
	assert.Contains(t, p, "- weekly_time (duration, whole minutes):")
	assert.Contains(t, p, "- session_length (duration, whole minutes):")
	assert.Contains(t, p, "- skill_level (scale):")
}

func TestSystemPromptAsksForMinutes(t *testing.T) {
	assert.Contains(t, systemPrompt, "whole number of minutes")
	assert.Contains(t, systemPrompt, "4 hours is 240")
}

// Package inference talks to the external language model that turns text into
// structured guesses and phrases questions.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnavailable is returned when no inference backend is configured.
	ErrUnavailable = errors.New("inference backend unavailable")
	// ErrEmptyResponse is returned when the backend produced no content.
	ErrEmptyResponse = errors.New("inference returned empty response")
)

// Request is one structured-output call.
type Request struct {
	// Operation names the call site for logs and metrics ("extract", "compose").
	Operation      string
	ConversationID string
	System         string
	Prompt         string
	// Shape describes the expected JSON object, included in the prompt.
	Shape string
}

// Client returns a JSON object for a request. Implementations do no retrying.
type Client interface {
	Generate(ctx context.Context, req Request) (map[string]any, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (map[string]any, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, req Request) (map[string]any, error) {
	return f(ctx, req)
}

// StatusError carries the status signal of a failed backend call so the
// retry predicate can classify it without knowing the SDK.
type StatusError struct {
	Provider string
	Code     int
	Status   string
	Message  string
	Err      error
}

func (e *StatusError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" error")
	if e.Code != 0 {
		fmt.Fprintf(&b, " %d", e.Code)
	}
	if e.Status != "" {
		b.WriteString(" ")
		b.WriteString(e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *StatusError) Unwrap() error { return e.Err }

var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"ratelimit",
	"quota",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
}

// IsRateLimited reports whether err is a transient rate-limit or quota
// failure worth retrying.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusTooManyRequests || strings.EqualFold(se.Status, "RESOURCE_EXHAUSTED") {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Offline is the client used when no backend is configured.
type Offline struct{}

// Generate always fails with ErrUnavailable.
func (Offline) Generate(context.Context, Request) (map[string]any, error) {
	return nil, ErrUnavailable
}

// composePrompt appends the expected output shape to the prompt body.
func composePrompt(req Request) string {
	if req.Shape == "" {
		return req.Prompt
	}
	return req.Prompt + "\n\nRespond with a single JSON object shaped like:\n" + req.Shape
}

// decodeObject parses model output into a JSON object, tolerating code fences.
func decodeObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	return out, nil
}

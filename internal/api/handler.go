// Package api provides HTTP helpers and transports for the interview API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/intakeflow/internal/engine"
	"github.com/ashureev/intakeflow/internal/session"
)

// ErrRateLimited is returned when a session or client exceeds its request window.
var ErrRateLimited = errors.New("rate limit exceeded")

// TurnRunner runs interview turns on behalf of a transport.
type TurnRunner interface {
	StartConversation(ctx context.Context, clientID, source string) (*engine.TurnResponse, error)
	RunTurn(ctx context.Context, clientID string, req engine.TurnRequest) (*engine.TurnResponse, error)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// TurnErrorStatus maps a turn failure to an HTTP status and a client-facing code.
func TurnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrTurnInProgress):
		return http.StatusConflict, "turn_in_progress"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "turn timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Package agent serves the interview turn endpoints and records transcripts.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/intakeflow/internal/api"
	"github.com/ashureev/intakeflow/internal/config"
	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/engine"
	"github.com/ashureev/intakeflow/internal/identity"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

const (
	defaultRateLimitRequests = 30
	defaultTurnTimeout       = 90 * time.Second
)

// TurnProcessor runs the interview engine.
type TurnProcessor interface {
	Start(ctx context.Context, source string) (*engine.TurnResponse, error)
	ProcessTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResponse, error)
}

// SessionReader loads persisted snapshots.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*domain.ConversationState, error)
}

// TurnGuard rejects a turn while another one for the same session is running.
type TurnGuard interface {
	Begin(ctx context.Context, sessionID string) (func(), error)
}

type noopGuard struct{}

func (noopGuard) Begin(context.Context, string) (func(), error) { return func() {}, nil }

// Handler handles interview HTTP requests.
type Handler struct {
	processor   TurnProcessor
	sessions    SessionReader
	guard       TurnGuard
	rateLimiter *RateLimiter
	log         ConversationLogger
	turnTimeout time.Duration
	maxBodySize int64
}

// NewHandler creates an interview handler. sessions, guard and
// conversationLogger may be nil; cfg nil selects defaults.
func NewHandler(processor TurnProcessor, sessions SessionReader, guard TurnGuard, conversationLogger ConversationLogger, cfg *config.Config) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if guard == nil {
		guard = noopGuard{}
	}

	rateLimitRequests := defaultRateLimitRequests
	rateLimitWindow := time.Minute
	turnTimeout := defaultTurnTimeout
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		if cfg.Timeout.Turn > 0 {
			turnTimeout = cfg.Timeout.Turn
		}
	}

	return &Handler{
		processor:   processor,
		sessions:    sessions,
		guard:       guard,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		log:         conversationLogger,
		turnTimeout: turnTimeout,
		maxBodySize: defaultMaxRequestBodySize,
	}
}

// RegisterRoutes registers interview routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/interview", func(r chi.Router) {
		r.Get("/start", h.HandleStart)
		r.Post("/turn", h.HandleTurn)
		r.Get("/sessions/{id}", h.HandleGetSession)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

// StartConversation opens a conversation for clientID.
func (h *Handler) StartConversation(ctx context.Context, clientID, source string) (*engine.TurnResponse, error) {
	if !h.rateLimiter.Allow(rateKey(clientID, "")) {
		return nil, api.ErrRateLimited
	}
	if source == "" {
		source = "web"
	}
	resp, err := h.processor.Start(ctx, source)
	if err != nil {
		return nil, err
	}
	h.logAssistantMessage(clientID, resp, "", 0)
	return resp, nil
}

// RunTurn serializes, rate-limits and runs one turn. Both the HTTP and
// websocket transports go through here.
func (h *Handler) RunTurn(ctx context.Context, clientID string, req engine.TurnRequest) (*engine.TurnResponse, error) {
	sessionID := identity.SanitizeSessionID(req.State.SessionID)
	if sessionID == "" && req.State.SessionID != "" {
		return nil, fmt.Errorf("%w: malformed sessionId", engine.ErrInvalidInput)
	}
	if !h.rateLimiter.Allow(rateKey(clientID, sessionID)) {
		return nil, api.ErrRateLimited
	}

	release, err := h.guard.Begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	requestID := chiMiddleware.GetReqID(ctx)
	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     clientID,
		SessionID:  sessionID,
		Channel:    "interview",
		Direction:  "outbound",
		EventType:  "user_message",
		ContentRaw: req.UserMessage,
		Content:    cleanForReadability(req.UserMessage),
		Meta: map[string]any{
			"request_id": requestID,
			"turn":       req.State.TurnCount + 1,
			"prefill":    len(req.Prefill),
		},
	})

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	defer cancel()

	resp, err := h.processor.ProcessTurn(tctx, req)
	if err != nil {
		return nil, err
	}
	h.logAssistantMessage(clientID, resp, requestID, time.Since(start))
	return resp, nil
}

func (h *Handler) logAssistantMessage(clientID string, resp *engine.TurnResponse, requestID string, elapsed time.Duration) {
	meta := map[string]any{
		"request_id":   requestID,
		"phase":        resp.State.ActivePhase,
		"action":       resp.State.PendingAction,
		"progress":     resp.Progress,
		"is_complete":  resp.IsComplete,
		"duration_ms":  elapsed.Milliseconds(),
		"target_field": resp.State.TargetField,
	}
	if resp.State.Handoff != nil {
		meta["handoff_from"] = resp.State.Handoff.From
		meta["handoff_to"] = resp.State.Handoff.To
	}
	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     clientID,
		SessionID:  resp.State.SessionID,
		Channel:    "interview",
		Direction:  "inbound",
		EventType:  "assistant_message",
		ContentRaw: resp.Message,
		Content:    cleanForReadability(resp.Message),
		Meta:       meta,
	})
}

// HandleStart handles GET /api/interview/start.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	resp, err := h.StartConversation(r.Context(), clientID, r.URL.Query().Get("source"))
	if err != nil {
		h.writeTurnError(w, err, clientID)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleTurn handles POST /api/interview/turn.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req engine.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.State.SessionID == "" {
		req.State.SessionID = identity.SessionIDFromContext(r.Context())
	}

	slog.Info("Interview turn request",
		"client_id", clientID,
		"session_id", req.State.SessionID,
		"turn", req.State.TurnCount,
		"message_length", len(req.UserMessage),
	)

	resp, err := h.RunTurn(r.Context(), clientID, req)
	if err != nil {
		h.writeTurnError(w, err, clientID)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleGetSession handles GET /api/interview/sessions/{id}.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := identity.SanitizeSessionID(chi.URLParam(r, "id"))
	if id == "" {
		api.Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if h.sessions == nil {
		api.Error(w, http.StatusNotFound, "session not found")
		return
	}

	state, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load session snapshot", "session_id", id, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if state == nil {
		api.Error(w, http.StatusNotFound, "session not found")
		return
	}
	api.JSON(w, http.StatusOK, state)
}

func (h *Handler) writeTurnError(w http.ResponseWriter, err error, clientID string) {
	status, code := api.TurnErrorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Interview turn failed", "client_id", clientID, "error", err)
	} else {
		slog.Info("Interview turn rejected", "client_id", clientID, "status", status, "error", err)
	}
	api.Error(w, status, code)
}

// rateKey limits by the server-issued client id. The session id comes from
// the request body, so it is only used when no client id is known.
func rateKey(clientID, sessionID string) string {
	switch {
	case clientID != "":
		return "client:" + clientID
	case sessionID != "":
		return "session:" + sessionID
	default:
		return "client:anonymous"
	}
}

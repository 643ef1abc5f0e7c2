package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/engine"
	"github.com/ashureev/intakeflow/internal/identity"
)

// Frame types exchanged over the interview websocket.
const (
	FrameStart = "start"
	FrameTurn  = "turn"
	FrameError = "error"
)

// wsRequest is one client frame. A turn frame without state continues the
// conversation this connection last saw.
type wsRequest struct {
	Type        string                    `json:"type"`
	Source      string                    `json:"source,omitempty"`
	State       *domain.ConversationState `json:"state,omitempty"`
	UserMessage string                    `json:"userMessage,omitempty"`
	Prefill     map[string]any            `json:"prefill,omitempty"`
}

// wsReply is one server frame.
type wsReply struct {
	Type     string               `json:"type"`
	Response *engine.TurnResponse `json:"response,omitempty"`
	Error    string               `json:"error,omitempty"`
	Status   int                  `json:"status,omitempty"`
}

// WebSocketHandler carries interview turns over a websocket connection.
type WebSocketHandler struct {
	runner        TurnRunner
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(runner TurnRunner, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		runner:        runner,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "client_id", clientID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "interview ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	h.loop(r.Context(), ws, clientID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// loop serves frames one at a time, so a single connection never overlaps turns.
func (h *WebSocketHandler) loop(ctx context.Context, ws *websocket.Conn, clientID string) {
	var current *domain.ConversationState

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "client_id", clientID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "client_id", clientID)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if !h.write(ctx, ws, wsReply{Type: FrameError, Error: "invalid frame", Status: http.StatusBadRequest}) {
				return
			}
			continue
		}

		resp, err := h.dispatch(ctx, clientID, req, current)
		if err != nil {
			status, code := TurnErrorStatus(err)
			if !h.write(ctx, ws, wsReply{Type: FrameError, Error: code, Status: status}) {
				return
			}
			continue
		}

		state := resp.State
		current = &state
		kind := req.Type
		if kind == "" {
			kind = FrameTurn
		}
		if !h.write(ctx, ws, wsReply{Type: kind, Response: resp}) {
			return
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, clientID string, req wsRequest, current *domain.ConversationState) (*engine.TurnResponse, error) {
	switch req.Type {
	case FrameStart:
		return h.runner.StartConversation(ctx, clientID, req.Source)
	case FrameTurn, "":
		turn := engine.TurnRequest{UserMessage: req.UserMessage, Prefill: req.Prefill}
		switch {
		case req.State != nil:
			turn.State = *req.State
		case current != nil:
			turn.State = *current
		}
		return h.runner.RunTurn(ctx, clientID, turn)
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", engine.ErrInvalidInput, req.Type)
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, reply wsReply) bool {
	if err := wsjson.Write(ctx, ws, reply); err != nil {
		slog.Debug("WebSocket write error", "error", err)
		return false
	}
	return true
}

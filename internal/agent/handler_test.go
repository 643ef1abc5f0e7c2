package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/intakeflow/internal/api"
	"github.com/ashureev/intakeflow/internal/compose"
	"github.com/ashureev/intakeflow/internal/config"
	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/engine"
	"github.com/ashureev/intakeflow/internal/extract"
	"github.com/ashureev/intakeflow/internal/flow"
	"github.com/ashureev/intakeflow/internal/inference"
	"github.com/ashureev/intakeflow/internal/session"
)

type memorySessions map[string]domain.ConversationState

func (m memorySessions) GetSession(_ context.Context, id string) (*domain.ConversationState, error) {
	st, ok := m[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func offlineProcessor() *engine.Processor {
	return engine.NewProcessor(flow.Default(), extract.New(inference.Offline{}, nil), compose.New(nil, nil))
}

func newTestServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})
	return srv
}

func postTurn(t *testing.T, srv *httptest.Server, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(srv.URL+"/api/interview/turn", "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeTurn(t *testing.T, resp *http.Response) engine.TurnResponse {
	t.Helper()
	var out engine.TurnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStartThenTurnOverHTTP(t *testing.T) {
	srv := newTestServer(t, NewHandler(offlineProcessor(), nil, session.NewGuard(nil, 0, nil), nil, nil))

	resp, err := http.Get(srv.URL + "/api/interview/start?source=partner")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	started := decodeTurn(t, resp)
	assert.Equal(t, 0, started.State.TurnCount)
	require.NotNil(t, started.Action)
	assert.Equal(t, domain.FieldName, started.Action.TargetField)

	turn := postTurn(t, srv, map[string]any{
		"state":       started.State,
		"userMessage": "Rahul, rahul@example.com",
	})
	require.Equal(t, http.StatusOK, turn.StatusCode)
	got := decodeTurn(t, turn)
	assert.Equal(t, 1, got.State.TurnCount)
	assert.Equal(t, started.State.SessionID, got.State.SessionID)
	assert.Equal(t, "rahul@example.com", got.State.Field(domain.FieldEmail).Value.String())
	assert.Equal(t, "context", got.State.ActivePhase)
}

func TestTurnRejectsMalformedInput(t *testing.T) {
	srv := newTestServer(t, NewHandler(offlineProcessor(), nil, nil, nil, nil))

	resp, err := http.Post(srv.URL+"/api/interview/turn", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	empty := postTurn(t, srv, map[string]any{"userMessage": ""})
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)

	badID := postTurn(t, srv, map[string]any{"userMessage": "hi", "state": map[string]any{"sessionId": "../etc"}})
	assert.Equal(t, http.StatusBadRequest, badID.StatusCode)
}

func TestTurnRejectsOversizedBody(t *testing.T) {
	h := NewHandler(offlineProcessor(), nil, nil, nil, nil)
	defer h.Close()

	body := `{"userMessage":"` + strings.Repeat("x", defaultMaxRequestBodySize) + `"}`
	rec := httptest.NewRecorder()
	h.HandleTurn(rec, httptest.NewRequest(http.MethodPost, "/api/interview/turn", strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// blockingProcessor holds a turn open until released.
type blockingProcessor struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProcessor) Start(context.Context, string) (*engine.TurnResponse, error) {
	return &engine.TurnResponse{}, nil
}

func (p *blockingProcessor) ProcessTurn(_ context.Context, req engine.TurnRequest) (*engine.TurnResponse, error) {
	p.entered <- struct{}{}
	<-p.release
	st := req.State.Clone()
	st.TurnCount++
	return &engine.TurnResponse{Message: "ok", State: st}, nil
}

func TestOverlappingTurnIsRejected(t *testing.T) {
	proc := &blockingProcessor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	srv := newTestServer(t, NewHandler(proc, nil, session.NewGuard(nil, 0, nil), nil, nil))

	body := map[string]any{"state": map[string]any{"sessionId": "s-overlap"}, "userMessage": "first"}
	firstDone := make(chan int, 1)
	go func() {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		resp, err := http.Post(srv.URL+"/api/interview/turn", "application/json", &buf)
		if err != nil {
			firstDone <- 0
			return
		}
		_ = resp.Body.Close()
		firstDone <- resp.StatusCode
	}()

	select {
	case <-proc.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never started")
	}

	second := postTurn(t, srv, body)
	assert.Equal(t, http.StatusConflict, second.StatusCode)
	var errBody map[string]string
	require.NoError(t, json.NewDecoder(second.Body).Decode(&errBody))
	assert.Equal(t, "turn_in_progress", errBody["error"])

	close(proc.release)
	assert.Equal(t, http.StatusOK, <-firstDone)
}

func TestTurnRateLimited(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute},
	}
	srv := newTestServer(t, NewHandler(offlineProcessor(), nil, nil, nil, cfg))

	body := map[string]any{"state": map[string]any{"sessionId": "s-rate"}, "userMessage": "hello"}
	assert.Equal(t, http.StatusOK, postTurn(t, srv, body).StatusCode)
	assert.Equal(t, http.StatusOK, postTurn(t, srv, body).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, postTurn(t, srv, body).StatusCode)

	other := map[string]any{"state": map[string]any{"sessionId": "s-other"}, "userMessage": "hello"}
	assert.Equal(t, http.StatusOK, postTurn(t, srv, other).StatusCode)
}

func TestTurnRateLimitSurvivesNewSessionIDs(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute},
	}
	h := NewHandler(offlineProcessor(), nil, nil, nil, cfg)
	defer h.Close()

	turn := func(sessionID string) error {
		state := domain.ConversationState{SessionID: sessionID}
		_, err := h.RunTurn(context.Background(), "client-1", engine.TurnRequest{State: state, UserMessage: "hello"})
		return err
	}
	require.NoError(t, turn("s-one"))
	require.NoError(t, turn("s-two"))
	assert.ErrorIs(t, turn("s-three"), api.ErrRateLimited)

	_, err := h.RunTurn(context.Background(), "client-2", engine.TurnRequest{UserMessage: "hello"})
	assert.NoError(t, err)
}

func TestRateKey(t *testing.T) {
	assert.Equal(t, "client:c1", rateKey("c1", "s1"))
	assert.Equal(t, "session:s1", rateKey("", "s1"))
	assert.Equal(t, "client:anonymous", rateKey("", ""))
}

func TestGetSessionSnapshot(t *testing.T) {
	st := domain.NewConversationState("s-known", "context", "web", time.Now())
	st.TurnCount = 3
	srv := newTestServer(t, NewHandler(offlineProcessor(), memorySessions{"s-known": st}, nil, nil, nil))

	resp, err := http.Get(srv.URL + "/api/interview/sessions/s-known")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.ConversationState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 3, got.TurnCount)
	assert.Equal(t, "context", got.ActivePhase)

	missing, err := http.Get(srv.URL + "/api/interview/sessions/s-missing")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("k"))

	now = now.Add(2 * time.Minute)
	rl.evict()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.requests)
}

package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSanitizeSessionID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc-123", "abc-123"},
		{"  7f0c2a9e-1b2c-4d5e-8f90-a1b2c3d4e5f6 ", "7f0c2a9e-1b2c-4d5e-8f90-a1b2c3d4e5f6"},
		{"../../etc/passwd", ""},
		{"has space", ""},
		{strings.Repeat("a", 129), ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeSessionID(tt.in); got != tt.want {
			t.Errorf("SanitizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMiddlewareAssignsClientAndSession(t *testing.T) {
	var gotClient, gotSession string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotClient = ClientIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/interview/start?session_id=s-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidClientID(gotClient) {
		t.Errorf("Expected a valid client id, got %q", gotClient)
	}
	if gotSession != "s-1" {
		t.Errorf("Expected session s-1, got %q", gotSession)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Expected 1 cookie, got %d", len(cookies))
	}
	if cookies[0].Name != ClientCookieName || cookies[0].Value != gotClient {
		t.Errorf("Unexpected cookie %s=%s", cookies[0].Name, cookies[0].Value)
	}
	if cookies[0].Secure {
		t.Error("Expected insecure cookie in development")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	const existing = "anon_0123456789abcdef0123456789abcdef"
	var gotClient string
	h := Middleware(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotClient = ClientIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: existing})
	req.Header.Set(SessionHeaderName, "bad id!")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotClient != existing {
		t.Errorf("Expected client id %q, got %q", existing, gotClient)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	if got := IPFromRequest(req); got != "10.1.2.3" {
		t.Errorf("Expected 10.1.2.3, got %q", got)
	}

	req.RemoteAddr = "not-an-addr"
	if got := IPFromRequest(req); got != "not-an-addr" {
		t.Errorf("Expected raw remote addr, got %q", got)
	}
}

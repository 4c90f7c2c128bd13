package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"deltaneutral/pkg/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// ============ Recovery ============

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom: secret detail")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/bots", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if strings.Contains(w.Body.String(), "secret detail") {
		t.Errorf("panic value leaked to client: %s", w.Body.String())
	}
}

func TestRecovery_PassThrough(t *testing.T) {
	w := httptest.NewRecorder()
	Recovery(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

// ============ Logging ============

func TestLogging_CapturesStatus(t *testing.T) {
	var captured *responseWriter
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, w.Code)
	}
	if captured.statusCode != http.StatusTeapot || captured.written != int64(len("short and stout")) {
		t.Errorf("captured status=%d written=%d", captured.statusCode, captured.written)
	}
}

func TestLogging_HijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error from recorder without Hijacker")
	}
}

// ============ CORS ============

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		method      string
		wantAllow   string
		wantCreds   bool
		wantStatus  int
		wantHandled bool
	}{
		{"allowed origin", []string{"http://localhost:3000"}, "http://localhost:3000", http.MethodGet, "http://localhost:3000", true, http.StatusOK, true},
		{"foreign origin", []string{"http://localhost:3000"}, "http://evil.com", http.MethodGet, "", false, http.StatusOK, true},
		{"no origin", []string{"http://localhost:3000"}, "", http.MethodGet, "*", false, http.StatusOK, true},
		{"wildcard", []string{"*"}, "http://any.example", http.MethodGet, "http://any.example", true, http.StatusOK, true},
		{"empty list", nil, "http://any.example", http.MethodGet, "http://any.example", true, http.StatusOK, true},
		{"preflight", []string{"http://localhost:3000"}, "http://localhost:3000", http.MethodOptions, "http://localhost:3000", true, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled := false
			handler := CORS(tt.origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
			}))

			req := httptest.NewRequest(tt.method, "/api/v1/accounts", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCreds)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if handled != tt.wantHandled {
				t.Errorf("handler called = %v, want %v", handled, tt.wantHandled)
			}
		})
	}
}

// ============ Auth ============

func TestAuth(t *testing.T) {
	hash, err := crypto.HashToken("s3cret-token", 4)
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	handler := Auth(hash)(okHandler())

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{"valid bearer", "Bearer s3cret-token", "", http.StatusOK},
		{"valid bearer lowercase scheme", "bearer s3cret-token", "", http.StatusOK},
		{"valid again from cache", "Bearer s3cret-token", "", http.StatusOK},
		{"wrong token", "Bearer nope", "", http.StatusUnauthorized},
		{"basic scheme", "Basic czNjcmV0LXRva2Vu", "", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
		{"query token", "", "s3cret-token", http.StatusOK},
		{"wrong query token", "", "nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/bots"
			if tt.query != "" {
				target += "?" + TokenQueryParam + "=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate")
			}
		})
	}
}

func TestAuth_DisabledWithoutHash(t *testing.T) {
	w := httptest.NewRecorder()
	Auth("")(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/bots", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

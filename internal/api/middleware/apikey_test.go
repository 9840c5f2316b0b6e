package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manatap/triage/internal/api/middleware"
)

// authProbe records whether the request reached the handler authenticated.
func authProbe(authenticated *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*authenticated = middleware.IsAuthenticated(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"", "  "})
	if auth.Enabled() {
		t.Error("Expected auth to be disabled with only blank keys")
	}

	var authed bool
	handler := auth.Middleware(authProbe(&authed))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Disabled auth: status = %d, want %d", w.Code, http.StatusOK)
	}
	if authed {
		t.Error("request without key marked authenticated")
	}
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"test-key-1", "test-key-2"})
	if !auth.Enabled() {
		t.Fatal("Expected auth to be enabled")
	}

	var authed bool
	handler := auth.Middleware(authProbe(&authed))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req.Header.Set("Authorization", "Bearer test-key-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Valid Bearer key: status = %d, want %d", w.Code, http.StatusOK)
	}
	if !authed {
		t.Error("valid Bearer key not marked authenticated")
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req2.Header.Set("X-API-Key", "test-key-2")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("Valid X-API-Key: status = %d, want %d", w2.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_Rejects(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"valid-key"})
	var authed bool
	handler := auth.Middleware(authProbe(&authed))

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"missing", "", ""},
		{"wrong bearer", "Authorization", "Bearer wrong-key"},
		{"wrong x-api-key", "X-API-Key", "nope"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/usage", nil)
		if tt.header != "" {
			req.Header.Set(tt.header, tt.value)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestAPIKeyAuth_PublicPaths(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"secret"})
	var authed bool
	handler := auth.Middleware(authProbe(&authed))

	for _, path := range []string{"/health", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Public path %s: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

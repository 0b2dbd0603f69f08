package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:   "test-secret",
		Enabled:     true,
		PublicPaths: []string{"/v1/health"},
		AdminPaths:  []string{"/v1/jobs"},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_PublicPathBypassesAuth(t *testing.T) {
	mw := AuthMiddleware(newAuthConfig())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for public path without token, got %d", rec.Code)
	}
}

func TestAuthMiddleware_MissingTokenRejected(t *testing.T) {
	mw := AuthMiddleware(newAuthConfig())(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rec.Code)
	}
}

func TestAuthMiddleware_ValidTokenWithoutOperatorRoleRejectedOnAdminPath(t *testing.T) {
	cfg := newAuthConfig()
	mw := AuthMiddleware(cfg)(okHandler())

	token, err := GenerateToken("user-1", []string{"viewer"}, cfg.JWTSecret)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-operator on admin path, got %d", rec.Code)
	}
}

func TestAuthMiddleware_OperatorRoleAllowedOnAdminPath(t *testing.T) {
	cfg := newAuthConfig()
	mw := AuthMiddleware(cfg)(okHandler())

	token, err := GenerateToken("user-1", []string{"operator"}, cfg.JWTSecret)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator on admin path, got %d", rec.Code)
	}
}

func TestAuthMiddleware_WrongSecretRejected(t *testing.T) {
	cfg := newAuthConfig()
	mw := AuthMiddleware(cfg)(okHandler())

	token, err := GenerateToken("user-1", []string{"operator"}, "wrong-secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token signed with wrong secret, got %d", rec.Code)
	}
}

func TestAuthMiddleware_DisabledSkipsAllChecks(t *testing.T) {
	cfg := newAuthConfig()
	cfg.Enabled = false
	mw := AuthMiddleware(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when auth disabled, got %d", rec.Code)
	}
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

var testSecret = []byte("test-secret-key-for-middleware")

func generateTestToken(t *testing.T, userID, role, tokenType string, expired bool) string {
	t.Helper()
	claims := &Claims{
		UserID:    userID,
		Email:     "test@example.com",
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func newTestAuth(skip ...string) *AuthMiddleware {
	return NewAuthMiddleware(testSecret, logger.NewDefault("test"), skip)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	m := newTestAuth()
	token := generateTestToken(t, "user-123", "CLIENT", TokenTypeAccess, false)

	var gotUser, gotRole string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		gotRole = GetUserRole(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if gotUser != "user-123" || gotRole != "CLIENT" {
		t.Fatalf("identity = %q/%q", gotUser, gotRole)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	m := newTestAuth()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called")
	}))

	otherSecret, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "u", TokenType: TokenTypeAccess}).
		SignedString([]byte("another-secret"))

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"garbage token":  "Bearer not-a-token",
		"expired":        "Bearer " + generateTestToken(t, "u1", "CLIENT", TokenTypeAccess, true),
		"refresh token":  "Bearer " + generateTestToken(t, "u1", "CLIENT", TokenTypeRefresh, false),
		"wrong secret":   "Bearer " + otherSecret,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rr.Code)
			}
		})
	}
}

func TestAuthMiddleware_SkipPaths(t *testing.T) {
	m := newTestAuth("/health", "/api/public/*")
	called := 0
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/api/public/categories", "/api/public/kb/articles"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/requests", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("preflight should pass through, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("exact skip path must not match by prefix, got %d", rr.Code)
	}
	if called != 4 {
		t.Fatalf("handler called %d times, want 4", called)
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{UserID: "u1", TokenType: TokenTypeAccess}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(testSecret, raw, TokenTypeAccess); err == nil {
		t.Fatalf("expected alg none to be rejected")
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("ADMIN", "SUPER_ADMIN")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		userID string
		role   string
		want   int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"client", "u1", "CLIENT", http.StatusForbidden},
		{"admin", "u2", "ADMIN", http.StatusOK},
		{"lowercase super admin", "u3", "super_admin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			if tt.userID != "" {
				req = req.WithContext(WithIdentity(context.Background(), tt.userID, tt.role))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRequireUserID(t *testing.T) {
	handler := RequireUserID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(WithIdentity(context.Background(), "u1", ""))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestIsAdminRole(t *testing.T) {
	if !IsAdminRole("admin") || !IsAdminRole("SUPER_ADMIN") || IsAdminRole("PROFESSIONAL") {
		t.Fatalf("unexpected admin role classification")
	}
}

// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims represents JWT claims issued at login.
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 token and checks its token_type.
func ParseToken(secret []byte, raw, tokenType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if tokenType != "" && claims.TokenType != tokenType {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "unexpected token type")
	}
	if claims.UserID == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing user id")
	}
	return claims, nil
}

// AuthMiddleware provides JWT authentication
type AuthMiddleware struct {
	secret    []byte
	logger    *logger.Logger
	skipPaths map[string]bool
	prefixes  []string
}

// NewAuthMiddleware creates a new authentication middleware. Skip paths
// ending in "*" match by prefix.
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	var prefixes []string
	for _, path := range skipPaths {
		if strings.HasSuffix(path, "*") {
			prefixes = append(prefixes, strings.TrimSuffix(path, "*"))
			continue
		}
		skip[path] = true
	}

	return &AuthMiddleware{
		secret:    secret,
		logger:    log,
		skipPaths: skip,
		prefixes:  prefixes,
	}
}

func (m *AuthMiddleware) skipped(path string) bool {
	if m.skipPaths[path] {
		return true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("Missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
			return
		}

		claims, err := ParseToken(m.secret, strings.TrimSpace(parts[1]), TokenTypeAccess)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithIdentity(r.Context(), claims.UserID, claims.Role)
		m.logger.WithContext(ctx).WithField("role", claims.Role).Debug("authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("authentication failed")
}

// WithIdentity stores the authenticated user in ctx.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, logger.UserIDKey, userID)
	if role != "" {
		ctx = context.WithValue(ctx, logger.RoleKey, role)
	}
	return ctx
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(logger.UserIDKey).(string)
	return v
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	v, _ := ctx.Value(logger.RoleKey).(string)
	return v
}

// IsAdminRole reports whether role grants administrative access.
func IsAdminRole(role string) bool {
	role = strings.ToUpper(role)
	return role == "ADMIN" || role == "SUPER_ADMIN"
}

// RequireUserID middleware ensures user ID is present in context
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose role is not listed with 403.
func RequireRole(roles ...string) mux.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[strings.ToUpper(role)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r.Context()) == "" {
				httputil.WriteError(w, r, errors.Unauthorized("Authentication required"))
				return
			}
			if !allowed[strings.ToUpper(GetUserRole(r.Context()))] {
				httputil.WriteError(w, r, errors.Forbidden("Insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

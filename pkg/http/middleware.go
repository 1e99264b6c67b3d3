package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/auth"
	"salescoach-server/pkg/errors"
)

type contextKey string

const userContextKey contextKey = "user"

// AuthMiddleware provides JWT authentication for HTTP handlers
type AuthMiddleware struct {
	authenticator *auth.Authenticator
	logger        *logrus.Logger
	enabled       bool
	exemptPaths   []string
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authenticator *auth.Authenticator, enabled bool, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		logger:        logger,
		enabled:       enabled,
		exemptPaths: []string{
			"/health",
			"/metrics",
			"/status",
			"/api/auth/login",
			"/api/auth/register",
		},
	}
}

// Middleware returns the authentication middleware handler
func (am *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !am.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if am.isPathExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := am.Authenticate(r)
		if err != nil {
			am.logger.WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"method": r.Method,
			}).Warning("Authentication failed")

			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), userContextKey, claims)))
	})
}

// Authenticate validates the bearer token on a request. WebSocket requests
// may carry the token as a query parameter since browsers cannot set
// headers on WebSocket handshakes.
func (am *AuthMiddleware) Authenticate(r *http.Request) (*auth.Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := am.authenticator.ValidateToken(token)
		if err == nil {
			return claims, nil
		}
		am.logger.WithError(err).Debug("JWT authentication failed")
	}

	if token := r.URL.Query().Get("token"); token != "" && isWebSocketRequest(r) {
		claims, err := am.authenticator.ValidateToken(token)
		if err == nil {
			return claims, nil
		}
		am.logger.WithError(err).Debug("JWT query param authentication failed")
	}

	return nil, errors.ErrUnauthenticated
}

// Enabled reports whether authentication is enforced.
func (am *AuthMiddleware) Enabled() bool {
	return am.enabled
}

func (am *AuthMiddleware) isPathExempt(path string) bool {
	for _, exempt := range am.exemptPaths {
		if path == exempt || strings.HasPrefix(path, exempt+"/") {
			return true
		}
	}
	return false
}

func isWebSocketRequest(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}

	for _, token := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}

	return false
}

// UserFromContext extracts the authenticated user claims from a request context
func UserFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(userContextKey).(*auth.Claims)
	return claims, ok
}

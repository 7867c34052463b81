package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// StreamPath accepts the token as an access_token query parameter, since
// browser EventSource cannot set headers.
const StreamPath = "/api/v1/stream"

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret []byte
	Policy Policy
	Logger zerolog.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, logger zerolog.Logger) *Middleware {
	return &Middleware{Secret: secret, Policy: policy, Logger: logger}
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(extractToken(r), m.Secret)
		if err != nil {
			m.Logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejecting request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.Logger.Info().
				Str("subject", claims.Subject).
				Str("role", string(role)).
				Str("required", string(required)).
				Str("path", r.URL.Path).
				Msg("forbidden")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), role, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if token := extractBearer(r); token != "" {
		return token
	}
	if r.URL.Path == StreamPath {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// Identity headers the gateway injects for upstream services.
const (
	HeaderUserID          = "x-user-id"
	HeaderUserEmail       = "x-user-email"
	HeaderUserRole        = "x-user-role"
	HeaderTeamID          = "x-team-id"
	HeaderUserPermissions = "x-user-permissions"
)

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrInvalidAuthFormat
	}
	return parts[1], nil
}

// Middleware provides route-level auth guards. It is thin and delegates
// token validation to the TokenVerifier.
type Middleware struct {
	verifier TokenVerifier
	version  string
	logger   *zap.Logger
}

// NewMiddleware creates auth middleware around a verifier.
func NewMiddleware(verifier TokenVerifier, version string, logger *zap.Logger) *Middleware {
	return &Middleware{verifier: verifier, version: version, logger: logger}
}

// Authenticate requires a valid bearer token and stores the derived
// AuthContext in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r)
		if err != nil {
			m.deny(w, r, apperrors.KindAuthentication, "authentication required")
			return
		}
		claims, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Debug("token verification failed",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.deny(w, r, apperrors.KindAuthentication, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), claims.AuthContext())))
	})
}

// OptionalAuthenticate verifies a token when present and passes anonymous
// requests through untouched. An invalid token is still rejected.
func (m *Middleware) OptionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, err := BearerToken(r)
		if err != nil {
			m.deny(w, r, apperrors.KindAuthentication, "invalid authorization header")
			return
		}
		claims, err := m.verifier.Verify(token)
		if err != nil {
			m.deny(w, r, apperrors.KindAuthentication, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), claims.AuthContext())))
	})
}

// Authorize requires the authenticated role to be at least min. It must
// run after Authenticate.
func (m *Middleware) Authorize(min models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := GetAuthContext(r.Context())
			if !ok {
				m.deny(w, r, apperrors.KindAuthentication, "authentication required")
				return
			}
			if !ac.Role.AtLeast(min) {
				m.logger.Warn("insufficient role",
					zap.String("user_id", ac.UserID),
					zap.String("role", string(ac.Role)),
					zap.String("required", string(min)),
					zap.String("path", r.URL.Path))
				m.deny(w, r, apperrors.KindAuthorization, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwnership restricts a user-scoped route to its owner. The path
// parameter named param must equal the authenticated user id unless the
// caller's role is at least admin.
func (m *Middleware) RequireOwnership(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := GetAuthContext(r.Context())
			if !ok {
				m.deny(w, r, apperrors.KindAuthentication, "authentication required")
				return
			}
			owner := r.PathValue(param)
			if owner != "" && owner != ac.UserID && !ac.Role.AtLeast(models.RoleAdmin) {
				m.deny(w, r, apperrors.KindAuthorization, "access restricted to resource owner")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FromHeaders builds the AuthContext from the gateway-injected x-user-*
// headers. Backend services sit behind the gateway and trust these
// headers instead of re-verifying tokens.
func FromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := models.Role(r.Header.Get(HeaderUserRole))
		if !role.Valid() {
			role = models.RoleUser
		}
		ac := &models.AuthContext{
			UserID: userID,
			Email:  r.Header.Get(HeaderUserEmail),
			Role:   role,
		}
		if team := r.Header.Get(HeaderTeamID); team != "" {
			ac.TeamID = &team
		}
		if perms := r.Header.Get(HeaderUserPermissions); perms != "" {
			ac.Permissions = strings.Split(perms, ",")
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// RequireIdentity rejects requests that carry no identity. Used by backend
// services on routes the gateway always authenticates.
func RequireIdentity(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := GetAuthContext(r.Context()); !ok {
				writeDenied(w, r, apperrors.KindAuthentication, "authentication required", version)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) deny(w http.ResponseWriter, r *http.Request, kind apperrors.Kind, message string) {
	writeDenied(w, r, kind, message, m.version)
}

// writeDenied emits the platform error envelope without importing the
// handlers package (which depends on auth).
func writeDenied(w http.ResponseWriter, r *http.Request, kind apperrors.Kind, message, version string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    string(kind),
			"message": message,
		},
		"meta": map[string]any{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"request_id": w.Header().Get("x-request-id"),
			"version":    version,
		},
	})
}

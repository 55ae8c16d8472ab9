// Package auth provides bearer-token verification and role guards for the
// pgai services. The gateway verifies JWTs and propagates identity to
// upstreams via x-user-* headers; backend services trust those headers.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// authContextKey is the context key for the verified identity.
const authContextKey contextKey = "auth_context"

// Claims is the JWT claims structure issued by the user service.
type Claims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	TeamID      string   `json:"team_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// AuthContext converts claims into the identity value threaded through
// request handling. An empty role defaults to user.
func (c *Claims) AuthContext() *models.AuthContext {
	role := models.Role(c.Role)
	if !role.Valid() {
		role = models.RoleUser
	}
	ac := &models.AuthContext{
		UserID:      c.Subject,
		Email:       c.Email,
		Role:        role,
		Permissions: c.Permissions,
	}
	if c.TeamID != "" {
		team := c.TeamID
		ac.TeamID = &team
	}
	return ac
}

// WithAuthContext returns a child context carrying the verified identity.
func WithAuthContext(ctx context.Context, ac *models.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// GetAuthContext retrieves the verified identity from the request context.
// Returns nil and false for anonymous requests.
func GetAuthContext(ctx context.Context) (*models.AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*models.AuthContext)
	return ac, ok
}

// GetUserID returns the authenticated user id or empty for anonymous
// requests.
func GetUserID(ctx context.Context) string {
	if ac, ok := GetAuthContext(ctx); ok {
		return ac.UserID
	}
	return ""
}

package auth

import (
	"context"
	"time"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDoctor    Role = "doctor"
	RoleCaregiver Role = "caregiver"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleAdmin, RoleDoctor, RoleCaregiver:
		return r, true
	}
	return "", false
}

// RequiresCustomID reports whether accounts with this role must carry a
// 3-digit custom ID.
func (r Role) RequiresCustomID() bool {
	return r == RoleDoctor || r == RoleCaregiver
}

// Session is the verified identity behind a request. It is built by the
// Authenticate middleware from the token and the current user record, and is
// the only source of scope for ownership checks.
type Session struct {
	UserID    string
	Role      Role
	CustomID  *int
	TokenID   string
	ExpiresAt time.Time
}

func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

type contextKey string

const sessionKey contextKey = "session"

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the request session, or nil for anonymous
// requests.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}

func UserIDFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.UserID
	}
	return ""
}

func RoleFromContext(ctx context.Context) Role {
	if s := SessionFromContext(ctx); s != nil {
		return s.Role
	}
	return ""
}

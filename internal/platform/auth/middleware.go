package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apierr"
)

// SessionResolver loads the current state of the token subject. It returns an
// apierr NotFound error when the account no longer exists.
type SessionResolver interface {
	ResolveSession(ctx context.Context, userID string) (*Session, error)
}

type Config struct {
	Tokens      *TokenIssuer
	Revocations RevocationStore
	Resolver    SessionResolver
	Skipper     func(echo.Context) bool
	Logger      zerolog.Logger
}

// Authenticate verifies the bearer token and places the resolved Session in
// the request context. It fails closed: a missing, malformed, expired,
// revoked or orphaned token yields 401. Role and custom ID come from the
// stored user, not the token, so promotions and deletions apply immediately.
func Authenticate(cfg Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return apierr.Unauthenticated("missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return apierr.Unauthenticated("invalid authorization format")
			}

			claims, err := cfg.Tokens.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				return apierr.Unauthenticated("invalid or expired token")
			}

			ctx := c.Request().Context()
			if cfg.Revocations != nil {
				revoked, err := cfg.Revocations.IsRevoked(ctx, claims.ID)
				if err != nil {
					cfg.Logger.Error().Err(err).Str("jti", claims.ID).Msg("revocation lookup failed")
					return apierr.Unauthenticated("unable to verify token")
				}
				if revoked {
					return apierr.Unauthenticated("token has been revoked")
				}
			}

			session, err := cfg.Resolver.ResolveSession(ctx, claims.Subject)
			if err != nil {
				if apierr.KindOf(err) == apierr.KindNotFound {
					return apierr.Unauthenticated("account no longer exists")
				}
				return err
			}
			session.TokenID = claims.ID
			session.ExpiresAt = claims.ExpiresAt.Time

			c.SetRequest(c.Request().WithContext(WithSession(ctx, session)))
			return next(c)
		}
	}
}

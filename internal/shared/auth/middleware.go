package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/response"
)

type contextKey string

const (
	IdentityContextKey contextKey = "identity"
)

// Resolver turns a session token into the caller's identity. It returns an
// Unauthorized AppError for unknown, expired or revoked sessions.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*authz.Identity, error)
}

// Middleware resolves the session token when one is present and stores the
// identity in the request context. Requests without a valid session pass
// through anonymous; RequireSession decides whether that is acceptable.
func Middleware(resolver Resolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if !errors.Is(err, errors.ErrUnauthorized) {
					response.Error(w, r, err)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			logger := zerolog.Ctx(ctx).With().
				Str("user_id", identity.Principal.UserID().String()).
				Str("role", string(identity.Principal.Role())).
				Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
		})
	}
}

// TokenFromRequest reads the session token from the session cookie, falling
// back to an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity *authz.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// GetIdentity extracts the identity from request context
func GetIdentity(ctx context.Context) *authz.Identity {
	identity, ok := ctx.Value(IdentityContextKey).(*authz.Identity)
	if !ok {
		return nil
	}
	return identity
}

// RequireSession rejects anonymous requests with 401 and the given message.
func RequireSession(message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetIdentity(r.Context()) == nil {
				response.Error(w, r, errors.Unauthorized(message))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdminArea admits ADMIN, INTERNAL_STAFF and ATTORNEY. Anonymous
// callers get 401 with unauthenticated, other roles 403 with denied.
func RequireAdminArea(unauthenticated, denied string) func(http.Handler) http.Handler {
	return requireRole(authz.CanAccessAdminArea, unauthenticated, denied)
}

// RequireStaffManager admits ADMIN only.
func RequireStaffManager(unauthenticated, denied string) func(http.Handler) http.Handler {
	return requireRole(authz.CanManageStaff, unauthenticated, denied)
}

func requireRole(allowed func(authz.Role) bool, unauthenticated, denied string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			if identity == nil {
				response.Error(w, r, errors.Unauthorized(unauthenticated))
				return
			}
			if !allowed(identity.Principal.Role()) {
				response.Error(w, r, errors.Forbidden(denied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/logging"
	"github.com/geosot/gridindex/telemetry"
)

type claimsKey struct{}

// RequireScope admits requests whose bearer token is valid and grants
// scope. The verified claims are put in the request context. A nil manager
// disables the check.
func RequireScope(m *JWTManager, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims, err := m.authenticate(r)
			if err == nil && !claims.HasScope(scope) {
				err = apperrors.Forbidden("token lacks scope " + scope)
			}
			if err != nil {
				logging.FromContext(ctx).Debug("write rejected", "path", r.URL.Path, "scope", scope, "reason", err.Error())
				apperrors.WriteError(w, err, telemetry.TraceID(ctx))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
		})
	}
}

func (m *JWTManager) authenticate(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, apperrors.Unauthorized("")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, apperrors.Unauthorized("invalid authorization header format")
	}

	claims, err := m.ValidateToken(token)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return nil, apperrors.Unauthorized("token expired")
	case err != nil:
		return nil, apperrors.Unauthorized("invalid token")
	}
	return claims, nil
}

// GetClaims returns the verified claims, or nil on unauthenticated requests.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

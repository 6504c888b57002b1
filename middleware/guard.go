package middleware

import (
	"context"
	"net/http"
	"strings"

	authbroker "github.com/polyfactor/authbroker"
	"github.com/polyfactor/authbroker/jwt"
)

type sessionClaimsContextKey struct{}

// ClaimsFromContext returns the verified session claims stored by Guard.
func ClaimsFromContext(ctx context.Context) (*jwt.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionClaimsContextKey{}).(*jwt.SessionClaims)
	return claims, ok
}

// Guard verifies the bearer token and rejects sessions that still carry a
// pending flag. Handlers that should accept half-authenticated tokens (the
// TOTP step-up endpoint, the validation confirm endpoint) must sit outside
// the guard.
func Guard(broker *authbroker.Broker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if broker == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := broker.VerifySession(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if claims.TOTPPending || claims.ValidationPending {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/healwise/apiserver/types"
)

// legacyTokenHeader is accepted alongside Authorization for older clients.
const legacyTokenHeader = "x-auth-token"

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	Verify(token string) (types.Identity, error)
}

// RequireAuth enforces token authentication and injects the identity into
// the request context.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := requestToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			identity, err := verifier.Verify(tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextIdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by RequireAuth.
func IdentityFromContext(ctx context.Context) (types.Identity, bool) {
	identity, ok := ctx.Value(contextIdentityKey).(types.Identity)
	if !ok || identity.ID < 1 {
		return types.Identity{}, false
	}
	return identity, true
}

func requestToken(r *http.Request) (string, error) {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		return bearerToken(auth)
	}
	if token := strings.TrimSpace(r.Header.Get(legacyTokenHeader)); token != "" {
		return token, nil
	}
	return "", errors.New("missing authorization")
}

func bearerToken(auth string) (string, error) {
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"crmdesk.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// TokenVerifier resolves an access token to claims; *auth.Service implements it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*auth.Claims, error)
}

// Authenticate extracts the access token from the Authorization header or
// the accessToken cookie, verifies it and stores the claims in the context.
func Authenticate(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := tokenFromRequest(r)
			if err != nil {
				writeError(w, r, auth.AuthenticationRequired())
				return
			}
			claims, err := v.VerifyToken(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = auth.ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get(authHeader); strings.TrimSpace(h) != "" {
		return extractBearerToken(h)
	}
	if c := cookieValue(r, accessCookie); c != "" {
		return c, nil
	}
	return "", errors.New("missing bearer token")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

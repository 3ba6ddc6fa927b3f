package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or shadow the
// claims stored under it.
type contextKey string

const claimsKey contextKey = "claims"

// TokenParam is the name under which the session token travels in the query
// string, a form body or a cookie.
const TokenParam = "token"

var errNoToken = errors.New("auth: no token in request")

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It looks for a token in this order:
//  1. Authorization: Bearer <token>
//  2. ?token=<token> (the OAuth callback lands the browser here with it)
//  3. a "token" field of a form POST
//  4. a "token" cookie
//
// A missing or invalid token stops the chain with 401.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromRequest(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"Could not validate credentials"}`))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims RequireAuth stored, or (nil, false)
// for an unauthenticated request.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// WithClaims returns a copy of ctx carrying c. Handler tests use it to skip
// the middleware.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// TokenFromRequest extracts the raw token string, or "" if none is present.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	if t := r.URL.Query().Get(TokenParam); t != "" {
		return t
	}
	// PostFormValue only reads url-encoded and multipart bodies; JSON bodies
	// are left untouched for the handler.
	if r.Method == http.MethodPost {
		if t := r.PostFormValue(TokenParam); t != "" {
			return t
		}
	}
	if c, err := r.Cookie(TokenParam); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

func claimsFromRequest(r *http.Request, tokens *TokenService) (*Claims, error) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return nil, errNoToken
	}
	return tokens.Validate(raw)
}

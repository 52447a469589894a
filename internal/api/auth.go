package api

import (
	"context"
	"net/http"

	"github.com/recelilious/Anicargo/internal/apierr"
	"github.com/recelilious/Anicargo/internal/auth"
)

type ctxKey string

const claimsCtxKey ctxKey = "auth_claims"

func contextWithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, c)
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsCtxKey).(*auth.Claims)
	return c
}

// authenticate verifies the bearer token and, on success, attaches the decoded claims to the request
// context for downstream handlers. Missing/invalid/expired ⇒ 401.
func (a *API) authenticate(r *http.Request, override string) (*http.Request, error) {
	token := auth.ExtractToken(r, override)
	if token == "" {
		return r, apierr.Unauthorized("missing token")
	}
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return r, apierr.Unauthorized("invalid or expired token")
	}
	return r.WithContext(contextWithClaims(r.Context(), claims)), nil
}

// requireAuth is a handler wrapper, not a chi middleware, that authenticates
// from the Authorization header only (no token override); handlers that
// accept a path-embedded HLS token call authenticate directly.
func (a *API) requireAuth(next func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2, err := a.authenticate(r, "")
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r2, claimsFromContext(r2.Context()))
	}
}

// requireAdmin additionally enforces a hidden-admin policy: privilege
// denial renders as 404, not 403, so unauthenticated or under-privileged
// callers cannot distinguish "doesn't exist" from "not allowed to see this."
func (a *API) requireAdmin(next func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		if !auth.IsAdmin(claims.RoleLevel) {
			writeError(w, r, apierr.NotFound("not found"))
			return
		}
		next(w, r, claims)
	})
}

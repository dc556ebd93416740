package httpapi

import (
	"errors"
	"net/http"

	"crmdesk.io/internal/auth"
)

// ErrEntityNotFound is returned by an EntityLookup when the target is absent.
var ErrEntityNotFound = errors.New("entity not found")

// EntityLookup resolves the assignees of the entity a request targets.
type EntityLookup func(r *http.Request) (auth.Assignees, error)

// RequireRole admits callers whose role is in roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return gate(func(r *http.Request, claims *auth.Claims) error {
		return auth.Authorize(claims, roles...)
	})
}

// RequireUpperRole admits COMPANY_LEADER, MANAGER and TEAM_LEADER.
func RequireUpperRole() func(http.Handler) http.Handler {
	return gate(func(r *http.Request, claims *auth.Claims) error {
		return auth.AuthorizeUpper(claims)
	})
}

// RequireAssigneeOrUpperRole admits elevated roles outright and everyone else
// only when assigned to the entity lookup resolves.
func RequireAssigneeOrUpperRole(lookup EntityLookup) func(http.Handler) http.Handler {
	return gate(func(r *http.Request, claims *auth.Claims) error {
		if claims == nil {
			return auth.AuthenticationRequired()
		}
		assignees, err := lookup(r)
		if errors.Is(err, ErrEntityNotFound) {
			return auth.NotFound("Resource not found")
		}
		if err != nil {
			return err
		}
		return auth.AuthorizeAssignee(claims, assignees)
	})
}

func gate(check func(*http.Request, *auth.Claims) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := auth.ClaimsFromContext(r.Context())
			if err := check(r, claims); err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package auth

import "strings"

// Authorize checks the caller's role against allowed. A nil claims value
// means the request is unauthenticated.
func Authorize(claims *Claims, allowed ...Role) error {
	if claims == nil {
		return AuthenticationRequired()
	}
	for _, r := range allowed {
		if claims.Role == r {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, r := range allowed {
		names[i] = string(r)
	}
	e := PermissionDenied("Insufficient permissions")
	e.Details = map[string]any{"required": strings.Join(names, ",")}
	return e
}

// AuthorizeUpper admits the elevated roles only.
func AuthorizeUpper(claims *Claims) error {
	return Authorize(claims, upperRoles...)
}

// AuthorizeAssignee admits elevated roles unconditionally and everyone else
// only when they are the primary or secondary assignee.
func AuthorizeAssignee(claims *Claims, a Assignees) error {
	if claims == nil {
		return AuthenticationRequired()
	}
	if claims.Role.Upper() || a.Includes(claims.UserID) {
		return nil
	}
	return PermissionDenied("Access restricted to assignees")
}

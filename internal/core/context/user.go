// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// AuthenticatedUser is the typed identity resolved at the HTTP boundary.
// Domain services receive it explicitly and never inspect raw tokens.
type AuthenticatedUser struct {
	ID    int64
	Email string
	Roles []string

	// Override is the global capability that bypasses per-count assignments.
	Override bool
}

// IsZero reports whether no user has been resolved.
func (u AuthenticatedUser) IsZero() bool {
	return u.ID == 0
}

type userContextKey struct{}

// WithUser adds AuthenticatedUser to context.
func WithUser(ctx context.Context, user AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns AuthenticatedUser from context.
func GetUser(ctx context.Context) (AuthenticatedUser, bool) {
	u, ok := ctx.Value(userContextKey{}).(AuthenticatedUser)
	return u, ok
}

// GetUserID returns user ID from context or 0.
func GetUserID(ctx context.Context) int64 {
	if u, ok := GetUser(ctx); ok {
		return u.ID
	}
	return 0
}

// HasRole checks if user has specific role.
func HasRole(ctx context.Context, role string) bool {
	u, ok := GetUser(ctx)
	if !ok {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

package security

import (
	"context"
	"fmt"

	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/id"
)

// GrantLookup resolves the capabilities stored on a user's count assignment.
// ok is false when the user is not assigned to the count at all.
type GrantLookup interface {
	GrantFor(ctx context.Context, countID id.ID, userID int64) (grant Grant, ok bool, err error)
}

// AssignmentAccess answers capability checks from count assignments.
// A user holding the override capability passes every check.
type AssignmentAccess struct {
	grants GrantLookup
}

// NewAssignmentAccess creates an AssignmentAccess over the given lookup.
func NewAssignmentAccess(grants GrantLookup) *AssignmentAccess {
	return &AssignmentAccess{grants: grants}
}

// HasOverride reports whether user holds the global override capability.
func (a *AssignmentAccess) HasOverride(user appctx.AuthenticatedUser) bool {
	return user.Override
}

// HasCapability reports whether user may exercise c on countID.
func (a *AssignmentAccess) HasCapability(ctx context.Context, user appctx.AuthenticatedUser, countID id.ID, c Capability) (bool, error) {
	if user.Override {
		return true, nil
	}
	if user.IsZero() || !c.Valid() {
		return false, nil
	}

	grant, ok, err := a.grants.GrantFor(ctx, countID, user.ID)
	if err != nil {
		return false, fmt.Errorf("lookup assignment: %w", err)
	}
	return ok && grant.Has(c), nil
}

// IsAssigned reports whether user appears on the count with any capability.
func (a *AssignmentAccess) IsAssigned(ctx context.Context, user appctx.AuthenticatedUser, countID id.ID) (bool, error) {
	if user.Override {
		return true, nil
	}
	grant, ok, err := a.grants.GrantFor(ctx, countID, user.ID)
	if err != nil {
		return false, fmt.Errorf("lookup assignment: %w", err)
	}
	return ok && grant.Any(), nil
}

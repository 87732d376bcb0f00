package security

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tireshop/internal/core/apperror"
	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/id"
)

type stubGrants struct {
	grants map[int64]Grant
	err    error
}

func (s stubGrants) GrantFor(_ context.Context, _ id.ID, userID int64) (Grant, bool, error) {
	if s.err != nil {
		return Grant{}, false, s.err
	}
	g, ok := s.grants[userID]
	return g, ok, nil
}

func TestAssignmentAccess_HasCapability(t *testing.T) {
	countID := id.New()
	access := NewAssignmentAccess(stubGrants{grants: map[int64]Grant{
		10: {Count: true},
		11: {Adjust: true, Validate: true},
	}})
	ctx := context.Background()

	tests := []struct {
		name string
		user appctx.AuthenticatedUser
		cap  Capability
		want bool
	}{
		{"counter can count", appctx.AuthenticatedUser{ID: 10}, CapabilityCount, true},
		{"counter cannot adjust", appctx.AuthenticatedUser{ID: 10}, CapabilityAdjust, false},
		{"validator can validate", appctx.AuthenticatedUser{ID: 11}, CapabilityValidate, true},
		{"unassigned user", appctx.AuthenticatedUser{ID: 99}, CapabilityCount, false},
		{"override passes everything", appctx.AuthenticatedUser{ID: 99, Override: true}, CapabilityAdjust, true},
		{"anonymous user", appctx.AuthenticatedUser{}, CapabilityCount, false},
		{"unknown capability", appctx.AuthenticatedUser{ID: 10}, Capability("delete"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := access.HasCapability(ctx, tt.user, countID, tt.cap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssignmentAccess_LookupError(t *testing.T) {
	access := NewAssignmentAccess(stubGrants{err: errors.New("db down")})

	_, err := access.HasCapability(context.Background(), appctx.AuthenticatedUser{ID: 1}, id.New(), CapabilityCount)
	require.Error(t, err)

	ok, err := access.HasCapability(context.Background(), appctx.AuthenticatedUser{ID: 1, Override: true}, id.New(), CapabilityCount)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewPermissionDenied(t *testing.T) {
	err := NewPermissionDenied(CapabilityValidate)
	assert.True(t, apperror.IsForbidden(err))
	assert.Equal(t, []string{"validate"}, err.Details["required"])

	assert.Equal(t, "override capability required", NewPermissionDenied().Message)
}

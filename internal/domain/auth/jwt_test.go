package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "tireshop/internal/core/context"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))
	user := appctx.AuthenticatedUser{ID: 42, Email: "ana@shop.test", Roles: []string{"counter"}, Override: true}

	token, expiresAt, err := svc.GenerateAccessToken(user)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestJWTService_RejectsWrongSecret(t *testing.T) {
	token, _, err := NewJWTService(DefaultJWTConfig("one")).GenerateAccessToken(appctx.AuthenticatedUser{ID: 1})
	require.NoError(t, err)

	_, err = NewJWTService(DefaultJWTConfig("two")).ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_RejectsExpired(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := svc.GenerateAccessToken(appctx.AuthenticatedUser{ID: 1})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_RejectsForeignIssuer(t *testing.T) {
	cfg := DefaultJWTConfig("secret")
	cfg.Issuer = "elsewhere"
	token, _, err := NewJWTService(cfg).GenerateAccessToken(appctx.AuthenticatedUser{ID: 1})
	require.NoError(t, err)

	_, err = NewJWTService(DefaultJWTConfig("secret")).ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_RejectsMissingUser(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))
	token, _, err := svc.GenerateAccessToken(appctx.AuthenticatedUser{})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

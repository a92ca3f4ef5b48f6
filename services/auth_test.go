package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RegisterAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.users)
	ctx := context.Background()

	user, err := auth.Register(ctx, "  alice ", "alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.False(t, user.IsAdmin)

	got, err := auth.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = auth.Authenticate(ctx, "alice", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Authenticate(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.users)
	ctx := context.Background()

	var verr *ValidationError
	_, err := auth.Register(ctx, "", "", "long enough")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "username", verr.Field)

	_, err = auth.Register(ctx, "bob", "", "short")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)

	_, err = auth.Register(ctx, "bob", "", "long enough")
	require.NoError(t, err)
	_, err = auth.Register(ctx, "bob", "", "long enough")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "username already taken", verr.Message)
}

func TestAuthService_Identity(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.users)
	admin := env.user(t, "root", true)

	id, err := auth.Identity(context.Background(), admin.UserID)
	require.NoError(t, err)
	assert.Equal(t, admin, id)

	_, err = auth.Identity(context.Background(), 999)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_SignupAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.users.Signup(ctx, " Admin@Acme.test ", "correct horse", "Admin")
	require.NoError(t, err)
	assert.Equal(t, "admin@acme.test", u.Email)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	_, err = f.users.Signup(ctx, "second@acme.test", "correct horse", "Second")
	assert.ErrorIs(t, err, ErrConflict)

	res, err := f.users.Login(ctx, "admin@acme.test", "correct horse")
	require.NoError(t, err)
	claims, err := f.users.JWTManager().Verify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	_, err = f.users.Login(ctx, "admin@acme.test", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.Login(ctx, "nobody@acme.test", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_SignupValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.users.Signup(context.Background(), "a@b.test", "short", "A")
	assert.ErrorIs(t, err, ErrMalformedInput)
	_, err = f.users.Signup(context.Background(), "", "long enough", "A")
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestUserService_PasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.users.Signup(ctx, "admin@acme.test", "correct horse", "Admin")
	require.NoError(t, err)

	token, err := f.users.InitiatePasswordReset(ctx, "admin@acme.test")
	require.NoError(t, err)
	assert.Len(t, token, 64)

	assert.ErrorIs(t, f.users.ResetPassword(ctx, "admin@acme.test", "bogus", "battery staple"), ErrInvalidCredentials)
	require.NoError(t, f.users.ResetPassword(ctx, "admin@acme.test", token, "battery staple"))

	_, err = f.users.Login(ctx, "admin@acme.test", "battery staple")
	assert.NoError(t, err)

	// Tokens are single use.
	assert.ErrorIs(t, f.users.ResetPassword(ctx, "admin@acme.test", token, "another one"), ErrInvalidCredentials)

	_, err = f.users.InitiatePasswordReset(ctx, "nobody@acme.test")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserService_ResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.users.Signup(ctx, "admin@acme.test", "correct horse", "Admin")
	require.NoError(t, err)

	token, err := f.users.InitiatePasswordReset(ctx, "admin@acme.test")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.ErrorIs(t, f.users.ResetPassword(ctx, "admin@acme.test", token, "battery staple"), ErrInvalidCredentials)
}

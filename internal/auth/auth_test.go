package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/pkg/constants"
)

func TestVerify(t *testing.T) {
	v := NewVerifier("secret", "patron")

	t.Run("valid token", func(t *testing.T) {
		token, err := v.Sign("user-1", constants.RoleAdmin, time.Minute)
		require.NoError(t, err)

		id, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", id.UserID)
		assert.True(t, id.IsAdmin())
	})

	t.Run("role defaults to user", func(t *testing.T) {
		token, err := v.Sign("user-2", "", time.Minute)
		require.NoError(t, err)

		id, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, constants.RoleUser, id.Role)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := v.Sign("user-1", constants.RoleUser, -time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewVerifier("other", "patron").Sign("user-1", constants.RoleUser, time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewVerifier("secret", "elsewhere").Sign("user-1", constants.RoleUser, time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1", Role: constants.RoleAdmin})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.Verify(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRequireAdmin(t *testing.T) {
	capability, err := RequireAdmin(Identity{UserID: "admin-1", Role: constants.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, capability.Valid())
	assert.Equal(t, "admin-1", capability.GrantedTo())

	_, err = RequireAdmin(Identity{UserID: "user-1", Role: constants.RoleUser})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	assert.False(t, AdminCapability{}.Valid())
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "user-1", Role: constants.RoleUser})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-1", id.UserID)
}

func TestRequireSelf(t *testing.T) {
	_, err := RequireSelf(context.Background(), "user-1")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	ctx := WithIdentity(context.Background(), Identity{UserID: "user-1", Role: constants.RoleUser})
	id, err := RequireSelf(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)

	_, err = RequireSelf(ctx, "user-2")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	admin := WithIdentity(context.Background(), Identity{UserID: "admin-1", Role: constants.RoleAdmin})
	_, err = RequireSelf(admin, "user-2")
	assert.NoError(t, err)
}

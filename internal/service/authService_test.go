package service

import (
	"context"
	"testing"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestAuthService_RegisterAndLogin(t *testing.T) {
	svc := NewAuthService(newFakeUserStore(), testSecret, 1)
	ctx := context.Background()

	user, err := svc.Register(ctx, "ada@example.com", "correct horse", "Ada")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.NotEqual(t, "correct horse", user.PasswordHash)

	_, err = svc.Register(ctx, "ada@example.com", "other", "Ada")
	assert.ErrorIs(t, err, ErrEmailTaken)

	token, err := svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	caller, err := svc.Caller(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), caller.ID)
	assert.Equal(t, models.RoleStudent, caller.Role)
	assert.False(t, caller.Premium)

	_, err = svc.Login(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_PremiumClaim(t *testing.T) {
	store := newFakeUserStore()
	svc := NewAuthService(store, testSecret, 1)
	ctx := context.Background()

	user, err := svc.Register(ctx, "grace@example.com", "pw", "Grace")
	require.NoError(t, err)
	require.NoError(t, svc.SetPremium(ctx, user.ID.String(), true))

	token, err := svc.Login(ctx, "grace@example.com", "pw")
	require.NoError(t, err)

	caller, err := svc.Caller(token)
	require.NoError(t, err)
	assert.True(t, caller.Premium)
}

func TestAuthService_AdminEmails(t *testing.T) {
	store := newFakeUserStore()
	ctx := context.Background()

	// registered before the address was configured
	plain := NewAuthService(store, testSecret, 1)
	existing, err := plain.Register(ctx, "ops@example.com", "pw", "Ops")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, existing.Role)

	svc := NewAuthService(store, testSecret, 1).WithAdminEmails(" OPS@example.com", "root@example.com")

	token, err := svc.Login(ctx, "ops@example.com", "pw")
	require.NoError(t, err)

	caller, err := svc.Caller(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, caller.Role)

	stored, err := svc.GetUserByID(ctx, existing.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, stored.Role)

	root, err := svc.Register(ctx, "Root@Example.com", "pw", "Root")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, root.Role)

	student, err := svc.Register(ctx, "kid@example.com", "pw", "Kid")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, student.Role)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	svc := NewAuthService(newFakeUserStore(), testSecret, 1)
	user := &models.User{Email: "a@example.com", Role: models.RoleAdmin}

	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	other := NewAuthService(newFakeUserStore(), "another-secret", 1)
	_, err = other.Caller(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// expired
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := svc.IssueToken(user)
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.Caller(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// wrong algorithm
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "x"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Caller(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Caller("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

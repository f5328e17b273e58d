package tenantauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func newTokenService() *tenantauth.TokenService {
	return tenantauth.NewTokenService(testSigningKey, 1, "tenantauth", jwt.ClaimStrings{"dashboard"}, nil)
}

func testPrincipal() tenantauth.Principal {
	return tenantauth.PrincipalFromUser(&tenantauth.User{
		ID:          uuid.MustParse("2b7a4c3e-0f4d-4d77-9d43-3f0a1c2b5e61"),
		Email:       "Ana@Acme.test",
		DisplayName: "Ana Silva",
		AvatarURL:   "https://cdn.test/ana.png",
	})
}

func TestTokenService_GenerateValidate(t *testing.T) {
	ts := newTokenService()

	token, claims, err := ts.Generate(testPrincipal())
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, time.Hour, ts.TTL())

	got, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "2b7a4c3e-0f4d-4d77-9d43-3f0a1c2b5e61", got.UserID())
	assert.Equal(t, "ana@acme.test", got.Email())
	assert.Equal(t, "Ana Silva", got.ClaimsMetadata()["display_name"])
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.Expires(), 5*time.Second)

	session := tenantauth.SessionFromClaims(token, got)
	identity := tenantauth.IdentityFromSession(session)
	require.NotNil(t, identity)
	assert.Equal(t, "Ana Silva", identity.Name)
	assert.Equal(t, "https://cdn.test/ana.png", identity.AvatarURL)
}

func TestTokenService_GenerateRequiresPrincipal(t *testing.T) {
	_, _, err := newTokenService().Generate(nil)
	assert.Error(t, err)
}

func TestTokenService_ValidateFailures(t *testing.T) {
	ts := newTokenService()

	t.Run("expired", func(t *testing.T) {
		past := time.Now().Add(-2 * time.Hour)
		token, err := ts.SignClaims(&tenantauth.JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "tenantauth",
				Subject:   "user-1",
				Audience:  jwt.ClaimStrings{"dashboard"},
				IssuedAt:  jwt.NewNumericDate(past),
				ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
			},
		})
		require.NoError(t, err)

		_, err = ts.Validate(token)
		require.Error(t, err)
		assert.True(t, tenantauth.IsTokenExpiredError(err))
	})

	t.Run("other signing key", func(t *testing.T) {
		other := tenantauth.NewTokenService([]byte("ffffffffffffffffffffffffffffffff"), 1, "tenantauth", jwt.ClaimStrings{"dashboard"}, nil)
		token, _, err := other.Generate(testPrincipal())
		require.NoError(t, err)

		_, err = ts.Validate(token)
		require.Error(t, err)
		assert.True(t, tenantauth.IsMalformedError(err))
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := tenantauth.NewTokenService(testSigningKey, 1, "tenantauth", jwt.ClaimStrings{"mobile"}, nil)
		token, _, err := other.Generate(testPrincipal())
		require.NoError(t, err)

		_, err = ts.Validate(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ts.Validate("not.a.token")
		require.Error(t, err)
		assert.True(t, tenantauth.IsMalformedError(err))
	})
}

func TestTokenService_Refresh(t *testing.T) {
	ts := newTokenService()

	token, claims, err := ts.Generate(testPrincipal())
	require.NoError(t, err)

	refreshed, next, err := ts.Refresh(claims)
	require.NoError(t, err)
	assert.NotEqual(t, token, refreshed)
	assert.NotEqual(t, claims.ID, next.ID)
	assert.Equal(t, claims.UserID(), next.UserID())
	assert.Equal(t, claims.Email(), next.Email())

	_, _, err = ts.Refresh(nil)
	assert.Error(t, err)
}

func TestMultiTokenValidator(t *testing.T) {
	local := newTokenService()
	other := tenantauth.NewTokenService([]byte("ffffffffffffffffffffffffffffffff"), 1, "tenantauth", jwt.ClaimStrings{"dashboard"}, nil)

	token, _, err := other.Generate(testPrincipal())
	require.NoError(t, err)

	multi := tenantauth.NewMultiTokenValidator(local, nil, other)
	claims, err := multi.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ana@acme.test", claims.Email())

	_, err = tenantauth.NewMultiTokenValidator(local).Validate(token)
	assert.True(t, tenantauth.IsMalformedError(err))

	_, err = tenantauth.NewMultiTokenValidator().Validate(token)
	assert.True(t, tenantauth.IsMalformedError(err))
}

func TestKeyfuncValidator(t *testing.T) {
	token, _, err := newTokenService().Generate(testPrincipal())
	require.NoError(t, err)

	validator := tenantauth.NewKeyfuncValidator(func(*jwt.Token) (any, error) {
		return testSigningKey, nil
	}, "tenantauth", "dashboard", nil)

	claims, err := validator.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ana@acme.test", claims.Email())

	strict := tenantauth.NewKeyfuncValidator(func(*jwt.Token) (any, error) {
		return testSigningKey, nil
	}, "someone-else", "", nil)
	_, err = strict.Validate(token)
	assert.Error(t, err)

	var empty *tenantauth.KeyfuncValidator
	_, err = empty.Validate(token)
	assert.Error(t, err)
}

func TestMemoryTokenStorage(t *testing.T) {
	ctx := context.Background()
	storage := tenantauth.NewMemoryTokenStorage()

	token, err := storage.Load(ctx, "client-1")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, storage.Save(ctx, "client-1", "tok", time.Hour))
	require.NoError(t, storage.Save(ctx, "client-2", "gone", time.Nanosecond))
	time.Sleep(time.Millisecond)

	token, err = storage.Load(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	token, err = storage.Load(ctx, "client-2")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, storage.Delete(ctx, "client-1"))
	token, err = storage.Load(ctx, "client-1")
	require.NoError(t, err)
	assert.Empty(t, token)
}

package httpapi

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJWTAuth tests basic JWT authentication functionality
func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0, nil)

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), expiresAt, time.Minute)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "test-client", claims.ClientID)
	assert.Equal(t, "test-client", claims.Subject)
	assert.False(t, claims.IsAdmin)

	_, err = auth.ValidateToken("invalid-token")
	assert.Error(t, err)
	_, err = auth.ValidateToken("")
	assert.Error(t, err)
	_, _, err = auth.GenerateToken("", false)
	assert.Error(t, err)
}

func TestJWTAuth_AdminAndBearerPrefix(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour, nil)

	token, _, err := auth.GenerateToken("admin", true)
	require.NoError(t, err)

	claims, err := auth.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
}

func TestJWTAuth_Expiry(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	auth := NewJWTAuth("test-secret", time.Hour, mock)

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	require.NoError(t, err)
	assert.Equal(t, mock.Now().Add(time.Hour), expiresAt)

	mock.Add(59 * time.Minute)
	_, err = auth.ValidateToken(token)
	require.NoError(t, err)

	mock.Add(2 * time.Minute)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTAuth_RejectsForeignTokens(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour, nil)

	other := NewJWTAuth("other-secret", time.Hour, nil)
	token, _, err := other.GenerateToken("test-client", false)
	require.NoError(t, err)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	// alg=none is never accepted
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{
		ClientID: "test-client",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ValidateToken(none)
	assert.Error(t, err)

	// tokens without expiry are refused
	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{ClientID: "test-client"})
	signed, err := noExp.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = auth.ValidateToken(signed)
	assert.Error(t, err)
}

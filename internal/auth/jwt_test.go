package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID:   "user-1",
		UserType: "student",
		Email:    "student@campus.edu",
	})
	require.NoError(t, err)

	claims, err := ParseToken("secret", "issuer", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "student", claims.UserType)
	assert.Equal(t, "student@campus.edu", claims.Email)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestParseTokenRejects(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: "user-1", UserType: "admin"})
	require.NoError(t, err)

	_, err = ParseToken("other-secret", "issuer", token)
	assert.Error(t, err)

	_, err = ParseToken("secret", "other-issuer", token)
	assert.Error(t, err)

	expired, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: "user-1"})
	require.NoError(t, err)
	_, err = ParseToken("secret", "issuer", expired)
	assert.Error(t, err)
}

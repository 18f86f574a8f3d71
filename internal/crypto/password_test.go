package crypto

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Secret1!")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "Secret1!"))
	assert.Error(t, CheckPassword(hash, "wrong"))
}

func TestRefreshTokenHash(t *testing.T) {
	token, err := NewRefreshToken()
	require.NoError(t, err)
	other, err := NewRefreshToken()
	require.NoError(t, err)

	assert.NotEqual(t, token, other)
	assert.Equal(t, HashToken(token), HashToken(token))
	assert.NotEqual(t, HashToken(token), HashToken(other))
}

func TestNumericCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 50; i++ {
		code, err := NewNumericCode(6)
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestTxHash(t *testing.T) {
	hash, err := NewTxHash()
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, hash)
}

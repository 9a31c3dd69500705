package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
)

// "test-key-for-unit-tests-32-bytes"
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func TestNewPasswordCipher(t *testing.T) {
	_, err := NewPasswordCipher("")
	assert.ErrorIs(t, err, ErrInvalidKey)

	c, err := NewPasswordCipher(testKey)
	require.NoError(t, err)
	assert.NotNil(t, c)

	c, err = NewPasswordCipher("a plain passphrase")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestPasswordCipher_RoundTrip(t *testing.T) {
	c, err := NewPasswordCipher(testKey)
	require.NoError(t, err)

	sealed, err := c.Seal("gpadmin-p@ss")
	require.NoError(t, err)
	assert.NotEqual(t, "gpadmin-p@ss", sealed)

	again, err := c.Seal("gpadmin-p@ss")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "gpadmin-p@ss", opened)
}

func TestPasswordCipher_Empty(t *testing.T) {
	c, err := NewPasswordCipher(testKey)
	require.NoError(t, err)

	sealed, err := c.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := c.Open("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestPasswordCipher_WrongKey(t *testing.T) {
	a, err := NewPasswordCipher(testKey)
	require.NoError(t, err)
	b, err := NewPasswordCipher("another key")
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, apperrors.ErrCredentialsKeyMismatch)

	_, err = b.Open("!!not-base64!!")
	assert.Error(t, err)
}

package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-chat/internal/apperr"
)

const hexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func flipFirstByte(t *testing.T, h string) string {
	t.Helper()
	b, err := hex.DecodeString(h)
	require.NoError(t, err)
	require.NotEmpty(t, b)
	b[0] ^= 0xff
	return hex.EncodeToString(b)
}

func TestSealOpenRoundTrip(t *testing.T) {
	for _, key := range []string{hexKey, "a passphrase that is not hex"} {
		c, err := NewMessageCipher(key)
		require.NoError(t, err)

		for _, p := range []string{"hi", "", "你好，世界", strings.Repeat("x", 4096)} {
			sealed, err := c.Seal(p)
			require.NoError(t, err)
			assert.Len(t, sealed.Nonce, 32)
			assert.Len(t, sealed.Tag, 32)

			got, err := c.Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	c, err := NewMessageCipher(hexKey)
	require.NoError(t, err)
	a, err := c.Seal("same")
	require.NoError(t, err)
	b, err := c.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestOpenDetectsTampering(t *testing.T) {
	c, err := NewMessageCipher(hexKey)
	require.NoError(t, err)
	sealed, err := c.Seal("hello world")
	require.NoError(t, err)

	tamperedCT := sealed
	tamperedCT.Ciphertext = flipFirstByte(t, sealed.Ciphertext)
	_, err = c.Open(tamperedCT)
	assert.ErrorIs(t, err, apperr.ErrDecryption)

	tamperedTag := sealed
	tamperedTag.Tag = flipFirstByte(t, sealed.Tag)
	_, err = c.Open(tamperedTag)
	assert.ErrorIs(t, err, apperr.ErrDecryption)

	badNonce := sealed
	badNonce.Nonce = "zz"
	_, err = c.Open(badNonce)
	assert.ErrorIs(t, err, apperr.ErrDecryption)
	assert.Equal(t, apperr.KindDecryption, apperr.KindOf(err))
}

func TestOpenWithWrongKey(t *testing.T) {
	c1, err := NewMessageCipher(hexKey)
	require.NoError(t, err)
	c2, err := NewMessageCipher("another key")
	require.NoError(t, err)

	sealed, err := c1.Seal("secret")
	require.NoError(t, err)
	_, err = c2.Open(sealed)
	assert.ErrorIs(t, err, apperr.ErrDecryption)
}

func TestNewMessageCipherRejectsEmptyKey(t *testing.T) {
	_, err := NewMessageCipher("")
	assert.Error(t, err)
}

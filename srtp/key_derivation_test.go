package srtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionKeyRFC3711(t *testing.T) {
	masterKey := []byte{0xE1, 0xF9, 0x7A, 0x0D, 0x3E, 0x01, 0x8B, 0xE0, 0xD6, 0x4F, 0xA3, 0x2C, 0x06, 0xDE, 0x41, 0x39}
	masterSalt := []byte{0x0E, 0xC6, 0x75, 0xAD, 0x49, 0x8A, 0xFE, 0xEB, 0xB6, 0x96, 0x0B, 0x3A, 0xAB, 0xE6}

	key, err := deriveSessionKey(labelSRTPEncryption, masterKey, masterSalt, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC6, 0x1E, 0x7A, 0x93, 0x74, 0x4F, 0x39, 0xEE, 0x10, 0x73, 0x4A, 0xFE, 0x3F, 0xF7, 0xA0, 0x87}, key)

	salt, err := deriveSessionKey(labelSRTPSalt, masterKey, masterSalt, 14)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0xCB, 0xBC, 0x08, 0x86, 0x3D, 0x8C, 0x85, 0xD4, 0x9D, 0xB3, 0x4A, 0x9A, 0xE1}, salt)

	auth, err := deriveSessionKey(labelSRTPAuthenticationTag, masterKey, masterSalt, 20)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0xCE, 0xBE, 0x32, 0x1F, 0x6F, 0xF7, 0x71, 0x6B, 0x6F, 0xD4,
		0xAB, 0x49, 0xAF, 0x25, 0x6A, 0x15, 0x6D, 0x38, 0xBA, 0xA4,
	}, auth)
}

func TestDeriveSessionKeyBadSalt(t *testing.T) {
	_, err := deriveSessionKey(labelSRTPSalt, make([]byte, 16), make([]byte, 15), 14)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

package srtp

import (
	"testing"

	pionsrtp "github.com/pion/srtp/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pionProfile(p ProtectionProfile) pionsrtp.ProtectionProfile {
	if p == ProtectionProfileAeadAes128Gcm {
		return pionsrtp.ProtectionProfileAeadAes128Gcm
	}
	return pionsrtp.ProtectionProfileAes128CmHmacSha1_80
}

func TestInteropWithPion(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			key, salt := testKeys(t, profile)

			ours, err := NewContext(profile, key, salt)
			require.NoError(t, err)
			theirs, err := pionsrtp.CreateContext(key, salt, pionProfile(profile))
			require.NoError(t, err)

			plain := marshalRTP(t, 0x5eed, 4242, []byte("interop payload"))
			protected, err := ours.ProtectRTP(plain)
			require.NoError(t, err)
			decrypted, err := theirs.DecryptRTP(nil, protected, nil)
			require.NoError(t, err)
			assert.Equal(t, plain, decrypted)

			plainRTCP := marshalRTCP(t, 0x5eed)
			protectedRTCP, err := ours.ProtectRTCP(plainRTCP)
			require.NoError(t, err)
			decryptedRTCP, err := theirs.DecryptRTCP(nil, protectedRTCP, nil)
			require.NoError(t, err)
			assert.Equal(t, plainRTCP, decryptedRTCP)

			peer, err := NewContext(profile, key, salt)
			require.NoError(t, err)
			sender, err := pionsrtp.CreateContext(key, salt, pionProfile(profile))
			require.NoError(t, err)

			plain = marshalRTP(t, 0xfeed, 17, []byte("from pion"))
			encrypted, err := sender.EncryptRTP(nil, plain, nil)
			require.NoError(t, err)
			out, err := peer.UnprotectRTP(encrypted)
			require.NoError(t, err)
			assert.Equal(t, plain, out)
		})
	}
}

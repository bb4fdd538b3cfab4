package srtp

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profiles = []ProtectionProfile{
	ProtectionProfileAes128CmHmacSha1_80,
	ProtectionProfileAeadAes128Gcm,
}

func testKeys(t *testing.T, profile ProtectionProfile) ([]byte, []byte) {
	keyLen, err := profile.KeyLen()
	require.NoError(t, err)
	saltLen, err := profile.SaltLen()
	require.NoError(t, err)

	key := make([]byte, keyLen)
	salt := make([]byte, saltLen)
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range salt {
		salt[i] = byte(0xa0 + i)
	}
	return key, salt
}

func newContextPair(t *testing.T, profile ProtectionProfile) (*Context, *Context) {
	key, salt := testKeys(t, profile)
	local, err := NewContext(profile, key, salt)
	require.NoError(t, err)
	remote, err := NewContext(profile, key, salt)
	require.NoError(t, err)
	return local, remote
}

func marshalRTP(t *testing.T, ssrc uint32, seq uint16, payload []byte) []byte {
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 3000,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	raw, err := p.Marshal()
	require.NoError(t, err)
	return raw
}

func TestRTPRoundTrip(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)

			for seq := uint16(100); seq < 110; seq++ {
				plain := marshalRTP(t, 0xcafebabe, seq, []byte{0xde, 0xad, 0xbe, 0xef, byte(seq)})
				protected, err := local.ProtectRTP(plain)
				require.NoError(t, err)
				assert.Equal(t, len(plain)+local.cipher.rtpTagLen(), len(protected))
				assert.NotEqual(t, plain[12:], protected[12:len(plain)])

				out, err := remote.UnprotectRTP(protected)
				require.NoError(t, err)
				assert.Equal(t, plain, out)
			}
		})
	}
}

func TestRTPRollover(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)
			const ssrc = 0x11223344

			var last uint64
			for i, seq := range []uint16{65533, 65534, 65535, 0, 1, 3} {
				plain := marshalRTP(t, ssrc, seq, []byte{byte(i)})
				protected, err := local.ProtectRTP(plain)
				require.NoError(t, err)
				out, err := remote.UnprotectRTP(protected)
				require.NoError(t, err)
				assert.Equal(t, plain, out)

				index, ok := remote.Index(ssrc)
				require.True(t, ok)
				assert.Greater(t, index, last)
				last = index
			}

			index, _ := remote.Index(ssrc)
			assert.Equal(t, uint64(65539), index)
			roc, _ := remote.ROC(ssrc)
			assert.Equal(t, uint32(1), roc)
		})
	}
}

func TestRTPRolloverGap(t *testing.T) {
	local, remote := newContextPair(t, ProtectionProfileAes128CmHmacSha1_80)
	const ssrc = 0x01

	for _, seq := range []uint16{65534, 3} {
		protected, err := local.ProtectRTP(marshalRTP(t, ssrc, seq, []byte{1}))
		require.NoError(t, err)
		_, err = remote.UnprotectRTP(protected)
		require.NoError(t, err)
	}

	localIndex, _ := local.Index(ssrc)
	remoteIndex, _ := remote.Index(ssrc)
	assert.Equal(t, uint64(65539), localIndex)
	assert.Equal(t, uint64(65539), remoteIndex)
}

func TestRTPReplay(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			key, salt := testKeys(t, profile)
			local, err := NewContext(profile, key, salt)
			require.NoError(t, err)
			remote, err := NewContext(profile, key, salt, SRTPReplayWindow(64))
			require.NoError(t, err)

			var packets [][]byte
			for seq := uint16(0); seq < 200; seq++ {
				protected, err := local.ProtectRTP(marshalRTP(t, 5, seq, []byte{byte(seq)}))
				require.NoError(t, err)
				packets = append(packets, protected)

				_, err = remote.UnprotectRTP(protected)
				require.NoError(t, err)
				_, err = remote.UnprotectRTP(protected)
				assert.ErrorIs(t, err, ErrReplayed)
			}

			for _, p := range packets {
				_, err := remote.UnprotectRTP(p)
				assert.ErrorIs(t, err, ErrReplayed)
			}
		})
	}
}

func TestRTPOutOfOrderInsideWindow(t *testing.T) {
	local, remote := newContextPair(t, ProtectionProfileAeadAes128Gcm)

	p10, err := local.ProtectRTP(marshalRTP(t, 9, 10, []byte{10}))
	require.NoError(t, err)
	p11, err := local.ProtectRTP(marshalRTP(t, 9, 11, []byte{11}))
	require.NoError(t, err)

	_, err = remote.UnprotectRTP(p11)
	require.NoError(t, err)
	_, err = remote.UnprotectRTP(p10)
	require.NoError(t, err)

	index, _ := remote.Index(9)
	assert.Equal(t, uint64(11), index)
}

func TestRTPAuthFailureLeavesState(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)

			protected, err := local.ProtectRTP(marshalRTP(t, 7, 1000, []byte{1, 2, 3}))
			require.NoError(t, err)

			forged := append([]byte{}, protected...)
			forged[len(forged)-1] ^= 0xff
			_, err = remote.UnprotectRTP(forged)
			assert.ErrorIs(t, err, ErrAuthFailed)
			_, ok := remote.Index(7)
			assert.False(t, ok)

			_, err = remote.UnprotectRTP(protected)
			assert.NoError(t, err)
		})
	}
}

func TestRTPForgedSSRCsAreNotTracked(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)

			protected, err := local.ProtectRTP(marshalRTP(t, 7, 1000, []byte{1, 2, 3}))
			require.NoError(t, err)
			for ssrc := uint32(100); ssrc < 200; ssrc++ {
				forged := append([]byte{}, protected...)
				forged[8], forged[9], forged[10], forged[11] = byte(ssrc>>24), byte(ssrc>>16), byte(ssrc>>8), byte(ssrc)
				_, err := remote.UnprotectRTP(forged)
				assert.ErrorIs(t, err, ErrAuthFailed)
			}
			assert.Empty(t, remote.srtpSSRCStates)

			_, err = remote.UnprotectRTP(protected)
			require.NoError(t, err)
			assert.Len(t, remote.srtpSSRCStates, 1)
		})
	}
}

func TestRTPHeaderStaysInTheClear(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)

			p := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    111,
					SequenceNumber: 42,
					Timestamp:      960,
					SSRC:           0x01020304,
					CSRC:           []uint32{0xaabbccdd},
				},
				Payload: []byte{9, 8, 7, 6, 5, 4},
			}
			require.NoError(t, p.SetExtension(1, []byte{0x30}))
			plain, err := p.Marshal()
			require.NoError(t, err)
			headerLen := p.Header.MarshalSize()

			protected, err := local.ProtectRTP(plain)
			require.NoError(t, err)
			assert.Equal(t, plain[:headerLen], protected[:headerLen])
			assert.NotEqual(t, plain[headerLen:], protected[headerLen:len(plain)])

			out, err := remote.UnprotectRTP(protected)
			require.NoError(t, err)
			assert.Equal(t, plain, out)
		})
	}
}

func TestRTPTooShort(t *testing.T) {
	_, remote := newContextPair(t, ProtectionProfileAes128CmHmacSha1_80)

	_, err := remote.UnprotectRTP([]byte{0x80, 0x60})
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = remote.UnprotectRTP(marshalRTP(t, 1, 1, nil))
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestNewContextValidation(t *testing.T) {
	_, err := NewContext(ProtectionProfile(0x99), make([]byte, 16), make([]byte, 14))
	assert.ErrorIs(t, err, ErrUnsupportedProfile)

	_, err = NewContext(ProtectionProfileAeadAes128Gcm, make([]byte, 16), make([]byte, 14))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = NewContext(ProtectionProfileAes128CmHmacSha1_80, make([]byte, 16), make([]byte, 14), SRTPReplayWindow(32))
	assert.Error(t, err)

	n, err := ProtectionProfileAes128CmHmacSha1_80.KeyingMaterialLen()
	require.NoError(t, err)
	assert.Equal(t, 60, n)
	n, err = ProtectionProfileAeadAes128Gcm.KeyingMaterialLen()
	require.NoError(t, err)
	assert.Equal(t, 56, n)
}

package srtp

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalRTCP(t *testing.T, ssrc uint32) []byte {
	raw, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{
			SSRC: ssrc,
			Reports: []rtcp.ReceptionReport{{
				SSRC:               0x99,
				LastSequenceNumber: 1234,
				Jitter:             7,
			}},
		},
		&rtcp.PictureLossIndication{SenderSSRC: ssrc, MediaSSRC: 0x99},
	})
	require.NoError(t, err)
	return raw
}

func TestRTCPRoundTrip(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)

			for i := 0; i < 5; i++ {
				plain := marshalRTCP(t, 0xabcdef01)
				protected, err := local.ProtectRTCP(plain)
				require.NoError(t, err)
				assert.Equal(t, len(plain)+srtcpIndexSize+local.cipher.rtcpTagLen(), len(protected))

				out, err := remote.UnprotectRTCP(protected)
				require.NoError(t, err)
				assert.Equal(t, plain, out)

				pkts, err := rtcp.Unmarshal(out)
				require.NoError(t, err)
				assert.Len(t, pkts, 2)
			}
		})
	}
}

func TestRTCPReplay(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)

			protected, err := local.ProtectRTCP(marshalRTCP(t, 1))
			require.NoError(t, err)

			_, err = remote.UnprotectRTCP(protected)
			require.NoError(t, err)
			_, err = remote.UnprotectRTCP(protected)
			assert.ErrorIs(t, err, ErrReplayed)
		})
	}
}

func TestRTCPAuthFailure(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)

			protected, err := local.ProtectRTCP(marshalRTCP(t, 1))
			require.NoError(t, err)
			protected[10] ^= 0x01

			_, err = remote.UnprotectRTCP(protected)
			assert.ErrorIs(t, err, ErrAuthFailed)
			assert.Empty(t, remote.srtcpSSRCStates)
		})
	}
}

func TestRTCPInvalid(t *testing.T) {
	_, remote := newContextPair(t, ProtectionProfileAes128CmHmacSha1_80)

	_, err := remote.UnprotectRTCP([]byte{0x80, 0xc8})
	assert.Error(t, err)

	_, err = remote.UnprotectRTCP([]byte{0x80, 0xc8, 0, 1, 0, 0, 0, 1, 0x80})
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestRTCPForgedSSRCsAreNotTracked(t *testing.T) {
	for _, profile := range profiles {
		t.Run(profile.String(), func(t *testing.T) {
			local, remote := newContextPair(t, profile)

			protected, err := local.ProtectRTCP(marshalRTCP(t, 1))
			require.NoError(t, err)
			for ssrc := uint32(100); ssrc < 200; ssrc++ {
				forged := append([]byte{}, protected...)
				forged[4], forged[5], forged[6], forged[7] = byte(ssrc>>24), byte(ssrc>>16), byte(ssrc>>8), byte(ssrc)
				_, err := remote.UnprotectRTCP(forged)
				assert.ErrorIs(t, err, ErrAuthFailed)
			}
			assert.Empty(t, remote.srtcpSSRCStates)

			_, err = remote.UnprotectRTCP(protected)
			require.NoError(t, err)
			assert.Len(t, remote.srtcpSSRCStates, 1)
		})
	}
}

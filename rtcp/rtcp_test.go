package rtcp

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNTPConversion(t *testing.T) {
	now := time.Unix(1700000000, 250000000)
	ntp := ToNTP(now)
	assert.Equal(t, uint64(1700000000+ntpEpochOffset), ntp>>32)
	assert.Equal(t, uint64(1)<<30, ntp&0xFFFFFFFF)
	assert.WithinDuration(t, now, FromNTP(ntp), time.Microsecond)
}

func TestRoundTripTime(t *testing.T) {
	sent := time.Unix(1700000000, 0)
	lsr := MiddleNTP(ToNTP(sent))
	dlsr := DelaySinceLastSR(100 * time.Millisecond)

	rtt, ok := RoundTripTime(sent.Add(150*time.Millisecond), lsr, dlsr)
	require.True(t, ok)
	assert.InDelta(t, float64(50*time.Millisecond), float64(rtt), float64(time.Millisecond))

	_, ok = RoundTripTime(sent, 0, 0)
	assert.False(t, ok)
	assert.Equal(t, uint32(0), DelaySinceLastSR(-time.Second))
}

func TestUnmarshalCompound(t *testing.T) {
	raw, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.SenderReport{SSRC: 1, NTPTime: 5, RTPTime: 6, PacketCount: 7, OctetCount: 8},
		&rtcp.TransportLayerNack{SenderSSRC: 1, MediaSSRC: 2, Nacks: []rtcp.NackPair{{PacketID: 10, LostPackets: 0x3}}},
		&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2},
		&rtcp.FullIntraRequest{SenderSSRC: 1, MediaSSRC: 2, FIR: []rtcp.FIREntry{{SSRC: 2, SequenceNumber: 1}}},
	})
	require.NoError(t, err)

	pkts, err := Unmarshal(raw)
	require.NoError(t, err)

	var kinds []FeedbackKind
	for _, p := range pkts {
		kinds = append(kinds, Kind(p))
	}
	assert.Equal(t, []FeedbackKind{FeedbackSenderReport, FeedbackNack, FeedbackPli, FeedbackFir}, kinds)
}

func TestCheckCompound(t *testing.T) {
	assert.ErrorIs(t, CheckCompound(nil), errEmptyCompound)
	assert.ErrorIs(t, CheckCompound([]byte{0x80, 0xc8}), errPacketTooShort)
	assert.ErrorIs(t, CheckCompound([]byte{0x40, 0xc8, 0, 1, 0, 0, 0, 0}), errBadVersion)

	pli, err := rtcp.Marshal([]rtcp.Packet{&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2}})
	require.NoError(t, err)
	assert.ErrorIs(t, CheckCompound(pli), errBadFirstPacket)

	assert.ErrorIs(t, CheckCompound([]byte{0x80, 0xc9, 0, 9, 0, 0, 0, 1}), errPacketTooShort)
}

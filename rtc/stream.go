package rtc

import (
	"time"

	"github.com/pion/rtcp"

	ionrtcp "github.com/pion/ion-rtc/rtcp"
)

const (
	seqMod      = 1 << 16
	maxDropout  = 3000
	maxMisorder = 100
	// duplicateWindow matches the default SRTP replay window and covers
	// every packet up to maxMisorder behind.
	duplicateWindow = 128
)

// seenWindow marks received sequence numbers; bit n is maxSeq-n.
type seenWindow [duplicateWindow / 64]uint64

func (w *seenWindow) shift(n uint16) {
	if n >= duplicateWindow {
		*w = seenWindow{}
		return
	}
	for ; n >= 64; n -= 64 {
		w[1], w[0] = w[0], 0
	}
	if n > 0 {
		w[1] = w[1]<<n | w[0]>>(64-n)
		w[0] <<= n
	}
}

func (w *seenWindow) set(back uint16) {
	w[back/64] |= 1 << (back % 64)
}

func (w *seenWindow) has(back uint16) bool {
	return w[back/64]&(1<<(back%64)) != 0
}

// receiveStream holds RFC 3550 reception statistics for one remote SSRC.
type receiveStream struct {
	ssrc      uint32
	mid       string
	clockRate uint32

	initialized bool
	maxSeq      uint16
	cycles      uint32
	baseSeq     uint32
	badSeq      uint32
	seen        seenWindow

	received      uint32
	expectedPrior uint32
	receivedPrior uint32
	octets        uint64

	epoch       time.Time
	lastTransit int32
	jitter      float64

	lastSR        uint32
	lastSRArrival time.Time
	ended         bool
}

func newReceiveStream(ssrc uint32, mid string, clockRate uint32) *receiveStream {
	return &receiveStream{ssrc: ssrc, mid: mid, clockRate: clockRate}
}

func (s *receiveStream) reset(seq uint16) {
	s.initialized = true
	s.maxSeq = seq
	s.baseSeq = uint32(seq)
	s.badSeq = seqMod + 1
	s.cycles = 0
	s.received = 0
	s.receivedPrior = 0
	s.expectedPrior = 0
	s.seen = seenWindow{}
	s.seen.set(0)
}

// update folds seq into the statistics (RFC 3550 A.1) and returns its
// extended sequence number. duplicate is true for a sequence already seen.
func (s *receiveStream) update(seq uint16) (ext uint64, duplicate bool) {
	if !s.initialized {
		s.reset(seq)
		s.received++
		return uint64(seq), false
	}

	udelta := seq - s.maxSeq
	switch {
	case udelta == 0:
		return uint64(s.cycles) + uint64(seq), true
	case udelta < maxDropout:
		if seq < s.maxSeq {
			s.cycles += seqMod
		}
		s.maxSeq = seq
		s.seen.shift(udelta)
		s.seen.set(0)
	case uint32(udelta) <= seqMod-maxMisorder:
		if uint32(seq) == s.badSeq {
			// Two sequential packets after a jump: the source restarted.
			s.reset(seq)
		} else {
			s.badSeq = (uint32(seq) + 1) & (seqMod - 1)
			return uint64(s.cycles) + uint64(seq), false
		}
	default:
		back := s.maxSeq - seq
		cycles := uint64(s.cycles)
		if seq > s.maxSeq && cycles >= seqMod {
			cycles -= seqMod
		}
		if back < duplicateWindow {
			if s.seen.has(back) {
				return cycles + uint64(seq), true
			}
			s.seen.set(back)
		}
		s.received++
		return cycles + uint64(seq), false
	}

	s.received++
	return uint64(s.cycles) + uint64(s.maxSeq), false
}

// updateJitter applies the RFC 3550 A.8 estimator for a packet with RTP
// timestamp ts arriving at now.
func (s *receiveStream) updateJitter(now time.Time, ts uint32) {
	if s.clockRate == 0 {
		return
	}
	if s.epoch.IsZero() {
		s.epoch = now
	}
	arrival := uint32(uint64(now.Sub(s.epoch)) * uint64(s.clockRate) / uint64(time.Second))
	transit := int32(arrival - ts)
	if s.received > 1 {
		d := transit - s.lastTransit
		if d < 0 {
			d = -d
		}
		s.jitter += (float64(d) - s.jitter) / 16
	}
	s.lastTransit = transit
}

func (s *receiveStream) extendedMax() uint32 {
	return s.cycles + uint32(s.maxSeq)
}

// receptionReport builds the report block for this stream and advances the
// interval counters (RFC 3550 A.3).
func (s *receiveStream) receptionReport(now time.Time) rtcp.ReceptionReport {
	extMax := s.extendedMax()
	expected := extMax - s.baseSeq + 1

	lost := int64(expected) - int64(s.received)
	switch {
	case lost > 0x7FFFFF:
		lost = 0x7FFFFF
	case lost < -0x800000:
		lost = -0x800000
	}

	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received

	var fraction uint8
	if lostInterval := int64(expectedInterval) - int64(receivedInterval); expectedInterval != 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	var dlsr uint32
	if s.lastSR != 0 {
		dlsr = ionrtcp.DelaySinceLastSR(now.Sub(s.lastSRArrival))
	}

	return rtcp.ReceptionReport{
		SSRC:               s.ssrc,
		FractionLost:       fraction,
		TotalLost:          uint32(lost) & 0xFFFFFF,
		LastSequenceNumber: extMax,
		Jitter:             uint32(s.jitter),
		LastSenderReport:   s.lastSR,
		Delay:              dlsr,
	}
}

// sendStream tracks what a local SSRC has sent for sender reports.
type sendStream struct {
	ssrc      uint32
	mid       string
	clockRate uint32

	packets      uint32
	octets       uint32
	lastRTPTime  uint32
	lastSendTime time.Time
}

func (s *sendStream) senderReport(now time.Time, reports []rtcp.ReceptionReport) *rtcp.SenderReport {
	rtpTime := s.lastRTPTime
	if !s.lastSendTime.IsZero() && s.clockRate != 0 {
		rtpTime += uint32(uint64(now.Sub(s.lastSendTime)) * uint64(s.clockRate) / uint64(time.Second))
	}
	return &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     ionrtcp.ToNTP(now),
		RTPTime:     rtpTime,
		PacketCount: s.packets,
		OctetCount:  s.octets,
		Reports:     reports,
	}
}

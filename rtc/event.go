package rtc

import (
	"time"

	"github.com/pion/rtcp"

	ionrtcp "github.com/pion/ion-rtc/rtcp"
)

// Event is produced by the session for the application.
type Event interface {
	rtcEvent()
}

// MediaData carries one received RTP packet.
type MediaData struct {
	Mid              string
	SSRC             uint32
	PayloadType      uint8
	SequenceNumber   uint16
	ExtendedSequence uint64
	Timestamp        uint32
	Marker           bool
	Payload          []byte
}

// RetransmitRequest is raised by an inbound NACK.
type RetransmitRequest struct {
	SSRC      uint32
	Sequences []uint16
}

// KeyframeRequest is raised by an inbound PLI or FIR.
type KeyframeRequest struct {
	SSRC uint32
	Kind ionrtcp.FeedbackKind
}

// ReceiverReport is a reception report about one of our send streams.
type ReceiverReport struct {
	SSRC         uint32
	FractionLost uint8
	TotalLost    uint32
	Jitter       uint32
	RTT          time.Duration
	HasRTT       bool
}

// SenderReport is a remote sender report, the timing baseline for SSRC.
type SenderReport struct {
	SSRC        uint32
	NTPTime     uint64
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
}

// BitrateEstimate surfaces a REMB; the session does not act on it.
type BitrateEstimate struct {
	Bitrate float64
	SSRCs   []uint32
}

// SourceDescription carries the SDES items of one remote source.
type SourceDescription struct {
	SSRC  uint32
	CNAME string
	Items map[rtcp.SDESType]string
}

// StreamEnded is raised by an RTCP BYE.
type StreamEnded struct {
	SSRC uint32
}

func (MediaData) rtcEvent()         {}
func (RetransmitRequest) rtcEvent() {}
func (KeyframeRequest) rtcEvent()   {}
func (ReceiverReport) rtcEvent()    {}
func (SenderReport) rtcEvent()      {}
func (BitrateEstimate) rtcEvent()   {}
func (SourceDescription) rtcEvent() {}
func (StreamEnded) rtcEvent()       {}

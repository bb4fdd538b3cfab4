// Package rtcp sorts decrypted RTCP compound packets into the feedback kinds
// the session reacts to.
package rtcp

import (
	"encoding/binary"

	"github.com/pion/rtcp"
)

// Packet types (RFC 3550, RFC 4585)
const (
	TypeSenderReport       = 200
	TypeReceiverReport     = 201
	TypeSourceDescription  = 202
	TypeGoodbye            = 203
	TypeApplicationDefined = 204
	TypeTransportFeedback  = 205
	TypePayloadFeedback    = 206
	TypeExtendedReport     = 207
)

// FeedbackKind identifies one item of a compound packet.
type FeedbackKind int

// Feedback kinds
const (
	FeedbackUnknown FeedbackKind = iota
	FeedbackSenderReport
	FeedbackReceiverReport
	FeedbackSourceDescription
	FeedbackGoodbye
	FeedbackNack
	FeedbackPli
	FeedbackFir
	FeedbackRemb
)

func (k FeedbackKind) String() string {
	switch k {
	case FeedbackSenderReport:
		return "SR"
	case FeedbackReceiverReport:
		return "RR"
	case FeedbackSourceDescription:
		return "SDES"
	case FeedbackGoodbye:
		return "BYE"
	case FeedbackNack:
		return "NACK"
	case FeedbackPli:
		return "PLI"
	case FeedbackFir:
		return "FIR"
	case FeedbackRemb:
		return "REMB"
	}
	return "unknown"
}

// Kind maps a parsed packet onto its feedback kind.
func Kind(p rtcp.Packet) FeedbackKind {
	switch p.(type) {
	case *rtcp.SenderReport:
		return FeedbackSenderReport
	case *rtcp.ReceiverReport:
		return FeedbackReceiverReport
	case *rtcp.SourceDescription:
		return FeedbackSourceDescription
	case *rtcp.Goodbye:
		return FeedbackGoodbye
	case *rtcp.TransportLayerNack:
		return FeedbackNack
	case *rtcp.PictureLossIndication:
		return FeedbackPli
	case *rtcp.FullIntraRequest:
		return FeedbackFir
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		return FeedbackRemb
	}
	return FeedbackUnknown
}

// CheckCompound validates the first header of a compound packet: version 2
// and an SR or RR first.
func CheckCompound(raw []byte) error {
	if len(raw) == 0 {
		return errEmptyCompound
	}
	if len(raw) < 8 {
		return errPacketTooShort
	}
	if raw[0]>>6 != 2 {
		return errBadVersion
	}
	if pt := raw[1]; pt != TypeSenderReport && pt != TypeReceiverReport {
		return errBadFirstPacket
	}
	if n := (int(binary.BigEndian.Uint16(raw[2:4])) + 1) * 4; n > len(raw) {
		return errPacketTooShort
	}
	return nil
}

// Unmarshal validates and parses a compound packet.
func Unmarshal(raw []byte) ([]rtcp.Packet, error) {
	if err := CheckCompound(raw); err != nil {
		return nil, err
	}
	return rtcp.Unmarshal(raw)
}

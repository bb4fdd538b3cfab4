// Package mux classifies datagrams sharing one UDP 5-tuple (RFC 7983).
package mux

import "encoding/binary"

// Kind is the wire format of a datagram.
type Kind int

// Datagram kinds
const (
	KindUnknown Kind = iota
	KindSTUN
	KindDTLS
	KindRTP
)

const (
	stunHeaderSize   = 20
	stunMagicCookie  = 0x2112A442
	dtlsHeaderSize   = 13
	rtpMinHeaderSize = 4
)

func (k Kind) String() string {
	switch k {
	case KindSTUN:
		return "stun"
	case KindDTLS:
		return "dtls"
	case KindRTP:
		return "rtp"
	}
	return "unknown"
}

// Classify returns the kind of buf from its first octet. Truncated datagrams
// are KindUnknown.
func Classify(buf []byte) Kind {
	if len(buf) == 0 {
		return KindUnknown
	}

	switch b := buf[0]; {
	case b <= 3:
		if len(buf) < stunHeaderSize || binary.BigEndian.Uint32(buf[4:8]) != stunMagicCookie {
			return KindUnknown
		}
		return KindSTUN
	case b >= 20 && b <= 63:
		if len(buf) < dtlsHeaderSize {
			return KindUnknown
		}
		return KindDTLS
	case b >= 128 && b <= 191:
		if len(buf) < rtpMinHeaderSize {
			return KindUnknown
		}
		return KindRTP
	}
	return KindUnknown
}

// IsRTCP reports whether an RTP-kind datagram carries RTCP (RFC 5761 4).
func IsRTCP(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	return buf[1] >= 192 && buf[1] <= 223
}

package rtcp

import "errors"

var (
	errEmptyCompound  = errors.New("rtcp: empty compound packet")
	errBadFirstPacket = errors.New("rtcp: first packet in compound must be SR or RR")
	errPacketTooShort = errors.New("rtcp: packet too short")
	errBadVersion     = errors.New("rtcp: invalid packet version")
)

package engine

import (
	"net/netip"
	"time"
)

// OutputKind tags an Output.
type OutputKind int

// Output kinds, in drain priority order.
const (
	OutputNone OutputKind = iota
	OutputTransmit
	OutputTimeout
	OutputEvent
)

func (k OutputKind) String() string {
	switch k {
	case OutputTransmit:
		return "transmit"
	case OutputTimeout:
		return "timeout"
	case OutputEvent:
		return "event"
	}
	return "none"
}

// Transmit is a datagram the caller must send from Source to Destination.
type Transmit struct {
	Source      netip.AddrPort
	Destination netip.AddrPort
	Payload     []byte
}

// Output is what PollOutput returns. Only the field matching Kind is set.
type Output struct {
	Kind     OutputKind
	Transmit Transmit
	Timeout  time.Time
	Event    Event
}

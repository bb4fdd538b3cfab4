package datachannel

import (
	"context"

	"github.com/looplab/fsm"
)

// Channel lifecycle states.
const (
	StateConnecting = "connecting"
	StateOpen       = "open"
	StateClosing    = "closing"
	StateClosed     = "closed"
)

const (
	eventAck   = "ack"
	eventClose = "close"
	eventReset = "reset"
)

// Channel is one data channel carried on an SCTP stream.
type Channel struct {
	ID          uint16
	Label       string
	Protocol    string
	Reliability Reliability
	// Negotiated channels were agreed out of band and skip DCEP.
	Negotiated bool

	fsm *fsm.FSM
}

func newChannel(id uint16, label, protocol string, rel Reliability, initial string) *Channel {
	return &Channel{
		ID:          id,
		Label:       label,
		Protocol:    protocol,
		Reliability: rel,
		fsm: fsm.NewFSM(
			initial,
			fsm.Events{
				{Name: eventAck, Src: []string{StateConnecting}, Dst: StateOpen},
				{Name: eventClose, Src: []string{StateConnecting, StateOpen}, Dst: StateClosing},
				{Name: eventReset, Src: []string{StateConnecting, StateOpen, StateClosing}, Dst: StateClosed},
			}, nil,
		),
	}
}

// State returns the lifecycle state.
func (c *Channel) State() string {
	return c.fsm.Current()
}

func (c *Channel) transition(event string) error {
	return c.fsm.Event(context.Background(), event)
}

// writable reports whether user messages may be sent. The opener may send
// before the ACK arrives, RFC 8832 section 6.
func (c *Channel) writable() bool {
	s := c.fsm.Current()
	return s == StateConnecting || s == StateOpen
}

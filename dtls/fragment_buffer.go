package dtls

import (
	"github.com/pion/dtls/v2/pkg/protocol/handshake"
)

const (
	maxHandshakeMessageLen = 1 << 17
	// how far ahead of the next expected message_seq fragments are buffered
	maxMessageLookahead = 16
)

type pendingMessage struct {
	typ    handshake.Type
	epoch  uint16
	body   []byte
	filled []bool
	count  int
}

type assembledMessage struct {
	typ   handshake.Type
	epoch uint16
	seq   uint16
	// raw is the message re-encoded as a single unfragmented handshake
	raw []byte
}

// fragmentBuffer reassembles handshake messages and releases them in
// message_seq order.
type fragmentBuffer struct {
	next    uint16
	pending map[uint16]*pendingMessage
}

func newFragmentBuffer() *fragmentBuffer {
	return &fragmentBuffer{pending: map[uint16]*pendingMessage{}}
}

// push parses every handshake fragment in a record. It reports the
// sequence numbers of fragments that belong to already delivered
// messages so the caller can detect a retransmitted flight.
func (f *fragmentBuffer) push(data []byte, epoch uint16) (dups []handshake.Header, err error) {
	for len(data) > 0 {
		if len(data) < handshake.HeaderLength {
			return dups, errDTLSPacketInvalidLength
		}
		var h handshake.Header
		if err := h.Unmarshal(data); err != nil {
			return dups, err
		}
		end := handshake.HeaderLength + int(h.FragmentLength)
		if len(data) < end {
			return dups, errDTLSPacketInvalidLength
		}
		frag := data[handshake.HeaderLength:end]
		data = data[end:]

		switch {
		case h.MessageSequence < f.next:
			dups = append(dups, h)
			continue
		case h.MessageSequence-f.next > maxMessageLookahead:
			return dups, errFragmentOutOfWindow
		case h.Length > maxHandshakeMessageLen:
			return dups, errFragmentTooLong
		case h.FragmentOffset+h.FragmentLength > h.Length:
			return dups, errDTLSPacketInvalidLength
		}

		p, ok := f.pending[h.MessageSequence]
		if !ok {
			p = &pendingMessage{
				typ:    h.Type,
				epoch:  epoch,
				body:   make([]byte, h.Length),
				filled: make([]bool, h.Length),
			}
			f.pending[h.MessageSequence] = p
		}
		if p.typ != h.Type || uint32(len(p.body)) != h.Length {
			return dups, errDTLSPacketInvalidLength
		}
		copy(p.body[h.FragmentOffset:], frag)
		for i := h.FragmentOffset; i < h.FragmentOffset+h.FragmentLength; i++ {
			if !p.filled[i] {
				p.filled[i] = true
				p.count++
			}
		}
	}
	return dups, nil
}

// pop returns the next in-order message once all of its bytes arrived.
func (f *fragmentBuffer) pop() (*assembledMessage, bool) {
	p, ok := f.pending[f.next]
	if !ok || p.count != len(p.body) {
		return nil, false
	}
	delete(f.pending, f.next)

	h := handshake.Header{
		Type:            p.typ,
		Length:          uint32(len(p.body)),
		MessageSequence: f.next,
		FragmentOffset:  0,
		FragmentLength:  uint32(len(p.body)),
	}
	raw, err := h.Marshal()
	if err != nil {
		return nil, false
	}
	m := &assembledMessage{typ: p.typ, epoch: p.epoch, seq: f.next, raw: append(raw, p.body...)}
	f.next++
	return m, true
}

// discard drops every buffered fragment and reports how many messages
// were pending.
func (f *fragmentBuffer) discard() int {
	n := len(f.pending)
	if n > 0 {
		f.pending = map[uint16]*pendingMessage{}
	}
	return n
}

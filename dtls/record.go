package dtls

import (
	"github.com/pion/dtls/v2/pkg/protocol"
	"github.com/pion/dtls/v2/pkg/protocol/handshake"
	"github.com/pion/dtls/v2/pkg/protocol/recordlayer"
)

const (
	maxSequenceNumber = 0x0000FFFFFFFFFFFF
	// explicit nonce plus GCM tag
	gcmRecordOverhead = 8 + 16
)

// rawContent lets the record layer marshal bytes that are already encoded.
type rawContent struct {
	typ  protocol.ContentType
	data []byte
}

func (r *rawContent) ContentType() protocol.ContentType { return r.typ }

func (r *rawContent) Marshal() ([]byte, error) { return r.data, nil }

func (r *rawContent) Unmarshal(data []byte) error {
	r.data = append([]byte{}, data...)
	return nil
}

// sealRecord frames data as one record of the given epoch, encrypting it
// once epoch 1 is in effect.
func (c *Conn) sealRecord(typ protocol.ContentType, epoch uint16, data []byte) ([]byte, error) {
	seq := c.localSequence[epoch]
	if seq > maxSequenceNumber {
		return nil, errSequenceNumberOverflow
	}
	c.localSequence[epoch]++

	pkt := &recordlayer.RecordLayer{
		Header: recordlayer.Header{
			Version:        protocol.Version1_2,
			Epoch:          epoch,
			SequenceNumber: seq,
		},
		Content: &rawContent{typ: typ, data: data},
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	if epoch == 0 {
		return raw, nil
	}
	return c.cipher.Encrypt(pkt, raw)
}

// openRecord authenticates one record and returns its header and plaintext.
func (c *Conn) openRecord(buf []byte) (recordlayer.Header, []byte, error) {
	var h recordlayer.Header
	if len(buf) < recordlayer.HeaderSize {
		return h, nil, errDTLSPacketInvalidLength
	}
	if err := h.Unmarshal(buf); err != nil {
		return h, nil, &TemporaryError{err}
	}
	if h.Version.Major != protocol.Version1_2.Major {
		return h, nil, &TemporaryError{errUnsupportedProtocolVersion.Err}
	}
	if h.Epoch > 1 || (h.Epoch == 1 && c.cipher == nil) {
		return h, nil, errUnsupportedEpoch
	}
	markAccepted, ok := c.replay[h.Epoch].Check(h.SequenceNumber)
	if !ok {
		return h, nil, errReplayedRecord
	}

	rec := append([]byte{}, buf...)
	if h.Epoch == 1 {
		var err error
		if rec, err = c.cipher.Decrypt(rec); err != nil {
			return h, nil, &TemporaryError{err}
		}
	}
	markAccepted()
	return h, rec[recordlayer.HeaderSize:], nil
}

// maxFragmentLen is the largest handshake fragment body that still fits the MTU.
func (c *Conn) maxFragmentLen(epoch uint16) int {
	n := c.cfg.MTU - recordlayer.HeaderSize - handshake.HeaderLength
	if epoch > 0 {
		n -= gcmRecordOverhead
	}
	return n
}

// fragmentHandshake splits an unfragmented handshake message.
func fragmentHandshake(raw []byte, maxLen int) ([][]byte, error) {
	body := raw[handshake.HeaderLength:]
	if len(body) <= maxLen {
		return [][]byte{raw}, nil
	}
	var h handshake.Header
	if err := h.Unmarshal(raw); err != nil {
		return nil, err
	}

	var out [][]byte
	for off := 0; off < len(body); off += maxLen {
		end := off + maxLen
		if end > len(body) {
			end = len(body)
		}
		h.FragmentOffset = uint32(off)
		h.FragmentLength = uint32(end - off)
		hdr, err := h.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, append(hdr, body[off:end]...))
	}
	return out, nil
}

// queueRecords packs records into as few datagrams as the MTU allows.
func (c *Conn) queueRecords(records [][]byte) {
	var dgram []byte
	for _, r := range records {
		if len(dgram) > 0 && len(dgram)+len(r) > c.cfg.MTU {
			c.outbound = append(c.outbound, dgram)
			dgram = nil
		}
		dgram = append(dgram, r...)
	}
	if len(dgram) > 0 {
		c.outbound = append(c.outbound, dgram)
	}
}

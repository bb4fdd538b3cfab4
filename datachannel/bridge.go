package datachannel

import (
	"fmt"
	"sort"
	"time"

	"github.com/pion/logging"
)

// Config configures a Bridge.
type Config struct {
	// IsDTLSClient picks the stream id parity, RFC 8832 section 6: the DTLS
	// client uses even ids and the server odd ones.
	IsDTLSClient  bool
	LoggerFactory logging.LoggerFactory
}

// Bridge relays decrypted DTLS application data to an Association and maps
// its streams to data channels.
type Bridge struct {
	log      logging.LeveledLogger
	assoc    Association
	client   bool
	channels map[uint16]*Channel
	events   []Event

	bytesReceived uint64
	bytesSent     uint64
}

// NewBridge wraps an association.
func NewBridge(assoc Association, config Config) *Bridge {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Bridge{
		log:      config.LoggerFactory.NewLogger("datachannel"),
		assoc:    assoc,
		client:   config.IsDTLSClient,
		channels: map[uint16]*Channel{},
	}
}

// HandleData pushes one decrypted record into the association and
// processes whatever it produced.
func (b *Bridge) HandleData(now time.Time, data []byte) error {
	if err := b.assoc.PushReceived(data); err != nil {
		return err
	}
	b.pump()
	return nil
}

// PollTransmit returns the next SCTP packet for DTLS encryption.
func (b *Bridge) PollTransmit() ([]byte, bool) {
	return b.assoc.PollTransmit()
}

// PollEvent returns the next channel event.
func (b *Bridge) PollEvent() (Event, bool) {
	b.pump()
	if len(b.events) == 0 {
		return nil, false
	}
	e := b.events[0]
	b.events = b.events[1:]
	return e, true
}

// Open creates a channel on the next free stream of our parity and sends
// DATA_CHANNEL_OPEN. ChannelOpen is raised once the peer acknowledges.
func (b *Bridge) Open(label, protocol string, ordered bool, rel Reliability) (uint16, error) {
	id, err := b.nextStreamID()
	if err != nil {
		return 0, err
	}
	rel.Unordered = !ordered

	msg := &channelOpen{
		ChannelType:          rel.channelType(),
		Priority:             channelPriorityNormal,
		ReliabilityParameter: rel.Parameter,
		Label:                label,
		Protocol:             protocol,
	}
	raw, err := msg.Marshal()
	if err != nil {
		return 0, err
	}
	if err := b.assoc.Send(id, PayloadTypeWebRTCDCEP, raw, Reliability{}); err != nil {
		return 0, err
	}
	b.channels[id] = newChannel(id, label, protocol, rel, StateConnecting)
	b.log.Debugf("opening channel %d label=%q", id, label)
	return id, nil
}

// OpenNegotiated registers a channel agreed out of band. It is open
// immediately and no DCEP message is exchanged.
func (b *Bridge) OpenNegotiated(id uint16, label, protocol string, ordered bool, rel Reliability) error {
	if _, ok := b.channels[id]; ok {
		return fmt.Errorf("%w: %d", ErrStreamInUse, id)
	}
	rel.Unordered = !ordered
	ch := newChannel(id, label, protocol, rel, StateOpen)
	ch.Negotiated = true
	b.channels[id] = ch
	b.events = append(b.events, ChannelOpen{ID: id, Label: label, Protocol: protocol})
	return nil
}

// Send queues one user message. Empty messages use the dedicated empty
// PPIDs with a single zero byte, RFC 8831 section 6.6.
func (b *Bridge) Send(id uint16, data []byte, binary bool) error {
	ch, ok := b.channels[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	if !ch.writable() {
		return fmt.Errorf("%w: %d is %s", ErrChannelNotOpen, id, ch.State())
	}

	ppi := PayloadTypeWebRTCString
	switch {
	case binary && len(data) == 0:
		ppi, data = PayloadTypeWebRTCBinaryEmpty, []byte{0}
	case binary:
		ppi = PayloadTypeWebRTCBinary
	case len(data) == 0:
		ppi, data = PayloadTypeWebRTCStringEmpty, []byte{0}
	}
	if err := b.assoc.Send(id, ppi, data, ch.Reliability); err != nil {
		return err
	}
	b.bytesSent += uint64(len(data))
	return nil
}

// Close resets the outgoing stream. ChannelClose is raised when the peer
// resets its side.
func (b *Bridge) Close(id uint16) error {
	ch, ok := b.channels[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	if ch.State() == StateClosing {
		return nil
	}
	if err := ch.transition(eventClose); err != nil {
		return err
	}
	return b.assoc.ResetStream(id)
}

// Channel returns the channel registered under id.
func (b *Bridge) Channel(id uint16) (*Channel, bool) {
	ch, ok := b.channels[id]
	return ch, ok
}

// Channels returns the ids of all registered channels in ascending order.
func (b *Bridge) Channels() []uint16 {
	ids := make([]uint16, 0, len(b.channels))
	for id := range b.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BytesReceived and BytesSent count user message payload bytes.
func (b *Bridge) BytesReceived() uint64 { return b.bytesReceived }

func (b *Bridge) BytesSent() uint64 { return b.bytesSent }

func (b *Bridge) nextStreamID() (uint16, error) {
	id := uint16(1)
	if b.client {
		id = 0
	}
	for ; ; id += 2 {
		if _, ok := b.channels[id]; !ok {
			return id, nil
		}
		if id >= 0xfffd {
			return 0, ErrNoFreeStream
		}
	}
}

func (b *Bridge) pump() {
	for {
		e, ok := b.assoc.PollEvent()
		if !ok {
			return
		}
		switch e := e.(type) {
		case StreamData:
			b.handleStreamData(e)
		case StreamReset:
			b.handleStreamReset(e.Stream)
		}
	}
}

func (b *Bridge) handleStreamData(e StreamData) {
	if e.PPI == PayloadTypeWebRTCDCEP {
		b.handleDCEP(e.Stream, e.Data)
		return
	}

	ch, ok := b.channels[e.Stream]
	if !ok {
		b.log.Debugf("dropping message for unknown stream %d", e.Stream)
		return
	}
	if ch.State() == StateConnecting {
		// user data before the ACK implies the peer accepted the channel
		b.acknowledge(ch)
	}

	msg := ChannelData{ID: e.Stream}
	switch e.PPI {
	case PayloadTypeWebRTCString:
		msg.Data = e.Data
	case PayloadTypeWebRTCBinary:
		msg.Data, msg.Binary = e.Data, true
	case PayloadTypeWebRTCStringEmpty:
		msg.Data = []byte{}
	case PayloadTypeWebRTCBinaryEmpty:
		msg.Data, msg.Binary = []byte{}, true
	default:
		b.log.Debugf("dropping message with unknown ppi %d on stream %d", e.PPI, e.Stream)
		return
	}
	b.bytesReceived += uint64(len(msg.Data))
	b.events = append(b.events, msg)
}

func (b *Bridge) handleDCEP(stream uint16, raw []byte) {
	typ, err := messageType(raw)
	if err != nil {
		b.log.Debugf("invalid DCEP message on stream %d: %v", stream, err)
		return
	}

	switch typ {
	case dataChannelOpen:
		var msg channelOpen
		if err := msg.Unmarshal(raw); err != nil {
			b.log.Debugf("invalid DATA_CHANNEL_OPEN on stream %d: %v", stream, err)
			return
		}
		if _, exists := b.channels[stream]; exists {
			b.log.Warnf("DATA_CHANNEL_OPEN for stream %d which is in use", stream)
			return
		}
		if err := b.assoc.Send(stream, PayloadTypeWebRTCDCEP, marshalChannelAck(), Reliability{}); err != nil {
			b.log.Warnf("failed to acknowledge channel %d: %v", stream, err)
			return
		}
		rel := reliabilityFromChannelType(msg.ChannelType, msg.ReliabilityParameter)
		b.channels[stream] = newChannel(stream, msg.Label, msg.Protocol, rel, StateOpen)
		b.log.Debugf("peer opened channel %d label=%q", stream, msg.Label)
		b.events = append(b.events, ChannelOpen{ID: stream, Label: msg.Label, Protocol: msg.Protocol, Remote: true})

	case dataChannelAck:
		ch, ok := b.channels[stream]
		if !ok || ch.State() != StateConnecting {
			return
		}
		b.acknowledge(ch)
	}
}

func (b *Bridge) acknowledge(ch *Channel) {
	if err := ch.transition(eventAck); err != nil {
		b.log.Warnf("channel %d: %v", ch.ID, err)
		return
	}
	b.events = append(b.events, ChannelOpen{ID: ch.ID, Label: ch.Label, Protocol: ch.Protocol})
}

func (b *Bridge) handleStreamReset(stream uint16) {
	ch, ok := b.channels[stream]
	if !ok {
		return
	}
	if ch.State() != StateClosing {
		// peer initiated, reset our side as well
		if err := b.assoc.ResetStream(stream); err != nil {
			b.log.Debugf("failed to reset stream %d: %v", stream, err)
		}
	}
	if err := ch.transition(eventReset); err != nil {
		b.log.Warnf("channel %d: %v", stream, err)
	}
	delete(b.channels, stream)
	b.events = append(b.events, ChannelClose{ID: stream})
}

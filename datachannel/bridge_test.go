package datachannel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	stream uint16
	ppi    PayloadProtocolIdentifier
	data   []byte
	rel    Reliability
}

// loopAssociation delivers messages straight to its peer.
type loopAssociation struct {
	peer   *loopAssociation
	events []AssociationEvent
	sent   []sentMessage
	pushed [][]byte
	resets []uint16
}

func newLoopPair() (*loopAssociation, *loopAssociation) {
	a, b := &loopAssociation{}, &loopAssociation{}
	a.peer, b.peer = b, a
	return a, b
}

func (l *loopAssociation) PushReceived(packet []byte) error {
	l.pushed = append(l.pushed, packet)
	return nil
}

func (l *loopAssociation) PollTransmit() ([]byte, bool) { return nil, false }

func (l *loopAssociation) PollEvent() (AssociationEvent, bool) {
	if len(l.events) == 0 {
		return nil, false
	}
	e := l.events[0]
	l.events = l.events[1:]
	return e, true
}

func (l *loopAssociation) Send(stream uint16, ppi PayloadProtocolIdentifier, data []byte, rel Reliability) error {
	l.sent = append(l.sent, sentMessage{stream, ppi, data, rel})
	l.peer.events = append(l.peer.events, StreamData{Stream: stream, PPI: ppi, Data: append([]byte{}, data...)})
	return nil
}

func (l *loopAssociation) ResetStream(stream uint16) error {
	l.resets = append(l.resets, stream)
	l.peer.events = append(l.peer.events, StreamReset{Stream: stream})
	return nil
}

func events(b *Bridge) []Event {
	var out []Event
	for {
		e, ok := b.PollEvent()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func TestChannelOpenAck(t *testing.T) {
	ca, sa := newLoopPair()
	client := NewBridge(ca, Config{IsDTLSClient: true})
	server := NewBridge(sa, Config{})

	id, err := client.Open("chat", "proto", false, Reliability{Type: ReliabilityTypeRexmit, Parameter: 3})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id)

	require.Len(t, ca.sent, 1)
	assert.Equal(t, PayloadTypeWebRTCDCEP, ca.sent[0].ppi)
	assert.Equal(t, dataChannelOpen, ca.sent[0].data[0])
	assert.Equal(t, byte(ChannelTypePartialReliableRexmitUnordered), ca.sent[0].data[1])

	assert.Equal(t, []Event{ChannelOpen{ID: 0, Label: "chat", Protocol: "proto", Remote: true}}, events(server))
	ch, ok := server.Channel(0)
	require.True(t, ok)
	assert.Equal(t, Reliability{Unordered: true, Type: ReliabilityTypeRexmit, Parameter: 3}, ch.Reliability)
	assert.Equal(t, StateOpen, ch.State())

	assert.Equal(t, []Event{ChannelOpen{ID: 0, Label: "chat", Protocol: "proto"}}, events(client))
	ch, _ = client.Channel(0)
	assert.Equal(t, StateOpen, ch.State())

	// the server allocates odd ids
	sid, err := server.Open("back", "", true, Reliability{})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), sid)
	next, err := client.Open("second", "", true, Reliability{})
	require.NoError(t, err)
	assert.Equal(t, uint16(2), next)
}

func TestChannelMessages(t *testing.T) {
	ca, sa := newLoopPair()
	client := NewBridge(ca, Config{IsDTLSClient: true})
	server := NewBridge(sa, Config{})
	id, err := client.Open("chat", "", true, Reliability{})
	require.NoError(t, err)
	events(server)
	events(client)

	require.NoError(t, client.Send(id, []byte("hello"), false))
	require.NoError(t, client.Send(id, []byte{1, 2}, true))
	require.NoError(t, client.Send(id, nil, false))
	require.NoError(t, client.Send(id, nil, true))

	assert.Equal(t, PayloadTypeWebRTCStringEmpty, ca.sent[len(ca.sent)-2].ppi)
	assert.Equal(t, []byte{0}, ca.sent[len(ca.sent)-1].data)

	assert.Equal(t, []Event{
		ChannelData{ID: id, Data: []byte("hello")},
		ChannelData{ID: id, Data: []byte{1, 2}, Binary: true},
		ChannelData{ID: id, Data: []byte{}},
		ChannelData{ID: id, Data: []byte{}, Binary: true},
	}, events(server))
	assert.Equal(t, uint64(7), server.BytesReceived())

	assert.ErrorIs(t, client.Send(42, []byte("x"), false), ErrUnknownChannel)
}

func TestChannelDataImpliesAck(t *testing.T) {
	ca, _ := newLoopPair()
	client := NewBridge(ca, Config{IsDTLSClient: true})
	id, err := client.Open("chat", "", true, Reliability{})
	require.NoError(t, err)

	ca.events = append(ca.events, StreamData{Stream: id, PPI: PayloadTypeWebRTCString, Data: []byte("early")})
	assert.Equal(t, []Event{
		ChannelOpen{ID: id, Label: "chat"},
		ChannelData{ID: id, Data: []byte("early")},
	}, events(client))
}

func TestChannelClose(t *testing.T) {
	ca, sa := newLoopPair()
	client := NewBridge(ca, Config{IsDTLSClient: true})
	server := NewBridge(sa, Config{})
	id, err := client.Open("chat", "", true, Reliability{})
	require.NoError(t, err)
	events(server)
	events(client)

	require.NoError(t, client.Close(id))
	ch, _ := client.Channel(id)
	assert.Equal(t, StateClosing, ch.State())
	assert.ErrorIs(t, client.Send(id, []byte("x"), false), ErrChannelNotOpen)

	// the server answers the reset with its own
	assert.Equal(t, []Event{ChannelClose{ID: id}}, events(server))
	assert.Equal(t, []uint16{id}, sa.resets)
	assert.Equal(t, []Event{ChannelClose{ID: id}}, events(client))
	assert.Empty(t, client.Channels())
	assert.Empty(t, server.Channels())

	// the id is free again
	again, err := client.Open("again", "", true, Reliability{})
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestNegotiatedChannel(t *testing.T) {
	ca, sa := newLoopPair()
	client := NewBridge(ca, Config{IsDTLSClient: true})
	server := NewBridge(sa, Config{})
	require.NoError(t, client.OpenNegotiated(7, "neg", "", true, Reliability{}))
	require.NoError(t, server.OpenNegotiated(7, "neg", "", true, Reliability{}))
	assert.ErrorIs(t, server.OpenNegotiated(7, "dup", "", true, Reliability{}), ErrStreamInUse)
	assert.Empty(t, ca.sent)

	events(client)
	events(server)
	require.NoError(t, client.Send(7, []byte("hi"), false))
	assert.Equal(t, []Event{ChannelData{ID: 7, Data: []byte("hi")}}, events(server))
}

func TestHandleDataPushesToAssociation(t *testing.T) {
	ca, _ := newLoopPair()
	client := NewBridge(ca, Config{IsDTLSClient: true})
	require.NoError(t, client.HandleData(time.Unix(0, 0), []byte{1, 2, 3}))
	assert.Equal(t, [][]byte{{1, 2, 3}}, ca.pushed)
}

func TestDCEPCodec(t *testing.T) {
	open := &channelOpen{
		ChannelType:          ChannelTypePartialReliableTimed,
		Priority:             channelPriorityNormal,
		ReliabilityParameter: 1500,
		Label:                "label",
		Protocol:             "p",
	}
	raw, err := open.Marshal()
	require.NoError(t, err)
	assert.Len(t, raw, 12+5+1)

	var decoded channelOpen
	require.NoError(t, decoded.Unmarshal(raw))
	assert.Equal(t, *open, decoded)

	assert.Error(t, decoded.Unmarshal(raw[:14]))
	_, err = messageType(nil)
	assert.Error(t, err)
	_, err = messageType([]byte{0x09})
	assert.Error(t, err)
}

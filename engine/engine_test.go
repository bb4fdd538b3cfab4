package engine

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/ion-rtc/datachannel"
	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/ice"
)

var (
	t0    = time.Unix(1700000000, 0)
	addrA = netip.MustParseAddrPort("10.0.0.1:5000")
	addrB = netip.MustParseAddrPort("10.0.0.2:6000")
)

const (
	ufragA = "ufragA"
	pwdA   = "passwordAAAAAAAAAAAAAAAA"
	ufragB = "ufragB"
	pwdB   = "passwordBBBBBBBBBBBBBBBB"
	ssrcA  = 1111
)

// frameAssociation is an in-memory association: every Send becomes one
// packet that the peer's PushReceived turns back into a StreamData.
type frameAssociation struct {
	out    [][]byte
	events []datachannel.AssociationEvent
}

const (
	frameData  = 0
	frameReset = 1
)

func (a *frameAssociation) frame(kind byte, stream uint16, ppi datachannel.PayloadProtocolIdentifier, data []byte) {
	p := make([]byte, 7, 7+len(data))
	p[0] = kind
	binary.BigEndian.PutUint16(p[1:], stream)
	binary.BigEndian.PutUint32(p[3:], uint32(ppi))
	a.out = append(a.out, append(p, data...))
}

func (a *frameAssociation) PushReceived(p []byte) error {
	if len(p) < 7 {
		return errors.New("short frame")
	}
	stream := binary.BigEndian.Uint16(p[1:])
	switch p[0] {
	case frameData:
		a.events = append(a.events, datachannel.StreamData{
			Stream: stream,
			PPI:    datachannel.PayloadProtocolIdentifier(binary.BigEndian.Uint32(p[3:])),
			Data:   append([]byte{}, p[7:]...),
		})
	case frameReset:
		a.events = append(a.events, datachannel.StreamReset{Stream: stream})
	}
	return nil
}

func (a *frameAssociation) PollTransmit() ([]byte, bool) {
	if len(a.out) == 0 {
		return nil, false
	}
	p := a.out[0]
	a.out = a.out[1:]
	return p, true
}

func (a *frameAssociation) PollEvent() (datachannel.AssociationEvent, bool) {
	if len(a.events) == 0 {
		return nil, false
	}
	e := a.events[0]
	a.events = a.events[1:]
	return e, true
}

func (a *frameAssociation) Send(stream uint16, ppi datachannel.PayloadProtocolIdentifier, data []byte, _ datachannel.Reliability) error {
	a.frame(frameData, stream, ppi, data)
	return nil
}

func (a *frameAssociation) ResetStream(stream uint16) error {
	a.frame(frameReset, stream, 0, nil)
	return nil
}

type datagram struct {
	at       time.Time
	src, dst netip.AddrPort
	payload  []byte
}

type peer struct {
	e      *Engine
	events []Event
}

// network delivers datagrams between engines with a fixed one way delay on
// a millisecond clock.
type network struct {
	t        *testing.T
	now      time.Time
	delay    time.Duration
	peers    map[netip.AddrPort]*peer
	inflight []datagram
}

func (n *network) drain(p *peer) {
	for i := 0; i < 10000; i++ {
		out, err := p.e.PollOutput(n.now)
		require.NoError(n.t, err)
		switch out.Kind {
		case OutputNone:
			return
		case OutputTransmit:
			n.inflight = append(n.inflight, datagram{
				at:      n.now.Add(n.delay),
				src:     out.Transmit.Source,
				dst:     out.Transmit.Destination,
				payload: out.Transmit.Payload,
			})
		case OutputEvent:
			p.events = append(p.events, out.Event)
		}
	}
	n.t.Fatal("output did not drain")
}

func (n *network) step() {
	var keep []datagram
	for _, d := range n.inflight {
		if d.at.After(n.now) {
			keep = append(keep, d)
			continue
		}
		if p, ok := n.peers[d.dst]; ok {
			require.NoError(n.t, p.e.HandleInput(n.now, d.src, d.dst, d.payload))
		}
	}
	n.inflight = keep
	for _, p := range n.peers {
		n.drain(p)
	}
}

func (n *network) run(d time.Duration, until func() bool) {
	end := n.now.Add(d)
	for ; !n.now.After(end); n.now = n.now.Add(time.Millisecond) {
		n.step()
		if until != nil && until() {
			return
		}
	}
}

func host(t *testing.T, addr netip.AddrPort) ice.Candidate {
	c, err := ice.NewHostCandidate(addr)
	require.NoError(t, err)
	return c
}

func certificate(t *testing.T) (Config, dtls.Fingerprint) {
	cert, err := dtls.GenerateCertificate(t0)
	require.NoError(t, err)
	fp, err := dtls.CertificateFingerprint(cert)
	require.NoError(t, err)
	return Config{Certificate: cert}, fp
}

func newNetwork(t *testing.T, dataChannels bool) (*network, *peer, *peer) {
	cfgA, fpA := certificate(t)
	cfgB, fpB := certificate(t)
	if dataChannels {
		newAssoc := func(bool) datachannel.Association { return &frameAssociation{} }
		cfgA.NewAssociation = newAssoc
		cfgB.NewAssociation = newAssoc
	}

	a, err := New(cfgA, Params{
		Controlling:        true,
		LocalUfrag:         ufragA,
		LocalPwd:           pwdA,
		RemoteUfrag:        ufragB,
		RemotePwd:          pwdB,
		LocalCandidates:    []ice.Candidate{host(t, addrA)},
		RemoteCandidates:   []ice.Candidate{host(t, addrB)},
		DTLSClient:         true,
		RemoteFingerprints: []dtls.Fingerprint{fpB},
		Tracks:             []Track{{Mid: "0", SSRC: ssrcA, ClockRate: 90000, Direction: DirectionSend}},
		DataChannels:       dataChannels,
	})
	require.NoError(t, err)
	b, err := New(cfgB, Params{
		LocalUfrag:         ufragB,
		LocalPwd:           pwdB,
		RemoteUfrag:        ufragA,
		RemotePwd:          pwdA,
		LocalCandidates:    []ice.Candidate{host(t, addrB)},
		RemoteCandidates:   []ice.Candidate{host(t, addrA)},
		RemoteFingerprints: []dtls.Fingerprint{fpA},
		Tracks:             []Track{{Mid: "0", SSRC: ssrcA, ClockRate: 90000, Direction: DirectionRecv}},
		DataChannels:       dataChannels,
	})
	require.NoError(t, err)

	pa, pb := &peer{e: a}, &peer{e: b}
	n := &network{
		t:     t,
		now:   t0,
		delay: 25 * time.Millisecond,
		peers: map[netip.AddrPort]*peer{addrA: pa, addrB: pb},
	}
	return n, pa, pb
}

func (p *peer) has(match func(Event) bool) bool {
	for _, e := range p.events {
		if match(e) {
			return true
		}
	}
	return false
}

func dtlsConnected(e Event) bool {
	_, ok := e.(DtlsConnected)
	return ok
}

func connect(t *testing.T, dataChannels bool) (*network, *peer, *peer) {
	n, a, b := newNetwork(t, dataChannels)
	n.run(5*time.Second, func() bool { return a.has(dtlsConnected) && b.has(dtlsConnected) })
	require.True(t, a.has(dtlsConnected), "client not connected")
	require.True(t, b.has(dtlsConnected), "server not connected")
	return n, a, b
}

func mediaData(events []Event) []MediaData {
	var out []MediaData
	for _, e := range events {
		if m, ok := e.(MediaData); ok {
			out = append(out, m)
		}
	}
	return out
}

func TestEngineConnects(t *testing.T) {
	_, a, b := connect(t, false)

	assert.True(t, a.has(func(e Event) bool {
		s, ok := e.(IceStateChange)
		return ok && s.State == ice.ConnectionStateConnected
	}))
	assert.True(t, b.has(func(e Event) bool {
		_, ok := e.(SelectedPair)
		return ok
	}))
	assert.Equal(t, dtls.StateConnected, a.e.DtlsState())
	assert.Equal(t, dtls.StateConnected, b.e.DtlsState())

	var profiles []DtlsConnected
	for _, p := range []*peer{a, b} {
		for _, e := range p.events {
			if c, ok := e.(DtlsConnected); ok {
				profiles = append(profiles, c)
			}
		}
	}
	require.Len(t, profiles, 2)
	assert.Equal(t, profiles[0].Profile, profiles[1].Profile)
	assert.Equal(t, "sha-256", profiles[0].Fingerprint.Algorithm)
}

func TestEngineMedia(t *testing.T) {
	n, a, b := connect(t, false)

	for seq := uint16(1); seq <= 3; seq++ {
		require.NoError(t, a.e.WriteRTP(n.now, "0", &rtp.Header{
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 3000,
			SSRC:           ssrcA,
		}, []byte{0xde, 0xad, byte(seq)}))
	}
	n.run(100*time.Millisecond, nil)

	got := mediaData(b.events)
	require.Len(t, got, 3)
	for i, m := range got {
		assert.Equal(t, "0", m.Mid)
		assert.Equal(t, uint32(ssrcA), m.SSRC)
		assert.Equal(t, uint16(i+1), m.SequenceNumber)
		assert.Equal(t, []byte{0xde, 0xad, byte(i + 1)}, m.Payload)
	}

	assert.ErrorIs(t, a.e.WriteRTP(n.now, "1", &rtp.Header{SSRC: ssrcA}, nil), ErrUnknownMid)
}

func TestEngineDropsUnknownSource(t *testing.T) {
	n, a, b := connect(t, false)
	b.events = nil
	stranger := netip.MustParseAddrPort("10.0.0.9:7000")

	require.NoError(t, a.e.WriteRTP(n.now, "0", &rtp.Header{PayloadType: 96, SequenceNumber: 9, SSRC: ssrcA}, []byte{2}))
	out, err := a.e.PollOutput(n.now)
	require.NoError(t, err)
	require.Equal(t, OutputTransmit, out.Kind)

	require.NoError(t, b.e.HandleInput(n.now, stranger, addrB, out.Transmit.Payload))
	// an undecodable ServerHello sized handshake record
	hello := []byte{22, 0xfe, 0xfd, 0, 0, 0, 0, 0, 0, 0x03, 0xe8, 0, 15, 2, 0, 0, 3, 0, 9, 0, 0, 0, 0, 0, 3, 0xde, 0xad, 0xbe}
	require.NoError(t, b.e.HandleInput(n.now, stranger, addrB, hello))
	n.drain(b)

	stats := b.e.Stats()
	assert.Equal(t, uint64(2), stats.DroppedSource)
	assert.Zero(t, stats.SRTPAuth)
	assert.Empty(t, mediaData(b.events))
	assert.Equal(t, dtls.StateConnected, b.e.DtlsState())

	// the same record from a known address is dropped by the dtls layer
	require.NoError(t, b.e.HandleInput(n.now, addrA, addrB, hello))
	n.drain(b)
	assert.Equal(t, dtls.StateConnected, b.e.DtlsState())

	require.NoError(t, b.e.HandleInput(n.now, out.Transmit.Source, out.Transmit.Destination, out.Transmit.Payload))
	n.drain(b)
	require.Len(t, mediaData(b.events), 1)
	assert.Equal(t, uint16(9), mediaData(b.events)[0].SequenceNumber)
}

func TestEngineDuplicateSRTP(t *testing.T) {
	n, a, b := connect(t, false)
	b.events = nil

	require.NoError(t, a.e.WriteRTP(n.now, "0", &rtp.Header{PayloadType: 96, SequenceNumber: 7, SSRC: ssrcA}, []byte{1}))
	out, err := a.e.PollOutput(n.now)
	require.NoError(t, err)
	require.Equal(t, OutputTransmit, out.Kind)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.e.HandleInput(n.now, out.Transmit.Source, out.Transmit.Destination, out.Transmit.Payload))
	}
	n.drain(b)

	assert.Len(t, mediaData(b.events), 1)
	assert.Equal(t, uint64(1), b.e.Stats().SRTPReplayed)
	assert.True(t, b.has(func(e Event) bool {
		d, ok := e.(Diagnostic)
		return ok && d.SRTPReplayed == 1
	}))
}

func TestEngineDataChannel(t *testing.T) {
	n, a, b := connect(t, true)

	id, err := a.e.OpenChannel("chat", "", true, datachannel.Reliability{})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id)
	require.NoError(t, a.e.SendChannel(id, []byte("hi"), false))
	n.run(200*time.Millisecond, nil)

	assert.True(t, b.has(func(e Event) bool {
		o, ok := e.(ChannelOpen)
		return ok && o.Label == "chat" && o.Remote
	}))
	assert.True(t, a.has(func(e Event) bool {
		o, ok := e.(ChannelOpen)
		return ok && o.ID == id && !o.Remote
	}))
	assert.True(t, b.has(func(e Event) bool {
		d, ok := e.(ChannelData)
		return ok && string(d.Data) == "hi" && !d.Binary
	}))

	require.NoError(t, a.e.CloseChannel(id))
	n.run(200*time.Millisecond, nil)
	for _, p := range []*peer{a, b} {
		assert.True(t, p.has(func(e Event) bool {
			c, ok := e.(ChannelClose)
			return ok && c.ID == id
		}))
	}
	assert.NotZero(t, a.e.Stats().ChannelBytesSent)
}

func TestEngineCallerContract(t *testing.T) {
	n, a, _ := newNetwork(t, false)
	e := a.e

	assert.ErrorIs(t, e.HandleInput(n.now, netip.AddrPort{}, addrA, []byte{1}), ErrEmptyAddress)

	later := n.now.Add(time.Second)
	_, err := e.PollOutput(later)
	require.NoError(t, err)
	assert.ErrorIs(t, e.HandleInput(n.now, addrB, addrA, []byte{1}), ErrTimeWentBackwards)
	_, err = e.PollTimeout(n.now)
	assert.ErrorIs(t, err, ErrTimeWentBackwards)

	assert.ErrorIs(t, e.WriteRTP(later, "0", &rtp.Header{SSRC: ssrcA}, nil), ErrNotConnected)
	_, err = e.OpenChannel("x", "", true, datachannel.Reliability{})
	assert.ErrorIs(t, err, ErrDataChannelsDisabled)

	require.NoError(t, e.Close(later))
	require.NoError(t, e.Close(later))
	assert.ErrorIs(t, e.HandleInput(later, addrB, addrA, []byte{1}), ErrClosed)

	var closed int
	for i := 0; i < 1000; i++ {
		out, err := e.PollOutput(later)
		require.NoError(t, err)
		if out.Kind == OutputNone {
			break
		}
		if c, ok := out.Event.(Closed); ok {
			assert.NoError(t, c.Reason)
			closed++
		}
	}
	assert.Equal(t, 1, closed)
	next, err := e.PollTimeout(later)
	require.NoError(t, err)
	assert.True(t, next.IsZero())
}

func TestEngineIdempotentPolling(t *testing.T) {
	n, a, _ := newNetwork(t, false)
	n.drain(a)
	for i := 0; i < 3; i++ {
		out, err := a.e.PollOutput(n.now)
		require.NoError(t, err)
		assert.Equal(t, OutputNone, out.Kind)
	}

	next, err := a.e.PollTimeout(n.now)
	require.NoError(t, err)
	assert.True(t, next.After(n.now))
}

func TestEngineDropsUnusableInput(t *testing.T) {
	n, a, _ := newNetwork(t, false)
	n.drain(a)
	a.events = nil

	require.NoError(t, a.e.HandleInput(n.now, addrB, addrA, []byte{0xff, 0x01}))
	require.NoError(t, a.e.HandleInput(n.now, addrB, addrA, []byte{0x80, 0x60, 0x00, 0x01, 0, 0, 0, 0, 0, 0, 0, 1}))
	require.NoError(t, a.e.HandleInput(n.now, addrB, addrA, nil))
	n.drain(a)

	stats := a.e.Stats()
	assert.Equal(t, uint64(2), stats.DroppedUnknown)
	assert.Equal(t, uint64(1), stats.DroppedNoKeys)

	var diagnostics []Diagnostic
	for _, e := range a.events {
		if d, ok := e.(Diagnostic); ok {
			diagnostics = append(diagnostics, d)
		}
	}
	require.Len(t, diagnostics, 1)
	assert.Equal(t, Diagnostic{Unknown: 2, NoKeys: 1}, diagnostics[0])

	// a second burst within the interval is summarized one interval later
	require.NoError(t, a.e.HandleInput(n.now, addrB, addrA, []byte{0xff}))
	n.drain(a)
	assert.Len(t, a.events, 1)
	n.now = n.now.Add(time.Second)
	n.drain(a)
	last, ok := a.events[len(a.events)-1].(Diagnostic)
	require.True(t, ok)
	assert.Equal(t, Diagnostic{Unknown: 1}, last)
}

func TestEngineICEFailure(t *testing.T) {
	n, a, _ := newNetwork(t, false)
	delete(n.peers, addrB)

	n.run(40*time.Second, func() bool {
		return a.has(func(e Event) bool { _, ok := e.(Closed); return ok })
	})
	var reason error
	for _, e := range a.events {
		if c, ok := e.(Closed); ok {
			reason = c.Reason
		}
	}
	assert.ErrorIs(t, reason, ErrICEFailed)
	assert.ErrorIs(t, a.e.HandleInput(n.now, addrB, addrA, []byte{1}), ErrClosed)
}

func TestNewRequiresCertificate(t *testing.T) {
	_, err := New(Config{}, Params{})
	assert.ErrorIs(t, err, ErrNoCertificate)
}

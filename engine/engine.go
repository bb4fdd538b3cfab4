// Package engine ties ICE, DTLS, SRTP, RTP/RTCP and data channels to one UDP
// socket behind three verbs: HandleInput, PollTimeout and PollOutput. The
// engine owns no socket, no timer and no goroutine; the caller supplies now.
package engine

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/pion/ion-rtc/datachannel"
	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/ice"
	"github.com/pion/ion-rtc/pkg/rtc/deadline"
	"github.com/pion/ion-rtc/pkg/rtc/mux"
	"github.com/pion/ion-rtc/rtc"
	"github.com/pion/ion-rtc/srtp"
)

// Engine is one peer connection transport. It is not safe for concurrent
// use.
type Engine struct {
	id     string
	cfg    Config
	params Params
	log    logging.LeveledLogger

	agent   *ice.Agent
	dtls    *dtls.Conn
	session *rtc.Session
	assoc   datachannel.Association
	bridge  *datachannel.Bridge

	srtpLocal  *srtp.Context
	srtpRemote *srtp.Context

	lastNow    time.Time
	closed     bool
	terminated bool

	// DTLS datagrams that arrived before a pair was selected
	pendingDTLS [][]byte

	transmits       []Transmit
	events          []Event
	reportedTimeout time.Time

	stats              Stats
	reported           Diagnostic
	diagnosticAt       time.Time
	lastDiagnosticSent time.Time
}

// New creates an engine for one session.
func New(cfg Config, params Params) (*Engine, error) {
	cfg.applyDefaults()
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, ErrNoCertificate
	}

	agent, err := ice.NewAgent(ice.AgentConfig{
		Controlling:         params.Controlling,
		LocalUfrag:          params.LocalUfrag,
		LocalPwd:            params.LocalPwd,
		CheckInterval:       cfg.ICE.CheckInterval,
		RTO:                 cfg.ICE.RTO,
		MaxBindingRequests:  cfg.ICE.MaxBindingRequests,
		KeepaliveInterval:   cfg.ICE.KeepaliveInterval,
		DisconnectedTimeout: cfg.ICE.DisconnectedTimeout,
		FailedTimeout:       cfg.ICE.FailedTimeout,
		LoggerFactory:       cfg.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	for _, c := range params.LocalCandidates {
		if err := agent.AddLocalCandidate(c); err != nil {
			return nil, err
		}
	}
	for _, c := range params.RemoteCandidates {
		if err := agent.AddRemoteCandidate(c); err != nil {
			return nil, err
		}
	}
	if params.RemoteUfrag != "" || params.RemotePwd != "" {
		if err := agent.SetRemoteCredentials(params.RemoteUfrag, params.RemotePwd); err != nil {
			return nil, err
		}
	}

	conn, err := dtls.New(dtls.Config{
		IsClient:               params.DTLSClient,
		Certificate:            cfg.Certificate,
		RemoteFingerprints:     params.RemoteFingerprints,
		SRTPProtectionProfiles: params.dtlsProfiles(),
		InitialRTO:             cfg.DTLS.InitialRTO,
		RetransmitCap:          cfg.DTLS.RetransmitCap,
		HandshakeTimeout:       cfg.DTLS.HandshakeTimeout,
		MTU:                    cfg.DTLS.MTU,
		LoggerFactory:          cfg.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	session := rtc.NewSession(rtc.Config{
		ReportInterval: cfg.RTCPInterval,
		ReceiverSSRC:   cfg.Rand.Uint32(),
		CNAME:          cfg.CNAME,
		MidExtensionID: params.MidExtensionID,
		Rand:           cfg.Rand,
		LoggerFactory:  cfg.LoggerFactory,
	})
	for _, t := range params.Tracks {
		switch t.Direction {
		case DirectionSend:
			if err := session.AddLocalTrack(t.Mid, t.SSRC, t.ClockRate); err != nil {
				return nil, fmt.Errorf("track %s: %w", t.Mid, err)
			}
		case DirectionRecv:
			session.AddRemoteTrack(t.Mid, t.SSRC, t.ClockRate)
		}
	}

	e := &Engine{
		id:      uuid.New().String(),
		cfg:     cfg,
		params:  params,
		log:     cfg.LoggerFactory.NewLogger("engine"),
		agent:   agent,
		dtls:    conn,
		session: session,
	}
	if params.DataChannels && cfg.NewAssociation != nil {
		e.assoc = cfg.NewAssociation(params.DTLSClient)
		e.bridge = datachannel.NewBridge(e.assoc, datachannel.Config{
			IsDTLSClient:  params.DTLSClient,
			LoggerFactory: cfg.LoggerFactory,
		})
	}
	e.log.Debugf("engine %s created, controlling=%v dtls client=%v", e.id, params.Controlling, params.DTLSClient)
	return e, nil
}

// ID is a random identifier for logs and metrics.
func (e *Engine) ID() string {
	return e.id
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// LocalCredentials returns the ICE ufrag and pwd to signal.
func (e *Engine) LocalCredentials() (ufrag, pwd string) {
	return e.agent.LocalCredentials()
}

// LocalCandidates returns the candidates to signal.
func (e *Engine) LocalCandidates() []ice.Candidate {
	return e.agent.LocalCandidates()
}

// IceState returns the ICE connection state.
func (e *Engine) IceState() ice.ConnectionState {
	return e.agent.State()
}

// DtlsState returns the DTLS state.
func (e *Engine) DtlsState() dtls.State {
	return e.dtls.State()
}

// HandleInput feeds one received datagram. Only caller mistakes are
// returned; datagrams the engine cannot use are counted and dropped.
func (e *Engine) HandleInput(now time.Time, from, to netip.AddrPort, buf []byte) error {
	if e.closed || e.terminated {
		return ErrClosed
	}
	if !from.IsValid() || !to.IsValid() {
		return ErrEmptyAddress
	}
	if err := e.advance(now); err != nil {
		return err
	}

	e.stats.BytesReceived += uint64(len(buf))
	e.stats.PacketsReceived++

	switch mux.Classify(buf) {
	case mux.KindSTUN:
		if err := e.agent.HandleSTUN(now, buf, from, to); err != nil {
			e.stats.DroppedSTUN++
			e.log.Tracef("dropped stun from %s: %v", from, err)
		}
	case mux.KindDTLS:
		if !e.agent.IsRemote(from) {
			e.stats.DroppedSource++
			e.log.Tracef("dropped dtls from unknown source %s", from)
			break
		}
		e.agent.MarkReceived(now, from)
		e.handleDTLS(now, buf)
	case mux.KindRTP:
		if !e.agent.IsRemote(from) {
			e.stats.DroppedSource++
			e.log.Tracef("dropped srtp from unknown source %s", from)
			break
		}
		e.agent.MarkReceived(now, from)
		e.handleSRTP(now, buf)
	default:
		e.stats.DroppedUnknown++
		e.noteDrop(now)
		e.log.Tracef("dropped unknown datagram from %s", from)
	}

	e.collect(now)
	return nil
}

func (e *Engine) handleDTLS(now time.Time, buf []byte) {
	if e.agent.SelectedPair() == nil {
		if len(e.pendingDTLS) >= maxPendingDTLS {
			e.stats.DroppedDTLS++
			return
		}
		e.pendingDTLS = append(e.pendingDTLS, append([]byte{}, buf...))
		return
	}
	if err := e.dtls.HandleDatagram(now, buf); err != nil {
		e.stats.DroppedDTLS++
		e.log.Tracef("dtls: %v", err)
	}
}

func (e *Engine) handleSRTP(now time.Time, buf []byte) {
	if e.srtpRemote == nil {
		e.stats.DroppedNoKeys++
		e.noteDrop(now)
		return
	}

	if mux.IsRTCP(buf) {
		plain, err := e.srtpRemote.UnprotectRTCP(buf)
		if err != nil {
			e.srtpFailure(now, err)
			return
		}
		if err := e.session.HandleRTCP(now, plain); err != nil {
			e.stats.DroppedRTP++
			e.log.Tracef("rtcp: %v", err)
		}
		return
	}

	plain, err := e.srtpRemote.UnprotectRTP(buf)
	if err != nil {
		e.srtpFailure(now, err)
		return
	}
	if err := e.session.HandleRTP(now, plain); err != nil {
		e.stats.DroppedRTP++
		e.log.Tracef("rtp: %v", err)
	}
}

func (e *Engine) srtpFailure(now time.Time, err error) {
	switch {
	case errors.Is(err, srtp.ErrReplayed):
		e.stats.SRTPReplayed++
	case errors.Is(err, srtp.ErrAuthFailed):
		e.stats.SRTPAuth++
	default:
		e.stats.SRTPMalformed++
	}
	e.noteDrop(now)
	e.log.Tracef("srtp: %v", err)
}

// noteDrop schedules a Diagnostic, at most one per DiagnosticInterval.
func (e *Engine) noteDrop(now time.Time) {
	if !e.diagnosticAt.IsZero() {
		return
	}
	at := now
	if !e.lastDiagnosticSent.IsZero() {
		if next := e.lastDiagnosticSent.Add(e.cfg.DiagnosticInterval); next.After(now) {
			at = next
		}
	}
	e.diagnosticAt = at
}

// advance checks the clock and runs every sub machine whose deadline has
// passed.
func (e *Engine) advance(now time.Time) error {
	if now.Before(e.lastNow) {
		return fmt.Errorf("%w: %v before %v", ErrTimeWentBackwards, now, e.lastNow)
	}
	e.lastNow = now
	if e.closed || e.terminated {
		return nil
	}

	if deadline.Due(e.agent.PollTimeout(now), now) {
		e.agent.HandleTimeout(now)
	}
	if deadline.Due(e.dtls.PollTimeout(), now) {
		e.dtls.HandleTimeout(now)
	}
	if deadline.Due(e.session.PollTimeout(), now) {
		e.session.HandleTimeout(now)
	}
	e.collect(now)
	return nil
}

// flushDiagnostic raises the pending Diagnostic once its time has come.
func (e *Engine) flushDiagnostic(now time.Time) {
	if !deadline.Due(e.diagnosticAt, now) || e.closed {
		return
	}
	current := e.stats.diagnostic()
	e.events = append(e.events, current.sub(e.reported))
	e.reported = current
	e.lastDiagnosticSent = now
	e.diagnosticAt = time.Time{}
}

// collect moves output of the sub machines into the engine queues and
// carries data across their boundaries.
func (e *Engine) collect(now time.Time) {
	for {
		ev, ok := e.agent.PollEvent()
		if !ok {
			break
		}
		e.handleICEEvent(now, ev)
	}
	for {
		t, ok := e.agent.PollTransmit()
		if !ok {
			break
		}
		e.queueTransmit(Transmit{Source: t.Source, Destination: t.Destination, Payload: t.Payload})
	}

	e.collectDTLS(now)

	if e.srtpLocal != nil {
		for {
			raw, ok := e.session.PollRTCP()
			if !ok {
				break
			}
			protected, err := e.srtpLocal.ProtectRTCP(raw)
			if err != nil {
				e.log.Warnf("failed to protect rtcp: %v", err)
				continue
			}
			e.sendSelected(protected)
		}
	}
	for {
		ev, ok := e.session.PollEvent()
		if !ok {
			break
		}
		if out := fromRTC(ev); out != nil {
			e.events = append(e.events, out)
		}
	}
}

func (e *Engine) handleICEEvent(now time.Time, ev ice.Event) {
	switch ev := ev.(type) {
	case ice.ConnectionStateChange:
		e.events = append(e.events, IceStateChange{State: ev.State})
		if ev.State == ice.ConnectionStateFailed {
			e.terminate(ErrICEFailed)
		}
	case ice.SelectedPairChange:
		e.events = append(e.events, SelectedPair{Local: ev.Local, Remote: ev.Remote})
		if e.dtls.State() != dtls.StateIdle {
			return
		}
		if err := e.dtls.Start(now); err != nil {
			e.log.Warnf("failed to start dtls: %v", err)
			return
		}
		pending := e.pendingDTLS
		e.pendingDTLS = nil
		for _, d := range pending {
			if err := e.dtls.HandleDatagram(now, d); err != nil {
				e.stats.DroppedDTLS++
				e.log.Tracef("dtls: %v", err)
			}
		}
	}
}

func (e *Engine) collectDTLS(now time.Time) {
	for {
		ev, ok := e.dtls.PollEvent()
		if !ok {
			break
		}
		switch ev := ev.(type) {
		case dtls.Connected:
			e.onDTLSConnected(ev)
		case dtls.Closed:
			reason := ev.Err
			if reason == nil {
				reason = ErrDTLSClosed
			}
			e.terminate(reason)
		case dtls.Failed:
			e.terminate(ev.Err)
		}
	}

	for {
		data, ok := e.dtls.PollApplicationData()
		if !ok {
			break
		}
		if e.bridge == nil {
			e.log.Debug("dropping application data, data channels disabled")
			continue
		}
		e.stats.ChannelBytesReceived += uint64(len(data))
		if err := e.bridge.HandleData(now, data); err != nil {
			e.log.Debugf("sctp: %v", err)
		}
	}
	if e.bridge != nil {
		if e.dtls.State() == dtls.StateConnected {
			for {
				p, ok := e.bridge.PollTransmit()
				if !ok {
					break
				}
				if err := e.dtls.Write(p); err != nil {
					e.log.Warnf("failed to write sctp packet: %v", err)
					continue
				}
				e.stats.ChannelBytesSent += uint64(len(p))
			}
		}
		for {
			ev, ok := e.bridge.PollEvent()
			if !ok {
				break
			}
			if out := fromDataChannel(ev); out != nil {
				e.events = append(e.events, out)
			}
		}
	}

	for {
		d, ok := e.dtls.PollTransmit()
		if !ok {
			break
		}
		e.sendSelected(d)
	}
}

// onDTLSConnected copies the exported keys into the two SRTP contexts.
func (e *Engine) onDTLSConnected(ev dtls.Connected) {
	km, err := e.dtls.KeyingMaterial()
	if err != nil {
		e.terminate(err)
		return
	}
	profile := srtp.ProtectionProfile(km.Profile)
	opts := []srtp.ContextOption{
		srtp.SRTPReplayWindow(e.cfg.SRTPReplayWindow),
		srtp.SRTCPReplayWindow(e.cfg.SRTCPReplayWindow),
	}
	local, err := srtp.NewContext(profile, km.LocalKey, km.LocalSalt, opts...)
	if err != nil {
		e.terminate(err)
		return
	}
	remote, err := srtp.NewContext(profile, km.RemoteKey, km.RemoteSalt, opts...)
	if err != nil {
		e.terminate(err)
		return
	}
	e.srtpLocal, e.srtpRemote = local, remote
	e.log.Infof("engine %s: dtls connected, srtp profile %s", e.id, profile)
	e.events = append(e.events, DtlsConnected{Fingerprint: ev.Fingerprint, Profile: profile})
}

// terminate raises the single Closed event of a failed session.
func (e *Engine) terminate(reason error) {
	if e.terminated {
		return
	}
	e.terminated = true
	e.log.Warnf("engine %s closed: %v", e.id, reason)
	e.events = append(e.events, Closed{Reason: reason})
}

func (e *Engine) sendSelected(payload []byte) {
	pair := e.agent.SelectedPair()
	if pair == nil {
		e.log.Debug("no selected pair, dropping outbound datagram")
		return
	}
	e.queueTransmit(Transmit{Source: pair.Local.Addr(), Destination: pair.Remote.Addr(), Payload: payload})
}

func (e *Engine) queueTransmit(t Transmit) {
	e.stats.BytesSent += uint64(len(t.Payload))
	e.stats.PacketsSent++
	e.transmits = append(e.transmits, t)
}

func (e *Engine) timeout(now time.Time) time.Time {
	if e.closed || e.terminated {
		return time.Time{}
	}
	m := deadline.Merger{}.
		Add(deadline.SourceICE, e.agent.PollTimeout(now)).
		Add(deadline.SourceDTLS, e.dtls.PollTimeout()).
		Add(deadline.SourceRTCP, e.session.PollTimeout()).
		Add(deadline.SourceEngine, e.diagnosticAt)
	return m.Clamp(now)
}

// PollTimeout returns when the engine must be polled again, the zero time
// when nothing is scheduled. Deadlines at or before now are handled first.
func (e *Engine) PollTimeout(now time.Time) (time.Time, error) {
	if err := e.advance(now); err != nil {
		return time.Time{}, err
	}
	return e.timeout(now), nil
}

// PollOutput returns the next output: transmits first, then a changed
// timeout, then events in order. OutputNone means drained.
func (e *Engine) PollOutput(now time.Time) (Output, error) {
	if err := e.advance(now); err != nil {
		return Output{}, err
	}
	e.flushDiagnostic(now)

	if len(e.transmits) > 0 {
		t := e.transmits[0]
		e.transmits = e.transmits[1:]
		return Output{Kind: OutputTransmit, Transmit: t}, nil
	}
	if t := e.timeout(now); !t.Equal(e.reportedTimeout) {
		e.reportedTimeout = t
		if !t.IsZero() {
			return Output{Kind: OutputTimeout, Timeout: t}, nil
		}
	}
	if len(e.events) > 0 {
		ev := e.events[0]
		e.events = e.events[1:]
		return Output{Kind: OutputEvent, Event: ev}, nil
	}
	return Output{Kind: OutputNone}, nil
}

func (e *Engine) writable(now time.Time) error {
	if e.closed || e.terminated {
		return ErrClosed
	}
	if err := e.advance(now); err != nil {
		return err
	}
	if e.srtpLocal == nil {
		return ErrNotConnected
	}
	return nil
}

// WriteRTP protects and queues one RTP packet of a local track.
func (e *Engine) WriteRTP(now time.Time, mid string, header *rtp.Header, payload []byte) error {
	if err := e.writable(now); err != nil {
		return err
	}
	if m, ok := e.session.Mid(header.SSRC); !ok || m != mid {
		return fmt.Errorf("%w: ssrc %d mid %q", ErrUnknownMid, header.SSRC, mid)
	}
	raw, err := e.session.WriteRTP(now, header, payload)
	if err != nil {
		return err
	}
	protected, err := e.srtpLocal.ProtectRTP(raw)
	if err != nil {
		return err
	}
	e.sendSelected(protected)
	return nil
}

// WriteRTCP protects and queues an application built compound packet.
func (e *Engine) WriteRTCP(now time.Time, pkts []rtcp.Packet) error {
	if err := e.writable(now); err != nil {
		return err
	}
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		return err
	}
	protected, err := e.srtpLocal.ProtectRTCP(raw)
	if err != nil {
		return err
	}
	e.sendSelected(protected)
	return nil
}

// RequestKeyframe sends a PLI for a remote SSRC.
func (e *Engine) RequestKeyframe(now time.Time, ssrc uint32) error {
	if err := e.writable(now); err != nil {
		return err
	}
	e.session.RequestKeyframe(ssrc)
	e.collect(now)
	return nil
}

// RequestRetransmit sends a NACK for lost sequences of a remote SSRC.
func (e *Engine) RequestRetransmit(now time.Time, ssrc uint32, seqs []uint16) error {
	if err := e.writable(now); err != nil {
		return err
	}
	e.session.RequestRetransmit(ssrc, seqs)
	e.collect(now)
	return nil
}

// AddLocalCandidate adds a gathered candidate.
func (e *Engine) AddLocalCandidate(c ice.Candidate) error {
	if e.closed || e.terminated {
		return ErrClosed
	}
	return e.agent.AddLocalCandidate(c)
}

// AddRemoteCandidate adds a trickled remote candidate.
func (e *Engine) AddRemoteCandidate(c ice.Candidate) error {
	if e.closed || e.terminated {
		return ErrClosed
	}
	return e.agent.AddRemoteCandidate(c)
}

// SetRemoteCredentials sets the remote ICE credentials when they were not
// known at New.
func (e *Engine) SetRemoteCredentials(ufrag, pwd string) error {
	if e.closed || e.terminated {
		return ErrClosed
	}
	return e.agent.SetRemoteCredentials(ufrag, pwd)
}

func (e *Engine) channels() (*datachannel.Bridge, error) {
	if e.closed || e.terminated {
		return nil, ErrClosed
	}
	if e.bridge == nil {
		return nil, ErrDataChannelsDisabled
	}
	return e.bridge, nil
}

// OpenChannel opens an in-band negotiated data channel.
func (e *Engine) OpenChannel(label, protocol string, ordered bool, rel datachannel.Reliability) (uint16, error) {
	b, err := e.channels()
	if err != nil {
		return 0, err
	}
	return b.Open(label, protocol, ordered, rel)
}

// OpenNegotiatedChannel opens a channel agreed on out of band.
func (e *Engine) OpenNegotiatedChannel(id uint16, label, protocol string, ordered bool, rel datachannel.Reliability) error {
	b, err := e.channels()
	if err != nil {
		return err
	}
	return b.OpenNegotiated(id, label, protocol, ordered, rel)
}

// SendChannel sends one message on a channel.
func (e *Engine) SendChannel(id uint16, data []byte, binary bool) error {
	b, err := e.channels()
	if err != nil {
		return err
	}
	return b.Send(id, data, binary)
}

// CloseChannel starts closing a channel.
func (e *Engine) CloseChannel(id uint16) error {
	b, err := e.channels()
	if err != nil {
		return err
	}
	return b.Close(id)
}

// Close sends close_notify and stops every sub machine. Queued output stays
// available to PollOutput.
func (e *Engine) Close(now time.Time) error {
	if e.closed {
		return nil
	}
	if err := e.advance(now); err != nil {
		return err
	}
	e.closed = true

	e.dtls.Close()
	for {
		d, ok := e.dtls.PollTransmit()
		if !ok {
			break
		}
		e.sendSelected(d)
	}
	for {
		if _, ok := e.dtls.PollEvent(); !ok {
			break
		}
	}

	e.agent.Close()
	for {
		if _, ok := e.agent.PollEvent(); !ok {
			break
		}
	}

	if c, ok := e.assoc.(io.Closer); ok {
		if err := c.Close(); err != nil {
			e.log.Debugf("failed to close association: %v", err)
		}
	}
	if !e.terminated {
		e.terminated = true
		e.events = append(e.events, Closed{})
	}
	e.log.Infof("engine %s closed", e.id)
	return nil
}

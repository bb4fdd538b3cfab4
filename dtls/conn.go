package dtls

import (
	"crypto/rand"
	"crypto/x509"
	"errors"
	"time"

	"github.com/pion/dtls/v2/pkg/crypto/ciphersuite"
	"github.com/pion/dtls/v2/pkg/crypto/elliptic"
	"github.com/pion/dtls/v2/pkg/protocol"
	"github.com/pion/dtls/v2/pkg/protocol/alert"
	"github.com/pion/dtls/v2/pkg/protocol/handshake"
	"github.com/pion/dtls/v2/pkg/protocol/recordlayer"
	"github.com/pion/logging"
	"github.com/pion/transport/v2/replaydetector"

	"github.com/pion/ion-rtc/pkg/rtc/deadline"
)

type handshakePhase int

const (
	phaseIdle handshakePhase = iota
	phaseClientWaitServerHello
	phaseClientWaitServerHelloDone
	phaseClientWaitFinished
	phaseServerWaitClientHello
	phaseServerWaitFinished
	phaseDone
)

// flightMessage is one entry of the last flight we sent. Handshake
// messages are stored sequenced and unfragmented so a retransmission
// only renews the record sequence numbers.
type flightMessage struct {
	changeCipherSpec bool
	epoch            uint16
	raw              []byte
}

// Conn is a DTLS 1.2 endpoint that owns no socket. Datagrams are pushed in
// with HandleDatagram and pulled out with PollTransmit; time only advances
// through the now arguments.
type Conn struct {
	cfg *resolvedConfig
	log logging.LeveledLogger

	phase handshakePhase
	lc    State
	err   error

	handshakeDeadline time.Time
	retransmitAt      time.Time
	rto               time.Duration

	flight           []flightMessage
	flightRetransmit bool
	// message_seq of the peer flight our current flight answers
	retransmitTrigger  int
	peerFlightStart    int
	awaitingPeerFlight bool

	localSequence [2]uint64
	localEpoch    uint16
	cipher        *ciphersuite.GCM
	replay        [2]replaydetector.ReplayDetector

	fragments        *fragmentBuffer
	handshakeSendSeq uint16
	transcript       []byte

	localRandom  handshake.Random
	remoteRandom handshake.Random
	cookie       []byte
	cookieSecret []byte
	lastHello    []byte

	curve             elliptic.Curve
	localKeypair      *elliptic.Keypair
	remotePublicKey   []byte
	remoteCert        *x509.Certificate
	remoteFingerprint Fingerprint
	certRequested     bool
	certVerified      bool
	masterSecret      []byte
	profile           SRTPProtectionProfile

	outbound [][]byte
	events   []Event
	appData  [][]byte
}

// New validates the configuration and returns an idle Conn.
func New(config Config) (*Conn, error) {
	cfg, err := config.resolve()
	if err != nil {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:                cfg,
		log:                cfg.LoggerFactory.NewLogger("dtls"),
		lc:                 StateIdle,
		fragments:          newFragmentBuffer(),
		cookieSecret:       secret,
		retransmitTrigger:  -1,
		peerFlightStart:    -1,
		awaitingPeerFlight: true,
	}
	for i := range c.replay {
		c.replay[i] = replaydetector.New(cfg.ReplayProtectionWindow, maxSequenceNumber)
	}
	return c, nil
}

// State returns the lifecycle state.
func (c *Conn) State() State {
	return c.lc
}

// IsClient reports the DTLS role.
func (c *Conn) IsClient() bool {
	return c.cfg.IsClient
}

// Start begins the handshake. A client sends its first flight, a server
// starts waiting for a ClientHello.
func (c *Conn) Start(now time.Time) error {
	switch c.lc {
	case StateIdle:
	case StateClosed, StateFailed:
		return ErrConnClosed
	default:
		return nil
	}
	c.lc = StateHandshaking
	c.handshakeDeadline = now.Add(c.cfg.HandshakeTimeout)

	if !c.cfg.IsClient {
		c.phase = phaseServerWaitClientHello
		return nil
	}
	if err := c.populateRandom(now); err != nil {
		return c.fail(err)
	}
	c.phase = phaseClientWaitServerHello
	return c.sendClientHello(now)
}

// HandleDatagram processes every record in one datagram. Temporary errors
// mean the offending record was dropped and the Conn is still usable.
func (c *Conn) HandleDatagram(now time.Time, buf []byte) error {
	switch c.lc {
	case StateClosed, StateFailed:
		return ErrConnClosed
	case StateIdle:
		if c.cfg.IsClient {
			return errNotStarted
		}
		if err := c.Start(now); err != nil {
			return err
		}
	}

	records, err := recordlayer.UnpackDatagram(buf)
	if err != nil {
		return &TemporaryError{err}
	}

	var firstErr error
	for _, r := range records {
		if err := c.handleRecord(now, r); err != nil {
			if !isTemporary(err) {
				return c.fail(err)
			}
			c.log.Tracef("dropped record: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if c.lc == StateClosed || c.lc == StateFailed {
			return c.err
		}
	}
	return firstErr
}

func (c *Conn) handleRecord(now time.Time, buf []byte) error {
	h, content, err := c.openRecord(buf)
	if err != nil {
		return err
	}

	switch h.ContentType {
	case protocol.ContentTypeHandshake:
		return c.handleHandshakeRecord(now, content, h.Epoch)
	case protocol.ContentTypeChangeCipherSpec:
		return nil
	case protocol.ContentTypeAlert:
		if c.lc == StateConnected && h.Epoch == 0 {
			return errUnexpectedMessage
		}
		var a alert.Alert
		if err := a.Unmarshal(content); err != nil {
			return &TemporaryError{err}
		}
		return c.handleAlert(a)
	case protocol.ContentTypeApplicationData:
		if c.lc != StateConnected || h.Epoch == 0 {
			return errUnexpectedMessage
		}
		c.appData = append(c.appData, content)
		return nil
	default:
		return errUnexpectedMessage
	}
}

func (c *Conn) handleAlert(a alert.Alert) error {
	alertErr := &AlertError{Alert: a}
	if !alertErr.IsFatalOrCloseNotify() {
		c.log.Debugf("ignoring %s", a.String())
		return nil
	}
	c.log.Infof("received %s", a.String())
	if a.Description == alert.CloseNotify {
		c.close(nil)
	} else {
		c.close(alertErr)
	}
	return nil
}

// HandleTimeout retransmits the current flight or fails the handshake once
// their deadlines passed.
func (c *Conn) HandleTimeout(now time.Time) {
	if c.lc != StateHandshaking {
		return
	}
	if deadline.Due(c.handshakeDeadline, now) {
		_ = c.fail(ErrHandshakeTimeout)
		return
	}
	if !c.flightRetransmit || !deadline.Due(c.retransmitAt, now) {
		return
	}
	c.log.Debugf("retransmitting flight after %v", c.rto)
	if err := c.sendFlight(); err != nil {
		_ = c.fail(err)
		return
	}
	c.rto *= 2
	if c.rto > c.cfg.RetransmitCap {
		c.rto = c.cfg.RetransmitCap
	}
	c.retransmitAt = now.Add(c.rto)
}

// PollTimeout returns when HandleTimeout should run next, or the zero time.
func (c *Conn) PollTimeout() time.Time {
	if c.lc != StateHandshaking {
		return time.Time{}
	}
	var retransmit time.Time
	if c.flightRetransmit {
		retransmit = c.retransmitAt
	}
	return deadline.Min(retransmit, c.handshakeDeadline)
}

// PollTransmit returns the next datagram to send.
func (c *Conn) PollTransmit() ([]byte, bool) {
	if len(c.outbound) == 0 {
		return nil, false
	}
	d := c.outbound[0]
	c.outbound = c.outbound[1:]
	return d, true
}

// PollEvent returns the next pending event.
func (c *Conn) PollEvent() (Event, bool) {
	if len(c.events) == 0 {
		return nil, false
	}
	e := c.events[0]
	c.events = c.events[1:]
	return e, true
}

// PollApplicationData returns the next decrypted application record.
func (c *Conn) PollApplicationData() ([]byte, bool) {
	if len(c.appData) == 0 {
		return nil, false
	}
	d := c.appData[0]
	c.appData = c.appData[1:]
	return d, true
}

// Write encrypts p as a single application_data record.
func (c *Conn) Write(p []byte) error {
	switch c.lc {
	case StateConnected:
	case StateClosed, StateFailed:
		return ErrConnClosed
	default:
		return errHandshakeInProgress
	}
	rec, err := c.sealRecord(protocol.ContentTypeApplicationData, 1, append([]byte{}, p...))
	if err != nil {
		return err
	}
	c.outbound = append(c.outbound, rec)
	return nil
}

// Close sends close_notify and moves to Closed. Closing twice is a no-op.
func (c *Conn) Close() {
	switch c.lc {
	case StateClosed, StateFailed:
		return
	case StateHandshaking, StateConnected:
		c.sendAlert(alert.Warning, alert.CloseNotify)
	}
	c.close(nil)
}

func (c *Conn) close(err error) {
	c.lc = StateClosed
	c.err = err
	c.flightRetransmit = false
	c.events = append(c.events, Closed{Err: err})
}

// fail aborts the connection with a fatal alert. A certificate that does
// not match the signalled fingerprint closes the Conn, every other
// handshake problem fails it.
func (c *Conn) fail(err error) error {
	if c.lc == StateClosed || c.lc == StateFailed {
		return err
	}
	c.log.Warnf("handshake failed: %v", err)

	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		c.sendAlert(alert.Fatal, alert.BadCertificate)
		c.close(err)
		return err
	case errors.Is(err, ErrHandshakeTimeout):
	case errors.Is(err, errVerifyDataMismatch), errors.Is(err, errKeySignatureMismatch):
		c.sendAlert(alert.Fatal, alert.DecryptError)
	default:
		c.sendAlert(alert.Fatal, alert.HandshakeFailure)
	}
	c.lc = StateFailed
	c.err = err
	c.flightRetransmit = false
	c.events = append(c.events, Failed{Err: err})
	return err
}

func (c *Conn) sendAlert(level alert.Level, desc alert.Description) {
	a := &alert.Alert{Level: level, Description: desc}
	data, err := a.Marshal()
	if err != nil {
		return
	}
	rec, err := c.sealRecord(protocol.ContentTypeAlert, c.localEpoch, data)
	if err != nil {
		c.log.Warnf("failed to seal alert: %v", err)
		return
	}
	c.outbound = append(c.outbound, rec)
}

// sendFlight serializes the current flight with fresh record numbers.
func (c *Conn) sendFlight() error {
	var records [][]byte
	for _, m := range c.flight {
		if m.changeCipherSpec {
			rec, err := c.sealRecord(protocol.ContentTypeChangeCipherSpec, 0, []byte{0x01})
			if err != nil {
				return err
			}
			records = append(records, rec)
			continue
		}
		frags, err := fragmentHandshake(m.raw, c.maxFragmentLen(m.epoch))
		if err != nil {
			return err
		}
		for _, f := range frags {
			rec, err := c.sealRecord(protocol.ContentTypeHandshake, m.epoch, f)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
	}
	c.queueRecords(records)
	return nil
}

// startFlight replaces the current flight and sends it. Flights that expect
// an answer are retransmitted on a doubling timer.
func (c *Conn) startFlight(now time.Time, flight []flightMessage, retransmit bool) error {
	c.flight = flight
	c.flightRetransmit = retransmit
	c.retransmitTrigger = c.peerFlightStart
	c.awaitingPeerFlight = true
	c.rto = c.cfg.InitialRTO
	c.retransmitAt = now.Add(c.rto)
	for _, m := range flight {
		if m.changeCipherSpec {
			c.localEpoch = 1
		}
	}
	return c.sendFlight()
}

// Package sctp runs a pion/sctp association behind the polled
// datachannel.Association interface. Unlike the engine packages it owns
// goroutines: pion/sctp drives its own timers and read loops.
package sctp

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/sctp"

	"github.com/pion/ion-rtc/datachannel"
)

const defaultMaxMessageSize = 65536

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sctp: association closed")
)

// Config configures an Association.
type Config struct {
	// IsClient sends the INIT. WebRTC uses the DTLS client for this.
	IsClient       bool
	MaxMessageSize uint32
	// Notify is signalled instead of a private channel when set, so a loop
	// created before the association can wait on it.
	Notify        chan struct{}
	LoggerFactory logging.LoggerFactory
}

type pendingSend struct {
	stream uint16
	ppi    datachannel.PayloadProtocolIdentifier
	data   []byte
	rel    datachannel.Reliability
}

// Association implements datachannel.Association on top of pion/sctp.
type Association struct {
	log     logging.LeveledLogger
	conn    *packetConn
	maxSize uint32
	notify  chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	assoc   *sctp.Association
	streams map[uint16]*sctp.Stream
	pending []pendingSend
	// flushing holds new sends in pending until the queue built up during
	// the handshake has been written.
	flushing bool
	events   []datachannel.AssociationEvent
	err     error
	closed  bool
}

// New starts the SCTP handshake in the background. Sends issued before the
// association is up are queued.
func New(config Config) *Association {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if config.Notify == nil {
		config.Notify = make(chan struct{}, 1)
	}
	a := &Association{
		log:     config.LoggerFactory.NewLogger("sctp"),
		maxSize: config.MaxMessageSize,
		notify:  config.Notify,
		done:    make(chan struct{}),
		streams: map[uint16]*sctp.Stream{},
	}
	a.conn = newPacketConn(a.wake)

	go a.run(config)
	return a
}

func (a *Association) run(config Config) {
	sctpConfig := sctp.Config{
		NetConn:        a.conn,
		MaxMessageSize: config.MaxMessageSize,
		LoggerFactory:  config.LoggerFactory,
	}
	var (
		assoc *sctp.Association
		err   error
	)
	if config.IsClient {
		assoc, err = sctp.Client(sctpConfig)
	} else {
		assoc, err = sctp.Server(sctpConfig)
	}

	a.mu.Lock()
	if err != nil || a.closed {
		if err == nil {
			_ = assoc.Close()
			err = ErrClosed
		}
		a.err = err
		a.mu.Unlock()
		a.log.Warnf("association failed: %v", err)
		close(a.done)
		return
	}
	a.assoc = assoc
	a.flushing = true
	a.mu.Unlock()
	a.log.Debug("association established")
	a.flush()

	for {
		s, err := assoc.AcceptStream()
		if err != nil {
			close(a.done)
			return
		}
		a.mu.Lock()
		a.streams[s.StreamIdentifier()] = s
		a.mu.Unlock()
		go a.readLoop(s)
	}
}

// flush writes queued sends in order. Sends that arrive meanwhile join the
// queue, so it only ends once the queue is observed empty.
func (a *Association) flush() {
	for {
		a.mu.Lock()
		pending := a.pending
		a.pending = nil
		if len(pending) == 0 || a.closed {
			a.flushing = false
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()

		for _, p := range pending {
			if err := a.write(p); err != nil {
				a.log.Warnf("failed to flush queued message on stream %d: %v", p.stream, err)
			}
		}
	}
}

func (a *Association) readLoop(s *sctp.Stream) {
	buf := make([]byte, a.maxSize)
	id := s.StreamIdentifier()
	for {
		n, ppi, err := s.ReadSCTP(buf)
		if err != nil {
			a.mu.Lock()
			delete(a.streams, id)
			if errors.Is(err, io.EOF) {
				a.events = append(a.events, datachannel.StreamReset{Stream: id})
			}
			a.mu.Unlock()
			a.wake()
			return
		}
		a.mu.Lock()
		a.events = append(a.events, datachannel.StreamData{
			Stream: id,
			PPI:    datachannel.PayloadProtocolIdentifier(ppi),
			Data:   append([]byte{}, buf[:n]...),
		})
		a.mu.Unlock()
		a.wake()
	}
}

func (a *Association) wake() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Notify is signalled whenever a packet or event becomes available.
func (a *Association) Notify() <-chan struct{} {
	return a.notify
}

// PushReceived feeds one decrypted DTLS record to the association.
func (a *Association) PushReceived(packet []byte) error {
	_, err := a.conn.inbound.Write(packet)
	return err
}

// PollTransmit returns the next SCTP packet to encrypt.
func (a *Association) PollTransmit() ([]byte, bool) {
	return a.conn.pop()
}

// PollEvent returns the next stream event.
func (a *Association) PollEvent() (datachannel.AssociationEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return nil, false
	}
	e := a.events[0]
	a.events = a.events[1:]
	return e, true
}

// Send writes one message, opening the stream on first use.
func (a *Association) Send(stream uint16, ppi datachannel.PayloadProtocolIdentifier, data []byte, rel datachannel.Reliability) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.err != nil {
		err := a.err
		a.mu.Unlock()
		return err
	}
	p := pendingSend{stream: stream, ppi: ppi, data: data, rel: rel}
	if a.assoc == nil || a.flushing {
		p.data = append([]byte{}, data...)
		a.pending = append(a.pending, p)
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()
	return a.write(p)
}

func (a *Association) write(p pendingSend) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	s, ok := a.streams[p.stream]
	opened := false
	if !ok {
		var err error
		if s, err = a.assoc.OpenStream(p.stream, sctp.PayloadProtocolIdentifier(p.ppi)); err != nil {
			a.mu.Unlock()
			return err
		}
		a.streams[p.stream] = s
		opened = true
	}
	a.mu.Unlock()

	if opened {
		go a.readLoop(s)
	}
	s.SetReliabilityParams(p.rel.Unordered, byte(p.rel.Type), p.rel.Parameter)
	_, err := s.WriteSCTP(p.data, sctp.PayloadProtocolIdentifier(p.ppi))
	return err
}

// ResetStream resets the outgoing direction of a stream.
func (a *Association) ResetStream(stream uint16) error {
	a.mu.Lock()
	s, ok := a.streams[stream]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// Close aborts the association and stops its goroutines.
func (a *Association) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	assoc := a.assoc
	a.mu.Unlock()

	if assoc != nil {
		return assoc.Close()
	}
	return a.conn.Close()
}

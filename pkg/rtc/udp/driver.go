// Package udp runs an engine over a UDP socket. It owns the socket, the
// clock and the timer the engine asks for, and is the only place engine
// verbs are called from.
package udp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/pion/ion-rtc/engine"
)

const receiveMTU = 8192

var errClosedDriver = errors.New("udp: driver closed")

// Config of a Driver.
type Config struct {
	Engine *engine.Engine
	Conn   *net.UDPConn
	// LocalAddr is passed to the engine as the destination of every
	// datagram. Defaults to the socket address, which must then not be a
	// wildcard.
	LocalAddr netip.AddrPort
	// Notify wakes the loop when a collaborator such as the SCTP
	// association has produced output.
	Notify <-chan struct{}
	// OnEvent is called on the loop goroutine for every engine event.
	OnEvent func(engine.Event)
	// OnStats receives a counter snapshot after every loop turn.
	OnStats func(id string, s engine.Stats)

	Now           func() time.Time
	LoggerFactory logging.LoggerFactory
}

type datagram struct {
	from netip.AddrPort
	buf  []byte
}

type call struct {
	fn   func(e *engine.Engine, now time.Time) error
	done chan error
}

// Driver feeds one engine from one socket.
type Driver struct {
	cfg   Config
	log   logging.LeveledLogger
	local netip.AddrPort

	readCh chan datagram
	callCh chan call

	doneCh   chan struct{}
	doneOnce sync.Once
	readWG   sync.WaitGroup
}

// New creates a driver. Run starts it.
func New(cfg Config) *Driver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	local := cfg.LocalAddr
	if !local.IsValid() {
		if addr, ok := cfg.Conn.LocalAddr().(*net.UDPAddr); ok {
			ap := addr.AddrPort()
			local = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
		}
	}
	return &Driver{
		cfg:    cfg,
		log:    cfg.LoggerFactory.NewLogger("udp"),
		local:  local,
		readCh: make(chan datagram, 64),
		callCh: make(chan call),
		doneCh: make(chan struct{}),
	}
}

// Do runs fn on the loop goroutine, so application verbs never race the
// loop.
func (d *Driver) Do(fn func(e *engine.Engine, now time.Time) error) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case d.callCh <- c:
	case <-d.doneCh:
		return errClosedDriver
	}
	select {
	case err := <-c.done:
		return err
	case <-d.doneCh:
		return errClosedDriver
	}
}

// Done is closed when Run has returned.
func (d *Driver) Done() <-chan struct{} {
	return d.doneCh
}

// Run drives the engine until it closes or ctx is done. The socket is
// closed on return.
func (d *Driver) Run(ctx context.Context) error {
	d.readWG.Add(1)
	go d.readLoop()
	defer func() {
		d.doneOnce.Do(func() { close(d.doneCh) })
		_ = d.cfg.Conn.Close()
		d.readWG.Wait()
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		closed, err := d.drain(timer)
		if err != nil || closed {
			return err
		}

		select {
		case <-ctx.Done():
			if err := d.cfg.Engine.Close(d.cfg.Now()); err != nil && !errors.Is(err, engine.ErrClosed) {
				d.log.Warnf("close engine: %v", err)
			}
			if _, err := d.drain(timer); err != nil {
				d.log.Warnf("drain on close: %v", err)
			}
			return ctx.Err()
		case dg, ok := <-d.readCh:
			if !ok {
				return errClosedDriver
			}
			if err := d.cfg.Engine.HandleInput(d.cfg.Now(), dg.from, d.local, dg.buf); err != nil {
				if errors.Is(err, engine.ErrClosed) {
					return nil
				}
				d.log.Warnf("handle input from %s: %v", dg.from, err)
			}
		case c := <-d.callCh:
			c.done <- c.fn(d.cfg.Engine, d.cfg.Now())
		case <-timer.C:
		case <-d.cfg.Notify:
		}
	}
}

// drain empties the engine output queue. It reports true once the engine
// emitted Closed.
func (d *Driver) drain(timer *time.Timer) (bool, error) {
	e := d.cfg.Engine
	defer func() {
		if d.cfg.OnStats != nil {
			d.cfg.OnStats(e.ID(), e.Stats())
		}
	}()

	closed := false
	for {
		now := d.cfg.Now()
		out, err := e.PollOutput(now)
		if err != nil {
			return closed, err
		}
		switch out.Kind {
		case engine.OutputNone:
			return closed, nil
		case engine.OutputTransmit:
			t := out.Transmit
			if _, err := d.cfg.Conn.WriteToUDPAddrPort(t.Payload, t.Destination); err != nil {
				d.log.Debugf("write to %s: %v", t.Destination, err)
			}
		case engine.OutputTimeout:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(out.Timeout.Sub(now))
		case engine.OutputEvent:
			if _, ok := out.Event.(engine.Closed); ok {
				closed = true
			}
			if d.cfg.OnEvent != nil {
				d.cfg.OnEvent(out.Event)
			}
		}
	}
}

func (d *Driver) readLoop() {
	defer d.readWG.Done()
	buf := make([]byte, receiveMTU)
	for {
		n, from, err := d.cfg.Conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-d.doneCh:
			default:
				d.log.Debugf("read loop stopped: %v", err)
				close(d.readCh)
			}
			return
		}
		dg := datagram{
			from: netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			buf:  append([]byte(nil), buf[:n]...),
		}
		select {
		case d.readCh <- dg:
		case <-d.doneCh:
			return
		}
	}
}

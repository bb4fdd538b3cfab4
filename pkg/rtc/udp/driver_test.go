package udp

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/engine"
	"github.com/pion/ion-rtc/ice"
)

type side struct {
	conn   *net.UDPConn
	addr   netip.AddrPort
	cfg    engine.Config
	fp     dtls.Fingerprint
	events chan engine.Event
}

func newSide(t *testing.T) *side {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	ap := conn.LocalAddr().(*net.UDPAddr).AddrPort()

	cert, err := dtls.GenerateCertificate(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	fp, err := dtls.CertificateFingerprint(cert)
	require.NoError(t, err)

	return &side{
		conn:   conn,
		addr:   netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()),
		cfg:    engine.Config{Certificate: cert},
		fp:     fp,
		events: make(chan engine.Event, 256),
	}
}

func (s *side) params(t *testing.T, remote *side, controlling bool) engine.Params {
	local, err := ice.NewHostCandidate(s.addr)
	require.NoError(t, err)
	peer, err := ice.NewHostCandidate(remote.addr)
	require.NoError(t, err)
	ufrag := func(sd *side) string {
		if sd == s {
			if controlling {
				return "ufraga"
			}
			return "ufragb"
		}
		if controlling {
			return "ufragb"
		}
		return "ufraga"
	}
	return engine.Params{
		Controlling:        controlling,
		LocalUfrag:         ufrag(s),
		LocalPwd:           ufrag(s) + "passwordpassword",
		RemoteUfrag:        ufrag(remote),
		RemotePwd:          ufrag(remote) + "passwordpassword",
		LocalCandidates:    []ice.Candidate{local},
		RemoteCandidates:   []ice.Candidate{peer},
		DTLSClient:         controlling,
		RemoteFingerprints: []dtls.Fingerprint{remote.fp},
	}
}

func (s *side) driver(e *engine.Engine) *Driver {
	return New(Config{
		Engine: e,
		Conn:   s.conn,
		OnEvent: func(ev engine.Event) {
			select {
			case s.events <- ev:
			default:
			}
		},
	})
}

func waitFor(t *testing.T, events <-chan engine.Event, match func(engine.Event) bool) engine.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func TestDriverLoopback(t *testing.T) {
	a, b := newSide(t), newSide(t)

	ea, err := engine.New(a.cfg, a.params(t, b, true))
	require.NoError(t, err)
	eb, err := engine.New(b.cfg, b.params(t, a, false))
	require.NoError(t, err)

	da, db := a.driver(ea), b.driver(eb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- da.Run(ctx) }()
	go func() { errB <- db.Run(ctx) }()

	connected := func(ev engine.Event) bool {
		_, ok := ev.(engine.DtlsConnected)
		return ok
	}
	waitFor(t, a.events, connected)
	waitFor(t, b.events, connected)

	var state ice.ConnectionState
	require.NoError(t, da.Do(func(e *engine.Engine, now time.Time) error {
		state = e.IceState()
		return nil
	}))
	assert.True(t, state == ice.ConnectionStateConnected || state == ice.ConnectionStateCompleted)

	require.NoError(t, da.Do(func(e *engine.Engine, now time.Time) error {
		return e.Close(now)
	}))
	waitFor(t, a.events, func(ev engine.Event) bool {
		_, ok := ev.(engine.Closed)
		return ok
	})
	select {
	case err := <-errA:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("driver a did not stop")
	}
	assert.ErrorIs(t, da.Do(func(*engine.Engine, time.Time) error { return nil }), errClosedDriver)

	// b stops on its own if the close_notify arrived first.
	cancel()
	select {
	case err := <-errB:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("driver b did not stop")
	}
}

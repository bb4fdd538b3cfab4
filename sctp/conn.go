package sctp

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v2/packetio"
)

type memoryAddr struct{}

func (memoryAddr) Network() string { return "dtls" }
func (memoryAddr) String() string  { return "dtls-application-data" }

// packetConn is the net.Conn pion/sctp runs on. Reads come from records
// pushed by the engine, writes are queued until the engine polls them.
type packetConn struct {
	inbound *packetio.Buffer

	mu       sync.Mutex
	outbound [][]byte
	notify   func()
}

func newPacketConn(notify func()) *packetConn {
	return &packetConn{inbound: packetio.NewBuffer(), notify: notify}
}

func (c *packetConn) Read(p []byte) (int, error) {
	return c.inbound.Read(p)
}

func (c *packetConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.outbound = append(c.outbound, append([]byte{}, p...))
	c.mu.Unlock()
	c.notify()
	return len(p), nil
}

func (c *packetConn) pop() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbound) == 0 {
		return nil, false
	}
	p := c.outbound[0]
	c.outbound = c.outbound[1:]
	return p, true
}

func (c *packetConn) Close() error {
	return c.inbound.Close()
}

func (c *packetConn) LocalAddr() net.Addr  { return memoryAddr{} }
func (c *packetConn) RemoteAddr() net.Addr { return memoryAddr{} }

func (c *packetConn) SetDeadline(t time.Time) error {
	return c.inbound.SetReadDeadline(t)
}

func (c *packetConn) SetReadDeadline(t time.Time) error {
	return c.inbound.SetReadDeadline(t)
}

func (c *packetConn) SetWriteDeadline(time.Time) error {
	return nil
}

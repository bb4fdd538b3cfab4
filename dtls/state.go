package dtls

// State is the lifecycle state of a Conn.
type State int

const (
	StateIdle State = iota + 1
	StateHandshaking
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is produced by a Conn for its owner.
type Event interface {
	dtlsEvent()
}

// Connected is raised once the handshake finished and keys are exported.
type Connected struct {
	Fingerprint Fingerprint
	Profile     SRTPProtectionProfile
}

// Closed is raised when the connection ends. Err is nil after a close_notify.
type Closed struct {
	Err error
}

// Failed is raised when the handshake cannot finish.
type Failed struct {
	Err error
}

func (Connected) dtlsEvent() {}
func (Closed) dtlsEvent()    {}
func (Failed) dtlsEvent()    {}

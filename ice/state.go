package ice

// ConnectionState is the state of the agent.
type ConnectionState int

// List of supported States
const (
	// ConnectionStateNew ICE agent is gathering addresses
	ConnectionStateNew ConnectionState = iota + 1

	// ConnectionStateChecking ICE agent has been given local and remote candidates, and is attempting to find a match
	ConnectionStateChecking

	// ConnectionStateConnected ICE agent has a pairing, but is still checking other pairs
	ConnectionStateConnected

	// ConnectionStateCompleted ICE agent has finished
	ConnectionStateCompleted

	// ConnectionStateFailed ICE agent never could successfully connect
	ConnectionStateFailed

	// ConnectionStateDisconnected ICE agent connected successfully, but has entered a failed state
	ConnectionStateDisconnected

	// ConnectionStateClosed ICE agent has finished and is no longer handling requests
	ConnectionStateClosed
)

func (c ConnectionState) String() string {
	switch c {
	case ConnectionStateNew:
		return "New"
	case ConnectionStateChecking:
		return "Checking"
	case ConnectionStateConnected:
		return "Connected"
	case ConnectionStateCompleted:
		return "Completed"
	case ConnectionStateFailed:
		return "Failed"
	case ConnectionStateDisconnected:
		return "Disconnected"
	case ConnectionStateClosed:
		return "Closed"
	default:
		return "Invalid"
	}
}

// PairState is the state of a candidate pair in the check list.
type PairState int

// Pair states (RFC 8445 6.1.2.6)
const (
	PairStateFrozen PairState = iota
	PairStateWaiting
	PairStateInProgress
	PairStateSucceeded
	PairStateFailed
)

func (s PairState) String() string {
	switch s {
	case PairStateFrozen:
		return "frozen"
	case PairStateWaiting:
		return "waiting"
	case PairStateInProgress:
		return "in-progress"
	case PairStateSucceeded:
		return "succeeded"
	case PairStateFailed:
		return "failed"
	}
	return "unknown"
}

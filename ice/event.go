package ice

// Event is produced by the agent for its owner.
type Event interface {
	iceEvent()
}

// ConnectionStateChange reports a new connection state.
type ConnectionStateChange struct {
	State ConnectionState
}

// SelectedPairChange reports the nominated pair.
type SelectedPairChange struct {
	Local  Candidate
	Remote Candidate
}

func (ConnectionStateChange) iceEvent() {}
func (SelectedPairChange) iceEvent()    {}

package datachannel

// Event is produced by the bridge for the application.
type Event interface {
	datachannelEvent()
}

// ChannelOpen reports a channel that can carry data in both directions.
type ChannelOpen struct {
	ID       uint16
	Label    string
	Protocol string
	// Remote is true when the peer opened the channel.
	Remote bool
}

// ChannelData carries one received user message.
type ChannelData struct {
	ID     uint16
	Data   []byte
	Binary bool
}

// ChannelClose reports a fully closed channel. Its id may be reused.
type ChannelClose struct {
	ID uint16
}

func (ChannelOpen) datachannelEvent()  {}
func (ChannelData) datachannelEvent()  {}
func (ChannelClose) datachannelEvent() {}

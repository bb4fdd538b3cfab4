package datachannel

// PayloadProtocolIdentifier values used by WebRTC, RFC 8831 section 8.
type PayloadProtocolIdentifier uint32

const (
	PayloadTypeWebRTCDCEP        PayloadProtocolIdentifier = 50
	PayloadTypeWebRTCString      PayloadProtocolIdentifier = 51
	PayloadTypeWebRTCBinary      PayloadProtocolIdentifier = 53
	PayloadTypeWebRTCStringEmpty PayloadProtocolIdentifier = 56
	PayloadTypeWebRTCBinaryEmpty PayloadProtocolIdentifier = 57
)

// ReliabilityType selects the partial reliability policy of a stream.
type ReliabilityType byte

const (
	ReliabilityTypeReliable ReliabilityType = 0
	ReliabilityTypeRexmit   ReliabilityType = 1
	ReliabilityTypeTimed    ReliabilityType = 2
)

// Reliability is the delivery policy applied to a message. Parameter is the
// retransmit count for Rexmit and the lifetime in milliseconds for Timed.
type Reliability struct {
	Unordered bool
	Type      ReliabilityType
	Parameter uint32
}

func (r Reliability) channelType() ChannelType {
	t := ChannelType(r.Type)
	if r.Unordered {
		t |= 0x80
	}
	return t
}

func reliabilityFromChannelType(t ChannelType, param uint32) Reliability {
	return Reliability{
		Unordered: t&0x80 != 0,
		Type:      ReliabilityType(t & 0x7f),
		Parameter: param,
	}
}

// AssociationEvent is produced by an Association.
type AssociationEvent interface {
	associationEvent()
}

// StreamData is one complete user message received on a stream.
type StreamData struct {
	Stream uint16
	PPI    PayloadProtocolIdentifier
	Data   []byte
}

// StreamReset reports that the peer reset its outgoing stream.
type StreamReset struct {
	Stream uint16
}

func (StreamData) associationEvent()  {}
func (StreamReset) associationEvent() {}

// Association is the SCTP association the bridge relays through. It owns
// reliability and congestion control; the bridge never retries.
type Association interface {
	// PushReceived hands one decrypted DTLS record to the association.
	PushReceived(packet []byte) error
	// PollTransmit returns the next SCTP packet to encrypt and send.
	PollTransmit() ([]byte, bool)
	PollEvent() (AssociationEvent, bool)
	Send(stream uint16, ppi PayloadProtocolIdentifier, data []byte, rel Reliability) error
	// ResetStream resets our outgoing side of a stream.
	ResetStream(stream uint16) error
}

package datachannel

import (
	"golang.org/x/crypto/cryptobyte"
)

// DCEP message types, RFC 8832 section 8.2.1
const (
	dataChannelAck  byte = 0x02
	dataChannelOpen byte = 0x03
)

// ChannelType is the DATA_CHANNEL_OPEN channel type octet.
type ChannelType byte

const (
	ChannelTypeReliable                       ChannelType = 0x00
	ChannelTypeReliableUnordered              ChannelType = 0x80
	ChannelTypePartialReliableRexmit          ChannelType = 0x01
	ChannelTypePartialReliableRexmitUnordered ChannelType = 0x81
	ChannelTypePartialReliableTimed           ChannelType = 0x02
	ChannelTypePartialReliableTimedUnordered  ChannelType = 0x82
)

const channelPriorityNormal uint16 = 256

/*
channelOpen represents a DATA_CHANNEL_OPEN Message

 0                   1                   2                   3
 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|  Message Type |  Channel Type |            Priority           |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                    Reliability Parameter                      |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|         Label Length          |       Protocol Length         |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                             Label                             |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                            Protocol                           |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type channelOpen struct {
	ChannelType          ChannelType
	Priority             uint16
	ReliabilityParameter uint32

	Label    string
	Protocol string
}

func (c *channelOpen) Marshal() ([]byte, error) {
	if len(c.Label) > 0xffff || len(c.Protocol) > 0xffff {
		return nil, errLabelTooLong
	}
	var b cryptobyte.Builder
	b.AddUint8(dataChannelOpen)
	b.AddUint8(uint8(c.ChannelType))
	b.AddUint16(c.Priority)
	b.AddUint32(c.ReliabilityParameter)
	b.AddUint16(uint16(len(c.Label)))
	b.AddUint16(uint16(len(c.Protocol)))
	b.AddBytes([]byte(c.Label))
	b.AddBytes([]byte(c.Protocol))
	return b.Bytes()
}

func (c *channelOpen) Unmarshal(raw []byte) error {
	s := cryptobyte.String(raw)
	var (
		typ, channelType      uint8
		labelLen, protocolLen uint16
		label, protocol       []byte
	)
	if !s.ReadUint8(&typ) || typ != dataChannelOpen {
		return errInvalidMessageType
	}
	if !s.ReadUint8(&channelType) ||
		!s.ReadUint16(&c.Priority) ||
		!s.ReadUint32(&c.ReliabilityParameter) ||
		!s.ReadUint16(&labelLen) ||
		!s.ReadUint16(&protocolLen) ||
		!s.ReadBytes(&label, int(labelLen)) ||
		!s.ReadBytes(&protocol, int(protocolLen)) {
		return errMessageTooShort
	}
	c.ChannelType = ChannelType(channelType)
	c.Label = string(label)
	c.Protocol = string(protocol)
	return nil
}

func marshalChannelAck() []byte {
	return []byte{dataChannelAck}
}

// messageType peeks at the DCEP message type.
func messageType(raw []byte) (byte, error) {
	s := cryptobyte.String(raw)
	var typ uint8
	if !s.ReadUint8(&typ) {
		return 0, errMessageTooShort
	}
	switch typ {
	case dataChannelOpen, dataChannelAck:
		return typ, nil
	}
	return 0, errInvalidMessageType
}

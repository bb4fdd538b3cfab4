package datachannel

import "errors"

var (
	// ErrUnknownChannel is returned for operations on an id that is not open.
	ErrUnknownChannel = errors.New("datachannel: unknown channel")
	// ErrChannelNotOpen is returned when sending on a closing or closed channel.
	ErrChannelNotOpen = errors.New("datachannel: channel is not open")
	// ErrNoFreeStream means every stream id of our parity is taken.
	ErrNoFreeStream = errors.New("datachannel: no free stream identifier")
	// ErrStreamInUse is returned when opening an id that is already taken.
	ErrStreamInUse = errors.New("datachannel: stream identifier already in use")

	errMessageTooShort    = errors.New("datachannel: DCEP message is too short")
	errInvalidMessageType = errors.New("datachannel: invalid DCEP message type")
	errLabelTooLong       = errors.New("datachannel: label or protocol too long")
)

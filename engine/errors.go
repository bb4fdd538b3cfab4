package engine

import "errors"

var (
	// ErrTimeWentBackwards is returned when now is earlier than the now of
	// a previous call.
	ErrTimeWentBackwards = errors.New("engine: time went backwards")

	// ErrEmptyAddress is returned for input without a source or destination.
	ErrEmptyAddress = errors.New("engine: empty address")

	// ErrClosed is returned once the engine is closed or failed.
	ErrClosed = errors.New("engine: closed")

	// ErrNotConnected is returned when media is written before SRTP keys
	// exist.
	ErrNotConnected = errors.New("engine: transport not connected")

	// ErrUnknownMid is returned when a header SSRC does not belong to mid.
	ErrUnknownMid = errors.New("engine: ssrc does not belong to mid")

	// ErrDataChannelsDisabled is returned by channel verbs without an
	// association.
	ErrDataChannelsDisabled = errors.New("engine: data channels disabled")

	// ErrNoCertificate is returned by New without a local certificate.
	ErrNoCertificate = errors.New("engine: no local certificate")

	// ErrICEFailed is the Closed reason when no candidate pair works.
	ErrICEFailed = errors.New("engine: ice failed")

	// ErrDTLSClosed is the Closed reason when the peer sent close_notify.
	ErrDTLSClosed = errors.New("engine: dtls closed by peer")
)

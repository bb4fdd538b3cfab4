package ice

import "errors"

var (
	// ErrUnknownType indicates an error with Unknown info.
	ErrUnknownType = errors.New("Unknown")

	// ErrProtoType indicates an unsupported transport type was provided.
	ErrProtoType = errors.New("invalid transport protocol type")

	// ErrAddressParseFailed indicates we were unable to parse a candidate address
	ErrAddressParseFailed = errors.New("failed to parse address")

	// ErrLocalUfragInsufficientBits indicates local username fragment insufficient bits are provided.
	// Have to be at least 24 bits long
	ErrLocalUfragInsufficientBits = errors.New("local username fragment is less than 24 bits long")

	// ErrLocalPwdInsufficientBits indicates local passoword insufficient bits are provided.
	// Have to be at least 128 bits long
	ErrLocalPwdInsufficientBits = errors.New("local password is less than 128 bits long")

	// ErrRemoteUfragEmpty indicates agent was started with an empty remote ufrag
	ErrRemoteUfragEmpty = errors.New("remote ufrag is empty")

	// ErrRemotePwdEmpty indicates agent was started with an empty remote pwd
	ErrRemotePwdEmpty = errors.New("remote pwd is empty")

	// ErrClosed indicates the agent is closed
	ErrClosed = errors.New("the agent is closed")

	// ErrComponentMismatch indicates a candidate for another component.
	ErrComponentMismatch = errors.New("candidate component does not match agent")

	// ErrUsernameMismatch indicates a STUN USERNAME that is not ours.
	ErrUsernameMismatch = errors.New("username mismatch")

	// ErrUnknownTransaction indicates a response to no outstanding request.
	ErrUnknownTransaction = errors.New("no outstanding transaction for response")

	// ErrUnknownLocalAddress indicates STUN arriving on an address we have no
	// candidate for.
	ErrUnknownLocalAddress = errors.New("no local candidate for destination address")

	// ErrNonSymmetricResponse indicates a response from an address other
	// than the one the request was sent to.
	ErrNonSymmetricResponse = errors.New("response source does not match request destination")

	// ErrUnhandledSTUN indicates a STUN message that is not a binding.
	ErrUnhandledSTUN = errors.New("unhandled STUN message")

	// ErrRestartUnsupported indicates new remote credentials after checks
	// started.
	ErrRestartUnsupported = errors.New("ice restart is not supported")
)

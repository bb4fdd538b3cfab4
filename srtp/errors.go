package srtp

import "errors"

var (
	// ErrReplayed indicates the packet index was already accepted or fell
	// behind the replay window.
	ErrReplayed = errors.New("srtp: packet replayed or too old")

	// ErrAuthFailed indicates the authentication tag did not verify.
	ErrAuthFailed = errors.New("srtp: failed to verify auth tag")

	// ErrTooShort indicates the packet cannot hold a header and tag.
	ErrTooShort = errors.New("srtp: packet too short")

	// ErrUnsupportedProfile indicates an unknown protection profile.
	ErrUnsupportedProfile = errors.New("srtp: unsupported protection profile")

	// ErrInvalidKeyLength indicates master key or salt of the wrong size.
	ErrInvalidKeyLength = errors.New("srtp: invalid master key or salt length")

	errInvalidRTCP = errors.New("srtp: invalid rtcp header")
)

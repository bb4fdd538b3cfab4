package sdp

import "errors"

var (
	// ErrMissingICECredentials is returned when no ice-ufrag or ice-pwd
	// is present.
	ErrMissingICECredentials = errors.New("sdp: missing ice-ufrag or ice-pwd")

	// ErrMissingFingerprint is returned when no fingerprint is present.
	ErrMissingFingerprint = errors.New("sdp: missing fingerprint")

	// ErrInvalidFingerprint is returned for a fingerprint without a value.
	ErrInvalidFingerprint = errors.New("sdp: invalid fingerprint")

	// ErrInvalidSetup is returned for an unknown a=setup value.
	ErrInvalidSetup = errors.New("sdp: invalid setup attribute")

	// ErrInvalidSSRC is returned for an unparsable a=ssrc line.
	ErrInvalidSSRC = errors.New("sdp: invalid ssrc attribute")
)

package dtls

import (
	"errors"
	"fmt"

	"github.com/pion/dtls/v2/pkg/protocol/alert"
)

// Typed errors
var (
	// ErrConnClosed is returned by operations on a closed or failed Conn.
	ErrConnClosed = &FatalError{errors.New("conn is closed")}
	// ErrFingerprintMismatch means the peer certificate does not hash to the signalled fingerprint.
	ErrFingerprintMismatch = &FatalError{errors.New("remote certificate does not match any fingerprint")}
	// ErrHandshakeTimeout means the handshake did not finish within Config.HandshakeTimeout.
	ErrHandshakeTimeout = &TimeoutError{errors.New("handshake timed out")}

	errHandshakeInProgress     = &TemporaryError{errors.New("handshake is in progress")}
	errNotStarted              = &TemporaryError{errors.New("handshake has not completed")}
	errDTLSPacketInvalidLength = &TemporaryError{errors.New("packet is too short")}
	errUnsupportedEpoch        = &TemporaryError{errors.New("record epoch is not known yet")}
	errReplayedRecord          = &TemporaryError{errors.New("record sequence number replayed")}
	errFragmentTooLong         = &TemporaryError{errors.New("handshake message exceeds the reassembly limit")}
	errFragmentOutOfWindow     = &TemporaryError{errors.New("handshake message sequence is too far ahead")}
	errUnexpectedMessage       = &TemporaryError{errors.New("handshake message is not expected in this state")}

	errCipherSuiteNoIntersection    = &FatalError{errors.New("client+server do not support any shared cipher suites")}
	errClientCertificateRequired    = &FatalError{errors.New("server required client verification, but got none")}
	errClientNoMatchingSRTPProfile  = &FatalError{errors.New("server responded with SRTP Profile we do not support")}
	errInvalidCertificate           = &FatalError{errors.New("no certificate provided")}
	errInvalidCertificateType       = &FatalError{errors.New("certificate key is not ECDSA")}
	errInvalidHashAlgorithm         = &FatalError{errors.New("invalid hash algorithm")}
	errInvalidNamedCurve            = &FatalError{errors.New("invalid named curve")}
	errInvalidPrivateKey            = &FatalError{errors.New("invalid private key type")}
	errInvalidSignatureAlgorithm    = &FatalError{errors.New("invalid signature algorithm")}
	errKeySignatureMismatch         = &FatalError{errors.New("expected and actual key signature do not match")}
	errNoRemoteFingerprint          = &FatalError{errors.New("no remote fingerprint configured")}
	errNoSupportedEllipticCurves    = &FatalError{errors.New("client requested zero or more elliptic curves that are not supported by the server")}
	errRequestedButNoSRTPExtension  = &FatalError{errors.New("SRTP support was requested but server did not respond with use_srtp extension")}
	errServerNoMatchingSRTPProfile  = &FatalError{errors.New("client requested SRTP but we have no matching profiles")}
	errServerRequiredButNoClientEMS = &FatalError{errors.New("server requires the Extended Master Secret extension, but the client does not support it")}
	errClientRequiredButNoServerEMS = &FatalError{errors.New("client required Extended Master Secret extension, but server does not support it")}
	errUnsupportedProtocolVersion   = &FatalError{errors.New("unsupported protocol version")}
	errVerifyDataMismatch           = &FatalError{errors.New("expected and actual verify data does not match")}

	errSequenceNumberOverflow = &InternalError{errors.New("sequence number overflow")}
)

// FatalError indicates that the DTLS connection is no longer available.
// It is mainly caused by wrong configuration of server or client.
type FatalError struct {
	Err error
}

// InternalError indicates and internal error caused by the implementation, and the DTLS connection is no longer available.
type InternalError struct {
	Err error
}

// TemporaryError indicates that the DTLS connection is still available, but the request was failed temporary.
type TemporaryError struct {
	Err error
}

// TimeoutError indicates that the request was timed out.
type TimeoutError struct {
	Err error
}

// Unwrap implements Go1.13 error unwrapper.
func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Error() string { return fmt.Sprintf("dtls fatal: %v", e.Err) }

// Unwrap implements Go1.13 error unwrapper.
func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Error() string { return fmt.Sprintf("dtls internal: %v", e.Err) }

// Unwrap implements Go1.13 error unwrapper.
func (e *TemporaryError) Unwrap() error { return e.Err }

func (e *TemporaryError) Error() string { return fmt.Sprintf("dtls temporary: %v", e.Err) }

// Unwrap implements Go1.13 error unwrapper.
func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Error() string { return fmt.Sprintf("dtls timeout: %v", e.Err) }

// AlertError wraps a DTLS alert received from the peer.
type AlertError struct {
	Alert alert.Alert
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("alert: %s", e.Alert.String())
}

// IsFatalOrCloseNotify reports whether the alert terminates the connection.
func (e *AlertError) IsFatalOrCloseNotify() bool {
	return e.Alert.Level == alert.Fatal || e.Alert.Description == alert.CloseNotify
}

// isTemporary reports whether err leaves the connection usable.
func isTemporary(err error) bool {
	var temp *TemporaryError
	return errors.As(err, &temp)
}

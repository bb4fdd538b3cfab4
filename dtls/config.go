package dtls

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/pion/logging"
)

const (
	defaultInitialRTO       = time.Second
	defaultRetransmitCap    = 60 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
	defaultMTU              = 1200
	defaultReplayWindow     = 64
)

// Config configures a Conn.
type Config struct {
	// IsClient selects the DTLS role. The client sends the first flight.
	IsClient bool

	// Certificate is the local ECDSA certificate presented to the peer.
	Certificate tls.Certificate

	// RemoteFingerprints lists the fingerprints signalled out of band.
	// The peer certificate must match one of them.
	RemoteFingerprints []Fingerprint

	// SRTPProtectionProfiles in local preference order.
	SRTPProtectionProfiles []SRTPProtectionProfile

	InitialRTO       time.Duration
	RetransmitCap    time.Duration
	HandshakeTimeout time.Duration

	// MTU bounds the size of every datagram the Conn produces.
	MTU int

	ReplayProtectionWindow uint

	LoggerFactory logging.LoggerFactory
}

type resolvedConfig struct {
	Config
	privateKey *ecdsa.PrivateKey
	leaf       *x509.Certificate
}

func (c Config) resolve() (*resolvedConfig, error) {
	if len(c.Certificate.Certificate) == 0 {
		return nil, errInvalidCertificate
	}
	key, ok := c.Certificate.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errInvalidPrivateKey
	}
	leaf, err := x509.ParseCertificate(c.Certificate.Certificate[0])
	if err != nil {
		return nil, &FatalError{err}
	}
	if _, ok := leaf.PublicKey.(*ecdsa.PublicKey); !ok {
		return nil, errInvalidCertificateType
	}
	if len(c.RemoteFingerprints) == 0 {
		return nil, errNoRemoteFingerprint
	}

	if len(c.SRTPProtectionProfiles) == 0 {
		c.SRTPProtectionProfiles = []SRTPProtectionProfile{SRTP_AEAD_AES_128_GCM, SRTP_AES128_CM_HMAC_SHA1_80}
	}
	if c.InitialRTO <= 0 {
		c.InitialRTO = defaultInitialRTO
	}
	if c.RetransmitCap <= 0 {
		c.RetransmitCap = defaultRetransmitCap
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.MTU <= 0 {
		c.MTU = defaultMTU
	}
	if c.ReplayProtectionWindow == 0 {
		c.ReplayProtectionWindow = defaultReplayWindow
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &resolvedConfig{Config: c, privateKey: key, leaf: leaf}, nil
}

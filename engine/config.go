package engine

import (
	"crypto/tls"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"

	"github.com/pion/ion-rtc/datachannel"
	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/ice"
	"github.com/pion/ion-rtc/srtp"
)

const (
	defaultDiagnosticInterval = time.Second
	defaultSRTPReplayWindow   = 128
	defaultSRTCPReplayWindow  = 128
	maxPendingDTLS            = 16
)

// ICEConfig holds the ICE policy knobs. Zero values use the agent defaults.
type ICEConfig struct {
	CheckInterval       time.Duration
	RTO                 time.Duration
	MaxBindingRequests  int
	KeepaliveInterval   time.Duration
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
}

// DTLSConfig holds the DTLS policy knobs.
type DTLSConfig struct {
	InitialRTO       time.Duration
	RetransmitCap    time.Duration
	HandshakeTimeout time.Duration
	MTU              int
}

// Config is the local policy of an engine. It does not change between
// sessions, unlike Params.
type Config struct {
	// Certificate is the local DTLS certificate with its ECDSA key.
	Certificate tls.Certificate

	ICE  ICEConfig
	DTLS DTLSConfig

	SRTPReplayWindow  uint
	SRTCPReplayWindow uint

	RTCPInterval time.Duration
	CNAME        string

	// DiagnosticInterval bounds how often dropped-packet summaries are
	// raised.
	DiagnosticInterval time.Duration

	// NewAssociation creates the SCTP association carrying data channels.
	// isClient follows the DTLS role. Data channels are disabled when nil.
	NewAssociation func(isClient bool) datachannel.Association

	// Rand jitters RTCP reports; tests inject a fixed source.
	Rand          randutil.MathRandomGenerator
	LoggerFactory logging.LoggerFactory
}

// Direction of a track.
type Direction int

// Track directions
const (
	DirectionSend Direction = iota + 1
	DirectionRecv
)

// Track maps an SSRC to a mid.
type Track struct {
	Mid       string
	SSRC      uint32
	ClockRate uint32
	Direction Direction
}

// Params are the negotiated session parameters, usually produced from an
// offer/answer exchange.
type Params struct {
	// Controlling is the ICE role.
	Controlling bool
	// LocalUfrag and LocalPwd are generated when empty.
	LocalUfrag  string
	LocalPwd    string
	RemoteUfrag string
	RemotePwd   string

	LocalCandidates  []ice.Candidate
	RemoteCandidates []ice.Candidate

	// DTLSClient is true when the remote answered setup:passive or offered
	// setup:passive.
	DTLSClient         bool
	RemoteFingerprints []dtls.Fingerprint

	// SRTPProfiles in preference order. Defaults to GCM then CM.
	SRTPProfiles []srtp.ProtectionProfile

	Tracks         []Track
	MidExtensionID uint8

	// DataChannels enables the SCTP bridge when Config.NewAssociation is
	// set.
	DataChannels bool
}

func (c *Config) applyDefaults() {
	if c.DiagnosticInterval <= 0 {
		c.DiagnosticInterval = defaultDiagnosticInterval
	}
	if c.SRTPReplayWindow == 0 {
		c.SRTPReplayWindow = defaultSRTPReplayWindow
	}
	if c.SRTCPReplayWindow == 0 {
		c.SRTCPReplayWindow = defaultSRTCPReplayWindow
	}
	if c.Rand == nil {
		c.Rand = randutil.NewMathRandomGenerator()
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

func (p Params) dtlsProfiles() []dtls.SRTPProtectionProfile {
	if len(p.SRTPProfiles) == 0 {
		return []dtls.SRTPProtectionProfile{dtls.SRTP_AEAD_AES_128_GCM, dtls.SRTP_AES128_CM_HMAC_SHA1_80}
	}
	out := make([]dtls.SRTPProtectionProfile, 0, len(p.SRTPProfiles))
	for _, profile := range p.SRTPProfiles {
		out = append(out, dtls.SRTPProtectionProfile(profile))
	}
	return out
}

package srtp

import (
	"fmt"

	"github.com/pion/transport/v2/replaydetector"
)

const (
	// DefaultReplayWindow is the replay window used when no option is given.
	DefaultReplayWindow = 128

	minReplayWindow = 64
	maxSRTPIndex    = (1 << 48) - 1
	maxSRTCPIndex   = 0x7FFFFFFF
	seqNumHalf      = 1 << 15
)

// Context is one direction of an SRTP session: the local context protects
// outbound packets, the remote context unprotects inbound ones. State for an
// SSRC is created when the first packet verifies and only mutated after a
// packet verified.
type Context struct {
	profile ProtectionProfile
	cipher  transform

	srtpSSRCStates  map[uint32]*srtpSSRCState
	srtcpSSRCStates map[uint32]*srtcpSSRCState

	srtpReplayWindow  uint
	srtcpReplayWindow uint
}

// ContextOption configures a Context.
type ContextOption func(*Context) error

// SRTPReplayWindow sets the SRTP replay window size (at least 64).
func SRTPReplayWindow(n uint) ContextOption {
	return func(c *Context) error {
		if n < minReplayWindow {
			return fmt.Errorf("srtp: replay window %d below %d", n, minReplayWindow)
		}
		c.srtpReplayWindow = n
		return nil
	}
}

// SRTCPReplayWindow sets the SRTCP replay window size (at least 64).
func SRTCPReplayWindow(n uint) ContextOption {
	return func(c *Context) error {
		if n < minReplayWindow {
			return fmt.Errorf("srtp: replay window %d below %d", n, minReplayWindow)
		}
		c.srtcpReplayWindow = n
		return nil
	}
}

// NewContext creates a Context from a master key and salt.
func NewContext(profile ProtectionProfile, masterKey, masterSalt []byte, opts ...ContextOption) (*Context, error) {
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, err
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, err
	}
	if len(masterKey) != keyLen || len(masterSalt) != saltLen {
		return nil, fmt.Errorf("%w: key %d salt %d for %s", ErrInvalidKeyLength, len(masterKey), len(masterSalt), profile)
	}

	c := &Context{
		profile:           profile,
		srtpSSRCStates:    map[uint32]*srtpSSRCState{},
		srtcpSSRCStates:   map[uint32]*srtcpSSRCState{},
		srtpReplayWindow:  DefaultReplayWindow,
		srtcpReplayWindow: DefaultReplayWindow,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	if c.cipher, err = newTransform(profile, masterKey, masterSalt); err != nil {
		return nil, err
	}
	return c, nil
}

// Profile returns the protection profile of the context.
func (c *Context) Profile() ProtectionProfile {
	return c.profile
}

// Index returns the last accepted 48-bit extended sequence number for ssrc.
func (c *Context) Index(ssrc uint32) (uint64, bool) {
	s, ok := c.srtpSSRCStates[ssrc]
	if !ok || !s.initialized {
		return 0, false
	}
	return s.index, true
}

// ROC returns the rollover counter for ssrc.
func (c *Context) ROC(ssrc uint32) (uint32, bool) {
	index, ok := c.Index(ssrc)
	return uint32(index >> 16), ok
}

type srtpSSRCState struct {
	ssrc           uint32
	index          uint64
	initialized    bool
	replayDetector replaydetector.ReplayDetector
}

type srtcpSSRCState struct {
	ssrc           uint32
	index          uint32
	replayDetector replaydetector.ReplayDetector
}

func (c *Context) getSRTPSSRCState(ssrc uint32) *srtpSSRCState {
	s, ok := c.peekSRTPSSRCState(ssrc)
	if !ok {
		c.srtpSSRCStates[ssrc] = s
	}
	return s
}

// peekSRTPSSRCState returns the state of ssrc, or a fresh one that is not
// stored yet.
func (c *Context) peekSRTPSSRCState(ssrc uint32) (*srtpSSRCState, bool) {
	if s, ok := c.srtpSSRCStates[ssrc]; ok {
		return s, true
	}
	return &srtpSSRCState{
		ssrc:           ssrc,
		replayDetector: replaydetector.New(c.srtpReplayWindow, maxSRTPIndex),
	}, false
}

func (c *Context) getSRTCPSSRCState(ssrc uint32) *srtcpSSRCState {
	s, ok := c.peekSRTCPSSRCState(ssrc)
	if !ok {
		c.srtcpSSRCStates[ssrc] = s
	}
	return s
}

func (c *Context) peekSRTCPSSRCState(ssrc uint32) (*srtcpSSRCState, bool) {
	if s, ok := c.srtcpSSRCStates[ssrc]; ok {
		return s, true
	}
	return &srtcpSSRCState{
		ssrc:           ssrc,
		replayDetector: replaydetector.WithWrap(c.srtcpReplayWindow, maxSRTCPIndex),
	}, false
}

// estimateIndex guesses the extended index of seq from the highest accepted
// index (RFC 3711 3.3.1). ok is false for a packet that would precede the
// first rollover of the stream.
func (s *srtpSSRCState) estimateIndex(seq uint16) (index uint64, ok bool) {
	if !s.initialized {
		return uint64(seq), true
	}

	roc := uint32(s.index >> 16)
	last := int(uint16(s.index))
	v := roc

	if last < seqNumHalf {
		if int(seq)-last > seqNumHalf {
			if roc == 0 {
				return 0, false
			}
			v = roc - 1
		}
	} else if last-seqNumHalf > int(seq) {
		v = roc + 1
	}
	return uint64(v)<<16 | uint64(seq), true
}

// commitIndex records an index that passed verification.
func (s *srtpSSRCState) commitIndex(index uint64) {
	if !s.initialized || index > s.index {
		s.index = index
		s.initialized = true
	}
}

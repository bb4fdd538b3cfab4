package sdp

import (
	"strconv"
	"strings"

	pionsdp "github.com/pion/sdp/v3"

	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/engine"
	"github.com/pion/ion-rtc/ice"
)

// Remote holds what the engine needs from the peer's description.
type Remote struct {
	Ufrag        string
	Pwd          string
	Fingerprints []dtls.Fingerprint
	Setup        ConnectionRole
	ICELite      bool
	Candidates   []ice.Candidate

	// Media lists the peer's audio and video sections. Send and Recv are
	// from the peer's point of view.
	Media []Media
	// Tracks the peer sends, as receive tracks for the engine.
	Tracks         []engine.Track
	MidExtensionID uint8

	DataChannels   bool
	SCTPPort       int
	MaxMessageSize uint32
}

// Parse reads a remote session description. Candidates the engine cannot
// use, such as TCP or mDNS ones, are skipped.
func Parse(raw []byte) (*Remote, error) {
	s := &pionsdp.SessionDescription{}
	if err := s.Unmarshal(raw); err != nil {
		return nil, err
	}

	r := &Remote{}
	if err := r.readTransport(s.Attributes); err != nil {
		return nil, err
	}
	for _, a := range s.Attributes {
		if a.Key == pionsdp.AttrKeyICELite {
			r.ICELite = true
		}
	}

	for _, m := range s.MediaDescriptions {
		if err := r.readTransport(m.Attributes); err != nil {
			return nil, err
		}
		switch m.MediaName.Media {
		case "application":
			r.readApplication(m)
		case "audio", "video":
			if err := r.readMedia(s, m); err != nil {
				return nil, err
			}
		}
	}

	if r.Ufrag == "" || r.Pwd == "" {
		return nil, ErrMissingICECredentials
	}
	if len(r.Fingerprints) == 0 {
		return nil, ErrMissingFingerprint
	}
	if r.Setup == 0 {
		r.Setup = ConnectionRoleActpass
	}
	return r, nil
}

func (r *Remote) readTransport(attrs []pionsdp.Attribute) error {
	for _, a := range attrs {
		switch a.Key {
		case "ice-ufrag":
			if r.Ufrag == "" {
				r.Ufrag = a.Value
			}
		case "ice-pwd":
			if r.Pwd == "" {
				r.Pwd = a.Value
			}
		case "fingerprint":
			parts := strings.Fields(a.Value)
			if len(parts) != 2 {
				return ErrInvalidFingerprint
			}
			fp := dtls.Fingerprint{Algorithm: strings.ToLower(parts[0]), Value: parts[1]}
			if !r.hasFingerprint(fp) {
				r.Fingerprints = append(r.Fingerprints, fp)
			}
		case pionsdp.AttrKeyConnectionSetup:
			role, err := parseConnectionRole(a.Value)
			if err != nil {
				return err
			}
			r.Setup = role
		case pionsdp.AttrKeyCandidate:
			c, err := ice.UnmarshalCandidate(a.Value)
			if err != nil {
				continue
			}
			if !r.hasCandidate(c) {
				r.Candidates = append(r.Candidates, c)
			}
		}
	}
	return nil
}

func (r *Remote) hasFingerprint(fp dtls.Fingerprint) bool {
	for _, f := range r.Fingerprints {
		if f.Algorithm == fp.Algorithm && strings.EqualFold(f.Value, fp.Value) {
			return true
		}
	}
	return false
}

func (r *Remote) hasCandidate(c ice.Candidate) bool {
	for _, o := range r.Candidates {
		if o.Equal(c) {
			return true
		}
	}
	return false
}

func (r *Remote) readApplication(m *pionsdp.MediaDescription) {
	r.DataChannels = true
	r.SCTPPort = defaultSCTPPort
	if v, ok := m.Attribute("sctp-port"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			r.SCTPPort = port
		}
	}
	if v, ok := m.Attribute("max-message-size"); ok {
		if size, err := strconv.ParseUint(v, 10, 32); err == nil {
			r.MaxMessageSize = uint32(size)
		}
	}
}

// readMedia records the SSRCs of a section the peer sends on.
func (r *Remote) readMedia(s *pionsdp.SessionDescription, m *pionsdp.MediaDescription) error {
	for _, a := range m.Attributes {
		if a.Key != pionsdp.AttrKeyExtMap {
			continue
		}
		var e pionsdp.ExtMap
		if err := e.Unmarshal(pionsdp.AttrKeyExtMap + ":" + a.Value); err != nil {
			continue
		}
		if e.URI != nil && e.URI.String() == pionsdp.SDESMidURI {
			r.MidExtensionID = uint8(e.Value)
		}
	}

	mid, _ := m.Attribute(pionsdp.AttrKeyMID)
	media := Media{Mid: mid, Kind: m.MediaName.Media, Send: true, Recv: true}
	if _, ok := m.Attribute(pionsdp.AttrKeyRecvOnly); ok {
		media.Send = false
	}
	if _, ok := m.Attribute(pionsdp.AttrKeySendOnly); ok {
		media.Recv = false
	}
	if _, ok := m.Attribute(pionsdp.AttrKeyInactive); ok {
		media.Send, media.Recv = false, false
	}
	for _, f := range m.MediaName.Formats {
		pt, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		codec, err := s.GetCodecForPayloadType(uint8(pt))
		if err != nil {
			continue
		}
		channels, _ := strconv.ParseUint(codec.EncodingParameters, 10, 16)
		media.Codecs = append(media.Codecs, Codec{
			PayloadType: codec.PayloadType,
			Name:        codec.Name,
			ClockRate:   codec.ClockRate,
			Channels:    uint16(channels),
			Fmtp:        codec.Fmtp,
		})
	}
	r.Media = append(r.Media, media)
	if !media.Send {
		return nil
	}

	var clockRate uint32
	if len(media.Codecs) > 0 {
		clockRate = media.Codecs[0].ClockRate
	}

	for _, a := range m.Attributes {
		if a.Key != pionsdp.AttrKeySSRC {
			continue
		}
		field := strings.Fields(a.Value)
		if len(field) == 0 {
			return ErrInvalidSSRC
		}
		ssrc, err := strconv.ParseUint(field[0], 10, 32)
		if err != nil {
			return ErrInvalidSSRC
		}
		if r.hasTrack(uint32(ssrc)) {
			continue
		}
		r.Tracks = append(r.Tracks, engine.Track{
			Mid:       mid,
			SSRC:      uint32(ssrc),
			ClockRate: clockRate,
			Direction: engine.DirectionRecv,
		})
	}
	return nil
}

func (r *Remote) hasTrack(ssrc uint32) bool {
	for _, t := range r.Tracks {
		if t.SSRC == ssrc {
			return true
		}
	}
	return false
}

// Params merges the remote description with our own into engine
// parameters. The offerer is the controlling ICE agent unless the peer is
// ice-lite.
func (r *Remote) Params(local Local, offerer bool) engine.Params {
	p := engine.Params{
		Controlling:        offerer || r.ICELite,
		LocalUfrag:         local.Ufrag,
		LocalPwd:           local.Pwd,
		RemoteUfrag:        r.Ufrag,
		RemotePwd:          r.Pwd,
		LocalCandidates:    local.Candidates,
		RemoteCandidates:   r.Candidates,
		DTLSClient:         dtlsClient(local.Setup),
		RemoteFingerprints: r.Fingerprints,
		Tracks:             append([]engine.Track{}, r.Tracks...),
		MidExtensionID:     r.MidExtensionID,
		DataChannels:       local.DataChannels && r.DataChannels,
	}
	for _, m := range local.Media {
		if !m.Send || m.SSRC == 0 {
			continue
		}
		var clockRate uint32
		if len(m.Codecs) > 0 {
			clockRate = m.Codecs[0].ClockRate
		}
		p.Tracks = append(p.Tracks, engine.Track{
			Mid:       m.Mid,
			SSRC:      m.SSRC,
			ClockRate: clockRate,
			Direction: engine.DirectionSend,
		})
	}
	return p
}

// Mirror returns receive-only answer sections for every section the peer
// sends on, and inactive ones for the rest.
func (r *Remote) Mirror() []Media {
	out := make([]Media, 0, len(r.Media))
	for _, m := range r.Media {
		out = append(out, Media{Mid: m.Mid, Kind: m.Kind, Codecs: m.Codecs, Recv: m.Send})
	}
	return out
}

// Answer fills the a=setup of our answer from the remote offer.
func (r *Remote) Answer(local Local) Local {
	local.Setup = answerRole(r.Setup)
	return local
}

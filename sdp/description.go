// Package sdp converts between session descriptions and engine parameters.
// It is a collaborator of the engine: the engine never parses SDP itself.
package sdp

import (
	"fmt"
	"net/url"
	"strconv"

	pionsdp "github.com/pion/sdp/v3"

	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/ice"
)

const (
	defaultSCTPPort       = 5000
	defaultMaxMessageSize = 262144
	defaultDataMid        = "data"
	midExtensionID        = pionsdp.DefExtMapValueSDESMid
)

// Codec of a media section.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    uint16
	Fmtp        string
}

// Media is one local audio or video section.
type Media struct {
	Mid    string
	Kind   string
	Codecs []Codec
	// SSRC of the local sender, zero when only receiving.
	SSRC uint32
	Send bool
	Recv bool
}

func (m Media) direction() string {
	switch {
	case m.Send && m.Recv:
		return pionsdp.AttrKeySendRecv
	case m.Send:
		return pionsdp.AttrKeySendOnly
	case m.Recv:
		return pionsdp.AttrKeyRecvOnly
	}
	return pionsdp.AttrKeyInactive
}

// Local describes our side of a session.
type Local struct {
	Ufrag       string
	Pwd         string
	Fingerprint dtls.Fingerprint
	Setup       ConnectionRole
	Candidates  []ice.Candidate
	CNAME       string

	Media []Media

	DataChannels   bool
	DataMid        string
	SCTPPort       int
	MaxMessageSize uint32
}

func (l Local) mids() []string {
	var mids []string
	for _, m := range l.Media {
		mids = append(mids, m.Mid)
	}
	if l.DataChannels {
		mids = append(mids, l.dataMid())
	}
	return mids
}

func (l Local) dataMid() string {
	if l.DataMid == "" {
		return defaultDataMid
	}
	return l.DataMid
}

// transport adds the attributes every bundled section repeats.
func (l Local) transport(d *pionsdp.MediaDescription, mid string) *pionsdp.MediaDescription {
	d.WithValueAttribute(pionsdp.AttrKeyMID, mid).
		WithICECredentials(l.Ufrag, l.Pwd).
		WithFingerprint(l.Fingerprint.Algorithm, l.Fingerprint.Value).
		WithValueAttribute(pionsdp.AttrKeyConnectionSetup, l.Setup.String())
	for _, c := range l.Candidates {
		d.WithCandidate(c.Marshal())
	}
	return d.WithPropertyAttribute(pionsdp.AttrKeyEndOfCandidates)
}

// Marshal renders a JSEP session description with every section bundled.
func (l Local) Marshal() ([]byte, error) {
	s, err := pionsdp.NewJSEPSessionDescription(false)
	if err != nil {
		return nil, err
	}
	group := "BUNDLE"
	for _, mid := range l.mids() {
		group += " " + mid
	}
	s.WithValueAttribute(pionsdp.AttrKeyGroup, group)

	midURI, err := url.Parse(pionsdp.SDESMidURI)
	if err != nil {
		return nil, err
	}
	for _, m := range l.Media {
		d := l.transport(pionsdp.NewJSEPMediaDescription(m.Kind, nil), m.Mid).
			WithPropertyAttribute(pionsdp.AttrKeyRTCPMux).
			WithPropertyAttribute(m.direction()).
			WithExtMap(pionsdp.ExtMap{Value: midExtensionID, URI: midURI})
		for _, c := range m.Codecs {
			d.WithCodec(c.PayloadType, c.Name, c.ClockRate, c.Channels, c.Fmtp)
		}
		if m.Send && m.SSRC != 0 {
			d.WithMediaSource(m.SSRC, l.CNAME, l.CNAME, m.Mid)
		}
		s.WithMedia(d)
	}

	if l.DataChannels {
		port, size := l.SCTPPort, l.MaxMessageSize
		if port == 0 {
			port = defaultSCTPPort
		}
		if size == 0 {
			size = defaultMaxMessageSize
		}
		d := &pionsdp.MediaDescription{
			MediaName: pionsdp.MediaName{
				Media:   "application",
				Port:    pionsdp.RangedPort{Value: 9},
				Protos:  []string{"UDP", "DTLS", "SCTP"},
				Formats: []string{"webrtc-datachannel"},
			},
			ConnectionInformation: &pionsdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &pionsdp.Address{Address: "0.0.0.0"},
			},
		}
		l.transport(d, l.dataMid()).
			WithValueAttribute("sctp-port", strconv.Itoa(port)).
			WithValueAttribute("max-message-size", strconv.FormatUint(uint64(size), 10))
		s.WithMedia(d)
	}

	out, err := s.Marshal()
	if err != nil {
		return nil, fmt.Errorf("sdp: marshal: %w", err)
	}
	return out, nil
}

package engine

import (
	"github.com/pion/ion-rtc/datachannel"
	"github.com/pion/ion-rtc/dtls"
	"github.com/pion/ion-rtc/ice"
	"github.com/pion/ion-rtc/rtc"
	"github.com/pion/ion-rtc/srtp"
)

// Event is an application visible occurrence.
type Event interface {
	engineEvent()
}

// IceStateChange reports a new ICE connection state.
type IceStateChange struct {
	State ice.ConnectionState
}

// SelectedPair reports the nominated candidate pair.
type SelectedPair struct {
	Local  ice.Candidate
	Remote ice.Candidate
}

// DtlsConnected reports a finished handshake. SRTP is usable from here on.
type DtlsConnected struct {
	Fingerprint dtls.Fingerprint
	Profile     srtp.ProtectionProfile
}

// Closed is terminal. Reason is nil after a local Close.
type Closed struct {
	Reason error
}

// Diagnostic summarizes datagrams dropped since the previous Diagnostic.
type Diagnostic struct {
	Unknown       uint64
	SRTPReplayed  uint64
	SRTPAuth      uint64
	SRTPMalformed uint64
	NoKeys        uint64
}

// MediaData carries one received RTP packet.
type MediaData struct{ rtc.MediaData }

// RetransmitRequest is raised by an inbound NACK.
type RetransmitRequest struct{ rtc.RetransmitRequest }

// KeyframeRequest is raised by an inbound PLI or FIR.
type KeyframeRequest struct{ rtc.KeyframeRequest }

// ReceiverReport describes how the peer receives one of our streams.
type ReceiverReport struct{ rtc.ReceiverReport }

// SenderReport is a remote sender report.
type SenderReport struct{ rtc.SenderReport }

// BitrateEstimate surfaces a REMB.
type BitrateEstimate struct{ rtc.BitrateEstimate }

// StreamEnded is raised by an RTCP BYE.
type StreamEnded struct{ rtc.StreamEnded }

// SourceDescription carries the SDES items, CNAME included, of a remote source.
type SourceDescription struct{ rtc.SourceDescription }

// ChannelOpen reports an open data channel.
type ChannelOpen struct{ datachannel.ChannelOpen }

// ChannelData carries one data channel message.
type ChannelData struct{ datachannel.ChannelData }

// ChannelClose reports a closed data channel.
type ChannelClose struct{ datachannel.ChannelClose }

func (IceStateChange) engineEvent()    {}
func (SelectedPair) engineEvent()      {}
func (DtlsConnected) engineEvent()     {}
func (Closed) engineEvent()            {}
func (Diagnostic) engineEvent()        {}
func (MediaData) engineEvent()         {}
func (RetransmitRequest) engineEvent() {}
func (KeyframeRequest) engineEvent()   {}
func (ReceiverReport) engineEvent()    {}
func (SenderReport) engineEvent()      {}
func (BitrateEstimate) engineEvent()   {}
func (StreamEnded) engineEvent()       {}
func (SourceDescription) engineEvent() {}
func (ChannelOpen) engineEvent()       {}
func (ChannelData) engineEvent()       {}
func (ChannelClose) engineEvent()      {}

func fromRTC(e rtc.Event) Event {
	switch e := e.(type) {
	case rtc.MediaData:
		return MediaData{e}
	case rtc.RetransmitRequest:
		return RetransmitRequest{e}
	case rtc.KeyframeRequest:
		return KeyframeRequest{e}
	case rtc.ReceiverReport:
		return ReceiverReport{e}
	case rtc.SenderReport:
		return SenderReport{e}
	case rtc.BitrateEstimate:
		return BitrateEstimate{e}
	case rtc.StreamEnded:
		return StreamEnded{e}
	case rtc.SourceDescription:
		return SourceDescription{e}
	}
	return nil
}

func fromDataChannel(e datachannel.Event) Event {
	switch e := e.(type) {
	case datachannel.ChannelOpen:
		return ChannelOpen{e}
	case datachannel.ChannelData:
		return ChannelData{e}
	case datachannel.ChannelClose:
		return ChannelClose{e}
	}
	return nil
}

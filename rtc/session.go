// Package rtc keeps per-SSRC RTP state and RTCP feedback for a session.
// It works on plaintext packets; protection happens in the engine.
package rtc

import (
	"sort"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/pion/ion-rtc/pkg/rtc/deadline"
	ionrtcp "github.com/pion/ion-rtc/rtcp"
)

const (
	defaultReportInterval = time.Second
	defaultClockRate      = 90000
	maxReportBlocks       = 31
)

// Config of a Session.
type Config struct {
	// ReportInterval is the nominal RTCP interval, jittered by +-25%.
	ReportInterval time.Duration
	// ReceiverSSRC is the sender SSRC of RTCP packets when no local track
	// exists.
	ReceiverSSRC uint32
	// CNAME is sent in an SDES chunk when set.
	CNAME string
	// MidExtensionID maps unknown SSRCs to a mid through the sdes:mid header
	// extension when non zero.
	MidExtensionID uint8
	// Rand jitters the report interval.
	Rand          randutil.MathRandomGenerator
	LoggerFactory logging.LoggerFactory
}

// Session is the RTP/RTCP state of one transport.
type Session struct {
	cfg Config
	log logging.LeveledLogger

	receive map[uint32]*receiveStream
	send    map[uint32]*sendStream
	order   []uint32

	nextReport time.Time
	rtcpOut    [][]byte
	events     []Event
}

// NewSession creates a session.
func NewSession(cfg Config) *Session {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = defaultReportInterval
	}
	if cfg.Rand == nil {
		cfg.Rand = randutil.NewMathRandomGenerator()
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Session{
		cfg:     cfg,
		log:     cfg.LoggerFactory.NewLogger("rtc"),
		receive: map[uint32]*receiveStream{},
		send:    map[uint32]*sendStream{},
	}
}

// AddLocalTrack registers an outbound SSRC.
func (s *Session) AddLocalTrack(mid string, ssrc, clockRate uint32) error {
	if _, ok := s.send[ssrc]; ok {
		return ErrTrackExists
	}
	if clockRate == 0 {
		clockRate = defaultClockRate
	}
	s.send[ssrc] = &sendStream{ssrc: ssrc, mid: mid, clockRate: clockRate}
	s.order = append(s.order, ssrc)
	return nil
}

// AddRemoteTrack maps an inbound SSRC to a mid ahead of its first packet.
func (s *Session) AddRemoteTrack(mid string, ssrc, clockRate uint32) {
	if clockRate == 0 {
		clockRate = defaultClockRate
	}
	if r, ok := s.receive[ssrc]; ok {
		r.mid = mid
		r.clockRate = clockRate
		return
	}
	s.receive[ssrc] = newReceiveStream(ssrc, mid, clockRate)
}

// Mid returns the mid of an SSRC, local or remote.
func (s *Session) Mid(ssrc uint32) (string, bool) {
	if r, ok := s.receive[ssrc]; ok {
		return r.mid, true
	}
	if w, ok := s.send[ssrc]; ok {
		return w.mid, true
	}
	return "", false
}

func (s *Session) armReports(now time.Time) {
	if s.nextReport.IsZero() {
		s.nextReport = now.Add(s.jitteredInterval())
	}
}

// jitteredInterval draws from [0.75, 1.25] x ReportInterval.
func (s *Session) jitteredInterval() time.Duration {
	perMille := 750 + s.cfg.Rand.Intn(501)
	return s.cfg.ReportInterval * time.Duration(perMille) / 1000
}

// HandleRTP records a decrypted RTP packet and surfaces MediaData.
func (s *Session) HandleRTP(now time.Time, plaintext []byte) error {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(plaintext); err != nil {
		return err
	}

	r, ok := s.receive[pkt.SSRC]
	if !ok {
		r = newReceiveStream(pkt.SSRC, s.midFromExtension(&pkt.Header), defaultClockRate)
		s.receive[pkt.SSRC] = r
		s.log.Debugf("new remote ssrc %d mid %q", pkt.SSRC, r.mid)
	}
	s.armReports(now)

	ext, duplicate := r.update(pkt.SequenceNumber)
	if duplicate {
		return ErrDuplicatePacket
	}
	r.updateJitter(now, pkt.Timestamp)
	r.octets += uint64(len(pkt.Payload))

	payload := make([]byte, len(pkt.Payload))
	copy(payload, pkt.Payload)
	s.events = append(s.events, MediaData{
		Mid:              r.mid,
		SSRC:             pkt.SSRC,
		PayloadType:      pkt.PayloadType,
		SequenceNumber:   pkt.SequenceNumber,
		ExtendedSequence: ext,
		Timestamp:        pkt.Timestamp,
		Marker:           pkt.Marker,
		Payload:          payload,
	})
	return nil
}

func (s *Session) midFromExtension(h *rtp.Header) string {
	if s.cfg.MidExtensionID == 0 || !h.Extension {
		return ""
	}
	return string(h.GetExtension(s.cfg.MidExtensionID))
}

// WriteRTP marshals an outbound packet and counts it for sender reports.
func (s *Session) WriteRTP(now time.Time, header *rtp.Header, payload []byte) ([]byte, error) {
	w, ok := s.send[header.SSRC]
	if !ok {
		return nil, ErrUnknownTrack
	}
	pkt := &rtp.Packet{Header: *header, Payload: payload}
	pkt.Version = 2
	raw, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}

	s.armReports(now)
	w.packets++
	w.octets += uint32(len(payload))
	w.lastRTPTime = header.Timestamp
	w.lastSendTime = now
	return raw, nil
}

// HandleRTCP dispatches a decrypted compound packet.
func (s *Session) HandleRTCP(now time.Time, plaintext []byte) error {
	pkts, err := ionrtcp.Unmarshal(plaintext)
	if err != nil {
		return err
	}

	for _, p := range pkts {
		switch p := p.(type) {
		case *rtcp.SenderReport:
			r, ok := s.receive[p.SSRC]
			if !ok {
				r = newReceiveStream(p.SSRC, "", defaultClockRate)
				s.receive[p.SSRC] = r
			}
			r.lastSR = ionrtcp.MiddleNTP(p.NTPTime)
			r.lastSRArrival = now
			s.events = append(s.events, SenderReport{
				SSRC:        p.SSRC,
				NTPTime:     p.NTPTime,
				RTPTime:     p.RTPTime,
				PacketCount: p.PacketCount,
				OctetCount:  p.OctetCount,
			})
			s.handleReports(now, p.Reports)
		case *rtcp.ReceiverReport:
			s.handleReports(now, p.Reports)
		case *rtcp.TransportLayerNack:
			var seqs []uint16
			for i := range p.Nacks {
				seqs = append(seqs, p.Nacks[i].PacketList()...)
			}
			s.events = append(s.events, RetransmitRequest{SSRC: p.MediaSSRC, Sequences: seqs})
		case *rtcp.PictureLossIndication:
			s.events = append(s.events, KeyframeRequest{SSRC: p.MediaSSRC, Kind: ionrtcp.FeedbackPli})
		case *rtcp.FullIntraRequest:
			for _, e := range p.FIR {
				s.events = append(s.events, KeyframeRequest{SSRC: e.SSRC, Kind: ionrtcp.FeedbackFir})
			}
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			s.events = append(s.events, BitrateEstimate{Bitrate: float64(p.Bitrate), SSRCs: p.SSRCs})
		case *rtcp.SourceDescription:
			for _, c := range p.Chunks {
				d := SourceDescription{SSRC: c.Source, Items: map[rtcp.SDESType]string{}}
				for _, item := range c.Items {
					d.Items[item.Type] = item.Text
					if item.Type == rtcp.SDESCNAME {
						d.CNAME = item.Text
					}
				}
				s.events = append(s.events, d)
			}
		case *rtcp.Goodbye:
			for _, ssrc := range p.Sources {
				if r, ok := s.receive[ssrc]; ok {
					r.ended = true
				}
				s.events = append(s.events, StreamEnded{SSRC: ssrc})
			}
		default:
			s.log.Tracef("ignoring rtcp %s", ionrtcp.Kind(p))
		}
	}
	return nil
}

func (s *Session) handleReports(now time.Time, reports []rtcp.ReceptionReport) {
	for _, rr := range reports {
		if _, ok := s.send[rr.SSRC]; !ok {
			continue
		}
		rtt, hasRTT := ionrtcp.RoundTripTime(now, rr.LastSenderReport, rr.Delay)
		s.events = append(s.events, ReceiverReport{
			SSRC:         rr.SSRC,
			FractionLost: rr.FractionLost,
			TotalLost:    rr.TotalLost,
			Jitter:       rr.Jitter,
			RTT:          rtt,
			HasRTT:       hasRTT,
		})
	}
}

// RequestKeyframe queues a PLI for a remote SSRC.
func (s *Session) RequestKeyframe(ssrc uint32) {
	s.queueFeedback(&rtcp.PictureLossIndication{SenderSSRC: s.senderSSRC(), MediaSSRC: ssrc})
}

// RequestRetransmit queues a NACK for lost sequences of a remote SSRC.
func (s *Session) RequestRetransmit(ssrc uint32, seqs []uint16) {
	if len(seqs) == 0 {
		return
	}
	s.queueFeedback(&rtcp.TransportLayerNack{
		SenderSSRC: s.senderSSRC(),
		MediaSSRC:  ssrc,
		Nacks:      rtcp.NackPairsFromSequenceNumbers(seqs),
	})
}

// queueFeedback sends p in a compound packet led by an empty RR.
func (s *Session) queueFeedback(p rtcp.Packet) {
	raw, err := rtcp.Marshal([]rtcp.Packet{&rtcp.ReceiverReport{SSRC: s.senderSSRC()}, p})
	if err != nil {
		s.log.Warnf("failed to marshal feedback: %v", err)
		return
	}
	s.rtcpOut = append(s.rtcpOut, raw)
}

func (s *Session) senderSSRC() uint32 {
	if len(s.order) > 0 {
		return s.order[0]
	}
	return s.cfg.ReceiverSSRC
}

// HandleTimeout emits periodic reports when due.
func (s *Session) HandleTimeout(now time.Time) {
	if !deadline.Due(s.nextReport, now) {
		return
	}
	s.nextReport = now.Add(s.jitteredInterval())

	if raw, ok := s.buildReport(now); ok {
		s.rtcpOut = append(s.rtcpOut, raw)
	}
}

func (s *Session) buildReport(now time.Time) ([]byte, bool) {
	var ssrcs []uint32
	for ssrc, r := range s.receive {
		if r.initialized && !r.ended {
			ssrcs = append(ssrcs, ssrc)
		}
	}
	sort.Slice(ssrcs, func(i, j int) bool { return ssrcs[i] < ssrcs[j] })
	if len(ssrcs) > maxReportBlocks {
		ssrcs = ssrcs[:maxReportBlocks]
	}

	var reports []rtcp.ReceptionReport
	for _, ssrc := range ssrcs {
		reports = append(reports, s.receive[ssrc].receptionReport(now))
	}

	var pkts []rtcp.Packet
	if len(s.order) > 0 {
		for i, ssrc := range s.order {
			var blocks []rtcp.ReceptionReport
			if i == 0 {
				blocks = reports
			}
			pkts = append(pkts, s.send[ssrc].senderReport(now, blocks))
		}
	} else if len(reports) > 0 {
		pkts = append(pkts, &rtcp.ReceiverReport{SSRC: s.cfg.ReceiverSSRC, Reports: reports})
	} else {
		return nil, false
	}

	if s.cfg.CNAME != "" {
		pkts = append(pkts, &rtcp.SourceDescription{Chunks: []rtcp.SourceDescriptionChunk{{
			Source: s.senderSSRC(),
			Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: s.cfg.CNAME}},
		}}})
	}

	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		s.log.Warnf("failed to marshal report: %v", err)
		return nil, false
	}
	return raw, true
}

// PollTimeout returns the next report time, zero when idle.
func (s *Session) PollTimeout() time.Time {
	return s.nextReport
}

// PollRTCP returns the next plaintext compound packet to protect and send.
func (s *Session) PollRTCP() ([]byte, bool) {
	if len(s.rtcpOut) == 0 {
		return nil, false
	}
	raw := s.rtcpOut[0]
	s.rtcpOut = s.rtcpOut[1:]
	return raw, true
}

// PollEvent returns the next event in arrival order.
func (s *Session) PollEvent() (Event, bool) {
	if len(s.events) == 0 {
		return nil, false
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, true
}

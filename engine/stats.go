package engine

// Stats are cumulative counters of an engine.
type Stats struct {
	BytesReceived   uint64
	BytesSent       uint64
	PacketsReceived uint64
	PacketsSent     uint64

	DroppedUnknown uint64
	DroppedSTUN    uint64
	DroppedDTLS    uint64
	DroppedNoKeys  uint64
	DroppedRTP     uint64

	// DroppedSource counts DTLS and SRTP datagrams from an address that is
	// not a remote candidate.
	DroppedSource uint64

	SRTPReplayed  uint64
	SRTPAuth      uint64
	SRTPMalformed uint64

	ChannelBytesReceived uint64
	ChannelBytesSent     uint64
}

// diagnostic returns the counters summarized by Diagnostic.
func (s Stats) diagnostic() Diagnostic {
	return Diagnostic{
		Unknown:       s.DroppedUnknown,
		SRTPReplayed:  s.SRTPReplayed,
		SRTPAuth:      s.SRTPAuth,
		SRTPMalformed: s.SRTPMalformed,
		NoKeys:        s.DroppedNoKeys,
	}
}

func (d Diagnostic) sub(prev Diagnostic) Diagnostic {
	return Diagnostic{
		Unknown:       d.Unknown - prev.Unknown,
		SRTPReplayed:  d.SRTPReplayed - prev.SRTPReplayed,
		SRTPAuth:      d.SRTPAuth - prev.SRTPAuth,
		SRTPMalformed: d.SRTPMalformed - prev.SRTPMalformed,
		NoKeys:        d.NoKeys - prev.NoKeys,
	}
}

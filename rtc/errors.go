package rtc

import "errors"

var (
	// ErrDuplicatePacket indicates an RTP sequence already delivered.
	ErrDuplicatePacket = errors.New("rtc: duplicate rtp packet")

	// ErrUnknownTrack indicates an outbound packet for an SSRC never added.
	ErrUnknownTrack = errors.New("rtc: unknown local track")

	// ErrTrackExists indicates an SSRC registered twice.
	ErrTrackExists = errors.New("rtc: track already exists")
)

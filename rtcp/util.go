package rtcp

import "time"

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

// ToNTP converts t into a 64-bit NTP timestamp.
func ToNTP(t time.Time) uint64 {
	nsec := uint64(t.UnixNano())
	sec := nsec / uint64(time.Second)
	frac := ((nsec % uint64(time.Second)) << 32) / uint64(time.Second)
	return (sec+ntpEpochOffset)<<32 | frac
}

// FromNTP converts a 64-bit NTP timestamp back into a time.
func FromNTP(ntp uint64) time.Time {
	sec := int64(ntp>>32) - ntpEpochOffset
	nsec := int64(((ntp & 0xFFFFFFFF) * uint64(time.Second)) >> 32)
	return time.Unix(sec, nsec)
}

// MiddleNTP returns the middle 32 bits of an NTP timestamp, the LSR field
// of a reception report.
func MiddleNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// DelaySinceLastSR expresses d in 1/65536 seconds, the DLSR unit.
func DelaySinceLastSR(d time.Duration) uint32 {
	if d < 0 {
		return 0
	}
	return uint32(d * 65536 / time.Second)
}

// RoundTripTime computes RTT from a reception report received at arrival
// (RFC 3550 6.4.1). ok is false when the report carries no LSR.
func RoundTripTime(arrival time.Time, lsr, dlsr uint32) (time.Duration, bool) {
	if lsr == 0 {
		return 0, false
	}
	a := MiddleNTP(ToNTP(arrival))
	rtt := a - lsr - dlsr
	if int32(rtt) < 0 {
		return 0, false
	}
	return time.Duration(uint64(rtt) * uint64(time.Second) / 65536), true
}

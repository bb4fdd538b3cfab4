// Package deadline merges the next-deadline values exposed by the engine's
// sub machines. The zero time.Time means "no deadline".
package deadline

import (
	"time"
)

// Source names the sub machine a deadline came from.
type Source int

// Deadline sources, in tie-break order.
const (
	SourceNone Source = iota
	SourceICE
	SourceDTLS
	SourceRTCP
	SourceSCTP
	SourceEngine
)

func (s Source) String() string {
	switch s {
	case SourceICE:
		return "ice"
	case SourceDTLS:
		return "dtls"
	case SourceRTCP:
		return "rtcp"
	case SourceSCTP:
		return "sctp"
	case SourceEngine:
		return "engine"
	}
	return "none"
}

// Merger computes the earliest of a set of optional deadlines.
// A Merger is a value; build a fresh one for every computation.
type Merger struct {
	at     time.Time
	source Source
}

// Add offers a deadline. Zero deadlines are ignored. On equal instants the
// first offered source wins.
func (m Merger) Add(src Source, t time.Time) Merger {
	if t.IsZero() {
		return m
	}
	if m.at.IsZero() || t.Before(m.at) {
		return Merger{at: t, source: src}
	}
	return m
}

// Min returns the earliest deadline offered, zero if none.
func (m Merger) Min() time.Time {
	return m.at
}

// Source returns which source produced Min.
func (m Merger) Source() Source {
	return m.source
}

// Clamp returns the deadline moved forward to now when it already elapsed.
func (m Merger) Clamp(now time.Time) time.Time {
	if m.at.IsZero() {
		return m.at
	}
	if m.at.Before(now) {
		return now
	}
	return m.at
}

// Min is a convenience for merging bare deadlines.
func Min(ts ...time.Time) time.Time {
	var m Merger
	for _, t := range ts {
		m = m.Add(SourceNone, t)
	}
	return m.Min()
}

// Due reports whether t is set and not after now.
func Due(t, now time.Time) bool {
	return !t.IsZero() && !t.After(now)
}

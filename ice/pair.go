package ice

import (
	"fmt"
	"time"
)

// CandidatePair is a local and a remote candidate under test.
type CandidatePair struct {
	Local  Candidate
	Remote Candidate

	priority  uint64
	state     PairState
	nominated bool

	requests       int
	nextRetransmit time.Time
	useCandidate   bool
	queued         bool
	lastReceived   time.Time
}

func newCandidatePair(local, remote Candidate, controlling bool) *CandidatePair {
	p := &CandidatePair{Local: local, Remote: remote}
	p.updatePriority(controlling)
	return p
}

// updatePriority applies RFC 8445 6.1.2.3 with G the controlling side's
// candidate priority.
func (p *CandidatePair) updatePriority(controlling bool) {
	g, d := uint64(p.Remote.Priority()), uint64(p.Local.Priority())
	if controlling {
		g, d = d, g
	}
	lo, hi := g, d
	if lo > hi {
		lo, hi = hi, lo
	}
	var tie uint64
	if g > d {
		tie = 1
	}
	p.priority = (1<<32)*lo + 2*hi + tie
}

// Priority of the pair.
func (p *CandidatePair) Priority() uint64 { return p.priority }

// State of the pair.
func (p *CandidatePair) State() PairState { return p.state }

// Nominated reports whether the pair was nominated.
func (p *CandidatePair) Nominated() bool { return p.nominated }

func (p *CandidatePair) sameTuple(local, remote Candidate) bool {
	return p.Local.Addr() == local.Addr() && p.Remote.Addr() == remote.Addr()
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("prio %d (local, prio %d) %s <-> %s (remote, prio %d) %s",
		p.priority, p.Local.Priority(), p.Local, p.Remote, p.Remote.Priority(), p.state)
}

// Package ice implements the Interactive Connectivity Establishment (ICE)
// protocol defined in rfc8445 as a sans-IO state machine. The caller feeds
// STUN datagrams and timer ticks and drains transmits and events.
package ice

import (
	"fmt"
	"net/netip"
	"sort"
	"time"

	pionice "github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/stun"

	"github.com/pion/ion-rtc/pkg/rtc/deadline"
)

const (
	// checkInterval paces connectivity checks across the whole check list
	defaultCheckInterval = 50 * time.Millisecond

	// retransmission timeout of a single binding request
	defaultRTO = 500 * time.Millisecond

	// max binding request before considering a pair failed
	defaultMaxBindingRequests = 7

	// keepaliveInterval used to keep the selected pair alive
	defaultKeepaliveInterval = 2 * time.Second

	// silence on the selected pair before entering Disconnected
	defaultDisconnectedTimeout = 5 * time.Second

	// time without a selected pair before entering Failed
	defaultFailedTimeout = 25 * time.Second

	ufragLength = 16
	pwdLength   = 32
	runesAlpha  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// AgentConfig collects the arguments to ice.Agent construction into
// a single structure, for future-proofness of the interface
type AgentConfig struct {
	// Controlling selects the initial role. A role conflict may flip it.
	Controlling bool

	// LocalUfrag and LocalPwd values used to perform connectivity
	// checks.  The values MUST be unguessable, with at least 128 bits of
	// random number generator output used to generate the password, and
	// at least 24 bits of output to generate the username fragment.
	LocalUfrag string
	LocalPwd   string

	// TieBreaker is drawn from crypto/rand when zero.
	TieBreaker uint64

	CheckInterval       time.Duration
	RTO                 time.Duration
	MaxBindingRequests  int
	KeepaliveInterval   time.Duration
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration

	LoggerFactory logging.LoggerFactory
}

// Transmit is a datagram to send from Source to Destination.
type Transmit struct {
	Source      netip.AddrPort
	Destination netip.AddrPort
	Payload     []byte
}

type transaction struct {
	pair         *CandidatePair
	sentAt       time.Time
	useCandidate bool
	keepalive    bool
	controlling  bool
}

// Agent represents the ICE agent
type Agent struct {
	log logging.LeveledLogger

	controlling bool
	tieBreaker  uint64

	localUfrag  string
	localPwd    string
	remoteUfrag string
	remotePwd   string

	checkInterval       time.Duration
	rto                 time.Duration
	maxBindingRequests  int
	keepaliveInterval   time.Duration
	disconnectedTimeout time.Duration
	failedTimeout       time.Duration

	localCandidates  []Candidate
	remoteCandidates []Candidate

	checklist []*CandidatePair
	triggered []*CandidatePair
	pending   map[[stun.TransactionIDSize]byte]*transaction

	selected        *CandidatePair
	connectionState ConnectionState

	checkingSince time.Time
	nextCheck     time.Time
	nextKeepalive time.Time
	lastReceived  time.Time

	transmits []Transmit
	events    []Event
}

// NewAgent creates a new Agent
func NewAgent(config AgentConfig) (*Agent, error) {
	localUfrag, localPwd := config.LocalUfrag, config.LocalPwd
	if localUfrag == "" {
		var err error
		if localUfrag, err = randutil.GenerateCryptoRandomString(ufragLength, runesAlpha); err != nil {
			return nil, err
		}
	} else if len([]rune(localUfrag))*8 < 24 {
		return nil, ErrLocalUfragInsufficientBits
	}
	if localPwd == "" {
		var err error
		if localPwd, err = randutil.GenerateCryptoRandomString(pwdLength, runesAlpha); err != nil {
			return nil, err
		}
	} else if len([]rune(localPwd))*8 < 128 {
		return nil, ErrLocalPwdInsufficientBits
	}

	tieBreaker := config.TieBreaker
	if tieBreaker == 0 {
		var err error
		if tieBreaker, err = randutil.CryptoUint64(); err != nil {
			return nil, err
		}
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	a := &Agent{
		log:                 loggerFactory.NewLogger("ice"),
		controlling:         config.Controlling,
		tieBreaker:          tieBreaker,
		localUfrag:          localUfrag,
		localPwd:            localPwd,
		checkInterval:       config.CheckInterval,
		rto:                 config.RTO,
		maxBindingRequests:  config.MaxBindingRequests,
		keepaliveInterval:   config.KeepaliveInterval,
		disconnectedTimeout: config.DisconnectedTimeout,
		failedTimeout:       config.FailedTimeout,
		pending:             map[[stun.TransactionIDSize]byte]*transaction{},
		connectionState:     ConnectionStateNew,
	}
	if a.checkInterval <= 0 {
		a.checkInterval = defaultCheckInterval
	}
	if a.rto <= 0 {
		a.rto = defaultRTO
	}
	if a.maxBindingRequests <= 0 {
		a.maxBindingRequests = defaultMaxBindingRequests
	}
	if a.keepaliveInterval <= 0 {
		a.keepaliveInterval = defaultKeepaliveInterval
	}
	if a.disconnectedTimeout <= 0 {
		a.disconnectedTimeout = defaultDisconnectedTimeout
	}
	if a.failedTimeout <= 0 {
		a.failedTimeout = defaultFailedTimeout
	}
	return a, nil
}

// LocalCredentials returns the local ufrag and pwd.
func (a *Agent) LocalCredentials() (ufrag, pwd string) {
	return a.localUfrag, a.localPwd
}

// Controlling reports the current role.
func (a *Agent) Controlling() bool {
	return a.controlling
}

// State returns the connection state.
func (a *Agent) State() ConnectionState {
	return a.connectionState
}

// SelectedPair returns a copy of the selected pair, nil before selection.
func (a *Agent) SelectedPair() *CandidatePair {
	if a.selected == nil {
		return nil
	}
	p := *a.selected
	return &p
}

// Pairs returns a snapshot of the check list in priority order.
func (a *Agent) Pairs() []CandidatePair {
	out := make([]CandidatePair, 0, len(a.checklist))
	for _, p := range a.checklist {
		out = append(out, *p)
	}
	return out
}

// LocalCandidates returns the local candidates.
func (a *Agent) LocalCandidates() []Candidate {
	return append([]Candidate(nil), a.localCandidates...)
}

// RemoteCandidates returns the remote candidates, peer reflexive included.
func (a *Agent) RemoteCandidates() []Candidate {
	return append([]Candidate(nil), a.remoteCandidates...)
}

// IsRemote reports whether addr is the address of a remote candidate,
// peer reflexive included.
func (a *Agent) IsRemote(addr netip.AddrPort) bool {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	for _, r := range a.remoteCandidates {
		if r.Addr() == addr {
			return true
		}
	}
	return false
}

// AddLocalCandidate adds a local candidate and pairs it with every remote
// candidate.
func (a *Agent) AddLocalCandidate(c Candidate) error {
	if a.connectionState == ConnectionStateClosed {
		return ErrClosed
	}
	for _, l := range a.localCandidates {
		if l.Equal(c) {
			return nil
		}
	}
	a.localCandidates = append(a.localCandidates, c)
	for _, r := range a.remoteCandidates {
		a.addPair(c, r)
	}
	return nil
}

// AddRemoteCandidate adds a remote candidate and pairs it with every local
// candidate.
func (a *Agent) AddRemoteCandidate(c Candidate) error {
	if a.connectionState == ConnectionStateClosed {
		return ErrClosed
	}
	a.addRemoteCandidate(c)
	return nil
}

func (a *Agent) addRemoteCandidate(c Candidate) {
	for _, r := range a.remoteCandidates {
		if r.Addr() == c.Addr() && r.Component() == c.Component() {
			return
		}
	}
	a.remoteCandidates = append(a.remoteCandidates, c)
	for _, l := range a.localCandidates {
		a.addPair(l, c)
	}
}

func (a *Agent) addPair(local, remote Candidate) *CandidatePair {
	if local.Component() != remote.Component() ||
		local.Addr().Addr().Is4() != remote.Addr().Addr().Is4() {
		return nil
	}
	if p := a.findPair(local, remote); p != nil {
		return p
	}
	p := newCandidatePair(local, remote, a.controlling)
	if a.remotePwd != "" {
		p.state = PairStateWaiting
	}
	a.checklist = append(a.checklist, p)
	a.sortChecklist()
	a.log.Tracef("added pair %s", p)
	return p
}

func (a *Agent) sortChecklist() {
	sort.SliceStable(a.checklist, func(i, j int) bool {
		return a.checklist[i].priority > a.checklist[j].priority
	})
}

func (a *Agent) findPair(local, remote Candidate) *CandidatePair {
	for _, p := range a.checklist {
		if p.sameTuple(local, remote) {
			return p
		}
	}
	return nil
}

func (a *Agent) findLocal(addr netip.AddrPort) (Candidate, bool) {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	for _, c := range a.localCandidates {
		if c.Addr() == addr {
			return c, true
		}
	}
	// A wildcard bound socket only knows its port.
	for _, c := range a.localCandidates {
		if c.Type() == CandidateTypeHost && c.Addr().Port() == addr.Port() &&
			c.Addr().Addr().Is4() == addr.Addr().Is4() {
			return c, true
		}
	}
	return Candidate{}, false
}

func (a *Agent) findRemote(addr netip.AddrPort) (Candidate, bool) {
	for _, c := range a.remoteCandidates {
		if c.Addr() == addr {
			return c, true
		}
	}
	return Candidate{}, false
}

// SetRemoteCredentials unfreezes the check list and starts checking.
func (a *Agent) SetRemoteCredentials(ufrag, pwd string) error {
	switch {
	case a.connectionState == ConnectionStateClosed:
		return ErrClosed
	case ufrag == "":
		return ErrRemoteUfragEmpty
	case pwd == "":
		return ErrRemotePwdEmpty
	case a.remoteUfrag != "" && (a.remoteUfrag != ufrag || a.remotePwd != pwd):
		return ErrRestartUnsupported
	}

	a.remoteUfrag, a.remotePwd = ufrag, pwd
	for _, p := range a.checklist {
		if p.state == PairStateFrozen {
			p.state = PairStateWaiting
		}
	}
	if a.connectionState == ConnectionStateNew {
		a.updateConnectionState(ConnectionStateChecking)
	}
	return nil
}

// HandleSTUN processes an inbound STUN datagram received on to from from.
// Every returned error means the datagram was dropped.
func (a *Agent) HandleSTUN(now time.Time, buf []byte, from, to netip.AddrPort) error {
	if a.connectionState == ConnectionStateClosed {
		return ErrClosed
	}
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

	m := &stun.Message{Raw: append([]byte(nil), buf...)}
	if err := m.Decode(); err != nil {
		return err
	}
	if m.Type.Method != stun.MethodBinding {
		return fmt.Errorf("%w: %s", ErrUnhandledSTUN, m.Type)
	}
	if err := assertInboundFingerprint(m); err != nil {
		return err
	}

	switch m.Type.Class {
	case stun.ClassRequest:
		return a.handleBindingRequest(now, m, from, to)
	case stun.ClassSuccessResponse:
		return a.handleBindingSuccess(now, m, from)
	case stun.ClassErrorResponse:
		return a.handleBindingError(m)
	case stun.ClassIndication:
		a.markReceived(now, from)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnhandledSTUN, m.Type)
}

func (a *Agent) handleBindingRequest(now time.Time, m *stun.Message, from, to netip.AddrPort) error {
	if err := assertInboundUsername(m, a.localUfrag, a.remoteUfrag); err != nil {
		return err
	}
	if err := assertInboundMessageIntegrity(m, []byte(a.localPwd)); err != nil {
		return err
	}
	local, ok := a.findLocal(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLocalAddress, to)
	}

	if conflict, err := a.resolveRoleConflict(m); err != nil {
		return err
	} else if conflict {
		a.sendRoleConflict(m, local, from)
		return nil
	}

	remote, ok := a.findRemote(from)
	if !ok {
		var priority pionice.PriorityAttr
		if err := priority.GetFrom(m); err != nil {
			return err
		}
		prflx, err := NewCandidate(CandidateConfig{
			Type:      CandidateTypePeerReflexive,
			Address:   from,
			Component: local.Component(),
			Priority:  uint32(priority),
		})
		if err != nil {
			return err
		}
		a.log.Debugf("adding a new peer-reflexive candidate: %s", from)
		a.addRemoteCandidate(prflx)
		remote = prflx
	}

	a.log.Tracef("inbound STUN (Request) from %s to %s", from, local)
	a.sendBindingSuccess(m, local, from)

	p := a.findPair(local, remote)
	if p == nil {
		return nil
	}
	p.lastReceived = now
	if a.remotePwd != "" {
		switch p.state {
		case PairStateFrozen, PairStateWaiting, PairStateFailed:
			a.enqueueTriggered(p)
		}
	}
	useCandidate := pionice.UseCandidateAttr{}
	if !a.controlling && useCandidate.IsSet(m) {
		p.nominated = true
		if a.selected == nil {
			a.setSelectedPair(now, p)
		}
	}
	a.markReceived(now, from)
	a.updateState()
	return nil
}

// resolveRoleConflict applies RFC 8445 7.3.1.1. It returns true when the
// request must be answered with 487.
func (a *Agent) resolveRoleConflict(m *stun.Message) (bool, error) {
	switch {
	case a.controlling && m.Contains(stun.AttrICEControlling):
		var theirs pionice.AttrControlling
		if err := theirs.GetFrom(m); err != nil {
			return false, err
		}
		if a.tieBreaker >= uint64(theirs) {
			return true, nil
		}
		a.switchRole(false)
	case !a.controlling && m.Contains(stun.AttrICEControlled):
		var theirs pionice.AttrControlled
		if err := theirs.GetFrom(m); err != nil {
			return false, err
		}
		if a.tieBreaker >= uint64(theirs) {
			a.switchRole(true)
		} else {
			return true, nil
		}
	}
	return false, nil
}

func (a *Agent) switchRole(controlling bool) {
	a.log.Infof("role conflict, switching to controlling=%t", controlling)
	a.controlling = controlling
	for _, p := range a.checklist {
		p.updatePriority(controlling)
	}
	a.sortChecklist()
}

func (a *Agent) handleBindingSuccess(now time.Time, m *stun.Message, from netip.AddrPort) error {
	tx, ok := a.pending[m.TransactionID]
	if !ok {
		return ErrUnknownTransaction
	}
	if err := assertInboundMessageIntegrity(m, []byte(a.remotePwd)); err != nil {
		return err
	}
	p := tx.pair
	if from != p.Remote.Addr() {
		return fmt.Errorf("%w: %s != %s", ErrNonSymmetricResponse, from, p.Remote.Addr())
	}
	delete(a.pending, m.TransactionID)

	p.lastReceived = now
	a.markReceived(now, from)
	if tx.keepalive {
		return nil
	}

	a.log.Tracef("inbound STUN (SuccessResponse) from %s to %s", from, p.Local)
	p.state = PairStateSucceeded
	p.requests = 0
	p.nextRetransmit = time.Time{}
	if tx.useCandidate {
		p.useCandidate = false
		p.nominated = true
		if a.selected == nil {
			a.setSelectedPair(now, p)
		}
	}
	a.updateState()
	return nil
}

func (a *Agent) handleBindingError(m *stun.Message) error {
	tx, ok := a.pending[m.TransactionID]
	if !ok {
		return ErrUnknownTransaction
	}
	if err := assertInboundMessageIntegrity(m, []byte(a.remotePwd)); err != nil {
		return err
	}
	delete(a.pending, m.TransactionID)

	var code stun.ErrorCodeAttribute
	if err := code.GetFrom(m); err != nil {
		return err
	}
	p := tx.pair
	if code.Code == stun.CodeRoleConflict {
		if a.controlling == tx.controlling {
			a.switchRole(!a.controlling)
		}
		if p.state == PairStateInProgress {
			p.state = PairStateWaiting
		}
		p.useCandidate = false
		a.enqueueTriggered(p)
		return nil
	}

	a.log.Debugf("binding error %s for pair %s", code, p)
	if !tx.keepalive {
		a.failPair(p)
	}
	a.updateState()
	return nil
}

// MarkReceived refreshes liveness of the selected pair for non STUN
// traffic.
func (a *Agent) MarkReceived(now time.Time, from netip.AddrPort) {
	a.markReceived(now, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()))
}

func (a *Agent) markReceived(now time.Time, from netip.AddrPort) {
	if a.selected == nil || a.selected.Remote.Addr() != from {
		return
	}
	a.lastReceived = now
	if a.connectionState == ConnectionStateDisconnected {
		a.updateConnectionState(ConnectionStateConnected)
		a.updateState()
	}
}

func (a *Agent) enqueueTriggered(p *CandidatePair) {
	if p.queued {
		return
	}
	p.queued = true
	a.triggered = append(a.triggered, p)
}

func (a *Agent) setSelectedPair(now time.Time, p *CandidatePair) {
	a.log.Infof("Set selected candidate pair: %s", p)
	a.selected = p
	a.lastReceived = now
	a.nextKeepalive = now.Add(a.keepaliveInterval)
	a.events = append(a.events, SelectedPairChange{Local: p.Local, Remote: p.Remote})
}

func (a *Agent) updateConnectionState(newState ConnectionState) {
	if a.connectionState == newState {
		return
	}
	a.log.Infof("Setting new connection state: %s", newState)
	a.connectionState = newState
	a.events = append(a.events, ConnectionStateChange{State: newState})
}

// updateState moves Checking to Connected once a pair is selected and
// Connected to Completed once the check list has settled.
func (a *Agent) updateState() {
	switch a.connectionState {
	case ConnectionStateFailed, ConnectionStateClosed, ConnectionStateDisconnected, ConnectionStateCompleted:
		return
	}
	if a.selected == nil {
		return
	}
	if a.connectionState != ConnectionStateConnected {
		a.updateConnectionState(ConnectionStateConnected)
	}
	if a.checksSettled() {
		a.updateConnectionState(ConnectionStateCompleted)
	}
}

func (a *Agent) checksSettled() bool {
	if len(a.triggered) > 0 {
		return false
	}
	for _, p := range a.checklist {
		if p.state == PairStateWaiting || p.state == PairStateInProgress || p.useCandidate {
			return false
		}
	}
	return true
}

func (a *Agent) failPair(p *CandidatePair) {
	a.log.Debugf("pair failed: %s", p)
	p.state = PairStateFailed
	p.useCandidate = false
	p.nextRetransmit = time.Time{}

	if a.selected != nil {
		return
	}
	for _, other := range a.checklist {
		if other.state != PairStateFailed {
			return
		}
	}
	a.log.Warnf("all candidate pairs failed")
	a.updateConnectionState(ConnectionStateFailed)
}

// HandleTimeout runs liveness checks, keepalives and at most one paced
// connectivity check.
func (a *Agent) HandleTimeout(now time.Time) {
	switch a.connectionState {
	case ConnectionStateFailed, ConnectionStateClosed:
		return
	}
	a.prunePending(now)
	if a.remotePwd == "" {
		return
	}
	if a.checkingSince.IsZero() {
		a.checkingSince = now
	}

	if a.selected != nil {
		a.checkLiveness(now)
		if a.connectionState == ConnectionStateFailed {
			return
		}
		if deadline.Due(a.nextKeepalive, now) {
			a.sendBindingRequest(now, a.selected, false, true)
			a.nextKeepalive = now.Add(a.keepaliveInterval)
		}
	} else if now.Sub(a.checkingSince) >= a.failedTimeout {
		a.log.Warnf("no candidate pair selected within %s", a.failedTimeout)
		a.updateConnectionState(ConnectionStateFailed)
		return
	}

	a.expirePairs(now)
	if a.connectionState == ConnectionStateFailed {
		return
	}
	if t := a.nextCheckTime(now); deadline.Due(t, now) {
		if a.runCheck(now) {
			a.nextCheck = now.Add(a.checkInterval)
		}
	}
	a.updateState()
}

func (a *Agent) checkLiveness(now time.Time) {
	silence := now.Sub(a.lastReceived)
	switch a.connectionState {
	case ConnectionStateConnected, ConnectionStateCompleted:
		if silence >= a.disconnectedTimeout {
			a.updateConnectionState(ConnectionStateDisconnected)
		}
	case ConnectionStateDisconnected:
		if silence >= a.failedTimeout {
			a.updateConnectionState(ConnectionStateFailed)
		}
	}
}

// expirePairs fails pairs whose last request went unanswered.
func (a *Agent) expirePairs(now time.Time) {
	for _, p := range a.checklist {
		if !a.retransmitting(p) || !deadline.Due(p.nextRetransmit, now) {
			continue
		}
		if p.requests >= a.maxBindingRequests {
			a.failPair(p)
		}
	}
}

func (a *Agent) retransmitting(p *CandidatePair) bool {
	return p.state == PairStateInProgress || (p.state == PairStateSucceeded && p.useCandidate)
}

func (a *Agent) prunePending(now time.Time) {
	maxAge := a.rto * time.Duration(a.maxBindingRequests+1)
	for id, tx := range a.pending {
		if now.Sub(tx.sentAt) > maxAge {
			delete(a.pending, id)
		}
	}
}

// nextCheckTime is when the paced scheduler has work, zero when idle.
func (a *Agent) nextCheckTime(now time.Time) time.Time {
	var work time.Time
	if len(a.triggered) > 0 || a.bestPair(PairStateWaiting) != nil || a.nominationCandidate() != nil {
		work = now
	} else {
		for _, p := range a.checklist {
			if a.retransmitting(p) {
				work = deadline.Min(work, p.nextRetransmit)
			}
		}
	}
	if work.IsZero() {
		return work
	}
	if work.Before(a.nextCheck) {
		return a.nextCheck
	}
	if work.Before(now) {
		return now
	}
	return work
}

// runCheck sends the single check of this tick: triggered first, then the
// best Waiting pair, then a due retransmission, then a nomination.
func (a *Agent) runCheck(now time.Time) bool {
	for len(a.triggered) > 0 {
		p := a.triggered[0]
		a.triggered = a.triggered[1:]
		p.queued = false
		if p.state == PairStateInProgress || p.state == PairStateSucceeded {
			continue
		}
		a.startCheck(now, p)
		return true
	}

	if p := a.bestPair(PairStateWaiting); p != nil {
		a.startCheck(now, p)
		return true
	}

	var due *CandidatePair
	for _, p := range a.checklist {
		if a.retransmitting(p) && deadline.Due(p.nextRetransmit, now) &&
			(due == nil || p.nextRetransmit.Before(due.nextRetransmit)) {
			due = p
		}
	}
	if due != nil {
		a.sendBindingRequest(now, due, due.useCandidate, false)
		return true
	}

	if p := a.nominationCandidate(); p != nil {
		a.log.Debugf("nominating pair %s", p)
		p.useCandidate = true
		p.requests = 0
		a.sendBindingRequest(now, p, true, false)
		return true
	}
	return false
}

func (a *Agent) startCheck(now time.Time, p *CandidatePair) {
	p.state = PairStateInProgress
	p.requests = 0
	a.sendBindingRequest(now, p, false, false)
}

func (a *Agent) bestPair(state PairState) *CandidatePair {
	for _, p := range a.checklist {
		if p.state == state {
			return p
		}
	}
	return nil
}

// nominationCandidate is the best Succeeded pair once nothing of higher
// priority is still pending, nil when the controlling agent must wait.
func (a *Agent) nominationCandidate() *CandidatePair {
	if !a.controlling || a.selected != nil {
		return nil
	}
	for _, p := range a.checklist {
		switch {
		case p.useCandidate:
			return nil
		case p.state == PairStateSucceeded:
			return p
		case p.state != PairStateFailed:
			return nil
		}
	}
	return nil
}

func (a *Agent) sendBindingRequest(now time.Time, p *CandidatePair, useCandidate, keepalive bool) {
	setters := []stun.Setter{
		stun.BindingRequest,
		stun.TransactionID,
		stun.NewUsername(a.remoteUfrag + ":" + a.localUfrag),
	}
	if useCandidate {
		setters = append(setters, pionice.UseCandidate())
	}
	if a.controlling {
		setters = append(setters, pionice.AttrControlling(a.tieBreaker))
	} else {
		setters = append(setters, pionice.AttrControlled(a.tieBreaker))
	}
	setters = append(setters,
		pionice.PriorityAttr(peerReflexivePriority(p.Local)),
		stun.NewShortTermIntegrity(a.remotePwd),
		stun.Fingerprint,
	)

	msg, err := stun.Build(setters...)
	if err != nil {
		a.log.Warnf("failed to build binding request for %s: %v", p, err)
		return
	}
	a.log.Tracef("ping STUN from %s to %s", p.Local, p.Remote)

	a.pending[msg.TransactionID] = &transaction{
		pair:         p,
		sentAt:       now,
		useCandidate: useCandidate,
		keepalive:    keepalive,
		controlling:  a.controlling,
	}
	if !keepalive {
		p.requests++
		p.nextRetransmit = now.Add(a.rto)
	}
	a.transmit(p.Local.Addr(), p.Remote.Addr(), msg.Raw)
}

func (a *Agent) sendBindingSuccess(m *stun.Message, local Candidate, from netip.AddrPort) {
	out, err := stun.Build(m, stun.BindingSuccess,
		&stun.XORMappedAddress{
			IP:   from.Addr().AsSlice(),
			Port: int(from.Port()),
		},
		stun.NewShortTermIntegrity(a.localPwd),
		stun.Fingerprint,
	)
	if err != nil {
		a.log.Warnf("Failed to handle inbound ICE from: %s to: %s error: %s", from, local, err)
		return
	}
	a.transmit(local.Addr(), from, out.Raw)
}

func (a *Agent) sendRoleConflict(m *stun.Message, local Candidate, from netip.AddrPort) {
	out, err := stun.Build(m, stun.BindingError,
		stun.CodeRoleConflict,
		stun.NewShortTermIntegrity(a.localPwd),
		stun.Fingerprint,
	)
	if err != nil {
		a.log.Warnf("failed to build role conflict response: %v", err)
		return
	}
	a.log.Debugf("role conflict with %s, answering 487", from)
	a.transmit(local.Addr(), from, out.Raw)
}

func (a *Agent) transmit(src, dst netip.AddrPort, raw []byte) {
	a.transmits = append(a.transmits, Transmit{
		Source:      src,
		Destination: dst,
		Payload:     append([]byte(nil), raw...),
	})
}

// peerReflexivePriority is the PRIORITY attribute of a check: the local
// candidate priority with the peer reflexive type preference.
func peerReflexivePriority(local Candidate) uint32 {
	return (1<<24)*uint32(CandidateTypePeerReflexive.Preference()) | local.Priority()&0xFFFFFF
}

// PollTimeout returns when HandleTimeout must next run, zero when nothing
// is scheduled.
func (a *Agent) PollTimeout(now time.Time) time.Time {
	switch a.connectionState {
	case ConnectionStateFailed, ConnectionStateClosed:
		return time.Time{}
	}
	if a.remotePwd == "" {
		return time.Time{}
	}
	if a.checkingSince.IsZero() {
		return now
	}

	t := a.nextCheckTime(now)
	if a.selected != nil {
		t = deadline.Min(t, a.nextKeepalive)
		switch a.connectionState {
		case ConnectionStateDisconnected:
			t = deadline.Min(t, a.lastReceived.Add(a.failedTimeout))
		default:
			t = deadline.Min(t, a.lastReceived.Add(a.disconnectedTimeout))
		}
	} else {
		t = deadline.Min(t, a.checkingSince.Add(a.failedTimeout))
	}
	return t
}

// PollTransmit returns the next datagram to send.
func (a *Agent) PollTransmit() (Transmit, bool) {
	if len(a.transmits) == 0 {
		return Transmit{}, false
	}
	t := a.transmits[0]
	a.transmits = a.transmits[1:]
	return t, true
}

// PollEvent returns the next event in order.
func (a *Agent) PollEvent() (Event, bool) {
	if len(a.events) == 0 {
		return nil, false
	}
	e := a.events[0]
	a.events = a.events[1:]
	return e, true
}

// Close stops the agent. Queued transmits stay available.
func (a *Agent) Close() {
	a.triggered = nil
	a.pending = map[[stun.TransactionIDSize]byte]*transaction{}
	a.updateConnectionState(ConnectionStateClosed)
}

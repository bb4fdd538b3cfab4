package ice

import (
	"fmt"
	"hash/crc32"
	"net/netip"
	"strings"

	pionice "github.com/pion/ice/v2"
)

const (
	defaultLocalPreference = 65535

	// ComponentRTP indicates that the candidate is used for RTP
	ComponentRTP uint16 = 1
	// ComponentRTCP indicates that the candidate is used for RTCP
	ComponentRTCP uint16 = 2
)

// CandidateType is the pion/ice candidate type.
type CandidateType = pionice.CandidateType

// Candidate types
const (
	CandidateTypeHost            = pionice.CandidateTypeHost
	CandidateTypeServerReflexive = pionice.CandidateTypeServerReflexive
	CandidateTypePeerReflexive   = pionice.CandidateTypePeerReflexive
	CandidateTypeRelay           = pionice.CandidateTypeRelay
)

// CandidateConfig describes a candidate to create.
type CandidateConfig struct {
	Type            CandidateType
	Address         netip.AddrPort
	Component uint16
	// LocalPreference is used when HasLocalPreference is set, 65535
	// otherwise. Zero is a valid preference.
	LocalPreference    uint16
	HasLocalPreference bool
	// Priority and Foundation are computed when zero.
	Priority   uint32
	Foundation string
	Related    netip.AddrPort
}

// Candidate represents an ICE candidate. It is immutable.
type Candidate struct {
	typ        CandidateType
	addr       netip.AddrPort
	component  uint16
	priority   uint32
	foundation string
	related    netip.AddrPort
}

// NewCandidate creates a UDP candidate.
func NewCandidate(cfg CandidateConfig) (Candidate, error) {
	if !cfg.Address.IsValid() {
		return Candidate{}, ErrAddressParseFailed
	}
	if cfg.Type == pionice.CandidateTypeUnspecified {
		return Candidate{}, ErrUnknownType
	}
	if cfg.Component == 0 {
		cfg.Component = ComponentRTP
	}
	if !cfg.HasLocalPreference {
		cfg.LocalPreference = defaultLocalPreference
	}

	c := Candidate{
		typ:        cfg.Type,
		addr:       netip.AddrPortFrom(cfg.Address.Addr().Unmap(), cfg.Address.Port()),
		component:  cfg.Component,
		priority:   cfg.Priority,
		foundation: cfg.Foundation,
		related:    cfg.Related,
	}
	if c.priority == 0 {
		c.priority = candidatePriority(cfg.Type, cfg.LocalPreference, cfg.Component)
	}
	if c.foundation == "" {
		c.foundation = candidateFoundation(cfg.Type, c.addr.Addr())
	}
	return c, nil
}

// NewHostCandidate is shorthand for a host candidate on component 1.
func NewHostCandidate(addr netip.AddrPort) (Candidate, error) {
	return NewCandidate(CandidateConfig{Type: CandidateTypeHost, Address: addr})
}

// UnmarshalCandidate parses the value of a candidate attribute. Only UDP
// candidates with literal addresses are accepted.
func UnmarshalCandidate(raw string) (Candidate, error) {
	c, err := pionice.UnmarshalCandidate(strings.TrimPrefix(raw, "candidate:"))
	if err != nil {
		return Candidate{}, err
	}
	if !c.NetworkType().IsUDP() {
		return Candidate{}, ErrProtoType
	}
	ip, err := netip.ParseAddr(c.Address())
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %s", ErrAddressParseFailed, c.Address())
	}

	var related netip.AddrPort
	if r := c.RelatedAddress(); r != nil {
		if rip, err := netip.ParseAddr(r.Address); err == nil {
			related = netip.AddrPortFrom(rip, uint16(r.Port))
		}
	}

	return NewCandidate(CandidateConfig{
		Type:       c.Type(),
		Address:    netip.AddrPortFrom(ip, uint16(c.Port())),
		Component:  c.Component(),
		Priority:   c.Priority(),
		Foundation: c.Foundation(),
		Related:    related,
	})
}

// candidatePriority is (2^24)*typePref + (2^8)*localPref + (256 - component).
func candidatePriority(typ CandidateType, localPref, component uint16) uint32 {
	return (1<<24)*uint32(typ.Preference()) +
		(1<<8)*uint32(localPref) +
		uint32(256-component)
}

func candidateFoundation(typ CandidateType, ip netip.Addr) string {
	buf := []byte(typ.String())
	buf = append(buf, ip.String()...)
	buf = append(buf, "udp"...)
	return fmt.Sprint(crc32.ChecksumIEEE(buf))
}

// Type of the candidate.
func (c Candidate) Type() CandidateType { return c.typ }

// Addr is the transport address.
func (c Candidate) Addr() netip.AddrPort { return c.addr }

// Component id, 1 for RTP.
func (c Candidate) Component() uint16 { return c.component }

// Priority of the candidate.
func (c Candidate) Priority() uint32 { return c.priority }

// Foundation of the candidate.
func (c Candidate) Foundation() string { return c.foundation }

// RelatedAddress is the base of a reflexive or relayed candidate.
func (c Candidate) RelatedAddress() netip.AddrPort { return c.related }

// Equal compares type and transport address.
func (c Candidate) Equal(other Candidate) bool {
	return c.typ == other.typ && c.addr == other.addr && c.component == other.component
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s %s", c.typ, c.addr)
}

// Marshal returns the candidate attribute value without the "candidate:"
// prefix.
func (c Candidate) Marshal() string {
	val := fmt.Sprintf("%s %d udp %d %s %d typ %s",
		c.foundation, c.component, c.priority, c.addr.Addr(), c.addr.Port(), c.typ)
	if c.related.IsValid() {
		val += fmt.Sprintf(" raddr %s rport %d", c.related.Addr(), c.related.Port())
	}
	return val
}

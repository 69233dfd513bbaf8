package domain

import "net"

// Policy decides the default disposition of a packet that matches no rule,
// and combines with "any rule matches" to decide matching packets too.
type Policy int

const (
	// PolicyWhitelist accepts only packets matched by at least one rule;
	// an empty rule set denies everything.
	PolicyWhitelist Policy = iota
	// PolicyBlacklist rejects packets matched by at least one rule; an
	// empty rule set accepts everything.
	PolicyBlacklist
)

func (p Policy) String() string {
	if p == PolicyBlacklist {
		return "blacklist"
	}
	return "whitelist"
}

// FilterKind discriminates the Filter union.
type FilterKind int

const (
	FilterIPAddress FilterKind = iota
	FilterPort
	FilterIPVersion
	FilterNextHeaderProtocol
	FilterAnd
	FilterOr
	FilterNot
)

// Filter is a recursive predicate over a ParsedFrame's 5-tuple and IP
// version.
type Filter struct {
	Kind FilterKind

	// FilterIPAddress
	IP net.IP

	// FilterPort
	Port uint16

	// FilterIPVersion: 4 or 6
	IPVersion int

	// FilterNextHeaderProtocol: IANA protocol number
	Protocol uint8

	// FilterAnd / FilterOr: operands
	Operands []Filter

	// FilterNot: single operand
	Operand *Filter
}

// Matches evaluates the filter against a parsed frame.
func (f Filter) Matches(p ParsedFrame) bool {
	switch f.Kind {
	case FilterIPAddress:
		return f.IP.Equal(p.SrcIP) || f.IP.Equal(p.DstIP)
	case FilterPort:
		return f.Port == p.SrcPort || f.Port == p.DstPort
	case FilterIPVersion:
		return ipVersionOf(p) == f.IPVersion
	case FilterNextHeaderProtocol:
		return f.Protocol == p.IPProtocol
	case FilterAnd:
		for _, op := range f.Operands {
			if !op.Matches(p) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, op := range f.Operands {
			if op.Matches(p) {
				return true
			}
		}
		return false
	case FilterNot:
		if f.Operand == nil {
			return false
		}
		return !f.Operand.Matches(p)
	default:
		return false
	}
}

func ipVersionOf(p ParsedFrame) int {
	switch {
	case p.EtherType == EtherTypeIPv4:
		return 4
	case p.EtherType == EtherTypeIPv6:
		return 6
	case len(p.SrcIP) == net.IPv4len || p.SrcIP.To4() != nil:
		return 4
	case len(p.SrcIP) == net.IPv6len:
		return 6
	default:
		return 0
	}
}

// Rule pairs a Filter with a priority; higher priority sorts first.
type Rule struct {
	ID       string
	Filter   Filter
	Priority int
}

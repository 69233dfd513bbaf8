package firewall

import (
	"net"
	"testing"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func frame(dstPort uint16) domain.ParsedFrame {
	return domain.ParsedFrame{
		SrcIP:   net.ParseIP("10.0.0.1"),
		DstIP:   net.ParseIP("10.0.0.2"),
		DstPort: dstPort,
	}
}

func TestFirewall_EmptyWhitelistDeniesAll(t *testing.T) {
	fw := New(domain.PolicyWhitelist)
	assert.False(t, fw.Check(frame(80)))
}

func TestFirewall_EmptyBlacklistAcceptsAll(t *testing.T) {
	fw := New(domain.PolicyBlacklist)
	assert.True(t, fw.Check(frame(80)))
}

func TestFirewall_BlacklistPort22(t *testing.T) {
	fw := New(domain.PolicyBlacklist)
	fw.AddRule(domain.Rule{
		ID:       "deny-ssh",
		Priority: 100,
		Filter:   domain.Filter{Kind: domain.FilterPort, Port: 22},
	})

	assert.False(t, fw.Check(frame(22)))
	assert.True(t, fw.Check(frame(80)))
}

func TestFirewall_AnyMatchNotPriorityWins(t *testing.T) {
	fw := New(domain.PolicyWhitelist)
	fw.AddRule(domain.Rule{ID: "low", Priority: 1, Filter: domain.Filter{Kind: domain.FilterPort, Port: 80}})
	fw.AddRule(domain.Rule{ID: "high", Priority: 100, Filter: domain.Filter{Kind: domain.FilterPort, Port: 443}})

	// The high priority rule doesn't match port 80, but the low priority
	// rule does; policy must still pass because any rule matching is
	// sufficient, regardless of priority order.
	assert.True(t, fw.Check(frame(80)))
}

func TestFirewall_RulesSortedByPriorityDescending(t *testing.T) {
	fw := New(domain.PolicyWhitelist)
	fw.AddRule(domain.Rule{ID: "a", Priority: 1})
	fw.AddRule(domain.Rule{ID: "b", Priority: 50})
	fw.AddRule(domain.Rule{ID: "c", Priority: 25})

	rules := fw.Rules()
	assert.Equal(t, "b", rules[0].ID)
	assert.Equal(t, "c", rules[1].ID)
	assert.Equal(t, "a", rules[2].ID)
}

func TestFilter_NextHeaderProtocol(t *testing.T) {
	f := domain.Filter{Kind: domain.FilterNextHeaderProtocol, Protocol: domain.ProtoTCP}
	assert.True(t, f.Matches(domain.ParsedFrame{IPProtocol: domain.ProtoTCP}))
	assert.False(t, f.Matches(domain.ParsedFrame{IPProtocol: domain.ProtoUDP}))
}

func TestFilter_AndOrNot(t *testing.T) {
	port80 := domain.Filter{Kind: domain.FilterPort, Port: 80}
	tcp := domain.Filter{Kind: domain.FilterNextHeaderProtocol, Protocol: domain.ProtoTCP}
	and := domain.Filter{Kind: domain.FilterAnd, Operands: []domain.Filter{port80, tcp}}
	not := domain.Filter{Kind: domain.FilterNot, Operand: &port80}

	f := frame(80)
	f.IPProtocol = domain.ProtoTCP
	assert.True(t, and.Matches(f))
	assert.False(t, not.Matches(f))
}

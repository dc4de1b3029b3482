package rules

import (
	"net/netip"

	"github.com/micrictor/cpnat/internal/match"
	"github.com/micrictor/cpnat/internal/mgmt"
)

// Term is one dataplane source NAT rule. A nil match field matches anything.
type Term struct {
	Comment          string
	Protocol         match.Protocol
	Source           *match.AddrRange
	Destination      *match.AddrRange
	DestinationPorts *mgmt.PortRange
	ToSource         netip.Addr
	// ToPorts is only set for tcp and udp terms.
	ToPorts *mgmt.PortRange
}

// Is6 reports whether the term belongs in the IPv6 tables.
func (t Term) Is6() bool {
	return t.ToSource.Is6()
}

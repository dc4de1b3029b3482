package rules

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/micrictor/cpnat/internal/match"
	"github.com/micrictor/cpnat/internal/mgmt"
	"github.com/micrictor/cpnat/internal/transform"
)

// ErrNotHide is returned for transformations that do not rewrite the source
// address, which is the only thing the dataplane renders.
var ErrNotHide = errors.New("transformation has no source address rewrite")

// Terms expands t into dataplane terms, one per combination of source range,
// destination range and service. Ranges of the other address family than the
// translated address are left out. An unconstrained service becomes a tcp and
// a udp term carrying the port pool, then a term for every other protocol.
// ICMP services become ICMPv6 when the translated address is IPv6.
func Terms(t transform.Transformation) ([]Term, error) {
	toSource, ok := t.SourceIP()
	if !ok {
		return nil, errors.Wrapf(ErrNotHide, "rule %s", t.RuleUID)
	}
	var toPorts *mgmt.PortRange
	if p, ok := t.SourcePorts(); ok {
		toPorts = &mgmt.PortRange{First: p.First, Last: p.Last}
	}

	sources := rangesOf(t.Guard.SrcIPs, toSource.Is6())
	destinations := rangesOf(t.Guard.DstIPs, toSource.Is6())
	services := servicesOf(t.Guard.Services, toSource.Is6())

	comment := fmt.Sprintf("cpnat:%s", t.RuleUID)
	var terms []Term
	for _, src := range sources {
		for _, dst := range destinations {
			for _, svc := range services {
				term := Term{
					Comment:          comment,
					Protocol:         svc.protocol,
					Source:           src,
					Destination:      dst,
					DestinationPorts: svc.ports,
					ToSource:         toSource,
				}
				if svc.protocol.HasPorts() {
					term.ToPorts = toPorts
				}
				terms = append(terms, term)
			}
		}
	}
	return terms, nil
}

// rangesOf returns the ranges of the wanted family, or a single nil entry for
// an unconstrained field. A constrained field without any range of the family
// yields nothing.
func rangesOf(ranges []match.AddrRange, is6 bool) []*match.AddrRange {
	if ranges == nil {
		return []*match.AddrRange{nil}
	}
	var out []*match.AddrRange
	for i := range ranges {
		if ranges[i].Is4() != is6 {
			out = append(out, &ranges[i])
		}
	}
	return out
}

type serviceTerm struct {
	protocol match.Protocol
	ports    *mgmt.PortRange
}

func servicesOf(services []match.Service, is6 bool) []serviceTerm {
	if services == nil {
		return []serviceTerm{
			{protocol: match.ProtocolTCP},
			{protocol: match.ProtocolUDP},
			{},
		}
	}
	var out []serviceTerm
	for _, svc := range services {
		protocol := svc.Protocol.ForFamily(is6)
		if len(svc.DstPorts) == 0 {
			out = append(out, serviceTerm{protocol: protocol})
			continue
		}
		for i := range svc.DstPorts {
			out = append(out, serviceTerm{protocol: protocol, ports: &svc.DstPorts[i]})
		}
	}
	return out
}

package match

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/micrictor/cpnat/internal/mgmt"
)

// Protocol is an IP protocol number.
type Protocol uint8

const (
	ProtocolICMP   Protocol = 1
	ProtocolTCP    Protocol = 6
	ProtocolUDP    Protocol = 17
	ProtocolICMPv6 Protocol = 58
)

func (p Protocol) String() string {
	switch p {
	case ProtocolICMP:
		return "icmp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMPv6:
		return "icmpv6"
	default:
		return fmt.Sprintf("proto-%d", uint8(p))
	}
}

// ForFamily returns the protocol number used by the given address family.
// ICMP objects stand for ICMPv6 on IPv6 traffic.
func (p Protocol) ForFamily(is6 bool) Protocol {
	if p == ProtocolICMP && is6 {
		return ProtocolICMPv6
	}
	return p
}

// HasPorts reports whether the protocol carries transport ports.
func (p Protocol) HasPorts() bool {
	return p == ProtocolTCP || p == ProtocolUDP
}

// AddrRange is an inclusive range of addresses of a single family.
type AddrRange struct {
	First netip.Addr
	Last  netip.Addr
}

func RangeOf(prefix netip.Prefix) AddrRange {
	prefix = prefix.Masked()
	return AddrRange{First: prefix.Addr(), Last: lastAddr(prefix)}
}

func SingleAddr(addr netip.Addr) AddrRange {
	return AddrRange{First: addr, Last: addr}
}

func (r AddrRange) Contains(addr netip.Addr) bool {
	if addr.BitLen() != r.First.BitLen() {
		return false
	}
	return r.First.Compare(addr) <= 0 && addr.Compare(r.Last) <= 0
}

func (r AddrRange) Is4() bool {
	return r.First.Is4()
}

// Prefix returns the CIDR equal to r, if there is one.
func (r AddrRange) Prefix() (netip.Prefix, bool) {
	for bits := 0; bits <= r.First.BitLen(); bits++ {
		p := netip.PrefixFrom(r.First, bits).Masked()
		if p.Addr() == r.First && lastAddr(p) == r.Last {
			return p, true
		}
	}
	return netip.Prefix{}, false
}

func (r AddrRange) String() string {
	if p, ok := r.Prefix(); ok {
		if p.IsSingleIP() {
			return p.Addr().String()
		}
		return p.String()
	}
	return r.First.String() + "-" + r.Last.String()
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	b := prefix.Addr().AsSlice()
	bits := prefix.Bits()
	for i := range b {
		start := i * 8
		switch {
		case start+8 <= bits:
		case start >= bits:
			b[i] = 0xff
		default:
			b[i] |= byte(0xff >> uint(bits-start))
		}
	}
	addr, _ := netip.AddrFromSlice(b)
	return addr
}

// Service matches a protocol and, for tcp/udp, a set of destination ports.
// No ports means every port.
type Service struct {
	Protocol Protocol
	DstPorts []mgmt.PortRange
}

func (s Service) Matches(f Flow) bool {
	if s.Protocol.ForFamily(f.Src.Is6()) != f.Protocol {
		return false
	}
	if len(s.DstPorts) == 0 {
		return true
	}
	for _, p := range s.DstPorts {
		if p.Contains(f.DstPort) {
			return true
		}
	}
	return false
}

func (s Service) String() string {
	if len(s.DstPorts) == 0 {
		return s.Protocol.String()
	}
	ports := make([]string, len(s.DstPorts))
	for i, p := range s.DstPorts {
		ports[i] = p.String()
	}
	return s.Protocol.String() + "/" + strings.Join(ports, ",")
}

// HeaderSpace is the match predicate of a compiled transformation. A nil
// field is unconstrained; the builder never produces an empty non-nil one.
type HeaderSpace struct {
	SrcIPs   []AddrRange
	DstIPs   []AddrRange
	Services []Service
}

func (h HeaderSpace) IsUnconstrained() bool {
	return h.SrcIPs == nil && h.DstIPs == nil && h.Services == nil
}

func (h HeaderSpace) Matches(f Flow) bool {
	return matchAddr(h.SrcIPs, f.Src) && matchAddr(h.DstIPs, f.Dst) && h.matchService(f)
}

func (h HeaderSpace) matchService(f Flow) bool {
	if h.Services == nil {
		return true
	}
	for _, s := range h.Services {
		if s.Matches(f) {
			return true
		}
	}
	return false
}

func matchAddr(ranges []AddrRange, addr netip.Addr) bool {
	if ranges == nil {
		return true
	}
	for _, r := range ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

func (h HeaderSpace) String() string {
	return fmt.Sprintf("src=%s dst=%s service=%s",
		joinRanges(h.SrcIPs), joinRanges(h.DstIPs), joinServices(h.Services))
}

func joinRanges(ranges []AddrRange) string {
	if ranges == nil {
		return "any"
	}
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

func joinServices(services []Service) string {
	if services == nil {
		return "any"
	}
	parts := make([]string, len(services))
	for i, s := range services {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

package match

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// Flow is the header subset NAT translation looks at and rewrites.
type Flow struct {
	Src      netip.Addr
	Dst      netip.Addr
	Protocol Protocol
	SrcPort  uint16
	DstPort  uint16
}

func (f Flow) String() string {
	if f.Protocol.HasPorts() {
		return fmt.Sprintf("%s %s:%d -> %s:%d", f.Protocol, f.Src, f.SrcPort, f.Dst, f.DstPort)
	}
	return fmt.Sprintf("%s %s -> %s", f.Protocol, f.Src, f.Dst)
}

type decoder struct {
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	icmp6   layers.ICMPv6
	decoded []gopacket.LayerType
}

// FlowFromPacket decodes a raw IP packet (no link layer).
func FlowFromPacket(data []byte) (Flow, error) {
	if len(data) == 0 {
		return Flow{}, errors.New("empty packet")
	}
	first := layers.LayerTypeIPv4
	if data[0]>>4 == 6 {
		first = layers.LayerTypeIPv6
	}

	d := &decoder{}
	parser := gopacket.NewDecodingLayerParser(first, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.icmp4, &d.icmp6)
	parser.IgnoreUnsupported = true
	if err := parser.DecodeLayers(data, &d.decoded); err != nil {
		return Flow{}, errors.Wrap(err, "decode packet")
	}

	var f Flow
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			f.Src = addrFromIP(d.ip4.SrcIP)
			f.Dst = addrFromIP(d.ip4.DstIP)
			f.Protocol = Protocol(d.ip4.Protocol)
		case layers.LayerTypeIPv6:
			f.Src = addrFromIP(d.ip6.SrcIP)
			f.Dst = addrFromIP(d.ip6.DstIP)
			f.Protocol = Protocol(d.ip6.NextHeader)
		case layers.LayerTypeTCP:
			f.SrcPort = uint16(d.tcp.SrcPort)
			f.DstPort = uint16(d.tcp.DstPort)
		case layers.LayerTypeUDP:
			f.SrcPort = uint16(d.udp.SrcPort)
			f.DstPort = uint16(d.udp.DstPort)
		}
	}
	if !f.Src.IsValid() || !f.Dst.IsValid() {
		return Flow{}, errors.New("packet has no ip layer")
	}
	return f, nil
}

func addrFromIP(ip net.IP) netip.Addr {
	if v4 := ip.To4(); v4 != nil {
		addr, _ := netip.AddrFromSlice(v4)
		return addr
	}
	addr, _ := netip.AddrFromSlice(ip)
	return addr
}

package mgmt

import (
	"net"
	"net/netip"

	"github.com/c-robinson/iplib"
	"github.com/pkg/errors"
)

// Host is a single machine with an IPv4 and/or IPv6 address.
type Host struct {
	Object
	IPv4        netip.Addr
	IPv6        netip.Addr
	NatSettings *NatSettings
}

func NewHost(ipv4 netip.Addr, natSettings *NatSettings, name string, uid Uid) *Host {
	return &Host{
		Object:      Object{UID: uid, Name: name},
		IPv4:        ipv4,
		NatSettings: natSettings,
	}
}

func (*Host) Kind() Kind { return KindHost }

// AddressRange spans first..last for IPv4, IPv6, or both.
type AddressRange struct {
	Object
	IPv4First   netip.Addr
	IPv4Last    netip.Addr
	IPv6First   netip.Addr
	IPv6Last    netip.Addr
	NatSettings *NatSettings
}

func (*AddressRange) Kind() Kind { return KindAddressRange }

// IPv4Pair returns the IPv4 bounds when both are populated.
func (r *AddressRange) IPv4Pair() (netip.Addr, netip.Addr, bool) {
	return r.IPv4First, r.IPv4Last, r.IPv4First.IsValid() && r.IPv4Last.IsValid()
}

// IPv6Pair returns the IPv6 bounds when both are populated.
func (r *AddressRange) IPv6Pair() (netip.Addr, netip.Addr, bool) {
	return r.IPv6First, r.IPv6Last, r.IPv6First.IsValid() && r.IPv6Last.IsValid()
}

// Validate checks that at least one bound pair is populated and ordered.
func (r *AddressRange) Validate() error {
	v4First, v4Last, hasV4 := r.IPv4Pair()
	v6First, v6Last, hasV6 := r.IPv6Pair()
	if !hasV4 && !hasV6 {
		return errors.Errorf("address range %s has no complete address pair", r.UID)
	}
	if hasV4 {
		if !v4First.Is4() || !v4Last.Is4() {
			return errors.Errorf("address range %s: ipv4 bounds are not ipv4", r.UID)
		}
		if iplib.CompareIPs(net.IP(v4First.AsSlice()), net.IP(v4Last.AsSlice())) > 0 {
			return errors.Errorf("address range %s: %s is after %s", r.UID, v4First, v4Last)
		}
	}
	if hasV6 {
		if !v6First.Is6() || !v6Last.Is6() {
			return errors.Errorf("address range %s: ipv6 bounds are not ipv6", r.UID)
		}
		if iplib.CompareIPs(net.IP(v6First.AsSlice()), net.IP(v6Last.AsSlice())) > 0 {
			return errors.Errorf("address range %s: %s is after %s", r.UID, v6First, v6Last)
		}
	}
	return nil
}

// Network is an IPv4 and/or IPv6 subnet.
type Network struct {
	Object
	Subnet4     netip.Prefix
	Subnet6     netip.Prefix
	NatSettings *NatSettings
}

func (*Network) Kind() Kind { return KindNetwork }

// Group is a set of other address objects, referenced by uid.
type Group struct {
	Object
	Members []Uid
}

func (*Group) Kind() Kind { return KindGroup }

// SingleAddress reduces obj to exactly one concrete address. Wildcards, groups
// and anything spanning more than one address yield false.
func SingleAddress(obj TypedObject) (netip.Addr, bool) {
	switch o := obj.(type) {
	case *Host:
		if o.IPv4.IsValid() {
			return o.IPv4, true
		}
		return o.IPv6, o.IPv6.IsValid()
	case *AddressRange:
		v4First, v4Last, hasV4 := o.IPv4Pair()
		v6First, v6Last, hasV6 := o.IPv6Pair()
		switch {
		case hasV4 && !hasV6 && v4First == v4Last:
			return v4First, true
		case hasV6 && !hasV4 && v6First == v6Last:
			return v6First, true
		}
		return netip.Addr{}, false
	case *Network:
		p4, p6 := o.Subnet4, o.Subnet6
		switch {
		case p4.IsValid() && !p6.IsValid() && p4.IsSingleIP():
			return p4.Addr(), true
		case p6.IsValid() && !p4.IsValid() && p6.IsSingleIP():
			return p6.Addr(), true
		}
		return netip.Addr{}, false
	case Gateway:
		addr := o.PrimaryAddress()
		return addr, addr.IsValid()
	default:
		return netip.Addr{}, false
	}
}

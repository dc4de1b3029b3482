package match

import (
	"github.com/pkg/errors"

	"github.com/micrictor/cpnat/internal/mgmt"
)

// ErrUnsupportedObject is returned when a field references an object that has
// no meaning in the position it is used in.
var ErrUnsupportedObject = errors.New("unsupported object")

// Builder turns rule match fields into a HeaderSpace.
type Builder interface {
	BuildMatch(dir mgmt.Directory, src, dst, service mgmt.TypedObject) (HeaderSpace, error)
}

// DirectoryBuilder resolves group members through the rulebase directory.
type DirectoryBuilder struct{}

func NewBuilder() *DirectoryBuilder {
	return &DirectoryBuilder{}
}

func (b *DirectoryBuilder) BuildMatch(dir mgmt.Directory, src, dst, service mgmt.TypedObject) (HeaderSpace, error) {
	srcIPs, err := AddressSpace(dir, src)
	if err != nil {
		return HeaderSpace{}, errors.Wrap(err, "original-source")
	}
	dstIPs, err := AddressSpace(dir, dst)
	if err != nil {
		return HeaderSpace{}, errors.Wrap(err, "original-destination")
	}
	services, err := ServiceSpace(dir, service)
	if err != nil {
		return HeaderSpace{}, errors.Wrap(err, "original-service")
	}
	return HeaderSpace{SrcIPs: srcIPs, DstIPs: dstIPs, Services: services}, nil
}

// AddressSpace returns the address ranges obj covers, or nil when obj does not
// constrain addresses (Any, Original).
func AddressSpace(dir mgmt.Directory, obj mgmt.TypedObject) ([]AddrRange, error) {
	if obj.Kind() == mgmt.KindAny || obj.Kind() == mgmt.KindOriginal {
		return nil, nil
	}
	var out []AddrRange
	if err := collectAddresses(dir, obj, map[mgmt.Uid]bool{}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrUnsupportedObject, "%s %s covers no address", obj.Kind(), obj.ObjectUID())
	}
	return out, nil
}

func collectAddresses(dir mgmt.Directory, obj mgmt.TypedObject, seen map[mgmt.Uid]bool, out *[]AddrRange) error {
	switch o := obj.(type) {
	case *mgmt.Host:
		if o.IPv4.IsValid() {
			*out = append(*out, SingleAddr(o.IPv4))
		}
		if o.IPv6.IsValid() {
			*out = append(*out, SingleAddr(o.IPv6))
		}
	case *mgmt.AddressRange:
		if first, last, ok := o.IPv4Pair(); ok {
			*out = append(*out, AddrRange{First: first, Last: last})
		}
		if first, last, ok := o.IPv6Pair(); ok {
			*out = append(*out, AddrRange{First: first, Last: last})
		}
	case *mgmt.Network:
		if o.Subnet4.IsValid() {
			*out = append(*out, RangeOf(o.Subnet4))
		}
		if o.Subnet6.IsValid() {
			*out = append(*out, RangeOf(o.Subnet6))
		}
	case mgmt.Gateway:
		if addr := o.PrimaryAddress(); addr.IsValid() {
			*out = append(*out, SingleAddr(addr))
		}
	case *mgmt.Group:
		if seen[o.UID] {
			return nil
		}
		seen[o.UID] = true
		for _, uid := range o.Members {
			member, err := dir.Resolve(uid)
			if err != nil {
				return errors.Wrapf(err, "group %s", o.UID)
			}
			if err := collectAddresses(dir, member, seen, out); err != nil {
				return err
			}
		}
	case *mgmt.CpmiAnyObject, *mgmt.Original:
		return errors.Wrapf(ErrUnsupportedObject, "%s inside group", obj.Kind())
	default:
		return errors.Wrapf(ErrUnsupportedObject, "%s %s is not an address", obj.Kind(), obj.ObjectUID())
	}
	return nil
}

// ServiceSpace returns the services obj covers, or nil when obj does not
// constrain services (Any, Original).
func ServiceSpace(dir mgmt.Directory, obj mgmt.TypedObject) ([]Service, error) {
	if obj.Kind() == mgmt.KindAny || obj.Kind() == mgmt.KindOriginal {
		return nil, nil
	}
	var out []Service
	if err := collectServices(dir, obj, map[mgmt.Uid]bool{}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrUnsupportedObject, "%s %s covers no service", obj.Kind(), obj.ObjectUID())
	}
	return out, nil
}

func collectServices(dir mgmt.Directory, obj mgmt.TypedObject, seen map[mgmt.Uid]bool, out *[]Service) error {
	switch o := obj.(type) {
	case *mgmt.ServiceTcp:
		return appendPortService(out, ProtocolTCP, o.Port, o.UID)
	case *mgmt.ServiceUdp:
		return appendPortService(out, ProtocolUDP, o.Port, o.UID)
	case *mgmt.ServiceIcmp:
		*out = append(*out, Service{Protocol: ProtocolICMP})
	case *mgmt.ServiceGroup:
		if seen[o.UID] {
			return nil
		}
		seen[o.UID] = true
		for _, uid := range o.Members {
			member, err := dir.Resolve(uid)
			if err != nil {
				return errors.Wrapf(err, "service group %s", o.UID)
			}
			if err := collectServices(dir, member, seen, out); err != nil {
				return err
			}
		}
	default:
		return errors.Wrapf(ErrUnsupportedObject, "%s %s is not a service", obj.Kind(), obj.ObjectUID())
	}
	return nil
}

func appendPortService(out *[]Service, proto Protocol, spec string, uid mgmt.Uid) error {
	ports, err := mgmt.ParsePortSpec(spec)
	if err != nil {
		return errors.Wrapf(ErrUnsupportedObject, "service %s: %v", uid, err)
	}
	*out = append(*out, Service{Protocol: proto, DstPorts: []mgmt.PortRange{ports}})
	return nil
}

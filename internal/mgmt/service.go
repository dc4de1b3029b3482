package mgmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type ServiceTcp struct {
	Object
	Port string
}

func NewServiceTcp(name, port string, uid Uid) *ServiceTcp {
	return &ServiceTcp{Object: Object{UID: uid, Name: name}, Port: port}
}

func (*ServiceTcp) Kind() Kind { return KindServiceTcp }

type ServiceUdp struct {
	Object
	Port string
}

func NewServiceUdp(name, port string, uid Uid) *ServiceUdp {
	return &ServiceUdp{Object: Object{UID: uid, Name: name}, Port: port}
}

func (*ServiceUdp) Kind() Kind { return KindServiceUdp }

type ServiceIcmp struct {
	Object
}

func (*ServiceIcmp) Kind() Kind { return KindServiceIcmp }

type ServiceGroup struct {
	Object
	Members []Uid
}

func (*ServiceGroup) Kind() Kind { return KindServiceGroup }

// PortRange is an inclusive range of transport ports.
type PortRange struct {
	First uint16
	Last  uint16
}

func (p PortRange) String() string {
	if p.First == p.Last {
		return strconv.Itoa(int(p.First))
	}
	return fmt.Sprintf("%d-%d", p.First, p.Last)
}

func (p PortRange) Contains(port uint16) bool {
	return p.First <= port && port <= p.Last
}

// ParsePortSpec parses a service port field: "N", "N-M", ">N" or "<N".
func ParsePortSpec(spec string) (PortRange, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return PortRange{}, errors.New("empty port specification")
	case strings.HasPrefix(spec, ">"):
		n, err := parsePort(spec[1:])
		if err != nil {
			return PortRange{}, err
		}
		if n == 65535 {
			return PortRange{}, errors.Errorf("empty port range %q", spec)
		}
		return PortRange{First: n + 1, Last: 65535}, nil
	case strings.HasPrefix(spec, "<"):
		n, err := parsePort(spec[1:])
		if err != nil {
			return PortRange{}, err
		}
		if n <= 1 {
			return PortRange{}, errors.Errorf("empty port range %q", spec)
		}
		return PortRange{First: 1, Last: n - 1}, nil
	case strings.Contains(spec, "-"):
		bounds := strings.SplitN(spec, "-", 2)
		first, err := parsePort(bounds[0])
		if err != nil {
			return PortRange{}, err
		}
		last, err := parsePort(bounds[1])
		if err != nil {
			return PortRange{}, err
		}
		if first > last {
			return PortRange{}, errors.Errorf("port range %q is inverted", spec)
		}
		return PortRange{First: first, Last: last}, nil
	default:
		n, err := parsePort(spec)
		if err != nil {
			return PortRange{}, err
		}
		return PortRange{First: n, Last: n}, nil
	}
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid port %q", s)
	}
	return uint16(n), nil
}

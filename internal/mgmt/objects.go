package mgmt

import "fmt"

// Uid is the opaque identifier of a management object. It is only ever
// dereferenced through a Directory.
type Uid string

func (u Uid) String() string {
	return string(u)
}

// Kind enumerates every object type a NAT rule field can reference.
type Kind int

const (
	KindUnknown Kind = iota
	KindHost
	KindAddressRange
	KindNetwork
	KindGroup
	KindAny
	KindOriginal
	KindPolicyTargets
	KindServiceTcp
	KindServiceUdp
	KindServiceIcmp
	KindServiceGroup
	KindSimpleGateway
	KindGatewayCluster
	KindVsxClusterNetobj
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindHost:             "host",
	KindAddressRange:     "address-range",
	KindNetwork:          "network",
	KindGroup:            "group",
	KindAny:              "CpmiAnyObject",
	KindOriginal:         "Original",
	KindPolicyTargets:    "Policy Targets",
	KindServiceTcp:       "service-tcp",
	KindServiceUdp:       "service-udp",
	KindServiceIcmp:      "service-icmp",
	KindServiceGroup:     "service-group",
	KindSimpleGateway:    "simple-gateway",
	KindGatewayCluster:   "CpmiGatewayCluster",
	KindVsxClusterNetobj: "CpmiVsxClusterNetobj",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// TypedObject is implemented by every object stored in a Directory. The set of
// implementations is closed: only types in this package satisfy it.
type TypedObject interface {
	ObjectUID() Uid
	ObjectName() string
	Kind() Kind
	isTypedObject()
}

// Object holds the identity shared by all typed objects.
type Object struct {
	UID  Uid
	Name string
}

func (o Object) ObjectUID() Uid { return o.UID }
func (o Object) ObjectName() string { return o.Name }
func (o Object) isTypedObject() {}

// CpmiAnyObject is the wildcard matching every address and every service.
type CpmiAnyObject struct {
	Object
}

func NewCpmiAnyObject(uid Uid) *CpmiAnyObject {
	return &CpmiAnyObject{Object{UID: uid, Name: "Any"}}
}

func (*CpmiAnyObject) Kind() Kind { return KindAny }

// Original means the field is left as the packet originally had it.
type Original struct {
	Object
}

func NewOriginal(uid Uid) *Original {
	return &Original{Object{UID: uid, Name: "Original"}}
}

func (*Original) Kind() Kind { return KindOriginal }

// PolicyTargets is the install-on sentinel standing for every gateway the
// policy is installed on.
type PolicyTargets struct {
	Object
}

func NewPolicyTargets(uid Uid) *PolicyTargets {
	return &PolicyTargets{Object{UID: uid, Name: "Policy Targets"}}
}

func (*PolicyTargets) Kind() Kind { return KindPolicyTargets }

// Unknown keeps objects of types NAT translation does not interpret.
type Unknown struct {
	Object
	Type string
}

func (*Unknown) Kind() Kind { return KindUnknown }

// IsAddressSpace reports whether obj denotes a set of addresses.
func IsAddressSpace(obj TypedObject) bool {
	switch obj.Kind() {
	case KindHost, KindAddressRange, KindNetwork, KindGroup, KindAny,
		KindSimpleGateway, KindGatewayCluster, KindVsxClusterNetobj:
		return true
	case KindOriginal, KindPolicyTargets, KindServiceTcp, KindServiceUdp,
		KindServiceIcmp, KindServiceGroup, KindUnknown:
		return false
	default:
		panic(fmt.Sprintf("unhandled object kind %v", obj.Kind()))
	}
}

// IsService reports whether obj denotes a set of services.
func IsService(obj TypedObject) bool {
	switch obj.Kind() {
	case KindServiceTcp, KindServiceUdp, KindServiceIcmp, KindServiceGroup:
		return true
	default:
		return false
	}
}

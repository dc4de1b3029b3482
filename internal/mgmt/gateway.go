package mgmt

import "net/netip"

// GatewayOrServerPolicy describes which policies are installed on a gateway.
type GatewayOrServerPolicy struct {
	AccessPolicyInstalled bool   `json:"accessPolicyInstalled"`
	AccessPolicyName      string `json:"accessPolicyName"`
	ThreatPolicyInstalled bool   `json:"threatPolicyInstalled"`
	ThreatPolicyName      string `json:"threatPolicyName"`
}

// Gateway is a device NAT rulebases are compiled for.
type Gateway interface {
	TypedObject
	PrimaryAddress() netip.Addr
	Policy() GatewayOrServerPolicy
}

type SimpleGateway struct {
	Object
	IPv4Address    netip.Addr
	PolicyInstalls GatewayOrServerPolicy
}

func NewSimpleGateway(ipv4 netip.Addr, name string, policy GatewayOrServerPolicy, uid Uid) *SimpleGateway {
	return &SimpleGateway{
		Object:         Object{UID: uid, Name: name},
		IPv4Address:    ipv4,
		PolicyInstalls: policy,
	}
}

func (*SimpleGateway) Kind() Kind { return KindSimpleGateway }
func (g *SimpleGateway) PrimaryAddress() netip.Addr { return g.IPv4Address }
func (g *SimpleGateway) Policy() GatewayOrServerPolicy { return g.PolicyInstalls }

type CpmiGatewayCluster struct {
	Object
	IPv4Address        netip.Addr
	ClusterMemberNames []string
	PolicyInstalls     GatewayOrServerPolicy
}

func (*CpmiGatewayCluster) Kind() Kind { return KindGatewayCluster }
func (g *CpmiGatewayCluster) PrimaryAddress() netip.Addr { return g.IPv4Address }
func (g *CpmiGatewayCluster) Policy() GatewayOrServerPolicy { return g.PolicyInstalls }

type CpmiVsxClusterNetobj struct {
	Object
	IPv4Address        netip.Addr
	ClusterMemberNames []string
	PolicyInstalls     GatewayOrServerPolicy
}

func (*CpmiVsxClusterNetobj) Kind() Kind { return KindVsxClusterNetobj }
func (g *CpmiVsxClusterNetobj) PrimaryAddress() netip.Addr { return g.IPv4Address }
func (g *CpmiVsxClusterNetobj) Policy() GatewayOrServerPolicy { return g.PolicyInstalls }

package mgmt

import "net/netip"

type NatMethod string

const (
	NatMethodStatic NatMethod = "static"
	NatMethodHide   NatMethod = "hide"
	NatMethodNat64  NatMethod = "nat64"
	NatMethodNat46  NatMethod = "nat46"
	NatMethodCgnat  NatMethod = "cgnat"
)

const (
	NatHideBehindGateway   = "gateway"
	NatHideBehindIPAddress = "ip-address"
	NatInstallOnAll        = "All"
)

// NatSettings is the automatic NAT configuration attached to an address object.
type NatSettings struct {
	AutoRule    bool       `json:"auto-rule"`
	HideBehind  string     `json:"hide-behind"`
	InstallOn   string     `json:"install-on"`
	Method      NatMethod  `json:"method"`
	IPv4Address netip.Addr `json:"ipv4-address"`
	IPv6Address netip.Addr `json:"ipv6-address"`
}

func NewNatSettings(autoRule bool, hideBehind, installOn string, method NatMethod) *NatSettings {
	return &NatSettings{
		AutoRule:   autoRule,
		HideBehind: hideBehind,
		InstallOn:  installOn,
		Method:     method,
	}
}

// NatRule is one entry of a NAT rulebase. All object fields are uids that
// must be resolved through the owning rulebase's Directory.
type NatRule struct {
	UID                   Uid
	AutoGenerated         bool
	Comments              string
	Enabled               bool
	InstallOn             []Uid
	Method                NatMethod
	OriginalDestination   Uid
	OriginalService       Uid
	OriginalSource        Uid
	RuleNumber            int
	TranslatedDestination Uid
	TranslatedService     Uid
	TranslatedSource      Uid
}

// NatRulebase is an ordered list of NAT rules plus the directory their
// references resolve in.
type NatRulebase struct {
	uid       Uid
	directory Directory
	rules     []*NatRule
}

func NewNatRulebase(directory Directory, rules []*NatRule, uid Uid) *NatRulebase {
	return &NatRulebase{
		uid:       uid,
		directory: directory,
		rules:     append([]*NatRule(nil), rules...),
	}
}

func (r *NatRulebase) UID() Uid {
	return r.uid
}

func (r *NatRulebase) Directory() Directory {
	return r.directory
}

// Rules returns the rules in rulebase order. The slice is a copy.
func (r *NatRulebase) Rules() []*NatRule {
	return append([]*NatRule(nil), r.rules...)
}

// Package is a policy package; gateways select one by access policy name.
type Package struct {
	UID         Uid
	Name        string
	NatRulebase *NatRulebase
}

// Domain is everything read from one management server.
type Domain struct {
	Gateways []Gateway
	Packages []*Package
}

func (d *Domain) PackageByName(name string) (*Package, bool) {
	for _, p := range d.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

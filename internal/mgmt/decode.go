package mgmt

import (
	"encoding/json"
	"io"
	"net/netip"

	"github.com/pkg/errors"
)

const (
	typeGlobal       = "Global"
	globalOriginal   = "Original"
	globalPolicyTgts = "Policy Targets"
	typeNatRule      = "nat-rule"
	typeNatSection   = "nat-section"
	propMaskLength4  = "mask-length4"
	propMaskLength6  = "mask-length6"
)

type objectHeader struct {
	Type string `json:"type"`
	UID  Uid    `json:"uid"`
	Name string `json:"name"`
}

type hostJSON struct {
	IPv4        netip.Addr   `json:"ipv4-address"`
	IPv6        netip.Addr   `json:"ipv6-address"`
	NatSettings *NatSettings `json:"nat-settings"`
}

type addressRangeJSON struct {
	IPv4First   netip.Addr   `json:"ipv4-address-first"`
	IPv4Last    netip.Addr   `json:"ipv4-address-last"`
	IPv6First   netip.Addr   `json:"ipv6-address-first"`
	IPv6Last    netip.Addr   `json:"ipv6-address-last"`
	NatSettings *NatSettings `json:"nat-settings"`
}

type networkJSON struct {
	Subnet4     netip.Addr   `json:"subnet4"`
	MaskLength4 *int         `json:"mask-length4"`
	Subnet6     netip.Addr   `json:"subnet6"`
	MaskLength6 *int         `json:"mask-length6"`
	NatSettings *NatSettings `json:"nat-settings"`
}

type membersJSON struct {
	Members []Uid `json:"members"`
}

type serviceJSON struct {
	Port string `json:"port"`
}

type gatewayJSON struct {
	IPv4Address        netip.Addr            `json:"ipv4-address"`
	ClusterMemberNames []string              `json:"cluster-member-names"`
	Policy             GatewayOrServerPolicy `json:"policy"`
}

// DecodeObject decodes one management object using its "type" field. Unknown
// fields are ignored; unknown types decode to *Unknown.
func DecodeObject(data []byte) (TypedObject, error) {
	var hdr objectHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, errors.Wrap(err, "decode object header")
	}
	if hdr.UID == "" {
		return nil, errors.Errorf("object of type %q is missing uid", hdr.Type)
	}
	if hdr.Name == "" {
		return nil, errors.Errorf("object %s is missing name", hdr.UID)
	}
	base := Object{UID: hdr.UID, Name: hdr.Name}

	switch hdr.Type {
	case "host":
		var h hostJSON
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, errors.Wrapf(err, "decode host %s", hdr.UID)
		}
		return &Host{Object: base, IPv4: h.IPv4, IPv6: h.IPv6, NatSettings: h.NatSettings}, nil
	case "address-range":
		var r addressRangeJSON
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, errors.Wrapf(err, "decode address-range %s", hdr.UID)
		}
		ar := &AddressRange{
			Object:      base,
			IPv4First:   r.IPv4First,
			IPv4Last:    r.IPv4Last,
			IPv6First:   r.IPv6First,
			IPv6Last:    r.IPv6Last,
			NatSettings: r.NatSettings,
		}
		if err := ar.Validate(); err != nil {
			return nil, err
		}
		return ar, nil
	case "network":
		return decodeNetwork(base, data)
	case "group":
		var g membersJSON
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, errors.Wrapf(err, "decode group %s", hdr.UID)
		}
		return &Group{Object: base, Members: g.Members}, nil
	case "CpmiAnyObject":
		return &CpmiAnyObject{base}, nil
	case typeGlobal:
		switch hdr.Name {
		case globalOriginal:
			return &Original{base}, nil
		case globalPolicyTgts:
			return &PolicyTargets{base}, nil
		}
		return &Unknown{Object: base, Type: hdr.Type}, nil
	case "service-tcp", "service-udp":
		var s serviceJSON
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errors.Wrapf(err, "decode %s %s", hdr.Type, hdr.UID)
		}
		if hdr.Type == "service-tcp" {
			return &ServiceTcp{Object: base, Port: s.Port}, nil
		}
		return &ServiceUdp{Object: base, Port: s.Port}, nil
	case "service-icmp":
		return &ServiceIcmp{base}, nil
	case "service-group":
		var g membersJSON
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, errors.Wrapf(err, "decode service-group %s", hdr.UID)
		}
		return &ServiceGroup{Object: base, Members: g.Members}, nil
	case "simple-gateway", "CpmiGatewayCluster", "CpmiVsxClusterNetobj":
		var g gatewayJSON
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, errors.Wrapf(err, "decode gateway %s", hdr.UID)
		}
		switch hdr.Type {
		case "simple-gateway":
			return &SimpleGateway{Object: base, IPv4Address: g.IPv4Address, PolicyInstalls: g.Policy}, nil
		case "CpmiGatewayCluster":
			return &CpmiGatewayCluster{
				Object:             base,
				IPv4Address:        g.IPv4Address,
				ClusterMemberNames: g.ClusterMemberNames,
				PolicyInstalls:     g.Policy,
			}, nil
		default:
			return &CpmiVsxClusterNetobj{
				Object:             base,
				IPv4Address:        g.IPv4Address,
				ClusterMemberNames: g.ClusterMemberNames,
				PolicyInstalls:     g.Policy,
			}, nil
		}
	default:
		return &Unknown{Object: base, Type: hdr.Type}, nil
	}
}

func decodeNetwork(base Object, data []byte) (TypedObject, error) {
	var n networkJSON
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.Wrapf(err, "decode network %s", base.UID)
	}
	network := &Network{Object: base, NatSettings: n.NatSettings}
	if n.Subnet4.IsValid() {
		if n.MaskLength4 == nil {
			return nil, errors.Errorf("network %s: subnet4 without %s", base.UID, propMaskLength4)
		}
		p, err := n.Subnet4.Prefix(*n.MaskLength4)
		if err != nil {
			return nil, errors.Wrapf(err, "network %s", base.UID)
		}
		network.Subnet4 = p
	}
	if n.Subnet6.IsValid() {
		if n.MaskLength6 == nil {
			return nil, errors.Errorf("network %s: subnet6 without %s", base.UID, propMaskLength6)
		}
		p, err := n.Subnet6.Prefix(*n.MaskLength6)
		if err != nil {
			return nil, errors.Wrapf(err, "network %s", base.UID)
		}
		network.Subnet6 = p
	}
	if !network.Subnet4.IsValid() && !network.Subnet6.IsValid() {
		return nil, errors.Errorf("network %s has no subnet", base.UID)
	}
	return network, nil
}

type natRuleJSON struct {
	Type                  string          `json:"type"`
	UID                   Uid             `json:"uid"`
	AutoGenerated         bool            `json:"auto-generated"`
	Comments              string          `json:"comments"`
	Enabled               bool            `json:"enabled"`
	InstallOn             []Uid           `json:"install-on"`
	Method                NatMethod       `json:"method"`
	OriginalDestination   Uid             `json:"original-destination"`
	OriginalService       Uid             `json:"original-service"`
	OriginalSource        Uid             `json:"original-source"`
	RuleNumber            int             `json:"rule-number"`
	TranslatedDestination Uid             `json:"translated-destination"`
	TranslatedService     Uid             `json:"translated-service"`
	TranslatedSource      Uid             `json:"translated-source"`
	Rulebase              json.RawMessage `json:"rulebase"`
}

type natRulebaseJSON struct {
	UID               Uid               `json:"uid"`
	ObjectsDictionary []json.RawMessage `json:"objects-dictionary"`
	Rulebase          json.RawMessage   `json:"rulebase"`
}

type packageJSON struct {
	UID         Uid              `json:"uid"`
	Name        string           `json:"name"`
	NatRulebase *natRulebaseJSON `json:"nat-rulebase"`
}

type domainJSON struct {
	Gateways []json.RawMessage `json:"gateways"`
	Packages []packageJSON     `json:"packages"`
}

// DecodeNatRulebase decodes a rulebase with its objects dictionary. Sections
// are flattened in order.
func DecodeNatRulebase(data []byte) (*NatRulebase, error) {
	var raw natRulebaseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode nat rulebase")
	}
	return buildNatRulebase(&raw)
}

func buildNatRulebase(raw *natRulebaseJSON) (*NatRulebase, error) {
	objects := make([]TypedObject, 0, len(raw.ObjectsDictionary))
	for i, data := range raw.ObjectsDictionary {
		obj, err := DecodeObject(data)
		if err != nil {
			return nil, errors.Wrapf(err, "rulebase %s: objects-dictionary[%d]", raw.UID, i)
		}
		objects = append(objects, obj)
	}
	directory, err := NewDirectory(objects...)
	if err != nil {
		return nil, errors.Wrapf(err, "rulebase %s", raw.UID)
	}
	var rules []*NatRule
	if len(raw.Rulebase) > 0 {
		if rules, err = decodeRules(raw.Rulebase, rules); err != nil {
			return nil, errors.Wrapf(err, "rulebase %s", raw.UID)
		}
	}
	return NewNatRulebase(directory, rules, raw.UID), nil
}

func decodeRules(data json.RawMessage, rules []*NatRule) ([]*NatRule, error) {
	var entries []natRuleJSON
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "decode rules")
	}
	for _, e := range entries {
		switch e.Type {
		case typeNatSection:
			if len(e.Rulebase) == 0 {
				continue
			}
			var err error
			if rules, err = decodeRules(e.Rulebase, rules); err != nil {
				return nil, errors.Wrapf(err, "section %s", e.UID)
			}
		case typeNatRule, "":
			if e.UID == "" {
				return nil, errors.Errorf("nat rule %d is missing uid", e.RuleNumber)
			}
			rules = append(rules, &NatRule{
				UID:                   e.UID,
				AutoGenerated:         e.AutoGenerated,
				Comments:              e.Comments,
				Enabled:               e.Enabled,
				InstallOn:             e.InstallOn,
				Method:                e.Method,
				OriginalDestination:   e.OriginalDestination,
				OriginalService:       e.OriginalService,
				OriginalSource:        e.OriginalSource,
				RuleNumber:            e.RuleNumber,
				TranslatedDestination: e.TranslatedDestination,
				TranslatedService:     e.TranslatedService,
				TranslatedSource:      e.TranslatedSource,
			})
		default:
			return nil, errors.Errorf("unexpected rulebase entry type %q", e.Type)
		}
	}
	return rules, nil
}

// DecodeDomain reads a management domain document: gateways and policy
// packages with their NAT rulebases.
func DecodeDomain(r io.Reader) (*Domain, error) {
	var raw domainJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode domain")
	}
	domain := &Domain{}
	for i, data := range raw.Gateways {
		obj, err := DecodeObject(data)
		if err != nil {
			return nil, errors.Wrapf(err, "gateways[%d]", i)
		}
		gw, ok := obj.(Gateway)
		if !ok {
			return nil, errors.Errorf("gateways[%d]: %s is a %v, not a gateway", i, obj.ObjectUID(), obj.Kind())
		}
		domain.Gateways = append(domain.Gateways, gw)
	}
	for _, p := range raw.Packages {
		pkg := &Package{UID: p.UID, Name: p.Name}
		if p.NatRulebase != nil {
			rb, err := buildNatRulebase(p.NatRulebase)
			if err != nil {
				return nil, errors.Wrapf(err, "package %s", p.Name)
			}
			pkg.NatRulebase = rb
		}
		domain.Packages = append(domain.Packages, pkg)
	}
	return domain, nil
}

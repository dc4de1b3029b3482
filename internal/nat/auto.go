package nat

import (
	"net/netip"

	"github.com/google/uuid"

	"github.com/micrictor/cpnat/internal/match"
	"github.com/micrictor/cpnat/internal/mgmt"
	"github.com/micrictor/cpnat/internal/transform"
)

// autoRuleNamespace seeds the ids of rules synthesised from NAT settings, so
// the same object always yields the same id.
var autoRuleNamespace = uuid.MustParse("5b0c7c2e-63f4-4c3a-9d0e-0a6f3c1d2e11")

// AutoRuleUID returns the id of the automatic hide rule derived from obj.
func AutoRuleUID(obj mgmt.Uid) mgmt.Uid {
	return mgmt.Uid(uuid.NewSHA1(autoRuleNamespace, []byte(obj)).String())
}

func natSettingsOf(obj mgmt.TypedObject) *mgmt.NatSettings {
	switch o := obj.(type) {
	case *mgmt.Host:
		return o.NatSettings
	case *mgmt.Network:
		return o.NatSettings
	case *mgmt.AddressRange:
		return o.NatSettings
	default:
		return nil
	}
}

func autoHideApplies(s *mgmt.NatSettings, gw mgmt.Gateway) bool {
	if s == nil || !s.AutoRule || s.Method != mgmt.NatMethodHide {
		return false
	}
	return s.InstallOn == mgmt.NatInstallOnAll || s.InstallOn == gw.ObjectName()
}

// AutomaticHideTransformations derives hide NAT from the NAT settings of the
// address objects in rb's directory, in object name order.
func AutomaticHideTransformations(rb *mgmt.NatRulebase, gw mgmt.Gateway, pool PortPool) (transform.Pipeline, []Warning) {
	var (
		out      transform.Pipeline
		warnings []Warning
	)
	for _, obj := range rb.Directory().Objects() {
		settings := natSettingsOf(obj)
		if !autoHideApplies(settings, gw) {
			continue
		}
		ruleUID := AutoRuleUID(obj.ObjectUID())
		t, err := autoHideTransformation(rb.Directory(), obj, settings, gw, pool)
		if err != nil {
			for _, r := range Rejections(err) {
				warnings = append(warnings, Warning{
					Gateway: gw.ObjectUID(),
					Rule:    ruleUID,
					Reason:  r.Reason,
					Field:   r.Field,
					Message: r.Detail,
				})
			}
			continue
		}
		t.RuleUID = ruleUID.String()
		out = append(out, t)
	}
	return out, warnings
}

func autoHideTransformation(dir mgmt.Directory, obj mgmt.TypedObject, settings *mgmt.NatSettings, gw mgmt.Gateway, pool PortPool) (transform.Transformation, error) {
	var addr netip.Addr
	switch settings.HideBehind {
	case mgmt.NatHideBehindGateway:
		addr = gw.PrimaryAddress()
	case mgmt.NatHideBehindIPAddress:
		addr = settings.IPv4Address
	default:
		return transform.Transformation{}, reject(ReasonUnsupportedHideTarget, "nat-settings",
			"hide-behind %q is not supported", settings.HideBehind)
	}
	if !addr.IsValid() {
		return transform.Transformation{}, reject(ReasonUnsupportedHideTarget, "nat-settings",
			"hide-behind %s has no address", settings.HideBehind)
	}
	src, err := match.AddressSpace(dir, obj)
	if err != nil {
		return transform.Transformation{}, matchRejection(err)
	}
	return transform.Transformation{
		Guard: match.HeaderSpace{SrcIPs: src},
		Steps: hideSteps(addr, pool),
	}, nil
}

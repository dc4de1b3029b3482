package nat

import (
	"net/netip"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/micrictor/cpnat/internal/match"
	"github.com/micrictor/cpnat/internal/mgmt"
	"github.com/micrictor/cpnat/internal/transform"
)

// Hide NAT source ports are allocated from the gateway's high port pool.
const (
	NATPortFirst uint16 = 10000
	NATPortLast  uint16 = 60000
)

// PortPool is the inclusive source port range hide NAT allocates from.
type PortPool struct {
	First uint16
	Last  uint16
}

func DefaultPortPool() PortPool {
	return PortPool{First: NATPortFirst, Last: NATPortLast}
}

func (p PortPool) Validate() error {
	if p.First == 0 || p.First > p.Last {
		return errors.Errorf("invalid nat port pool %d-%d", p.First, p.Last)
	}
	return nil
}

const (
	fieldOriginalSource        = "original-source"
	fieldOriginalDestination   = "original-destination"
	fieldOriginalService       = "original-service"
	fieldTranslatedSource      = "translated-source"
	fieldTranslatedDestination = "translated-destination"
	fieldTranslatedService     = "translated-service"
)

// CheckValidManualHide checks every precondition of a manual hide rule and
// returns all that fail as *Rejection values inside a multierror.
func CheckValidManualHide(hideBehind, origDst, origSvc mgmt.TypedObject) error {
	var result *multierror.Error
	switch {
	case mgmt.IsService(hideBehind):
		result = multierror.Append(result, reject(ReasonTypeMismatch, fieldTranslatedSource,
			"service %s cannot hide traffic, an address is required", hideBehind.ObjectUID()))
	case !mgmt.IsAddressSpace(hideBehind):
		result = multierror.Append(result, reject(ReasonTypeMismatch, fieldTranslatedSource,
			"%s %s cannot hide traffic, an address is required", hideBehind.Kind(), hideBehind.ObjectUID()))
	}
	if !unrestricted(origDst) {
		result = multierror.Append(result, reject(ReasonUnsupportedRestriction, fieldOriginalDestination,
			"hide rules restricted to %s %s are not supported", origDst.Kind(), origDst.ObjectUID()))
	}
	if !unrestricted(origSvc) {
		result = multierror.Append(result, reject(ReasonUnsupportedRestriction, fieldOriginalService,
			"hide rules restricted to %s %s are not supported", origSvc.Kind(), origSvc.ObjectUID()))
	}
	return result.ErrorOrNil()
}

func IsValidManualHide(hideBehind, origDst, origSvc mgmt.TypedObject) bool {
	return CheckValidManualHide(hideBehind, origDst, origSvc) == nil
}

func unrestricted(obj mgmt.TypedObject) bool {
	switch obj.Kind() {
	case mgmt.KindOriginal, mgmt.KindAny:
		return true
	default:
		return false
	}
}

// HideSteps returns the rewrite steps of a manual hide rule: the source
// address becomes the single address of translatedSrc, then the source port is
// drawn from pool.
func HideSteps(translatedSrc, origDst, origSvc mgmt.TypedObject, pool PortPool) ([]transform.Step, error) {
	if err := CheckValidManualHide(translatedSrc, origDst, origSvc); err != nil {
		return nil, err
	}
	addr, ok := mgmt.SingleAddress(translatedSrc)
	if !ok {
		return nil, reject(ReasonUnsupportedHideTarget, fieldTranslatedSource,
			"%s %s does not reduce to a single address", translatedSrc.Kind(), translatedSrc.ObjectUID())
	}
	return hideSteps(addr, pool), nil
}

func hideSteps(addr netip.Addr, pool PortPool) []transform.Step {
	return []transform.Step{
		transform.AssignSourceIP{Addr: addr},
		transform.AssignSourcePort{First: pool.First, Last: pool.Last},
	}
}

// resolvedRule holds the six objects a rule references.
type resolvedRule struct {
	origSrc       mgmt.TypedObject
	origDst       mgmt.TypedObject
	origSvc       mgmt.TypedObject
	translatedSrc mgmt.TypedObject
	translatedDst mgmt.TypedObject
	translatedSvc mgmt.TypedObject
}

func resolveRule(dir mgmt.Directory, rule *mgmt.NatRule) (resolvedRule, error) {
	var (
		r      resolvedRule
		result *multierror.Error
	)
	fields := []struct {
		name string
		uid  mgmt.Uid
		dst  *mgmt.TypedObject
	}{
		{fieldOriginalSource, rule.OriginalSource, &r.origSrc},
		{fieldOriginalDestination, rule.OriginalDestination, &r.origDst},
		{fieldOriginalService, rule.OriginalService, &r.origSvc},
		{fieldTranslatedSource, rule.TranslatedSource, &r.translatedSrc},
		{fieldTranslatedDestination, rule.TranslatedDestination, &r.translatedDst},
		{fieldTranslatedService, rule.TranslatedService, &r.translatedSvc},
	}
	for _, f := range fields {
		obj, ok := dir.Lookup(f.uid)
		if !ok {
			result = multierror.Append(result, reject(ReasonUnresolvedReference, f.name, "uid %q is not in the rulebase", f.uid))
			continue
		}
		*f.dst = obj
	}
	return r, result.ErrorOrNil()
}

// HideRuleTransformation compiles one manual hide rule. Every referenced uid
// must resolve in rb's directory.
func HideRuleTransformation(rb *mgmt.NatRulebase, rule *mgmt.NatRule, pool PortPool, builder match.Builder) (transform.Transformation, error) {
	r, err := resolveRule(rb.Directory(), rule)
	if err != nil {
		return transform.Transformation{}, err
	}
	steps, err := HideSteps(r.translatedSrc, r.origDst, r.origSvc, pool)
	if err != nil {
		return transform.Transformation{}, err
	}
	guard, err := builder.BuildMatch(rb.Directory(), r.origSrc, r.origDst, r.origSvc)
	if err != nil {
		return transform.Transformation{}, matchRejection(err)
	}
	return transform.Transformation{
		RuleUID: rule.UID.String(),
		Guard:   guard,
		Steps:   steps,
	}, nil
}

func matchRejection(err error) *Rejection {
	if errors.Is(err, mgmt.ErrNotFound) {
		return &Rejection{Reason: ReasonUnresolvedReference, Detail: err.Error()}
	}
	return &Rejection{Reason: ReasonUnsupportedMatch, Detail: err.Error()}
}

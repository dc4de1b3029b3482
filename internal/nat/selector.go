package nat

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/micrictor/cpnat/internal/mgmt"
)

// ErrDuplicateRuleNumber means the rulebase violates rule number uniqueness.
// Rule order is undefined in that case, so nothing is compiled.
var ErrDuplicateRuleNumber = errors.New("duplicate rule number")

// ApplicableRules returns the enabled rules installed on gw, ordered by rule
// number. A rule is installed on gw when its install-on list holds gw's uid or
// a uid resolving to the Policy Targets object.
func ApplicableRules(rb *mgmt.NatRulebase, gw mgmt.Gateway) []*mgmt.NatRule {
	var out []*mgmt.NatRule
	for _, rule := range orderedRules(rb) {
		if !rule.Enabled {
			continue
		}
		if installedOn(rb.Directory(), rule, gw) {
			out = append(out, rule)
		}
	}
	return out
}

func installedOn(dir mgmt.Directory, rule *mgmt.NatRule, gw mgmt.Gateway) bool {
	for _, uid := range rule.InstallOn {
		if uid == gw.ObjectUID() {
			return true
		}
		if obj, ok := dir.Lookup(uid); ok && obj.Kind() == mgmt.KindPolicyTargets {
			return true
		}
	}
	return false
}

func orderedRules(rb *mgmt.NatRulebase) []*mgmt.NatRule {
	rules := rb.Rules()
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].RuleNumber < rules[j].RuleNumber
	})
	return rules
}

// CheckRuleNumbers returns ErrDuplicateRuleNumber if two rules share a number.
func CheckRuleNumbers(rb *mgmt.NatRulebase) error {
	seen := make(map[int]mgmt.Uid)
	for _, rule := range rb.Rules() {
		if other, ok := seen[rule.RuleNumber]; ok {
			return errors.Wrapf(ErrDuplicateRuleNumber, "rulebase %s: rule %d used by %s and %s",
				rb.UID(), rule.RuleNumber, other, rule.UID)
		}
		seen[rule.RuleNumber] = rule.UID
	}
	return nil
}

// ManualRules returns the rules a human authored, preserving order.
func ManualRules(rules []*mgmt.NatRule) []*mgmt.NatRule {
	manual, _ := Partition(rules)
	return manual
}

// AutomaticRules returns the rules the management server generated.
func AutomaticRules(rules []*mgmt.NatRule) []*mgmt.NatRule {
	_, auto := Partition(rules)
	return auto
}

// Partition splits rules by their auto-generated flag. Both halves keep the
// input order.
func Partition(rules []*mgmt.NatRule) (manual, auto []*mgmt.NatRule) {
	for _, rule := range rules {
		if rule.AutoGenerated {
			auto = append(auto, rule)
		} else {
			manual = append(manual, rule)
		}
	}
	return manual, auto
}

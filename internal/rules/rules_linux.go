//go:build linux

package rules

import (
	"github.com/coreos/go-iptables/iptables"
	"github.com/pkg/errors"
)

var IPTV4 *iptables.IPTables
var IPTV6 *iptables.IPTables

func (r *RulesEngine) ApplyTerm(term Term) error {
	ipt, err := getOrCreateIpt(protocolOf(term))
	if err != nil {
		return errors.Wrap(err, "failed to open iptables")
	}

	ruleSpec := convertTerm(term)
	err = ipt.AppendUnique(DEFAULT_TABLE, DEFAULT_CHAIN, ruleSpec...)
	if err != nil {
		return errors.Wrap(err, "failed to add rule")
	}
	return nil
}

func (r *RulesEngine) DeleteTerm(term Term) error {
	ipt, err := getOrCreateIpt(protocolOf(term))
	if err != nil {
		return errors.Wrap(err, "failed to open iptables for delete")
	}

	ruleSpec := convertTerm(term)
	err = ipt.DeleteIfExists(DEFAULT_TABLE, DEFAULT_CHAIN, ruleSpec...)
	if err != nil {
		return errors.Wrap(err, "failed to delete term")
	}
	return nil
}

func protocolOf(term Term) iptables.Protocol {
	if term.Is6() {
		return iptables.ProtocolIPv6
	}
	return iptables.ProtocolIPv4
}

func getOrCreateIpt(protocol iptables.Protocol) (*iptables.IPTables, error) {
	switch protocol {
	case iptables.ProtocolIPv4:
		if IPTV4 != nil {
			return IPTV4, nil
		}
		ipt, err := iptables.NewWithProtocol(protocol)
		if err == nil {
			IPTV4 = ipt
		}
		return ipt, err
	case iptables.ProtocolIPv6:
		if IPTV6 != nil {
			return IPTV6, nil
		}
		ipt, err := iptables.NewWithProtocol(protocol)
		if err == nil {
			IPTV6 = ipt
		}
		return ipt, err
	default:
		return nil, errors.Errorf("invalid protocol: %v", protocol)
	}
}

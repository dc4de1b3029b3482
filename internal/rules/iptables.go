package rules

import (
	"fmt"

	"github.com/micrictor/cpnat/internal/transform"
)

const DEFAULT_TABLE = "nat"
const DEFAULT_CHAIN = "POSTROUTING"
const DEFAULT_ACTION = "SNAT"

// IptablesSpecs renders t as rule specs for the nat table's POSTROUTING chain.
func IptablesSpecs(t transform.Transformation) ([][]string, error) {
	terms, err := Terms(t)
	if err != nil {
		return nil, err
	}
	specs := make([][]string, len(terms))
	for i, term := range terms {
		specs[i] = convertTerm(term)
	}
	return specs, nil
}

// Convert internal term struct into the proper rule spec for IPTables
func convertTerm(term Term) []string {
	var spec []string
	if term.Protocol != 0 {
		spec = append(spec, "--protocol", term.Protocol.String())
	}

	var srcRange, dstRange string
	if term.Source != nil {
		if p, ok := term.Source.Prefix(); ok {
			spec = append(spec, "--source", p.String())
		} else {
			srcRange = term.Source.First.String() + "-" + term.Source.Last.String()
		}
	}
	if term.Destination != nil {
		if p, ok := term.Destination.Prefix(); ok {
			spec = append(spec, "--destination", p.String())
		} else {
			dstRange = term.Destination.First.String() + "-" + term.Destination.Last.String()
		}
	}
	if srcRange != "" || dstRange != "" {
		spec = append(spec, "-m", "iprange")
		if srcRange != "" {
			spec = append(spec, "--src-range", srcRange)
		}
		if dstRange != "" {
			spec = append(spec, "--dst-range", dstRange)
		}
	}

	if term.DestinationPorts != nil {
		ports := term.DestinationPorts
		if ports.First == ports.Last {
			spec = append(spec, "--dport", fmt.Sprintf("%d", ports.First))
		} else {
			spec = append(spec, "--dport", fmt.Sprintf("%d:%d", ports.First, ports.Last))
		}
	}

	spec = append(spec, "-m", "comment", "--comment", term.Comment)
	return append(spec, "--jump", DEFAULT_ACTION, "--to-source", toSource(term))
}

func toSource(term Term) string {
	addr := term.ToSource.String()
	if term.ToPorts == nil {
		return addr
	}
	if term.ToSource.Is6() {
		addr = "[" + addr + "]"
	}
	return fmt.Sprintf("%s:%d-%d", addr, term.ToPorts.First, term.ToPorts.Last)
}

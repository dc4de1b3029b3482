package transform

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/micrictor/cpnat/internal/match"
)

// Step is one header rewrite. The set of steps is closed.
type Step interface {
	Apply(f match.Flow) match.Flow
	String() string
	isStep()
}

// AssignSourceIP rewrites the source address.
type AssignSourceIP struct {
	Addr netip.Addr
}

func (s AssignSourceIP) Apply(f match.Flow) match.Flow {
	f.Src = s.Addr
	return f
}

func (s AssignSourceIP) String() string {
	return "assign-source-ip " + s.Addr.String()
}

func (AssignSourceIP) isStep() {}

// AssignSourcePort rewrites the source port to one drawn from First..Last.
// Flows without ports pass through unchanged.
type AssignSourcePort struct {
	First uint16
	Last  uint16
}

// Apply picks the low bound of the pool; port allocation state is owned by
// the dataplane, not the compiled pipeline.
func (s AssignSourcePort) Apply(f match.Flow) match.Flow {
	if f.Protocol.HasPorts() {
		f.SrcPort = s.First
	}
	return f
}

func (s AssignSourcePort) String() string {
	return fmt.Sprintf("assign-source-port %d-%d", s.First, s.Last)
}

func (AssignSourcePort) isStep() {}

// Transformation applies Steps in order to flows matching Guard.
type Transformation struct {
	// RuleUID is the rule the transformation was compiled from.
	RuleUID string
	Guard   match.HeaderSpace
	Steps   []Step
}

// Apply returns the rewritten flow and true when the guard matches. A source
// rewrite only applies to flows of its own address family.
func (t Transformation) Apply(f match.Flow) (match.Flow, bool) {
	if addr, ok := t.SourceIP(); ok && addr.Is6() != f.Src.Is6() {
		return f, false
	}
	if !t.Guard.Matches(f) {
		return f, false
	}
	for _, s := range t.Steps {
		f = s.Apply(f)
	}
	return f, true
}

func (t Transformation) String() string {
	steps := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		steps[i] = s.String()
	}
	return fmt.Sprintf("when %s then [%s]", t.Guard, strings.Join(steps, "; "))
}

// SourceIP returns the address of the first AssignSourceIP step.
func (t Transformation) SourceIP() (netip.Addr, bool) {
	for _, s := range t.Steps {
		if a, ok := s.(AssignSourceIP); ok {
			return a.Addr, true
		}
	}
	return netip.Addr{}, false
}

// SourcePorts returns the first AssignSourcePort step.
func (t Transformation) SourcePorts() (AssignSourcePort, bool) {
	for _, s := range t.Steps {
		if p, ok := s.(AssignSourcePort); ok {
			return p, true
		}
	}
	return AssignSourcePort{}, false
}

// Pipeline is an ordered list of transformations; the first matching one wins.
type Pipeline []Transformation

// Apply runs f through the pipeline. The returned index is the transformation
// that matched, or -1.
func (p Pipeline) Apply(f match.Flow) (match.Flow, int) {
	for i, t := range p {
		if out, ok := t.Apply(f); ok {
			return out, i
		}
	}
	return f, -1
}

package nat

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/micrictor/cpnat/internal/mgmt"
)

// Reason classifies why a rule was not compiled.
type Reason string

const (
	ReasonUnresolvedReference    Reason = "unresolved-reference"
	ReasonTypeMismatch           Reason = "type-mismatch"
	ReasonUnsupportedRestriction Reason = "unsupported-restriction"
	ReasonUnsupportedHideTarget  Reason = "unsupported-hide-target"
	ReasonUnsupportedMethod      Reason = "unsupported-method"
	ReasonUnsupportedMatch       Reason = "unsupported-match"
)

// Reasons lists every reason, in the order metrics are initialised.
var Reasons = []Reason{
	ReasonUnresolvedReference,
	ReasonTypeMismatch,
	ReasonUnsupportedRestriction,
	ReasonUnsupportedHideTarget,
	ReasonUnsupportedMethod,
	ReasonUnsupportedMatch,
}

// Rejection is one failed precondition of one rule field.
type Rejection struct {
	Reason Reason
	Field  string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", r.Reason, r.Field, r.Detail)
}

func reject(reason Reason, field, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Rejections flattens err into the rejections it carries. Errors that are not
// rejections are reported as unsupported-match, the only path a foreign error
// can come from.
func Rejections(err error) []*Rejection {
	if err == nil {
		return nil
	}
	var errs []error
	if merr, ok := err.(*multierror.Error); ok {
		errs = merr.Errors
	} else {
		errs = []error{err}
	}
	out := make([]*Rejection, 0, len(errs))
	for _, e := range errs {
		var r *Rejection
		if errors.As(e, &r) {
			out = append(out, r)
			continue
		}
		out = append(out, &Rejection{Reason: ReasonUnsupportedMatch, Detail: e.Error()})
	}
	return out
}

// Warning is a rejection attributed to a gateway and rule.
type Warning struct {
	Gateway    mgmt.Uid `json:"gateway" yaml:"gateway"`
	Rule       mgmt.Uid `json:"rule" yaml:"rule"`
	RuleNumber int      `json:"ruleNumber" yaml:"ruleNumber"`
	Reason     Reason   `json:"reason" yaml:"reason"`
	Field      string   `json:"field,omitempty" yaml:"field,omitempty"`
	Message    string   `json:"message" yaml:"message"`
}

func (w Warning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("gateway %s rule %d (%s): %s: %s", w.Gateway, w.RuleNumber, w.Rule, w.Reason, w.Message)
	}
	return fmt.Sprintf("gateway %s rule %d (%s): %s: %s: %s", w.Gateway, w.RuleNumber, w.Rule, w.Reason, w.Field, w.Message)
}

func warningsFor(gw mgmt.Gateway, rule *mgmt.NatRule, err error) []Warning {
	rejections := Rejections(err)
	out := make([]Warning, len(rejections))
	for i, r := range rejections {
		out[i] = Warning{
			Gateway:    gw.ObjectUID(),
			Rule:       rule.UID,
			RuleNumber: rule.RuleNumber,
			Reason:     r.Reason,
			Field:      r.Field,
			Message:    r.Detail,
		}
	}
	return out
}

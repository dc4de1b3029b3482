package rules

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/micrictor/cpnat/internal/transform"
)

type RulesEngine struct {
	mu sync.Mutex
	// activeTerms holds the installed terms in installation order.
	activeTerms []Term
}

// ApplyPipeline installs every transformation of p in order, so the first
// matching dataplane rule is the first matching transformation. Terms
// installed before a failure stay active until Close.
func (r *RulesEngine) ApplyPipeline(p transform.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range p {
		terms, err := Terms(t)
		if err != nil {
			return err
		}
		for _, term := range terms {
			if err := r.ApplyTerm(term); err != nil {
				return errors.Wrapf(err, "rule %s", t.RuleUID)
			}
			r.activeTerms = append(r.activeTerms, term)
		}
	}
	log.Infof("installed %d nat terms for %d transformations", len(r.activeTerms), len(p))
	return nil
}

// ActiveTerms returns a copy of the installed terms.
func (r *RulesEngine) ActiveTerms() []Term {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Term(nil), r.activeTerms...)
}

// Close removes every installed term.
func (r *RulesEngine) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log.Infof("Deleting %d terms at shutdown...", len(r.activeTerms))
	var result *multierror.Error
	for _, term := range r.activeTerms {
		if err := r.DeleteTerm(term); err != nil {
			result = multierror.Append(result, err)
		}
	}
	r.activeTerms = nil
	return result.ErrorOrNil()
}

func New() *RulesEngine {
	return &RulesEngine{}
}

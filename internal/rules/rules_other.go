//go:build !linux

package rules

import (
	"runtime"

	"github.com/pkg/errors"
)

func (r *RulesEngine) ApplyTerm(term Term) error {
	return errors.Errorf("installing nat rules is not supported on %s", runtime.GOOS)
}

func (r *RulesEngine) DeleteTerm(term Term) error {
	return nil
}

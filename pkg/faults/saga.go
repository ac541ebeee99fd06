package faults

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// SagaError reports a failed saga step. Err is the triggering fault and is what
// errors.Is/As see; Compensation holds any failures from the rollback.
type SagaError struct {
	Step         string
	Err          error
	Compensation *multierror.Error
}

func (e *SagaError) Error() string {
	if e.Compensation == nil || len(e.Compensation.Errors) == 0 {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v (compensation: %d failure(s): %v)", e.Step, e.Err, len(e.Compensation.Errors), e.Compensation.ErrorOrNil())
}

func (e *SagaError) Unwrap() error { return e.Err }

// CompensationErrors returns the secondary rollback failures, nil when rollback was clean.
func (e *SagaError) CompensationErrors() []error {
	if e.Compensation == nil {
		return nil
	}
	return e.Compensation.WrappedErrors()
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fleetbroker/pkg/faults"
)

// State is a provisioning attempt's position in the saga.
type State int

const (
	StateStart State = iota
	StateIPAllocated
	StateInstanceLaunched
	StateIPAssociated
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateIPAllocated:
		return "ip_allocated"
	case StateInstanceLaunched:
		return "instance_launched"
	case StateIPAssociated:
		return "ip_associated"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type compensation struct {
	resource string
	run      func(ctx context.Context) error
}

// attempt tracks the resources one CreateServer call holds. Compensations run
// newest first, so an instance is gone before its address is released.
type attempt struct {
	o         *Orchestrator
	accountID string
	region    string
	state     State
	undo      []compensation
	span      trace.Span
}

func (a *attempt) advance(s State, resource string, undo func(ctx context.Context) error) {
	a.state = s
	if undo != nil {
		a.undo = append(a.undo, compensation{resource: resource, run: undo})
	}
	a.span.AddEvent(s.String())
	a.o.log.Debugw("provision step", "account", a.accountID, "region", a.region, "state", s.String(), "resource", resource)
}

// abort rolls back every held resource and returns cause wrapped with the
// failed step. Rollback failures ride along as secondary context.
func (a *attempt) abort(ctx context.Context, step string, cause error) error {
	var comp *multierror.Error
	for i := len(a.undo) - 1; i >= 0; i-- {
		c := a.undo[i]
		if err := c.run(ctx); err != nil {
			comp = multierror.Append(comp, fmt.Errorf("%s: %w", c.resource, err))
			a.o.metrics.Compensations.WithLabelValues(kindOf(c.resource), "failed").Inc()
			a.o.log.Errorw("compensation failed", "account", a.accountID, "region", a.region, "resource", c.resource, "err", err)
			a.o.notifier.CompensationFailed(ctx, a.accountID, a.region, c.resource, err)
			continue
		}
		a.o.metrics.Compensations.WithLabelValues(kindOf(c.resource), "ok").Inc()
		a.o.log.Infow("compensated", "account", a.accountID, "region", a.region, "resource", c.resource)
	}
	a.undo = nil
	a.state = StateStart

	outcome := "compensated"
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		outcome = "cancelled"
	}
	a.o.metrics.Provisions.WithLabelValues(outcome).Inc()
	a.span.RecordError(cause)
	a.span.SetStatus(codes.Error, step)
	a.o.log.Warnw("provisioning aborted", "account", a.accountID, "region", a.region, "step", step, "err", cause)
	return &faults.SagaError{Step: step, Err: cause, Compensation: comp}
}

// kindOf keeps metric label cardinality bounded: "instance i-123" -> "instance".
func kindOf(resource string) string {
	kind, _, _ := strings.Cut(resource, " ")
	return kind
}

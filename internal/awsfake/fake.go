// Package awsfake holds in-memory simulators of the provider APIs used in tests.
package awsfake

import (
	"sync"

	"github.com/aws/smithy-go"
)

// APIError builds a provider error carrying code, the way the SDK surfaces them.
func APIError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg, Fault: smithy.FaultClient}
}

// faults maps an operation name to queued errors, consumed one per call.
type faults struct {
	mu     sync.Mutex
	queued map[string][]error
	always map[string]error
}

func (f *faults) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queued == nil {
		f.queued = map[string][]error{}
	}
	f.queued[op] = append(f.queued[op], err)
}

// FailAlways makes every call to op fail until cleared with a nil error.
func (f *faults) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.always == nil {
		f.always = map[string]error{}
	}
	if err == nil {
		delete(f.always, op)
		return
	}
	f.always[op] = err
}

func (f *faults) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.always[op]; ok {
		return err
	}
	q := f.queued[op]
	if len(q) == 0 {
		return nil
	}
	f.queued[op] = q[1:]
	return q[0]
}

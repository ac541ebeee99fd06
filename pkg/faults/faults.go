// Package faults is the error taxonomy shared by the broker, the role pool and the orchestrator.
package faults

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
)

var (
	ErrPermanentAuth       = errors.New("delegation unusable")
	ErrCapacityExhausted   = errors.New("compute capacity exhausted")
	ErrMalformedDelegation = errors.New("malformed delegated role identifier")
	ErrNotFound            = errors.New("not found")
	ErrTransientProvider   = errors.New("provider failure")
	ErrIntegrity           = errors.New("integrity check failed")
	ErrConflict            = errors.New("conflict")
	ErrPollTimeout         = errors.New("timed out waiting for instance status")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrForbidden           = errors.New("forbidden")
)

// GenericMessage is shown for faults that must not leak provider detail.
const GenericMessage = "The request could not be completed. Please try again later."

// Error attaches a taxonomy kind and a user-facing message to a cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func New(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// UserMessage returns the message safe to show a tenant.
func UserMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != ErrTransientProvider {
		return fe.Message
	}
	return GenericMessage
}

// APICode returns the provider error code, or "" when err did not come from the provider.
func APICode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// Provider wraps an unrecognised provider failure as ErrTransientProvider.
// Already classified faults and context errors pass through untouched.
func Provider(err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return New(ErrTransientProvider, GenericMessage, err)
}

// Kind reports which taxonomy sentinel err carries, ErrTransientProvider when none.
func Kind(err error) error {
	for _, k := range []error{
		ErrPermanentAuth, ErrCapacityExhausted, ErrMalformedDelegation, ErrNotFound,
		ErrIntegrity, ErrConflict, ErrPollTimeout, ErrInvalidRequest, ErrForbidden,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrTransientProvider
}

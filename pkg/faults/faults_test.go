package faults

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := &smithy.GenericAPIError{Code: "InsufficientInstanceCapacity", Message: "none left"}
	err := New(ErrCapacityExhausted, "no capacity for t4g.micro in eu-west-1", cause)

	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "InsufficientInstanceCapacity", APICode(err))
	assert.Equal(t, "no capacity for t4g.micro in eu-west-1", UserMessage(err))
	assert.Equal(t, ErrCapacityExhausted, Kind(err))
}

func TestProviderWrapsUnknownErrors(t *testing.T) {
	raw := &smithy.GenericAPIError{Code: "InternalError", Message: "boom"}
	err := Provider(raw)

	assert.ErrorIs(t, err, ErrTransientProvider)
	assert.ErrorIs(t, err, raw)
	assert.Equal(t, GenericMessage, UserMessage(err))

	classified := New(ErrNotFound, "gone", nil)
	assert.Same(t, classified, Provider(classified))
	assert.Equal(t, context.Canceled, Provider(context.Canceled))
	assert.Nil(t, Provider(nil))
}

func TestSagaErrorKeepsOriginalCause(t *testing.T) {
	assoc := errors.New("association refused")
	var comp *multierror.Error
	comp = multierror.Append(comp, errors.New("release failed"))

	err := error(&SagaError{Step: "associate", Err: assoc, Compensation: comp})
	assert.ErrorIs(t, err, assoc)
	assert.Contains(t, err.Error(), "release failed")

	var se *SagaError
	require.ErrorAs(t, err, &se)
	assert.Len(t, se.CompensationErrors(), 1)

	clean := &SagaError{Step: "launch", Err: assoc}
	assert.Nil(t, clean.CompensationErrors())
	assert.Equal(t, "launch: association refused", clean.Error())
}

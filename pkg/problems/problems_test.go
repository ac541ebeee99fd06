package problems

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbroker/pkg/faults"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{faults.New(faults.ErrPermanentAuth, "x", nil), http.StatusForbidden},
		{faults.New(faults.ErrCapacityExhausted, "x", nil), http.StatusServiceUnavailable},
		{faults.New(faults.ErrMalformedDelegation, "x", nil), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", faults.New(faults.ErrNotFound, "x", nil)), http.StatusNotFound},
		{faults.New(faults.ErrConflict, "x", nil), http.StatusConflict},
		{faults.New(faults.ErrInvalidRequest, "x", nil), http.StatusBadRequest},
		{faults.New(faults.ErrPollTimeout, "x", nil), http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		got, _ := Status(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}

func TestWriteErrorHidesProviderDetail(t *testing.T) {
	t.Setenv("PROBLEM_BASE_URL", "https://fleet.test/problems/")
	rec := httptest.NewRecorder()
	WriteError(rec, faults.Provider(errors.New("ec2: secret internal detail")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, "https://fleet.test/problems/provider", p.Type)
	assert.Equal(t, faults.GenericMessage, p.Title)
	assert.NotContains(t, rec.Body.String(), "secret")
}

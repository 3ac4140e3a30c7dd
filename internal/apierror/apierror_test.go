/*
Copyright 2024 Shelfwise Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := "Some internal error details"
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"NotFound", apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", nil), http.StatusNotFound},
		{"Conflict", apierror.NewAPIError(apierror.ErrConflict, "Conflict occurred", nil), http.StatusConflict},
		{"InvalidInput", apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil), http.StatusBadRequest},
		{"InsufficientQuantity", apierror.NewAPIError(apierror.ErrInsufficientQuantity, "insufficient quantity", nil), http.StatusUnprocessableEntity},
		{"InvalidReservation", apierror.NewAPIError(apierror.ErrInvalidReservation, "invalid reservation state", nil), http.StatusUnprocessableEntity},
		{"Forbidden", apierror.NewAPIError(apierror.ErrForbidden, "not yours", nil), http.StatusForbidden},
		{"RateLimited", apierror.NewAPIError(apierror.ErrRateLimited, "slow down", nil), http.StatusTooManyRequests},
		{"Wrapped", fmt.Errorf("outer: %w", apierror.NewAPIError(apierror.ErrNotFound, "missing", nil)), http.StatusNotFound},
		{"PlainError", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, apierror.MapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestAPIErrorUnwrapsDetails(t *testing.T) {
	sentinel := errors.New("insufficient quantity")
	err := apierror.NewAPIError(apierror.ErrInsufficientQuantity, "insufficient quantity", fmt.Errorf("qty_on_hand: %w", sentinel))

	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, apierror.HasCode(err, apierror.ErrInsufficientQuantity))
	assert.False(t, apierror.HasCode(err, apierror.ErrNotFound))
	assert.False(t, apierror.HasCode(errors.New("plain"), apierror.ErrNotFound))
}

package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errKind = errors.New("kind")

func TestAPIError_Error(t *testing.T) {
	assert.Equal(t, "UNAUTHORIZED: bad token", New("UNAUTHORIZED", "bad token", "", http.StatusUnauthorized).Error())
	assert.Equal(t, "BAD_REQUEST: missing (email)", New("BAD_REQUEST", "missing", "email", http.StatusBadRequest).Error())

	var nilErr *APIError
	assert.Equal(t, "", nilErr.Error())
}

func TestAPIError_KindMatchesThroughWrapping(t *testing.T) {
	err := Of(errKind, "X", "message", http.StatusTeapot)
	wrapped := fmt.Errorf("outer: %w", err)

	assert.ErrorIs(t, wrapped, errKind)

	var apiErr *APIError
	assert.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, http.StatusTeapot, apiErr.HTTPStatus)
}

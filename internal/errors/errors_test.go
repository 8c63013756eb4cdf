package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorConstructors(t *testing.T) {
	verr := ErrValidation("tolerance_days", "must not be negative")
	assert.Equal(t, http.StatusBadRequest, verr.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", verr.ErrorCode)
	assert.Equal(t, ValidationError{Field: "tolerance_days", Message: "must not be negative"}, verr.Details)

	ierr := InvalidRequestWithError(errors.New("unexpected EOF"))
	assert.Equal(t, ErrInvalidRequest.ErrorCode, ierr.ErrorCode)
	assert.Equal(t, "unexpected EOF", ierr.Details)
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	p := NewProblemDetails(http.StatusConflict, TypeRunInProgress, "Run In Progress", "", "/api/v1/runs").
		WithExtension("run_id", "abc")

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]interface{}{
		"type":     TypeRunInProgress,
		"title":    "Run In Progress",
		"status":   float64(http.StatusConflict),
		"instance": "/api/v1/runs",
		"run_id":   "abc",
	}, got)
}

func TestAppError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewSourceError("fetch failed", cause).WithSymbols("AAA", "BBB")

	assert.Equal(t, "price_source: fetch failed [AAA BBB]: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"AAA", "BBB"}, err.Symbols)

	wrapped := fmt.Errorf("run: %w", NewInputError("no symbols"))
	var appErr *AppError
	require.ErrorAs(t, wrapped, &appErr)
	assert.Equal(t, ErrTypeValidation, appErr.Type)
	assert.Equal(t, "invalid_input: no symbols", appErr.Error())
}

package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	appErr := New(CodeOutOfOrder, "target is out of sequence")
	assert.Same(t, appErr, FromError(appErr))

	// An AppError buried in a wrap chain still comes back intact.
	wrapped := fmt.Errorf("handler: %w", appErr)
	assert.Same(t, appErr, FromError(wrapped))

	plain := errors.New("redis: connection refused")
	got := FromError(plain)
	require.NotNil(t, got)
	assert.Equal(t, CodeInternalServer, got.Code)
	assert.ErrorIs(t, got, plain)
}

func TestFromError_StatusNeverLeaksDetail(t *testing.T) {
	got := FromError(errors.New("dial tcp 10.0.0.4:8000: i/o timeout"))

	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(got.Code))
	assert.Equal(t, "internal error", got.Message)
}

func TestWithContext(t *testing.T) {
	appErr := New(CodeWrongType, "submission kind does not match").
		WithContext("expected_kind", "scan")

	assert.Equal(t, "scan", appErr.Context["expected_kind"])
	assert.True(t, Is(appErr, CodeWrongType))
	assert.False(t, Is(appErr, CodeOutOfOrder))
}

package apperrors

import (
	"errors"
	"net/http"
)

// ToHTTPStatus maps an error code to a transport status. Infrastructure codes
// collapse to 500 so no storage detail leaks to clients.
func ToHTTPStatus(code string) int {
	switch code {
	case CodeNotRegistered, CodeSessionNotFound, CodeTargetNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeGameNotActive, CodeTimeExpired, CodeWrongType:
		return http.StatusForbidden
	case CodeAlreadySubmitted, CodeOutOfOrder, CodeAlreadyExists, CodeInvalidTransition:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTransientConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError normalizes any error into an AppError, hiding non-AppError
// detail behind INTERNAL.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return &AppError{Code: CodeInternalServer, Message: "internal error", Err: err}
}

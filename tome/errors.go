package tome

import (
	"errors"
	"fmt"
	"net/http"
)

// normalized failure categories for backend calls
// callers never see a raw transport error from the dispatcher,
// only one of these attached to an `ApiError`

type ErrorClassification int

const (
	ErrorUnknown ErrorClassification = iota
	ErrorUnauthenticated
	ErrorForbidden
	ErrorConflict
	ErrorNotFound
	ErrorNetwork
)

func (self ErrorClassification) String() string {
	switch self {
	case ErrorUnauthenticated:
		return "unauthenticated"
	case ErrorForbidden:
		return "forbidden"
	case ErrorConflict:
		return "conflict"
	case ErrorNotFound:
		return "not_found"
	case ErrorNetwork:
		return "network"
	default:
		return "unknown"
	}
}

func classifyStatus(statusCode int) ErrorClassification {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrorUnauthenticated
	case http.StatusForbidden:
		return ErrorForbidden
	case http.StatusConflict:
		return ErrorConflict
	case http.StatusNotFound:
		return ErrorNotFound
	default:
		return ErrorUnknown
	}
}

type ApiError struct {
	Classification ErrorClassification
	// 0 when no response was received
	StatusCode int
	Message    string
}

func newNetworkError(err error) *ApiError {
	return &ApiError{
		Classification: ErrorNetwork,
		Message:        err.Error(),
	}
}

func newStatusError(statusCode int, message string) *ApiError {
	return &ApiError{
		Classification: classifyStatus(statusCode),
		StatusCode:     statusCode,
		Message:        message,
	}
}

func (self *ApiError) Error() string {
	if self.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", self.Classification, self.Message)
	}
	return fmt.Sprintf("%s (%d): %s", self.Classification, self.StatusCode, self.Message)
}

// Classify maps any error from this package to its classification.
// Errors that did not come from the dispatcher classify as `ErrorUnknown`.
func Classify(err error) ErrorClassification {
	if err == nil {
		return ErrorUnknown
	}
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Classification
	}
	return ErrorUnknown
}

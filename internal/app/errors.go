package app

import (
	"fmt"
	"net/http"
	"strings"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// storeFailure translates a raw store error into one of a fixed set of
// user-facing messages by sniffing the error text. Anything unrecognized
// gets the operation's generic fallback message.
func storeFailure(err error, fallback string) *DomainError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return domainError(http.StatusInternalServerError, "STORE_ERROR",
			"You don't have permission to perform this action.", nil)
	case strings.Contains(msg, "network"), strings.Contains(msg, "timeout"), strings.Contains(msg, "unavailable"):
		return domainError(http.StatusServiceUnavailable, "STORE_UNAVAILABLE",
			"Network error. Please check your connection and try again.", nil)
	case strings.Contains(msg, "credential"), strings.Contains(msg, "database"):
		return domainError(http.StatusServiceUnavailable, "STORE_UNAVAILABLE",
			"Database connection error. Please try again later.", nil)
	default:
		return domainError(http.StatusInternalServerError, "STORE_ERROR", fallback, nil)
	}
}

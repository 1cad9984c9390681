package app

import (
	"fmt"
	"net/http"
)

const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeIneligible      = "INELIGIBLE"
	CodeNotFound        = "NOT_FOUND"
	CodeVotingClosed    = "VOTING_CLOSED"
	CodeConflict        = "CONFLICT"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeServerError     = "SERVER_ERROR"
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

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func invalidArgument(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeInvalidArgument, message, nil)
}

func ineligible(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeIneligible, message, nil)
}

func lawNotFound(lawID string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, "Law not found", map[string]any{"lawId": lawID})
}

func votingClosed(lawID string) *DomainError {
	return domainError(http.StatusConflict, CodeVotingClosed, "Voting is not open for this law", map[string]any{"lawId": lawID})
}

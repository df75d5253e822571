package app

import "fmt"

// DomainError is a user-visible failure. Status becomes the HTTP status,
// Code is the machine-readable tag clients switch on ("WORKFLOW_LIMIT",
// "NOT_A_REVIEWER", ...) and Details carries field-level validation
// payloads when present.
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

// Package apperr defines the error taxonomy shared by the ledger, the
// credential issuer and the authorization gate, and maps it onto HTTP.
package apperr

import (
	"errors"
	"fmt"
)

// Permission reason codes carried by PermissionError.
const (
	CodeAccountDisabled  = "account_disabled"
	CodeInvalidRole      = "invalid_role"
	CodePermissionDenied = "permission_denied"
	CodeTooManyAttempts  = "too_many_attempts"
)

// ValidationError reports bad input or a violated business constraint.
type ValidationError struct {
	Field   string
	Message string
	// Details carries machine-readable context, e.g. a requested amount and
	// the balance it was checked against.
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError with a formatted message.
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing invoice, payment, patient or credential.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports a collision or lock contention that exhausted its
// retry budget.
type ConflictError struct {
	Message string
	Err     error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Conflict builds a ConflictError wrapping cause (may be nil).
func Conflict(msg string, cause error) error {
	return &ConflictError{Message: msg, Err: cause}
}

// AuthenticationError reports a missing or invalid credential.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// Authentication builds an AuthenticationError.
func Authentication(msg string) error {
	return &AuthenticationError{Message: msg}
}

// PermissionError reports a denial with a machine-readable reason code.
type PermissionError struct {
	Code         string
	Message      string
	RequiredRole string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Permission builds a PermissionError.
func Permission(code, msg string) error {
	return &PermissionError{Code: code, Message: msg}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsAuthentication reports whether err is, or wraps, an AuthenticationError.
func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// PermissionCode returns the reason code of a wrapped PermissionError, or "".
func PermissionCode(err error) string {
	var target *PermissionError
	if errors.As(err, &target) {
		return target.Code
	}
	return ""
}

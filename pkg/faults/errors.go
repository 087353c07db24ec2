// Package faults defines the error kinds shared by the auth and settlement
// services. Callers branch on kinds with errors.Is.
package faults

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrUnauthorized covers missing, invalid, expired or revoked tokens and failed proofs.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound covers unknown users, orders and challenges.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers state clashes such as a wallet bound to another user.
	ErrConflict = errors.New("conflict")
	// ErrVerificationFailed covers transfers that were not found or do not match.
	// The caller may retry; the services never do.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrInfrastructure covers unreachable indexers and database failures.
	ErrInfrastructure = errors.New("infrastructure failure")
	// ErrInvalidInput covers malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

var kinds = []error{
	ErrUnauthorized,
	ErrNotFound,
	ErrConflict,
	ErrVerificationFailed,
	ErrInfrastructure,
	ErrInvalidInput,
}

// Kind returns the kind sentinel err belongs to, or nil when it has none.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Newf builds an error of the given kind with a formatted detail.
func Newf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// Infrastructure marks err as an infrastructure failure unless it already has a kind.
func Infrastructure(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInfrastructure, err)
}

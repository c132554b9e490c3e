package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStoreClosed   = errors.New("store is closed")
	ErrMissingConn   = errors.New("connection string is required")
	ErrMissingRef    = errors.New("reference account is required")
	ErrInvalidLimit  = errors.New("limit must be positive")
	ErrRecordInvalid = errors.New("record is missing required fields")
)

// ErrorType categorizes store errors.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConfiguration
	ErrorTypeConnection
	ErrorTypeTransaction
	ErrorTypeQuery
	ErrorTypeSchema
	ErrorTypeData
)

// StoreError carries the operation and category alongside the cause.
type StoreError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Retryable bool
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a StoreError, deriving retryability from the
// category and cause.
func NewStoreError(errorType ErrorType, operation, message string, cause error) *StoreError {
	return &StoreError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(errorType, cause),
	}
}

func NewConfigurationError(operation, message string, cause error) *StoreError {
	return NewStoreError(ErrorTypeConfiguration, operation, message, cause)
}

func NewConnectionError(operation, message string, cause error) *StoreError {
	return NewStoreError(ErrorTypeConnection, operation, message, cause)
}

func NewTransactionError(operation, message string, cause error) *StoreError {
	return NewStoreError(ErrorTypeTransaction, operation, message, cause)
}

func NewQueryError(operation, message string, cause error) *StoreError {
	return NewStoreError(ErrorTypeQuery, operation, message, cause)
}

func NewSchemaError(operation, message string, cause error) *StoreError {
	return NewStoreError(ErrorTypeSchema, operation, message, cause)
}

func NewDataError(operation, message string, cause error) *StoreError {
	return NewStoreError(ErrorTypeData, operation, message, cause)
}

func isRetryable(errorType ErrorType, cause error) bool {
	switch errorType {
	case ErrorTypeConnection:
		return true
	case ErrorTypeTransaction, ErrorTypeQuery:
		if cause == nil {
			return false
		}
		msg := strings.ToLower(cause.Error())
		return strings.Contains(msg, "deadlock") ||
			strings.Contains(msg, "timeout") ||
			strings.Contains(msg, "connection") ||
			strings.Contains(msg, "temporary")
	default:
		return false
	}
}

// IsRetryable reports whether the operation may succeed on retry.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsConnectionError reports whether err is a connection failure.
func IsConnectionError(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Type == ErrorTypeConnection
}

// IsQueryError reports whether err came from query execution.
func IsQueryError(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Type == ErrorTypeQuery
}

// IsDataError reports whether err came from malformed cached data.
func IsDataError(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Type == ErrorTypeData
}

package database

import (
	"errors"
	"fmt"
)

// DBError is a failed query tagged with the repository operation that ran it
type DBError struct {
	Operation string
	Err       error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// NotFoundError means a stock, anomaly or webhook lookup matched no row. The API answers 404.
type NotFoundError struct {
	Resource string
	Key      interface{}
}

func (e *NotFoundError) Error() string {
	if e.Key == nil {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s not found: %v", e.Resource, e.Key)
}

// ValidationError rejects input before it reaches the database. The API answers 400.
type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != nil {
		msg += fmt.Sprintf(" (got %v)", e.Value)
	}
	return msg
}

// WrapDBError tags err with the operation. Nil stays nil and typed lookup or
// validation errors pass through so callers can still map them to status codes.
func WrapDBError(operation string, err error) error {
	if err == nil || IsNotFound(err) || IsValidation(err) {
		return err
	}
	return &DBError{Operation: operation, Err: err}
}

// NewNotFoundErrorWithID reports a missing resource identified by key (symbol or id)
func NewNotFoundErrorWithID(resource string, key interface{}) error {
	return &NotFoundError{Resource: resource, Key: key}
}

// NewValidationErrorWithValue reports a rejected field and the value that was given
func NewValidationErrorWithValue(field, reason string, value interface{}) error {
	return &ValidationError{Field: field, Reason: reason, Value: value}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

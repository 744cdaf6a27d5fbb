package ipdr

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrValidation          = errors.New("validation failed")
	ErrNormalization       = errors.New("normalization failed")
	ErrUnparsableTimestamp = fmt.Errorf("%w: unparsable timestamp", ErrNormalization)
	ErrNotFound            = errors.New("not found")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// Reason classifies a rejected row.
type Reason string

// Row rejection reasons.
const (
	ReasonMissingField        Reason = "MissingField"
	ReasonUnparsableTimestamp Reason = "UnparsableTimestamp"
	ReasonInvalidField        Reason = "InvalidField"
	ReasonMalformedRow        Reason = "MalformedRow"
)

// RowError is a typed rejection of a single input row.
type RowError struct {
	Reason Reason
	Field  string
	Err    error
}

// Code returns the machine-checkable reason, e.g. "MissingField:imei".
func (e *RowError) Code() string {
	if e.Field == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ":" + e.Field
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return e.Code() + ": " + e.Err.Error()
	}
	return e.Code()
}

// Unwrap exposes the error kind and the underlying cause.
func (e *RowError) Unwrap() []error {
	var kind error
	switch e.Reason {
	case ReasonUnparsableTimestamp:
		kind = ErrUnparsableTimestamp
	case ReasonMalformedRow:
		kind = ErrNormalization
	default:
		kind = ErrValidation
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

func missingField(field string) *RowError {
	return &RowError{Reason: ReasonMissingField, Field: field}
}

func invalidField(field string, err error) *RowError {
	return &RowError{Reason: ReasonInvalidField, Field: field, Err: err}
}

// RequestError builds an ErrInvalidRequest naming the offending field.
func RequestError(field, problem string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidRequest, field, problem)
}

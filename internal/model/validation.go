package model

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	FieldPath string
	Message   string
	Err       error // underlying typed error, when one exists
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// ValidationErrors aggregates every pre-hardware complaint about a protocol,
// bench config, or computed plan so the operator fixes one round, not one
// field at a time.
type ValidationErrors struct {
	Errors []ValidationError
}

func (ve *ValidationErrors) Add(fieldPath, message string) {
	ve.Errors = append(ve.Errors, ValidationError{FieldPath: fieldPath, Message: message})
}

// AddError records a typed domain error under a field path. The error stays
// reachable through errors.As on the aggregate.
func (ve *ValidationErrors) AddError(fieldPath string, err error) {
	ve.Errors = append(ve.Errors, ValidationError{FieldPath: fieldPath, Message: err.Error(), Err: err})
}

// Merge appends all entries from other. nil is a no-op.
func (ve *ValidationErrors) Merge(other *ValidationErrors) {
	if other == nil {
		return
	}
	ve.Errors = append(ve.Errors, other.Errors...)
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// Unwrap exposes the entries so errors.Is/As reach the typed errors inside.
func (ve *ValidationErrors) Unwrap() []error {
	errs := make([]error, len(ve.Errors))
	for i, e := range ve.Errors {
		errs[i] = e
	}
	return errs
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

func (ve *ValidationErrors) FormatStderr() string {
	var sb strings.Builder
	for _, e := range ve.Errors {
		fmt.Fprintf(&sb, "error: %s: %s\n", e.FieldPath, e.Message)
	}
	return sb.String()
}

// Package errs defines the error kinds shared by ingestion, aggregation and queries.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a malformed parameter or record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RecordFailure identifies a single rejected record of a batch.
type RecordFailure struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// BatchValidationError lists every rejected record of an ingest batch.
type BatchValidationError struct {
	Failures []RecordFailure
}

func (e *BatchValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("record %d: %s %s", f.Index, f.Field, f.Reason))
	}
	return "invalid batch: " + strings.Join(parts, "; ")
}

// NotFoundError represents a lookup with no published data at all.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// ComputationError is raised when an aggregation pass produces results
// violating a consistency rule. Nothing from that pass is published.
type ComputationError struct {
	Family string
	Reason string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation failed for %s: %s", e.Family, e.Reason)
}

// NewComputationError creates a new ComputationError
func NewComputationError(family, reason string) *ComputationError {
	return &ComputationError{Family: family, Reason: reason}
}

// IsValidation reports whether err is a ValidationError or BatchValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	var be *BatchValidationError
	return errors.As(err, &ve) || errors.As(err, &be)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsComputation reports whether err is a ComputationError.
func IsComputation(err error) bool {
	var ce *ComputationError
	return errors.As(err, &ce)
}

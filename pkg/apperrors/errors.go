// Package apperrors defines the error taxonomy shared by the workflow core.
// Handlers map these onto HTTP status codes; services return them verbatim.
package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
)

// FieldError describes a single field failure inside a batch submission.
type FieldError struct {
	FieldID uuid.UUID `json:"field_id"`
	Message string    `json:"message"`
}

// ValidationError carries the per-field error list for a rejected batch.
// A batch that produces one is never partially persisted.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.FieldID, f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field failure to the list.
func (e *ValidationError) Add(fieldID uuid.UUID, message string) {
	e.Fields = append(e.Fields, FieldError{FieldID: fieldID, Message: message})
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// SchemaIntegrityError reports an invalid stage graph or field schema:
// cyclic trigger chains, dangling trigger targets, duplicate sort orders.
// It is always fatal for the write or load that produced it.
type SchemaIntegrityError struct {
	Reason string
}

func (e *SchemaIntegrityError) Error() string {
	return "schema integrity: " + e.Reason
}

// SchemaIntegrity builds a SchemaIntegrityError with a formatted reason.
func SchemaIntegrity(format string, args ...any) error {
	return &SchemaIntegrityError{Reason: fmt.Sprintf(format, args...)}
}

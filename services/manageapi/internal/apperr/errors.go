package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic error checking via errors.Is().
var (
	// ErrSchema indicates a malformed payload.
	ErrSchema = errors.New("schema validation failed")

	// ErrReference indicates a dangling reference to a catalog entry, agent or default agent.
	ErrReference = errors.New("reference validation failed")

	// ErrNotFound indicates an unknown graph, agent, relation or catalog entry.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a collision with a concurrent submission or an existing entity.
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates a storage failure or a broken invariant.
	ErrInternal = errors.New("internal error")
)

// Reference kinds named by a Violation.
const (
	KindTool              = "tool"
	KindDataComponent     = "dataComponent"
	KindArtifactComponent = "artifactComponent"
	KindRelationship      = "relationship"
	KindDefaultAgent      = "defaultAgent"
)

// Machine-readable violation reasons.
const (
	ReasonNotFound       = "not_found"
	ReasonNotInGraph     = "not_in_graph"
	ReasonSelfRelation   = "self_relation"
	ReasonExternalSource = "external_source"
	ReasonDefaultAgent   = "default_agent"
	ReasonInUse          = "in_use"
)

// FieldError is a single schema violation at a JSON pointer.
type FieldError struct {
	Pointer string `json:"pointer"`
	Reason  string `json:"reason"`
}

// SchemaValidationError reports every schema violation of a payload.
type SchemaValidationError struct {
	Errors []FieldError
}

func (e *SchemaValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return ErrSchema.Error()
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", fe.Pointer, fe.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrSchema.Error(), strings.Join(parts, "; "))
}

func (e *SchemaValidationError) Unwrap() error { return ErrSchema }

// NewSchemaError builds a SchemaValidationError with one violation.
func NewSchemaError(pointer, reason string) *SchemaValidationError {
	return &SchemaValidationError{Errors: []FieldError{{Pointer: pointer, Reason: reason}}}
}

// Violation names one dangling reference.
type Violation struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Pointer string `json:"pointer"`
	Reason  string `json:"reason"`
}

// ReferenceValidationError reports every dangling reference of a payload.
type ReferenceValidationError struct {
	Violations []Violation
}

func (e *ReferenceValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return ErrReference.Error()
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s %q at %s: %s", v.Kind, v.ID, v.Pointer, v.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrReference.Error(), strings.Join(parts, "; "))
}

func (e *ReferenceValidationError) Unwrap() error { return ErrReference }

// Add records a violation.
func (e *ReferenceValidationError) Add(kind, id, pointer, reason string) {
	e.Violations = append(e.Violations, Violation{Kind: kind, ID: id, Pointer: pointer, Reason: reason})
}

// OrNil returns e when it holds violations and nil otherwise.
func (e *ReferenceValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// NotFoundError reports a missing resource. Detail is shown to callers.
type NotFoundError struct {
	Resource string
	Detail   string
}

func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s %s", e.Resource, ErrNotFound.Error())
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError with the conventional "<Resource> not found" detail.
func NotFound(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource, Detail: resource + " not found"}
}

// ConflictError reports a collision with an existing entity or, when
// Retryable is set, with a concurrent transaction.
type ConflictError struct {
	Msg       string
	Cause     error
	Retryable bool
}

func (e *ConflictError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrConflict.Error(), e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), e.Msg)
}

func (e *ConflictError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConflict}
	}
	return []error{ErrConflict, e.Cause}
}

// Conflict builds a ConflictError.
func Conflict(msg string, cause error) *ConflictError {
	return &ConflictError{Msg: msg, Cause: cause}
}

// ConcurrentUpdate builds a retryable ConflictError.
func ConcurrentUpdate(cause error) *ConflictError {
	return &ConflictError{Msg: "concurrent update, retry the request", Cause: cause, Retryable: true}
}

// InternalError wraps a failure whose details must not reach the caller.
type InternalError struct {
	Msg   string
	Cause error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInternal.Error(), e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrInternal.Error(), e.Msg)
}

func (e *InternalError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInternal}
	}
	return []error{ErrInternal, e.Cause}
}

// Internal builds an InternalError.
func Internal(msg string, cause error) *InternalError {
	return &InternalError{Msg: msg, Cause: cause}
}

// IsRetryable reports whether err is a retryable ConflictError.
func IsRetryable(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Retryable
}

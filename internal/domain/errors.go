package domain

import "fmt"

// ValidationError reports a missing or malformed field in a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for a field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an id that does not resolve.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError reports a rejected state transition or a rejected
// concurrent operation.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// TransientError wraps a store I/O failure that is worth a bounded
// retry at the call site.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RuleError attributes a failure to one automation rule category. The
// Dispatcher records it in the run summary instead of aborting the run.
type RuleError struct {
	Category string
	Err      error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Category, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

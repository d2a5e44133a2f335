package engine

import (
	"errors"
	"fmt"
)

// ErrEmptyFilterResult is returned by Query when the metadata filter
// matches no records in the namespace. The query is a no-op; callers relax
// the filter or add matching records first.
var ErrEmptyFilterResult = errors.New("engine: filter matched no records")

// ArityMismatchError reports an add request column whose length neither is
// 1 nor matches the request arity.
type ArityMismatchError struct {
	Field    string // Column name
	Expected int    // Request arity
	Actual   int    // Column length
}

// Error returns the error message for an arity mismatch.
func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("engine: column %s has %d entries, want 1 or %d", e.Field, e.Actual, e.Expected)
}

// MissingNamespaceError reports a query against a namespace no record was
// ever added to.
type MissingNamespaceError struct {
	Namespace string
}

// Error returns the error message for an unknown namespace.
func (e *MissingNamespaceError) Error() string {
	return fmt.Sprintf("engine: unknown namespace %q", e.Namespace)
}

// ResetError reports a structural clear that failed partway. Stage names
// the step that failed ("store", "index" or "artifacts"); earlier stages
// have completed, so store and index may disagree until a retry finishes
// the remainder. The clear is idempotent, retrying is always safe.
type ResetError struct {
	Namespace string
	Stage     string
	Err       error
}

// Error returns the error message for a partial reset.
func (e *ResetError) Error() string {
	return fmt.Sprintf("engine: reset of %q failed at %s stage: %v", e.Namespace, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResetError) Unwrap() error {
	return e.Err
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingAnchor is matched by MissingAnchorError via errors.Is.
var ErrMissingAnchor = errors.New("missing anchor component")

// MissingAnchorError aborts an import whose backend lacks a required anchor type.
type MissingAnchorError struct {
	Component string
}

func (e *MissingAnchorError) Error() string {
	return fmt.Sprintf("anchor component %s not found in backend", e.Component)
}

// Is lets callers match any missing-anchor failure with ErrMissingAnchor.
func (e *MissingAnchorError) Is(target error) bool { return target == ErrMissingAnchor }

// DuplicateIDError reports ids that would appear twice in a static table.
type DuplicateIDError struct {
	Component string
	IDs       []string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("new components for %s are not unique: %s", e.Component, strings.Join(e.IDs, ", "))
}

// TypeCoercionError reports a value that cannot be converted to its schema type.
type TypeCoercionError struct {
	Component string
	Attribute string
	Type      AttrType
	Value     string
	Err       error
}

func (e *TypeCoercionError) Error() string {
	msg := fmt.Sprintf("coerce %s.%s value %q to %s", e.Component, e.Attribute, e.Value, e.Type)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeCoercionError) Unwrap() error { return e.Err }

// BackendIOError wraps any failure raised by a storage backend.
type BackendIOError struct {
	Driver string
	Op     string
	Err    error
}

func (e *BackendIOError) Error() string {
	return fmt.Sprintf("%s backend %s: %v", e.Driver, e.Op, e.Err)
}

func (e *BackendIOError) Unwrap() error { return e.Err }

// UnsupportedAttributeError is returned by backends that cannot represent an
// attribute's type; it is never silently coerced.
type UnsupportedAttributeError struct {
	Driver    string
	Attribute string
	Kind      Kind
}

func (e *UnsupportedAttributeError) Error() string {
	return fmt.Sprintf("%s backend cannot store %s attribute %q", e.Driver, e.Kind, e.Attribute)
}

// Warning classifies a non-fatal diagnostic raised during import or export.
type Warning string

// Non-fatal diagnostic kinds. Each is logged with enough context to diagnose
// without re-running.
const (
	VersionMismatchWarning     Warning = "VersionMismatchWarning"
	MissingReferenceWarning    Warning = "MissingReferenceWarning"
	MissingSnapshotWarning     Warning = "MissingSnapshotWarning"
	DeprecatedAttributeWarning Warning = "DeprecatedAttributeWarning"
	StaleDataWarning           Warning = "StaleDataWarning"
	UnknownAttributeWarning    Warning = "UnknownAttributeWarning"
)

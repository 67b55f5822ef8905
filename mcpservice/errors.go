package mcpservice

import (
	"errors"
	"fmt"
)

// Kind names a capability namespace. Names are unique within a kind.
type Kind string

const (
	KindPrompt   Kind = "prompt"
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
)

// ErrCapabilityNotFound is matched (via errors.Is) by every lookup failure.
var ErrCapabilityNotFound = errors.New("capability not found")

// DuplicateCapabilityError is returned when two declarations of the same
// kind share a name. It is a startup failure.
type DuplicateCapabilityError struct {
	Kind Kind
	Name string
}

func (e *DuplicateCapabilityError) Error() string {
	return fmt.Sprintf("duplicate %s capability %q", e.Kind, e.Name)
}

// NotFoundError reports a lookup of an undeclared name (or, for resources,
// a URI that no fixed resource or template answers).
type NotFoundError struct {
	Kind Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrCapabilityNotFound }

// InvalidParametersError reports arguments that do not match a declaration's
// shape: missing or unknown fields, or values of the wrong type.
type InvalidParametersError struct {
	Kind   Kind
	Name   string
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid arguments for %s %q: %s", e.Kind, e.Name, e.Reason)
}

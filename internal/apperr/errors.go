// Package apperr defines the business error kinds returned by the asset engine.
//
// None of these errors are transient: callers render them to users and never retry.
package apperr

import (
	"fmt"

	"emperror.dev/errors"
)

// Kind classifies a business rule violation.
type Kind int

const (
	// KindNotFound means the referenced module, case or step does not exist or is disabled.
	KindNotFound Kind = iota + 1
	// KindConflict means a name, identifier or ordering collision.
	KindConflict
	// KindInvalidOperation means a structural violation such as a cycle or a non-empty delete.
	KindInvalidOperation
	// KindInvalidState means an illegal lifecycle transition or an edit while not editable.
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindInvalidOperation:
		return "InvalidOperation"
	case KindInvalidState:
		return "InvalidState"
	default:
		return "Unknown"
	}
}

// Error carries the kind plus enough context to render a precise message.
type Error struct {
	Kind    Kind
	Entity  string
	ID      string
	Current string
	Target  string
	Message string
}

func (e *Error) Error() string {
	if e.Kind == KindInvalidState && e.Current != "" {
		return fmt.Sprintf("%s %s: state %s does not allow %s", e.Entity, e.ID, e.Current, e.Target)
	}
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

// NotFound reports a missing or disabled entity.
func NotFound(entity string, id any) error {
	return errors.WithStack(&Error{
		Kind:    KindNotFound,
		Entity:  entity,
		ID:      fmt.Sprint(id),
		Message: "not found",
	})
}

// Conflict reports a uniqueness violation.
func Conflict(entity string, id any, format string, args ...any) error {
	return errors.WithStack(&Error{
		Kind:    KindConflict,
		Entity:  entity,
		ID:      idString(id),
		Message: fmt.Sprintf(format, args...),
	})
}

// InvalidOperation reports a structural violation.
func InvalidOperation(entity string, id any, format string, args ...any) error {
	return errors.WithStack(&Error{
		Kind:    KindInvalidOperation,
		Entity:  entity,
		ID:      idString(id),
		Message: fmt.Sprintf(format, args...),
	})
}

// InvalidState reports an action that is not legal from the current state.
func InvalidState(entity string, id any, current, target string) error {
	return errors.WithStack(&Error{
		Kind:    KindInvalidState,
		Entity:  entity,
		ID:      idString(id),
		Current: current,
		Target:  target,
	})
}

// As extracts the *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or 0 for infrastructure errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return 0
}

// Is reports whether err is a business error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func idString(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

// Package apperr defines the error taxonomy shared by the lead pipeline.
// Only collaborator failures are expected to cross the engine boundary; the
// other kinds are resolved locally and exist so callers can classify them.
package apperr

import (
	"errors"
	"fmt"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindExtractionAmbiguous means a message produced no usable or conflicting slots.
	KindExtractionAmbiguous
	// KindSlotConflict means the requested appointment slot is taken.
	KindSlotConflict
	// KindCollaboratorFailure means persistence, calendar or messaging failed.
	KindCollaboratorFailure
	// KindInvariantViolation means a uniqueness rule tripped at write time.
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindExtractionAmbiguous:
		return "extraction_ambiguous"
	case KindSlotConflict:
		return "slot_conflict"
	case KindCollaboratorFailure:
		return "collaborator_failure"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Collaborator names the external dependency behind a failure.
type Collaborator string

const (
	Persistence Collaborator = "persistence"
	Calendar    Collaborator = "calendar"
	Messaging   Collaborator = "messaging"
	Email       Collaborator = "email"
	Lock        Collaborator = "lock"
)

// Error is a classified failure.
type Error struct {
	Kind         Kind
	Op           string
	Collaborator Collaborator
	Message      string
	Err          error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Collaborator != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Collaborator, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// CollaboratorFailure wraps err as a failure of the named collaborator.
func CollaboratorFailure(c Collaborator, op string, err error) *Error {
	return &Error{Kind: KindCollaboratorFailure, Op: op, Collaborator: c, Err: err}
}

// SlotConflict wraps err as an unavailable slot.
func SlotConflict(op string, err error) *Error {
	return &Error{Kind: KindSlotConflict, Op: op, Err: err}
}

// InvariantViolation wraps err as a lost uniqueness race.
func InvariantViolation(op string, err error) *Error {
	return &Error{Kind: KindInvariantViolation, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CollaboratorOf returns the collaborator named in err, if any.
func CollaboratorOf(err error) Collaborator {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Collaborator
	}
	return ""
}

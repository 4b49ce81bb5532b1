package game

import (
	"errors"
	"fmt"
)

// Kind classifies an action failure. Anything that is not an *Error is an
// infrastructure fault.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
)

// Error is a structured action failure carrying a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches kind markers (an Error with no message) by kind. A missing
// entity is a validation failure too, so NotFound also matches ErrValidation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" {
		return false
	}
	return e.Kind == t.Kind || (e.Kind == KindNotFound && t.Kind == KindValidation)
}

// Kind markers for errors.Is.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrPrecondition = &Error{Kind: KindPrecondition}
	ErrNotFound     = &Error{Kind: KindNotFound}
)

var (
	ErrInvalidPlayer   = &Error{Kind: KindValidation, Message: "invalid player id"}
	ErrInvalidQuantity = &Error{Kind: KindValidation, Message: "quantity must be > 0"}
	ErrInvalidResource = &Error{Kind: KindValidation, Message: "cannot trade the base currency"}

	ErrPlayerNotFound   = &Error{Kind: KindNotFound, Message: "player not found"}
	ErrModuleNotFound   = &Error{Kind: KindNotFound, Message: "module not found"}
	ErrCrewNotFound     = &Error{Kind: KindNotFound, Message: "crew member not found"}
	ErrResourceNotFound = &Error{Kind: KindNotFound, Message: "resource not found"}

	ErrInsufficientFunds   = &Error{Kind: KindPrecondition, Message: "insufficient funds"}
	ErrInsufficientHolding = &Error{Kind: KindPrecondition, Message: "insufficient holding"}
	ErrColonyFull          = &Error{Kind: KindPrecondition, Message: "colony is full"}
	ErrCellOccupied        = &Error{Kind: KindPrecondition, Message: "grid cell is occupied"}
	ErrMaxLevel            = &Error{Kind: KindPrecondition, Message: "module is at max level"}
	ErrFullEfficiency      = &Error{Kind: KindPrecondition, Message: "module is already at full efficiency"}
	ErrAlreadyClaimed      = &Error{Kind: KindPrecondition, Message: "daily reward already claimed today"}
	ErrCrewRosterFull      = &Error{Kind: KindPrecondition, Message: "crew roster is full"}
	ErrCrewAssigned        = &Error{Kind: KindPrecondition, Message: "crew member is assigned to another module"}
	ErrModuleStaffed       = &Error{Kind: KindPrecondition, Message: "module already has crew"}
	ErrNoLiquidity         = &Error{Kind: KindPrecondition, Message: "no liquidity on requested side"}

	ErrConflict             = &Error{Kind: KindConflict, Message: "player state changed concurrently, retry"}
	ErrDuplicateIdempotency = &Error{Kind: KindConflict, Message: "duplicate idempotency key"}
)

// KindOf returns the failure kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func invalidFrom(err error) error {
	return &Error{Kind: KindValidation, Message: err.Error(), Cause: err}
}

func shortOf(sentinel *Error, needMicros, haveMicros int64) error {
	return fmt.Errorf("%w: need %s, have %s", sentinel, formatLunar(needMicros), formatLunar(haveMicros))
}

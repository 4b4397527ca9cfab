package book

import (
	"errors"
	"fmt"
)

// Stable reject reason codes. These appear verbatim in Rejected events
// and must not change once clients depend on them.
const (
	ReasonNotFound        = "not_found"
	ReasonAlreadyTerminal = "already_terminal"
	ReasonBadPrice        = "bad_price"
	ReasonBadQty          = "bad_qty"
	ReasonBadSymbol       = "bad_symbol"
	ReasonFOKUnfillable   = "fok_unfillable"
	ReasonReplaceOverfill = "replace_overfill"
	ReasonDuplicateKey    = "idempotency_conflict"
	ReasonNotPrimary      = "not_primary"
	ReasonHalted          = "halted"
)

// ValidationError reports a malformed command. It is recovered locally:
// the command is rejected and no state changes.
type ValidationError struct {
	Reason string // stable reason code
	Field  string // offending field
	Value  string // offending value, formatted
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s (field=%s value=%s)", e.Reason, e.Field, e.Value)
}

// InvariantViolation means the book reached a state that must never occur,
// e.g. a crossed book after matching settled. It is fatal: the engine stops
// accepting commands and surfaces it loudly. It is never auto-healed.
type InvariantViolation struct {
	Symbol string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.Symbol, e.Detail)
}

var (
	// ErrNotPrimary is returned for commands received while in follower role.
	ErrNotPrimary = errors.New("not primary: refusing commands in follower role")

	// ErrHalted is returned after an invariant violation stopped intake.
	ErrHalted = errors.New("engine halted after invariant violation")
)

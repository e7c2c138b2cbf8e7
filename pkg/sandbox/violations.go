package sandbox

import (
	"fmt"

	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// Violation is a typed, terminal sandbox boundary crossing. Enforcement is
// terminal: the runtime is killed immediately on violation; no further
// commands in the plan run.
type Violation struct {
	Code   contracts.ViolationCode `json:"code"`
	Detail string                  `json:"detail"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Detail)
}

// StrictModeError is returned when strict mode is requested or mandated but
// the host cannot satisfy it. There is no silent fallback path: construction
// fails closed.
type StrictModeError struct {
	// Mandated is true when the request's policy requires strict mode and
	// the caller asked for something weaker (StrictModeRequired); false when
	// strict was merely requested but the host lacks the capability
	// (StrictModeUnavailable).
	Mandated bool
	Detail   string
}

func (e *StrictModeError) Error() string {
	if e.Mandated {
		return fmt.Sprintf("StrictModeRequired: %s", e.Detail)
	}
	return fmt.Sprintf("StrictModeUnavailable: %s", e.Detail)
}

// AsTerminalEvent maps a StrictModeError to the contracts.TerminalEvent the
// caller should record on the halted VerificationResult.
func (e *StrictModeError) AsTerminalEvent() contracts.TerminalEvent {
	if e.Mandated {
		return contracts.TerminalStrictModeRequired
	}
	return contracts.TerminalStrictModeUnavailable
}

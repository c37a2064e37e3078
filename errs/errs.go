// Package errs defines the decoder/flow-follower error taxonomy (spec §6.5,
// §7) and the policy machinery that turns a recoverable error into either a
// warning or a hard failure, modeled on the arm-emulator parser package's
// Error/ErrorKind split.
package errs

import (
	"fmt"

	"github.com/decompile/sleighcore/addr"
)

// Kind enumerates the four distinguishable error kinds at the core boundary.
type Kind int

const (
	KindUnimplemented Kind = iota
	KindBadData
	KindDataUnavailable
	KindLowLevel
)

func (k Kind) String() string {
	switch k {
	case KindUnimplemented:
		return "unimplemented"
	case KindBadData:
		return "bad-data"
	case KindDataUnavailable:
		return "data-unavailable"
	case KindLowLevel:
		return "low-level"
	default:
		return "unknown"
	}
}

// CoreError is the error type returned across the decoder/flow-follower
// boundary. InstructionLength is only meaningful for KindUnimplemented.
type CoreError struct {
	Kind              Kind
	At                addr.Address
	Message           string
	InstructionLength int
}

func (e *CoreError) Error() string {
	if e.At.IsInvalid() {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.At, e.Message)
}

func Unimplemented(at addr.Address, length int) *CoreError {
	return &CoreError{Kind: KindUnimplemented, At: at, InstructionLength: length, Message: "unimplemented instruction"}
}

func BadData(at addr.Address, msg string) *CoreError {
	return &CoreError{Kind: KindBadData, At: at, Message: msg}
}

func DataUnavailable(at addr.Address, msg string) *CoreError {
	return &CoreError{Kind: KindDataUnavailable, At: at, Message: msg}
}

func LowLevel(msg string) *CoreError {
	return &CoreError{Kind: KindLowLevel, Message: msg}
}

// Fatal is raised for the third error tier (§7.3): misaligned instruction
// address, corrupt .sla header/version, duplicate register definitions,
// missing context variable, pattern overflow, or a policy of "error" firing.
type Fatal struct {
	Message string
}

func (e *Fatal) Error() string { return "fatal: " + e.Message }

func NewFatal(format string, args ...any) *Fatal {
	return &Fatal{Message: fmt.Sprintf(format, args...)}
}

// Policy is one of the three per-condition dispositions from §4.5/§7.1.
type Policy int

const (
	PolicyIgnore Policy = iota
	PolicyWarn
	PolicyError
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "ignore":
		return PolicyIgnore, nil
	case "warn", "":
		return PolicyWarn, nil
	case "error":
		return PolicyError, nil
	default:
		return PolicyWarn, fmt.Errorf("unknown policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyIgnore:
		return "ignore"
	case PolicyWarn:
		return "warn"
	case PolicyError:
		return "error"
	default:
		return "warn"
	}
}

// Outcome is what applying a Policy to a CoreError produces.
type Outcome struct {
	Warning string // non-empty if the policy produced a warning to record
	Err     error  // non-nil if the policy demands propagation
}

// Apply is the single choke point mapping a taxonomy error plus its
// configured policy to a warning, silence, or a propagated error.
func Apply(policy Policy, err *CoreError) Outcome {
	switch policy {
	case PolicyIgnore:
		return Outcome{}
	case PolicyError:
		return Outcome{Err: err}
	default: // PolicyWarn
		return Outcome{Warning: err.Error()}
	}
}

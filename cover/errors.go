/*
errors.go - Centralized error types for the lifecycle engine

PURPOSE:
  Every failure of Issue and Cancel is a normal, reportable outcome. The
  kinds are enumerated here as sentinels so callers can branch with
  errors.Is, and a few carry structured context.

ERROR CATEGORIES:
  1. Validation errors - Bad input, no state change
  2. Lifecycle errors - Policy missing, wrong owner, inactive, expired
  3. Collaborator errors - Funds transfer rejected, store guard tripped

USAGE:
  refund, err := engine.Cancel(ctx, req)
  if errors.Is(err, cover.ErrPolicyExpired) {
      ...
  }

SEE ALSO:
  - engine.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package cover

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when premium or coverage is zero.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidDuration is returned when the coverage window is empty or
	// would run past the largest representable block height.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrOutOfRange is returned when a deployment limit rejects the location,
	// threshold or duration.
	ErrOutOfRange = errors.New("parameter out of range")

	// ErrPolicyNotFound is returned when a referenced policy doesn't exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrNotOwner is returned when the sender is not the policy owner.
	ErrNotOwner = errors.New("sender is not the policy owner")

	// ErrPolicyNotActive is returned when the policy was already cancelled.
	ErrPolicyNotActive = errors.New("policy not active")

	// ErrPolicyExpired is returned when the coverage window already closed.
	ErrPolicyExpired = errors.New("policy expired")

	// ErrTransferFailed is returned when the funds collaborator rejects a transfer.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrDuplicateRequest is returned by a Funds collaborator when an
	// idempotency key was already used, i.e. the request is a replay.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrDuplicateID is returned by a Store when an id is inserted twice.
	// Unreachable with monotonic allocation.
	ErrDuplicateID = errors.New("duplicate policy id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransferError wraps a rejection from the funds collaborator.
// It matches both ErrTransferFailed and the collaborator's own error.
type TransferError struct {
	Request TransferRequest
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %s %d from %s to %s: %v",
		e.Request.Kind, e.Request.Amount, e.Request.From, e.Request.To, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransferFailed, e.Err}
}

// ExpiredError reports the window that closed.
type ExpiredError struct {
	PolicyID PolicyID
	EndBlock BlockHeight
	At       BlockHeight
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("policy %s expired at block %d (current block %d)", e.PolicyID, e.EndBlock, e.At)
}

func (e *ExpiredError) Unwrap() error {
	return ErrPolicyExpired
}

// RangeError reports which deployment limit was violated.
type RangeError struct {
	Field string
	Value uint64
	Min   uint64
	Max   uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d outside [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input or
// the policy's state rather than a collaborator failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrPolicyNotActive) ||
		errors.Is(err, ErrPolicyExpired)
}

// IsNotFound returns true if the error indicates a missing policy.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound)
}

// Code returns the stable wire code for an error, or "" for unknown errors.
// Clients branch on these names; keep them stable.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "ERR_INVALID_AMOUNT"
	case errors.Is(err, ErrInvalidDuration):
		return "ERR_INVALID_DURATION"
	case errors.Is(err, ErrOutOfRange):
		return "ERR_OUT_OF_RANGE"
	case errors.Is(err, ErrPolicyNotFound):
		return "ERR_POLICY_NOT_FOUND"
	case errors.Is(err, ErrNotOwner):
		return "ERR_NOT_OWNER"
	case errors.Is(err, ErrPolicyNotActive):
		return "ERR_POLICY_NOT_ACTIVE"
	case errors.Is(err, ErrPolicyExpired):
		return "ERR_POLICY_EXPIRED"
	case errors.Is(err, ErrDuplicateRequest):
		return "ERR_DUPLICATE_REQUEST"
	case errors.Is(err, ErrTransferFailed):
		return "ERR_TRANSFER_FAILED"
	case errors.Is(err, ErrDuplicateID):
		return "ERR_DUPLICATE_ID"
	default:
		return ""
	}
}

/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The taxonomy splits along one line: validation failures are VALUES
  (ValidationResult, see validation.go) because they are expected and cheap;
  everything here is a genuine error - authorization, missing records,
  settlement conflicts, store failures.

ERROR CATEGORIES:
  1. Permission errors - unauthorized access; always audited
  2. Not-found errors  - referenced entry/rule/payment/settlement absent
  3. Settlement errors - entries not pending, party or currency mismatch
  4. Store errors      - persistence failures; propagated, never retried here

USAGE:
  Callers classify with errors.Is/As:

    if errors.Is(err, ledger.ErrPermissionDenied) { ... }
    var se *ledger.SettlementError
    if errors.As(err, &se) { ... }
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPermissionDenied is returned when an actor lacks a permission or
	// party access required by an operation. Never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSettlement is returned when a settlement references entries that
	// are not pending or belong to a different party.
	ErrSettlement = errors.New("settlement conflict")

	// ErrBalanceCalculation is returned when a balance cannot be computed.
	ErrBalanceCalculation = errors.New("balance calculation failed")

	// ErrPersistence wraps store-level failures. The store collaborator owns
	// its own timeout/retry policy; this layer only propagates.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidStatusTransition is returned for any transition other than
	// pending -> cleared.
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PermissionError names what the actor was missing: a permission, one or more
// unreachable parties, or both.
type PermissionError struct {
	ActorID    string
	Permission Permission
	Parties    []Party // parties the actor cannot reach
	Operation  string
}

func (e *PermissionError) Error() string {
	var parts []string
	if e.Permission != "" {
		parts = append(parts, fmt.Sprintf("missing permission %s", e.Permission))
	}
	if len(e.Parties) > 0 {
		names := make([]string, len(e.Parties))
		for i, p := range e.Parties {
			names[i] = string(p)
		}
		parts = append(parts, fmt.Sprintf("no access to parties [%s]", strings.Join(names, ", ")))
	}
	if len(parts) == 0 {
		parts = append(parts, "not authorized")
	}
	return fmt.Sprintf("actor %s: %s (%s)", e.ActorID, strings.Join(parts, "; "), e.Operation)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%s: not found", e.Collection, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// SettlementError explains why a settlement was rejected, naming the
// offending entry when there is one.
type SettlementError struct {
	Reason  string
	EntryID string
}

func (e *SettlementError) Error() string {
	if e.EntryID != "" {
		return fmt.Sprintf("settlement rejected: %s (entry %s)", e.Reason, e.EntryID)
	}
	return fmt.Sprintf("settlement rejected: %s", e.Reason)
}

func (e *SettlementError) Unwrap() error { return ErrSettlement }

// PersistenceError wraps a store failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return ErrPersistence }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError reports whether err is caused by the caller rather than the
// system: bad references, conflicting settlements, illegal transitions,
// insufficient permissions.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSettlement) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrPermissionDenied)
}

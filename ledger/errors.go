/*
errors.go - Centralized error types for the stock ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (the API layer) map these to transport-level responses.

ERROR CATEGORIES:
  1. Validation errors  - Rejected before any store interaction
  2. Shortfall errors   - Allocation could not cover a requested quantity
  3. Edit errors        - Shortfall discovered mid-edit of a completed record
  4. Cascade errors     - A chunked bulk deletion failed partway

USAGE:
  Match with errors.Is / errors.As:

    var short *ledger.InsufficientStockError
    if errors.As(err, &short) {
        // short.Key, short.Requested, short.Available
    }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed requests. Nothing has been
	// read from or written to the store.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when an allocation cannot cover a
	// requested quantity. The enclosing atomic operation is aborted whole.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrEditReconciliation is returned when the re-allocation phase of a
	// completed-record edit comes up short. The edit, including any staged
	// unit returns, is rolled back and the record is left untouched.
	ErrEditReconciliation = errors.New("edit reconciliation failed")

	// ErrCascadePartial is returned when a chunk of a category cascade
	// fails after earlier chunks committed. Earlier chunks cannot be
	// rolled back; re-running the cascade is safe.
	ErrCascadePartial = errors.New("cascade delete partially committed")

	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBatchTooLarge is returned by the store when a single bulk commit
	// exceeds MaxBatchSize operations.
	ErrBatchTooLarge = errors.New("bulk batch exceeds max size")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed field in an inbound request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientStockError details an allocation shortfall. The fields are
// intended for direct display: which key, how many were asked for, and how
// many were actually available.
type InsufficientStockError struct {
	Key       StockKey
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.Key, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// EditReconciliationError reports a shortfall hit during the re-allocation
// phase of a completed-record edit. Distinct from a plain shortfall: the
// record's prior consumption was already staged for return when the
// shortfall surfaced, so the whole edit was rolled back.
type EditReconciliationError struct {
	RecordID string
	Cause    *InsufficientStockError
}

func (e *EditReconciliationError) Error() string {
	return fmt.Sprintf("edit of record %s could not be reconciled: %v", e.RecordID, e.Cause)
}

func (e *EditReconciliationError) Unwrap() error { return ErrEditReconciliation }

// CascadeDeleteError reports a category cascade that failed after some
// chunks committed. CommittedChunks of TotalChunks were applied; the rest
// were not attempted.
type CascadeDeleteError struct {
	CommittedChunks int
	TotalChunks     int
	Cause           error
}

func (e *CascadeDeleteError) Error() string {
	return fmt.Sprintf("cascade delete failed after %d of %d chunks: %v",
		e.CommittedChunks, e.TotalChunks, e.Cause)
}

func (e *CascadeDeleteError) Unwrap() error { return ErrCascadePartial }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict returns true if the error reflects a stock conflict the client
// may resolve by retrying against fresh state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrEditReconciliation)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

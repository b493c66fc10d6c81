package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrLoanNotFound is returned when the referenced loan does not exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotAvailable is returned when a borrow is attempted on a book with
	// no available copies or one not in AVAILABLE status.
	ErrNotAvailable = errors.New("book is not available for borrowing")

	// ErrDuplicateLoan is returned when the borrower already holds an
	// active or overdue loan for the same book.
	ErrDuplicateLoan = errors.New("borrower already has an active loan for this book")

	// ErrLoanLimit is returned when the borrower has reached the maximum
	// number of active loans.
	ErrLoanLimit = errors.New("borrower has reached the maximum number of active loans")

	// ErrAlreadyReturned is returned when a return is attempted on a loan
	// that is already in RETURNED state.
	ErrAlreadyReturned = errors.New("loan has already been returned")

	// ErrLoanLost is returned when an operation targets a loan that has
	// been written off as LOST. LOST is terminal.
	ErrLoanLost = errors.New("loan has been written off as lost")

	// ErrBookHasLoans is returned when a book deletion is refused because
	// loan records (including returned ones) still reference the book.
	// Loan history is never destroyed by a cascade.
	ErrBookHasLoans = errors.New("book is referenced by loan records and cannot be deleted")

	// ErrNotOwner is returned when a non-admin actor operates on a loan
	// belonging to someone else.
	ErrNotOwner = errors.New("loan does not belong to the acting user")

	// ErrConflict is returned when the store detected a conflicting
	// concurrent transaction. The caller may retry; the service never
	// retries silently.
	ErrConflict = errors.New("conflicting concurrent update detected")

	// ErrInvalidCredentials is returned on a failed login attempt. The
	// message deliberately does not say which part was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ─── Structured Errors ────────────────────────────────────────────────────────

// ValidationError carries per-field messages for caller-correctable input
// problems. It is never retried automatically.
type ValidationError struct {
	Errors map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for field, msg := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// newFieldError builds a ValidationError for a single field.
func newFieldError(field, message string) *ValidationError {
	return &ValidationError{Errors: map[string]string{field: message}}
}

// RenewDenialReason explains exactly why a renewal was refused so the API
// layer can render a precise message rather than a generic one.
type RenewDenialReason string

const (
	RenewReasonOverdue     RenewDenialReason = "loan is overdue"
	RenewReasonMaxRenewals RenewDenialReason = "maximum number of renewals reached"
	RenewReasonNotActive   RenewDenialReason = "loan is not active"
)

// CannotRenewError is returned by Renew when the loan fails one of the
// renewal preconditions. Reason is always set.
type CannotRenewError struct {
	Reason RenewDenialReason
}

func (e *CannotRenewError) Error() string {
	return "loan cannot be renewed: " + string(e.Reason)
}

// ─── Store Error Classification ───────────────────────────────────────────────

// isUniqueViolation checks whether a unique-constraint error occurred.
// PostgreSQL error code 23505 = unique_violation; SQLite (used in tests)
// reports "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "UNIQUE constraint failed")
}

// isSerializationFailure checks for store-level concurrency conflicts:
// PostgreSQL 40001 (serialization_failure), 40P01 (deadlock_detected),
// 55P03 (lock_not_available, bounded lock wait), or SQLite busy locks.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "55P03") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "database is locked")
}

// translateConflict maps store-level concurrency failures onto
// ErrConflict so callers can distinguish retryable conflicts from
// validation problems. Domain errors pass through untouched.
func translateConflict(err error) error {
	if err == nil {
		return nil
	}
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

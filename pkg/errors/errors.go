package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrLoanNotFound        = errors.New("loan not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrInvalidLoanState    = errors.New("loan is not in a state that permits this operation")
	ErrLedgerUnavailable   = errors.New("payment ledger unavailable")
	ErrDuplicateTransition = errors.New("transition already applied")
	ErrNotificationFailed  = errors.New("notification dispatch failed")
)

// Error codes
const (
	ErrCodeLoanNotFound        = "LOAN_NOT_FOUND"
	ErrCodeInstallmentNotFound = "INSTALLMENT_NOT_FOUND"
	ErrCodeInvalidLoanState    = "INVALID_LOAN_STATE"
	ErrCodeLedgerUnavailable   = "LEDGER_UNAVAILABLE"
	ErrCodeDuplicateTransition = "DUPLICATE_TRANSITION"
	ErrCodeNotificationFailed  = "NOTIFICATION_FAILED"
	ErrCodeDatabaseError       = "DATABASE_ERROR"
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the business error code, or DATABASE_ERROR for plain errors.
func CodeOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ErrCodeDatabaseError
}

// Wrap common errors with business context

func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("loan with ID %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapInstallmentNotFound(loanID string, emiNumber int) *BusinessError {
	return NewBusinessError(
		ErrCodeInstallmentNotFound,
		fmt.Sprintf("installment %d of loan %s not found", emiNumber, loanID),
		ErrInstallmentNotFound,
	)
}

func WrapInvalidLoanState(loanID, detail string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidLoanState,
		fmt.Sprintf("loan %s: %s", loanID, detail),
		ErrInvalidLoanState,
	)
}

func WrapLedgerUnavailable(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeLedgerUnavailable,
		"payment ledger check failed after retries",
		errors.Join(ErrLedgerUnavailable, err),
	)
}

func WrapNotificationFailed(kind string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeNotificationFailed,
		fmt.Sprintf("failed to send %s notification", kind),
		errors.Join(ErrNotificationFailed, err),
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

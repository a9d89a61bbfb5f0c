package apperror

import (
	"errors"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error for a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

// Common errors
var (
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Message: "Resource not found"}
	ErrUnauthorized   = &AppError{Code: http.StatusUnauthorized, Message: "Unauthorized"}
	ErrForbidden      = &AppError{Code: http.StatusForbidden, Message: "Forbidden"}
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Message: "Bad request"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Message: "Internal server error"}
	ErrConflict       = &AppError{Code: http.StatusConflict, Message: "Resource already exists"}
	ErrUnprocessable  = &AppError{Code: http.StatusUnprocessableEntity, Message: "Unprocessable entity"}
	ErrTokenExpired   = &AppError{Code: http.StatusUnauthorized, Message: "Token has expired"}
	ErrInvalidToken   = &AppError{Code: http.StatusUnauthorized, Message: "Invalid token"}
)

// Issuance errors. These carry legal weight: they are always surfaced to the
// caller verbatim and never retried automatically.
var (
	// ErrSaleNotInvoiced is returned when a credit note is requested for a
	// refund whose original sale has no invoice on the ledger.
	ErrSaleNotInvoiced = &AppError{Code: http.StatusConflict, Message: "Original sale has not been invoiced"}
	// ErrRefundAlreadyCredited is returned when a refund already has a credit note.
	ErrRefundAlreadyCredited = &AppError{Code: http.StatusConflict, Message: "Refund already has a credit note issued"}
	// ErrNothingToInvoice is returned when a sale is fully refunded or its
	// facturable amount is zero.
	ErrNothingToInvoice = &AppError{Code: http.StatusUnprocessableEntity, Message: "Sale has no facturable amount remaining"}
)

// MalformedReceiptError marks a raw POS payload that cannot be normalized.
// Receipts failing normalization are dropped from the batch, never fatal.
type MalformedReceiptError struct {
	ReceiptID string
	Reason    string
}

func (e *MalformedReceiptError) Error() string {
	if e.ReceiptID == "" {
		return "malformed receipt: " + e.Reason
	}
	return "malformed receipt " + e.ReceiptID + ": " + e.Reason
}

// NewMalformedReceiptError creates a malformed receipt error
func NewMalformedReceiptError(receiptID, reason string) *MalformedReceiptError {
	return &MalformedReceiptError{ReceiptID: receiptID, Reason: reason}
}

// RejectedError is a terminal rejection from the numbering authority.
// It requires human correction of the receipt data, not a retry.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "rejected by numbering authority: " + e.Reason
}

// NewRejectedError creates a rejection error
func NewRejectedError(reason string) *RejectedError {
	return &RejectedError{Reason: reason}
}

// TransientError wraps a network/timeout failure from the numbering
// authority or the ledger. Safe to retry with backoff, except across an
// uncertain-outcome boundary where the coordinator must probe first.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return "transient failure: " + e.Cause.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError wraps a transient cause
func NewTransientError(cause error) *TransientError {
	return &TransientError{Cause: cause}
}

// IsTransient reports whether err is a transient failure
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UncertainError is returned when the outcome of an authority call is
// unknown (the authority may have issued a number without confirmation).
type UncertainError struct {
	PointOfSale    int
	DocumentNumber int64
}

func (e *UncertainError) Error() string {
	return "authorization outcome uncertain; manual reconciliation required"
}

// NewAppError creates a new application error
func NewAppError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(fieldErrors []FieldError) *AppError {
	return &AppError{
		Code:    http.StatusUnprocessableEntity,
		Message: "Validation failed",
		Errors:  fieldErrors,
	}
}

// NewNotFoundError creates a not found error with a custom message
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Message: resource + " not found",
	}
}

// NewConflictError creates a conflict error with a custom message
func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Message: message,
	}
}

// NewUnauthorizedError creates an unauthorized error with a custom message
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Message: message,
	}
}

// NewBadRequestError creates a bad request error with a custom message
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Message: message,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError converts an error to AppError if possible
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var rejErr *RejectedError
	if errors.As(err, &rejErr) {
		return &AppError{Code: http.StatusUnprocessableEntity, Message: rejErr.Error()}
	}
	var uncErr *UncertainError
	if errors.As(err, &uncErr) {
		return &AppError{Code: http.StatusBadGateway, Message: uncErr.Error()}
	}
	if IsTransient(err) {
		return &AppError{Code: http.StatusBadGateway, Message: err.Error()}
	}
	return &AppError{
		Code:    http.StatusInternalServerError,
		Message: err.Error(),
	}
}

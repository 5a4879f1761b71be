package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so sentinels survive Clone and Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for the error kinds of the domain.
var (
	ErrNotFound          = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict          = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation        = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal          = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrAuthorization     = New("AUTHORIZATION_ERROR", http.StatusForbidden, "actor cannot access this school's data")
	ErrState             = New("STATE_ERROR", http.StatusConflict, "operation not allowed in current state")
	ErrMissingTariff     = New("MISSING_TARIFF", http.StatusPreconditionFailed, "no tariff grid for class level and school year")
	ErrOverpayment       = New("OVERPAYMENT", http.StatusUnprocessableEntity, "amount exceeds what is due on the schedule")
	ErrDiscountCap       = New("DISCOUNT_CAP_EXCEEDED", http.StatusUnprocessableEntity, "discounts exceed exigible amount at date")
	ErrReceiptExhausted  = New("RECEIPT_EXHAUSTED", http.StatusConflict, "receipt number generation exhausted retries")
	ErrNotification      = New("NOTIFICATION_ERROR", http.StatusBadGateway, "notification delivery failed")
	ErrProtectedRef      = New("PROTECTED_REFERENCE", http.StatusConflict, "deletion blocked by referencing records")
	ErrCacheMiss         = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// BlockingRelation identifies records that prevent a delete.
type BlockingRelation struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// ProtectedReferenceError carries the relations blocking a delete.
type ProtectedReferenceError struct {
	Base     *Error             `json:"error"`
	Blocking []BlockingRelation `json:"blocking"`
}

// Error implements the error interface.
func (e *ProtectedReferenceError) Error() string {
	return e.Base.Error()
}

// Unwrap returns the underlying *Error so errors.Is/As keep matching.
func (e *ProtectedReferenceError) Unwrap() error {
	return e.Base
}

// NewProtectedReference builds a PROTECTED_REFERENCE error listing blockers.
func NewProtectedReference(entity string, blocking []BlockingRelation) *ProtectedReferenceError {
	kinds := make([]string, 0, len(blocking))
	for _, b := range blocking {
		kinds = append(kinds, fmt.Sprintf("%s (%d)", b.Kind, b.Count))
	}
	msg := fmt.Sprintf("%s is referenced by %s", entity, strings.Join(kinds, ", "))
	return &ProtectedReferenceError{
		Base:     Clone(ErrProtectedRef, msg),
		Blocking: blocking,
	}
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

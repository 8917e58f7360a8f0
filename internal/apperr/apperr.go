// Package apperr defines the stable, machine-readable failure codes surfaced
// by the checkout core. Each code carries metadata describing how transports
// should present it and whether the failing operation may be retried.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

// Code is a stable failure identifier suitable for localized display.
type Code string

const (
	CodeInvalidQuantity             Code = "INVALID_QUANTITY"
	CodeProductUnavailable          Code = "PRODUCT_UNAVAILABLE"
	CodeInsufficientStock           Code = "INSUFFICIENT_STOCK"
	CodeInvalidDiscount             Code = "INVALID_DISCOUNT"
	CodePaymentIncomplete           Code = "PAYMENT_INCOMPLETE"
	CodeProfileResolutionFailed     Code = "PROFILE_RESOLUTION_FAILED"
	CodeOrderNumberAllocationFailed Code = "ORDER_NUMBER_ALLOCATION_FAILED"
	CodeOrderPersistFailed          Code = "ORDER_PERSIST_FAILED"

	CodeValidation           Code = "VALIDATION_ERROR"
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeSubmissionInProgress Code = "SUBMISSION_IN_PROGRESS"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Metadata describes transport and retry behaviour for a Code.
type Metadata struct {
	HTTPStatus int
	// Retryable reports whether the operation may be retried automatically
	// with the same idempotency context. Everything else needs user action.
	Retryable bool
}

var metadataByCode = map[Code]Metadata{
	CodeInvalidQuantity:             {HTTPStatus: http.StatusUnprocessableEntity},
	CodeProductUnavailable:          {HTTPStatus: http.StatusUnprocessableEntity},
	CodeInsufficientStock:           {HTTPStatus: http.StatusConflict},
	CodeInvalidDiscount:             {HTTPStatus: http.StatusUnprocessableEntity},
	CodePaymentIncomplete:           {HTTPStatus: http.StatusPaymentRequired},
	CodeProfileResolutionFailed:     {HTTPStatus: http.StatusBadGateway},
	CodeOrderNumberAllocationFailed: {HTTPStatus: http.StatusServiceUnavailable, Retryable: true},
	CodeOrderPersistFailed:          {HTTPStatus: http.StatusServiceUnavailable, Retryable: true},
	CodeValidation:                  {HTTPStatus: http.StatusBadRequest},
	CodeAuthenticationFailed:        {HTTPStatus: http.StatusUnauthorized},
	CodeInvalidTransition:           {HTTPStatus: http.StatusConflict},
	CodeSubmissionInProgress:        {HTTPStatus: http.StatusConflict},
	CodeNotFound:                    {HTTPStatus: http.StatusNotFound},
	CodeInternal:                    {HTTPStatus: http.StatusInternalServerError},
}

// MetadataFor returns the metadata registered for code, falling back to
// CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded failure. Reason refines the code (for example "expired"
// for CodeInvalidDiscount) and Fields carries field-scoped validation reasons.
type Error struct {
	code    Code
	reason  string
	message string
	fields  map[string]string
	cause   error
}

// New returns an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf is like New but formats the message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error with the given code that unwraps to err.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// WithReason sets the refining reason and returns e.
func (e *Error) WithReason(reason string) *Error {
	e.reason = reason
	return e
}

// WithFields attaches field-scoped reasons and returns e.
func (e *Error) WithFields(fields map[string]string) *Error {
	e.fields = fields
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Reason() string {
	if e == nil {
		return ""
	}
	return e.reason
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Fields() map[string]string {
	if e == nil {
		return nil
	}
	return e.fields
}

// Retryable reports whether the failure may be retried automatically.
func (e *Error) Retryable() bool {
	return MetadataFor(e.Code()).Retryable
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.code) + ": " + e.message
	if e.reason != "" {
		msg += " (" + e.reason + ")"
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code, so sentinel-style comparisons such as
// errors.Is(err, apperr.New(apperr.CodeInsufficientStock, "")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.code == e.code
}

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	if e := As(err); e != nil {
		return e.code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	e := As(err)
	return e != nil && e.code == code
}

// IsRetryable reports whether err carries a retryable code.
func IsRetryable(err error) bool {
	e := As(err)
	return e != nil && e.Retryable()
}

// Package apperror defines the error kinds shared by every service and the
// rules for mapping them onto HTTP statuses and message acknowledgements.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInternal            Kind = "InternalServerError"
	KindValidation          Kind = "ValidationError"
	KindNotFound            Kind = "NotFoundException"
	KindAlreadyExist        Kind = "AlreadyExistException"
	KindNotAuthorized       Kind = "NotAuthorizedException"
	KindNoStock             Kind = "NoStockException"
	KindPaymentFailed       Kind = "PaymentFailedException"
	KindConcurrencyConflict Kind = "ConcurrencyConflict"
)

// Error carries a kind discriminator, a caller-facing message and an optional
// cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can write
// errors.Is(err, apperror.NotFound("")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func AlreadyExist(format string, args ...any) *Error {
	return New(KindAlreadyExist, format, args...)
}

func NotAuthorized(format string, args ...any) *Error {
	return New(KindNotAuthorized, format, args...)
}

func NoStock(format string, args ...any) *Error {
	return New(KindNoStock, format, args...)
}

func PaymentFailed(err error, format string, args ...any) *Error {
	return Wrap(KindPaymentFailed, err, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConcurrencyConflict, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsPermanent reports whether redelivering the work that produced err can
// never succeed. Internal and conflict errors are treated as transient.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindAlreadyExist, KindNotAuthorized,
		KindNoStock, KindPaymentFailed:
		return true
	default:
		return false
	}
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExist, KindConcurrencyConflict:
		return http.StatusConflict
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindNoStock:
		return http.StatusUnprocessableEntity
	case KindPaymentFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the caller-facing message for err. Internal errors are
// replaced by a generic text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a payment error. The classification decides the HTTP
// status, whether any side effect may have happened, and whether the detail
// is safe to return to the caller.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindInvalidCurrency Kind = "invalid_currency"
	KindAuthorization   Kind = "authorization"
	KindForbidden       Kind = "forbidden"
	KindUnsupported     Kind = "unsupported_gateway"
	KindConfiguration   Kind = "configuration_missing"
	KindAmountTooSmall  Kind = "amount_too_small"
	KindGateway         Kind = "gateway"
	KindPersistence     Kind = "persistence"
	KindVerification    Kind = "verification"
)

// Error is a classified payment error. Gateway and persistence detail is for
// logs only; callers get the generic message for those kinds.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the classification of err, defaulting to KindGateway for
// unclassified failures so no internal detail leaks by accident.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindGateway
}

// UserSafe reports whether the error detail may be returned to the caller.
func UserSafe(kind Kind) bool {
	switch kind {
	case KindValidation, KindInvalidCurrency, KindAuthorization, KindForbidden,
		KindUnsupported, KindAmountTooSmall:
		return true
	}
	return false
}

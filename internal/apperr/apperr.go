// Package apperr defines the business error taxonomy shared by the services
// and the HTTP layer. Every business failure carries a Kind and a stable Code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers are expected to react.
type Kind string

const (
	KindNotFound             Kind = "NOT_FOUND"
	KindInvalidArgument      Kind = "INVALID_ARGUMENT"
	KindInvalidState         Kind = "INVALID_STATE"
	KindInsufficientResource Kind = "INSUFFICIENT_RESOURCE"
	KindAuthentication       Kind = "AUTHENTICATION_FAILURE"
	KindAmountMismatch       Kind = "AMOUNT_MISMATCH"
	KindIntegrityFault       Kind = "INTEGRITY_FAULT"
	KindUnavailable          Kind = "UNAVAILABLE"
	KindInternal             Kind = "INTERNAL"
)

// Error is a business error. Two errors are the same error when their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e with a more specific message.
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...))
	return &cp
}

// Wrap returns a copy of e that records cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

var (
	ErrOrderNotFound    = New(KindNotFound, "ORDER_NOT_FOUND", "order not found")
	ErrProductNotFound  = New(KindNotFound, "PRODUCT_NOT_FOUND", "product not found")
	ErrCouponNotFound   = New(KindNotFound, "COUPON_NOT_FOUND", "coupon not found")
	ErrCartItemNotFound = New(KindNotFound, "CART_ITEM_NOT_FOUND", "cart item not found")

	ErrInvalidArgument = New(KindInvalidArgument, "INVALID_ARGUMENT", "invalid argument")

	ErrOrderNotPending   = New(KindInvalidState, "ORDER_NOT_PENDING", "order is no longer pending")
	ErrCouponUnavailable = New(KindInvalidState, "COUPON_UNAVAILABLE", "coupon is outside its validity window")
	ErrPaymentCaptured   = New(KindInvalidState, "PAYMENT_CAPTURED", "order has a captured payment awaiting settlement")

	ErrOutOfStock          = New(KindInsufficientResource, "OUT_OF_STOCK", "insufficient stock")
	ErrCouponExhausted     = New(KindInsufficientResource, "COUPON_EXHAUSTED", "coupon issuance pool exhausted")
	ErrInsufficientBalance = New(KindInsufficientResource, "INSUFFICIENT_COUPON_BALANCE", "insufficient coupon balance")

	ErrInvalidSignature = New(KindAuthentication, "INVALID_SIGNATURE", "payment notification signature rejected")
	ErrAmountMismatch   = New(KindAmountMismatch, "AMOUNT_MISMATCH", "paid amount does not match order total")
	ErrIntegrityFault   = New(KindIntegrityFault, "SETTLEMENT_INTEGRITY_FAULT", "settlement could not complete after payment capture")

	ErrGatewayUnavailable = New(KindUnavailable, "PAYMENT_GATEWAY_UNAVAILABLE", "payment gateway did not answer in time")
	ErrSettlementBusy     = New(KindUnavailable, "SETTLEMENT_IN_PROGRESS", "another settlement for this order is running")
)

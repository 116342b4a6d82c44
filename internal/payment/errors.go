package payment

import (
	"errors"
	"fmt"
)

// Error codes shared by the client and the gateway.
const (
	CodeInvalidPackage          = "INVALID_PACKAGE"
	CodeInvalidPrice            = "INVALID_PRICE"
	CodeInvalidCredits          = "INVALID_CREDITS"
	CodeInvalidOrder            = "INVALID_ORDER"
	CodeInvalidUser             = "INVALID_USER"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeForbidden               = "FORBIDDEN"
	CodeDuplicateOrder          = "DUPLICATE_ORDER"
	CodeOrderAlreadyProcessed   = "ORDER_ALREADY_PROCESSED"
	CodeBusy                    = "PAYMENT_IN_PROGRESS"
	CodePaymentTimeout          = "PAYMENT_TIMEOUT"
	CodeConfirmationTimeout     = "CONFIRMATION_TIMEOUT"
	CodeInternal                = "INTERNAL_ERROR"
	CodeDatabase                = "DATABASE_ERROR"
	CodeSignatureFailed         = "SIGNATURE_VERIFICATION_FAILED"
	CodeCreditsUpdateFailed     = "CREDITS_UPDATE_FAILED"
	CodeWebhookProcessingFailed = "WEBHOOK_PROCESSING_FAILED"
	CodeServiceUnavailable      = "CROSSMINT_ERROR"
	CodeRateLimited             = "RATE_LIMITED"
	CodePaymentPending          = "PAYMENT_PENDING"
	CodeSuperseded              = "PAYMENT_SUPERSEDED"
)

// Error is a coded payment failure. Two Errors match under errors.Is when
// their codes are equal, so wrapped sentinels keep their identity.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: cause}
}

// WithMessage returns a copy of e with a different user-facing message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Err: e.Err}
}

var (
	ErrInvalidPackage     = &Error{Code: CodeInvalidPackage, Message: "invalid package"}
	ErrPackageNotFound    = &Error{Code: CodeInvalidPackage, Message: "package not found"}
	ErrInvalidPrice       = &Error{Code: CodeInvalidPrice, Message: "invalid price"}
	ErrInvalidCredits     = &Error{Code: CodeInvalidCredits, Message: "invalid credits amount"}
	ErrInvalidOrder       = &Error{Code: CodeInvalidOrder, Message: "invalid order"}
	ErrInvalidUser        = &Error{Code: CodeInvalidUser, Message: "invalid user"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrBusy               = &Error{Code: CodeBusy, Message: "a payment is already in progress"}
	ErrPaymentTimeout     = &Error{Code: CodePaymentTimeout, Message: "payment timeout, please retry"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
	ErrServiceUnavailable = &Error{Code: CodeServiceUnavailable, Message: "payment service unavailable"}
	ErrSignature          = &Error{Code: CodeSignatureFailed, Message: "signature verification failed"}
	ErrSuperseded         = &Error{Code: CodeSuperseded, Message: "payment superseded by a newer request"}
)

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}

// UserMessage returns the message to display for err: the message of the
// outermost *Error, or err's text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

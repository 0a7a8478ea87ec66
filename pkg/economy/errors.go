package economy

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the economy service.
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrDuplicateIdempotencyKey  = errors.New("duplicate idempotency key")
	ErrDuplicateInFlight        = errors.New("idempotency key in flight")
	ErrTierRestricted           = errors.New("tier restricted")
	ErrTierUnchanged            = errors.New("tier unchanged")
	ErrTierDowngrade            = errors.New("tier downgrade not supported")
	ErrQuotaExceeded            = errors.New("quota exceeded")
	ErrInvalidClaimToken        = errors.New("invalid claim token")
	ErrFutureTimestamp          = errors.New("claim timestamp in the future")
	ErrRefundAlreadyProcessed   = errors.New("refund already processed")
	ErrRefundWindowClosed       = errors.New("refund window closed")
	ErrInvalidRefundReason      = errors.New("invalid refund reason")
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrTransactionNotRefundable = errors.New("transaction not refundable")
	ErrStoreConflict            = errors.New("store conflict")
	ErrSelfGift                 = errors.New("cannot gift own account")

	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidAccountID         = errors.New("invalid account id")
	ErrInvalidTransactionID     = errors.New("invalid transaction id")
	ErrInvalidIdempotencyKey    = errors.New("invalid idempotency key")
	ErrInvalidContentID         = errors.New("invalid content id")
	ErrInvalidCoinAmount        = errors.New("invalid coin amount")
	ErrInvalidMetadataJSON      = errors.New("invalid metadata json")
	ErrInvalidTransactionKind   = errors.New("invalid transaction kind")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrInvalidTier              = errors.New("invalid tier")
	ErrUnknownEffectType        = errors.New("unknown effect type")
	ErrUnknownQuotaType         = errors.New("unknown quota type")
	ErrUnknownContentProduct    = errors.New("unknown content product")
	ErrUnknownCoinPackage       = errors.New("unknown coin package")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
	ErrInvalidProductConfig     = errors.New("invalid product config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes attached to classified failures. The code names the cause,
// the Retryable flag names the verdict; the reconciliation loop only ever
// looks at the verdict.
const (
	CodeStoreStatus       = "STORE_STATUS"
	CodeNetwork           = "NETWORK"
	CodeMalformedPayload  = "MALFORMED_PAYLOAD"
	CodeUnknownEvent      = "UNKNOWN_EVENT"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeMissingLinkage    = "MISSING_LINKAGE"
	CodeReplicationLag    = "REPLICATION_LAG"
	CodeLedger            = "LEDGER"
	CodePanic             = "PANIC"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

// Error is the classified error variant every synchronizer failure is
// wrapped in before it reaches the reconciliation loop.
type Error struct {
	Code       string
	Message    string
	StatusCode int // HTTP status from the record store, 0 for transport failures
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	return e.Retryable
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

// Transient builds a retryable error.
func Transient(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// Permanent builds an error that must never be retried.
func Permanent(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: false}
}

// Classify maps a record-store failure to a retry verdict.
//
// 401 is retryable because the credential may simply have expired; the store
// client triggers an async token refresh alongside it. 429 and 5xx are
// transient store conditions. Every other 4xx means the request itself is
// wrong and will never succeed. A missing status (transport error, timeout)
// fails open toward retry: losing an order is worse than a duplicate attempt.
func Classify(statusCode int, cause error) *Error {
	if statusCode == 0 {
		return &Error{
			Code:      CodeNetwork,
			Message:   "record store unreachable",
			Retryable: true,
			Cause:     cause,
		}
	}

	retryable := true
	switch {
	case statusCode == http.StatusUnauthorized:
	case statusCode == http.StatusTooManyRequests:
	case statusCode >= 500 && statusCode <= 599:
	case statusCode >= 400 && statusCode <= 499:
		retryable = false
	}

	return &Error{
		Code:       CodeStoreStatus,
		Message:    fmt.Sprintf("record store returned status %d", statusCode),
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable reports the retry verdict carried on err. Errors that carry no
// verdict are treated as retryable, matching the fail-open rule in Classify.
func IsRetryable(err error) bool {
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	return true
}

// IsPermanent is the inverse of IsRetryable for callers that read better
// with the permanent branch spelled out.
func IsPermanent(err error) bool {
	return err != nil && !IsRetryable(err)
}

// StatusCode returns the HTTP status carried on err, or 0.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// Code returns the error code carried on err, or "".
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// RecoverPanic converts a recovered panic value into a retryable error, so a
// handler panic flows through the normal retry path instead of killing the
// worker.
func RecoverPanic(r interface{}) *Error {
	return &Error{
		Code:      CodePanic,
		Message:   fmt.Sprintf("panic during message processing: %v", r),
		Retryable: true,
	}
}

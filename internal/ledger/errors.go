package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrLedgerRejected matches every *Error: the ledger refused a
	// transaction because it would break one of its invariants. Rejections
	// are final and are not retried.
	ErrLedgerRejected = errors.New("ledger: transaction rejected")

	// ErrUnavailable marks transport failures. These are the only ledger
	// errors a caller may retry, reusing the same transaction id.
	ErrUnavailable = errors.New("ledger: unavailable")
)

// Code names the ledger invariant a rejected transaction violated.
type Code string

const (
	CodeNotOwner          Code = "NotOwner"
	CodeRecordNotFound    Code = "RecordNotFound"
	CodeOwnerNotRevocable Code = "OwnerNotRevocable"
	CodeGrantExists       Code = "GrantExists"
	CodeGrantNotFound     Code = "GrantNotFound"
	CodeGrantCapExceeded  Code = "GrantCapExceeded"
	CodeGranteeKeyMissing Code = "GranteeKeyMissing"
	CodeKeyNotRegistered  Code = "KeyNotRegistered"
	CodeProviderNotFound  Code = "ProviderNotFound"
	CodeRecordPrivate     Code = "RecordPrivate"
	CodeInvalidArgument   Code = "InvalidArgument"
)

// Error is a ledger rejection.
type Error struct {
	Code    Code   `json:"code"`
	Op      string `json:"op"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger: %s rejected: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("ledger: %s rejected: %s: %s", e.Op, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrLedgerRejected) hold for any *Error.
func (e *Error) Is(target error) bool {
	return target == ErrLedgerRejected
}

func reject(op string, code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a rejection with the given code.
func IsCode(err error, code Code) bool {
	var le *Error
	return errors.As(err, &le) && le.Code == code
}

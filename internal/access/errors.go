package access

import (
	"errors"
	"fmt"

	"github.com/kenneth/chart-vault/internal/ledger"
)

var (
	// ErrGranteeKeyMissing is returned before submission when the grantee
	// has no published encryption key. It also matches a ledger-side
	// GranteeKeyMissing rejection.
	ErrGranteeKeyMissing = errors.New("access: grantee has no published encryption key")

	// ErrGrantCapExceeded is returned when the record already has the
	// maximum number of active non-owner grants, whether detected locally or
	// by the ledger.
	ErrGrantCapExceeded = errors.New("access: grant limit reached")

	// ErrNotOwner is returned when an owner-only operation needs the owner's
	// DataKey and the session account does not own the record.
	ErrNotOwner = errors.New("access: caller is not the record owner")

	// ErrNoActiveGrant is the cause behind ErrRecordUnavailable when the
	// account holds no active grant on the record.
	ErrNoActiveGrant = errors.New("access: no active grant")

	// ErrRecordPrivate is returned when granting on a private record,
	// whether detected locally or by the ledger.
	ErrRecordPrivate = errors.New("access: record is private")

	// ErrInvalidIndex is returned by CreateRecord, before anything is
	// encrypted, when the public index cannot round trip through the ledger.
	ErrInvalidIndex = errors.New("access: invalid public index")

	// ErrRecordUnavailable is the only error Open surfaces for a denied or
	// undecryptable record. The precise cause stays reachable through
	// errors.Is for the local caller, but the message never changes.
	ErrRecordUnavailable = errors.New("access: record unavailable")
)

// unavailableError hides the cause of a failed open behind one message.
type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrRecordUnavailable.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrRecordUnavailable, e.cause}
}

func unavailable(cause error) error {
	return &unavailableError{cause: cause}
}

// translate maps ledger rejections that mirror a local pre-check onto the
// local sentinel so callers need a single errors.Is.
func translate(err error) error {
	switch {
	case ledger.IsCode(err, ledger.CodeGrantCapExceeded):
		return fmt.Errorf("%w: %w", ErrGrantCapExceeded, err)
	case ledger.IsCode(err, ledger.CodeGranteeKeyMissing):
		return fmt.Errorf("%w: %w", ErrGranteeKeyMissing, err)
	case ledger.IsCode(err, ledger.CodeRecordPrivate):
		return fmt.Errorf("%w: %w", ErrRecordPrivate, err)
	}
	return err
}

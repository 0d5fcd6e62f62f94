package crypto

import (
	"errors"
	"fmt"
)

// Cryptographic failures are reported as typed results and are never retried
// automatically: a retry means trying another key, which is itself a misuse.
var (
	// ErrKeyAbsent is returned when no private key is stored for an account.
	ErrKeyAbsent = errors.New("crypto: no private key stored for account")

	// ErrWrongPassphrase is returned when a stored key exists but the
	// passphrase does not unwrap it.
	ErrWrongPassphrase = errors.New("crypto: passphrase does not unlock stored key")

	// ErrPassphraseRequired is returned when a stored key is passphrase
	// protected and no passphrase was supplied. It matches ErrWrongPassphrase.
	ErrPassphraseRequired = fmt.Errorf("%w: passphrase required", ErrWrongPassphrase)

	// ErrSealOpen is returned when a sealed DataKey does not open under the
	// given private key. It does not say whether the key or the box is wrong.
	ErrSealOpen = errors.New("crypto: sealed key does not open with this private key")

	// ErrAuthentication is returned when content ciphertext fails tag
	// verification (tampering or DataKey mismatch).
	ErrAuthentication = errors.New("crypto: message authentication failed")

	// ErrInvalidKey is returned for malformed key material.
	ErrInvalidKey = errors.New("crypto: invalid key material")

	// ErrUnsupportedAlgorithm is returned for unknown content algorithms.
	ErrUnsupportedAlgorithm = errors.New("crypto: unsupported algorithm")
)

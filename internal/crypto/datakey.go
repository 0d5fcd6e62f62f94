package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
)

// DataKeySize is the size of a content key (256 bits).
const DataKeySize = 32

// DataKey is the symmetric key protecting exactly one record. It only ever
// exists in plaintext in the memory of the client that encrypts or opens the
// record and is never rotated, only resealed for new grantees.
type DataKey [DataKeySize]byte

// NewDataKey draws a fresh DataKey from crypto/rand.
func NewDataKey() (*DataKey, error) {
	var k DataKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &k, nil
}

// ParseDataKey copies b into a DataKey.
func ParseDataKey(b []byte) (*DataKey, error) {
	if len(b) != DataKeySize {
		return nil, fmt.Errorf("data key must be %d bytes, got %d", DataKeySize, len(b))
	}
	var k DataKey
	copy(k[:], b)
	return &k, nil
}

// Wipe zeroes the key in place.
func (k *DataKey) Wipe() {
	if k != nil {
		Zero(k[:])
	}
}

// Zero overwrites a byte slice with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

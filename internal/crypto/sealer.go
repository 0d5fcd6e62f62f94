package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// SealedKeySize is the size of a DataKey sealed to one recipient: an
// ephemeral public key, the Poly1305 tag and the key itself.
const SealedKeySize = box.AnonymousOverhead + DataKeySize

// SealDataKey wraps key for recipient using an ephemeral X25519 key pair, so
// only the holder of the matching private key can open it and the box does
// not reveal who sealed it.
func SealDataKey(key *DataKey, recipient PublicKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil data key", ErrInvalidKey)
	}
	if recipient.IsZero() {
		return nil, fmt.Errorf("%w: recipient public key is all zeros", ErrInvalidKey)
	}
	sealed, err := box.SealAnonymous(nil, key[:], (*[KeySize]byte)(&recipient), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to seal data key: %w", err)
	}
	return sealed, nil
}

// UnsealDataKey recovers a DataKey sealed to the public half of recipient.
// Wrong keys and corrupted boxes both yield ErrSealOpen.
func UnsealDataKey(sealed []byte, recipient *PrivateKey) (*DataKey, error) {
	if recipient == nil || len(sealed) != SealedKeySize {
		return nil, ErrSealOpen
	}
	pub, err := recipient.PublicKey()
	if err != nil {
		return nil, ErrSealOpen
	}

	out, ok := box.OpenAnonymous(nil, sealed, (*[KeySize]byte)(&pub), (*[KeySize]byte)(recipient))
	if !ok || len(out) != DataKeySize {
		Zero(out)
		return nil, ErrSealOpen
	}

	var key DataKey
	copy(key[:], out)
	Zero(out)
	return &key, nil
}

package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the size of X25519 public and private keys.
const KeySize = 32

// PublicKey is an X25519 public key. It is the only half of a key pair that
// is ever transmitted.
type PublicKey [KeySize]byte

// PrivateKey is an X25519 private key. It never leaves the owning client.
type PrivateKey [KeySize]byte

// KeyPair is an X25519 key pair generated once per identity.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateKeyPair draws a fresh X25519 key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	kp := &KeyPair{Public: PublicKey(*pub), Private: PrivateKey(*priv)}
	Zero(priv[:])
	return kp, nil
}

// Wipe zeroes the private half of the key pair.
func (kp *KeyPair) Wipe() {
	if kp != nil {
		kp.Private.Wipe()
	}
}

// PublicKey derives the public key belonging to k.
func (k *PrivateKey) PublicKey() (PublicKey, error) {
	var pub PublicKey
	out, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	copy(pub[:], out)
	return pub, nil
}

// Wipe zeroes the key in place.
func (k *PrivateKey) Wipe() {
	if k != nil {
		Zero(k[:])
	}
}

// IsZero reports whether the key is all zero bytes.
func (p PublicKey) IsZero() bool {
	var zero PublicKey
	return subtle.ConstantTimeCompare(p[:], zero[:]) == 1
}

// String returns the 0x-prefixed hex form used by the ledger.
func (p PublicKey) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// MarshalText encodes the key as 0x-prefixed hex.
func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts the forms ParsePublicKeyHex accepts. An empty
// string decodes to the zero key.
func (p *PublicKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = PublicKey{}
		return nil
	}
	pub, err := ParsePublicKeyHex(string(text))
	if err != nil {
		return err
	}
	*p = pub
	return nil
}

// ParsePublicKey validates a raw 32-byte public key.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var pub PublicKey
	if len(b) != KeySize {
		return pub, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(b))
	}
	copy(pub[:], b)
	if pub.IsZero() {
		return pub, fmt.Errorf("%w: public key is all zeros", ErrInvalidKey)
	}
	return pub, nil
}

// ParsePublicKeyHex parses a hex public key with or without a 0x prefix.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return ParsePublicKey(b)
}

// ParsePrivateKey validates a raw 32-byte private key.
func ParsePrivateKey(b []byte) (*PrivateKey, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(b))
	}
	var k PrivateKey
	copy(k[:], b)
	if _, err := k.PublicKey(); err != nil {
		k.Wipe()
		return nil, err
	}
	return &k, nil
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm identifies the AEAD protecting a record body.
type Algorithm string

const (
	// AlgorithmXChaCha20Poly1305 uses a 24-byte random nonce.
	AlgorithmXChaCha20Poly1305 Algorithm = "XChaCha20-Poly1305"
	// AlgorithmAES256GCM uses a 12-byte random nonce.
	AlgorithmAES256GCM Algorithm = "AES256-GCM"
)

// Ciphertext is an encrypted record body. Data carries the authentication
// tag appended by the AEAD.
type Ciphertext struct {
	Algorithm Algorithm `json:"alg"`
	Nonce     []byte    `json:"nonce"`
	Data      []byte    `json:"data"`
}

// Tag returns the authentication tag at the end of Data.
func (c *Ciphertext) Tag() []byte {
	const tagSize = 16
	if len(c.Data) < tagSize {
		return nil
	}
	return c.Data[len(c.Data)-tagSize:]
}

// ContentCipher encrypts record bodies under a DataKey. The nonce is always
// drawn inside Encrypt; callers cannot supply one.
type ContentCipher struct {
	algorithm Algorithm
}

// NewContentCipher returns a cipher producing ciphertexts of the given
// algorithm.
func NewContentCipher(alg Algorithm) (*ContentCipher, error) {
	if _, err := newAEAD(alg, make([]byte, DataKeySize)); err != nil {
		return nil, err
	}
	return &ContentCipher{algorithm: alg}, nil
}

// DefaultContentCipher selects the algorithm from CPU capabilities.
func DefaultContentCipher(preferHardwareAES bool) *ContentCipher {
	return &ContentCipher{algorithm: SelectAlgorithm(preferHardwareAES)}
}

// Algorithm returns the algorithm used for new ciphertexts.
func (c *ContentCipher) Algorithm() Algorithm {
	return c.algorithm
}

// Encrypt seals plaintext under key with a fresh random nonce. aad is
// authenticated but not encrypted and must be supplied again to Decrypt.
func (c *ContentCipher) Encrypt(plaintext []byte, key *DataKey, aad []byte) (*Ciphertext, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil data key", ErrInvalidKey)
	}
	aead, err := newAEAD(c.algorithm, key[:])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &Ciphertext{
		Algorithm: c.algorithm,
		Nonce:     nonce,
		Data:      aead.Seal(nil, nonce, plaintext, aad),
	}, nil
}

// Decrypt opens ct under key. Any tag mismatch, including one caused by a
// wrong key, wrong aad or truncated input, yields ErrAuthentication.
func Decrypt(ct *Ciphertext, key *DataKey, aad []byte) ([]byte, error) {
	if ct == nil {
		return nil, ErrAuthentication
	}
	if key == nil {
		return nil, fmt.Errorf("%w: nil data key", ErrInvalidKey)
	}
	aead, err := newAEAD(ct.Algorithm, key[:])
	if err != nil {
		return nil, err
	}
	if len(ct.Nonce) != aead.NonceSize() || len(ct.Data) < aead.Overhead() {
		return nil, ErrAuthentication
	}

	plaintext, err := aead.Open(nil, ct.Nonce, ct.Data, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != DataKeySize {
		return nil, fmt.Errorf("%w: data key must be %d bytes", ErrInvalidKey, DataKeySize)
	}
	switch alg {
	case AlgorithmXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

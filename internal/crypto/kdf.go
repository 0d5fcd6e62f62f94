package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KDFArgon2id names the passphrase KDF recorded in wrapped keys.
	KDFArgon2id = "argon2id"

	wrapVersion = 1
	saltSize    = 16
)

// KDFParams configures argon2id passphrase derivation.
type KDFParams struct {
	Time      uint32 `json:"t"`
	MemoryKiB uint32 `json:"m"`
	Threads   uint8  `json:"p"`
}

// DefaultKDFParams returns interactive-use argon2id parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate rejects parameters argon2 cannot use.
func (p KDFParams) Validate() error {
	if p.Time == 0 {
		return fmt.Errorf("kdf time must be positive")
	}
	if p.Threads == 0 {
		return fmt.Errorf("kdf threads must be positive")
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("kdf memory must be at least 8 KiB per thread")
	}
	return nil
}

// WrappedKey is a private key encrypted under a passphrase-derived key. The
// salt is drawn fresh on every wrap.
type WrappedKey struct {
	Version    int       `json:"v"`
	KDF        string    `json:"kdf"`
	Params     KDFParams `json:"params"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ct"`
}

// WrapPrivateKey encrypts key with XChaCha20-Poly1305 under an argon2id key
// derived from passphrase. aad binds the result to its owner, typically the
// account identifier.
func WrapPrivateKey(key *PrivateKey, passphrase, aad []byte, params KDFParams) (*WrappedKey, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrInvalidKey)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	kek := deriveKEK(passphrase, salt, params)
	defer Zero(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &WrappedKey{
		Version:    wrapVersion,
		KDF:        KDFArgon2id,
		Params:     params,
		Salt:       encodeBase64(salt),
		Nonce:      encodeBase64(nonce),
		Ciphertext: encodeBase64(aead.Seal(nil, nonce, key[:], aad)),
	}, nil
}

// UnwrapPrivateKey reverses WrapPrivateKey. A passphrase or aad that does not
// match yields ErrWrongPassphrase.
func UnwrapPrivateKey(w *WrappedKey, passphrase, aad []byte) (*PrivateKey, error) {
	if w == nil || w.Version != wrapVersion || w.KDF != KDFArgon2id {
		return nil, fmt.Errorf("%w: unsupported wrapped key format", ErrInvalidKey)
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	if err := w.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	salt, err := decodeBase64Len(w.Salt, saltSize)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrInvalidKey, err)
	}
	nonce, err := decodeBase64Len(w.Nonce, chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrInvalidKey, err)
	}
	ct, err := decodeBase64(w.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrInvalidKey, err)
	}

	kek := deriveKEK(passphrase, salt, w.Params)
	defer Zero(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	raw, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer Zero(raw)

	return ParsePrivateKey(raw)
}

func deriveKEK(passphrase, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, chacha20poly1305.KeySize)
}

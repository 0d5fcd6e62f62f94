// Package keys manages a user's X25519 key pair at rest. Storage is injected
// as a Store so the same Manager works over a file, Redis, Badger or memory.
package keys

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kenneth/chart-vault/internal/audit"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/sirupsen/logrus"
)

const (
	storedKeyVersion = 1

	protectionNone     = "none"
	protectionArgon2id = crypto.KDFArgon2id
)

// storedKey is the at-rest encoding of one account's private key.
type storedKey struct {
	Version    int                `json:"v"`
	Protection string             `json:"protection"`
	PublicKey  string             `json:"pub"`
	Key        string             `json:"key,omitempty"`
	Wrapped    *crypto.WrappedKey `json:"wrapped,omitempty"`
}

// Options configures a Manager.
type Options struct {
	Store  Store
	KDF    crypto.KDFParams
	Logger *logrus.Logger
	Audit  audit.Logger
}

// Manager generates, stores, loads and deletes private keys. It never touches
// the network.
type Manager struct {
	store  Store
	kdf    crypto.KDFParams
	logger *logrus.Logger
	audit  audit.Logger
}

// NewManager returns a Manager over opts.Store.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("keys: store is required")
	}
	if opts.KDF == (crypto.KDFParams{}) {
		opts.KDF = crypto.DefaultKDFParams()
	}
	if err := opts.KDF.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Manager{
		store:  opts.Store,
		kdf:    opts.KDF,
		logger: opts.Logger,
		audit:  opts.Audit,
	}, nil
}

// GenerateKeyPair draws a fresh key pair. Every call yields a new key; keys
// are never shared across accounts.
func (m *Manager) GenerateKeyPair() (*crypto.KeyPair, error) {
	kp, err := crypto.GenerateKeyPair()
	if m.audit != nil {
		m.audit.LogKey(audit.EventTypeKeyGenerate, "", err == nil, err)
	}
	return kp, err
}

func wrapAAD(account string) []byte {
	return []byte("chart-vault/key/v1:" + account)
}

// SavePrivateKey stores key for account, replacing any previous key. With a
// non-empty passphrase the key is wrapped under argon2id; otherwise it is
// stored raw. Callers must confirm before replacing a key: grants sealed to
// the old key become unrecoverable.
func (m *Manager) SavePrivateKey(ctx context.Context, account string, key *crypto.PrivateKey, passphrase []byte) (err error) {
	defer func() {
		if m.audit != nil {
			m.audit.LogKey(audit.EventTypeKeySave, account, err == nil, err)
		}
	}()

	if account == "" {
		return fmt.Errorf("keys: account is required")
	}
	if key == nil {
		return fmt.Errorf("%w: nil private key", crypto.ErrInvalidKey)
	}
	pub, err := key.PublicKey()
	if err != nil {
		return err
	}

	sk := storedKey{Version: storedKeyVersion, PublicKey: pub.String()}
	if len(passphrase) == 0 {
		sk.Protection = protectionNone
		sk.Key = base64.StdEncoding.EncodeToString(key[:])
	} else {
		wrapped, err := crypto.WrapPrivateKey(key, passphrase, wrapAAD(account), m.kdf)
		if err != nil {
			return err
		}
		sk.Protection = protectionArgon2id
		sk.Wrapped = wrapped
	}

	data, err := json.Marshal(sk)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, account, data); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"account":    account,
		"protection": sk.Protection,
	}).Info("Stored private key")
	return nil
}

func (m *Manager) load(ctx context.Context, account string) (*storedKey, error) {
	data, err := m.store.Get(ctx, account)
	if errors.Is(err, ErrNotFound) {
		return nil, crypto.ErrKeyAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	var sk storedKey
	if err := json.Unmarshal(data, &sk); err != nil || sk.Version != storedKeyVersion {
		return nil, fmt.Errorf("%w: unreadable stored key", crypto.ErrInvalidKey)
	}
	return &sk, nil
}

// LoadPrivateKey returns the stored key for account. It returns
// crypto.ErrKeyAbsent when nothing is stored, crypto.ErrPassphraseRequired
// when the key is protected and no passphrase was given, and
// crypto.ErrWrongPassphrase when the passphrase does not unwrap it. A
// passphrase supplied for an unprotected key is ignored.
func (m *Manager) LoadPrivateKey(ctx context.Context, account string, passphrase []byte) (*crypto.PrivateKey, error) {
	sk, err := m.load(ctx, account)
	if err != nil {
		return nil, err
	}

	switch sk.Protection {
	case protectionNone:
		raw, err := base64.StdEncoding.DecodeString(sk.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidKey, err)
		}
		defer crypto.Zero(raw)
		return crypto.ParsePrivateKey(raw)
	case protectionArgon2id:
		key, err := crypto.UnwrapPrivateKey(sk.Wrapped, passphrase, wrapAAD(account))
		if err != nil {
			m.logger.WithField("account", account).WithError(err).Debug("Stored key did not unlock")
			return nil, err
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unknown protection %q", crypto.ErrInvalidKey, sk.Protection)
	}
}

// LoadPublicKey returns the public half of the stored key without needing
// the passphrase.
func (m *Manager) LoadPublicKey(ctx context.Context, account string) (crypto.PublicKey, error) {
	sk, err := m.load(ctx, account)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.ParsePublicKeyHex(sk.PublicKey)
}

// IsProtected reports whether the stored key needs a passphrase.
func (m *Manager) IsProtected(ctx context.Context, account string) (bool, error) {
	sk, err := m.load(ctx, account)
	if err != nil {
		return false, err
	}
	return sk.Protection != protectionNone, nil
}

// HasStoredKey reports whether a key is stored for account.
func (m *Manager) HasStoredKey(ctx context.Context, account string) (bool, error) {
	return m.store.Has(ctx, account)
}

// DeletePrivateKey irreversibly removes the stored key. Grants sealed to it
// can no longer be opened from this client.
func (m *Manager) DeletePrivateKey(ctx context.Context, account string) error {
	err := m.store.Delete(ctx, account)
	if m.audit != nil {
		m.audit.LogKey(audit.EventTypeKeyDelete, account, err == nil, err)
	}
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	m.logger.WithField("account", account).Warn("Deleted private key")
	return nil
}

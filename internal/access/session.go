package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/kenneth/chart-vault/internal/audit"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/keys"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/sirupsen/logrus"
)

// Session acts on the registry as one account, holding that account's
// private key in memory until Close.
type Session struct {
	r       *Registry
	account ledger.AccountID
	key     *crypto.PrivateKey
	pub     crypto.PublicKey
}

// Session binds key to account. The Session takes ownership of key and
// wipes it on Close.
func (r *Registry) Session(account ledger.AccountID, key *crypto.PrivateKey) (*Session, error) {
	if account == "" {
		return nil, errors.New("access: account is required")
	}
	if key == nil {
		return nil, crypto.ErrKeyAbsent
	}
	pub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	return &Session{r: r, account: account, key: key, pub: pub}, nil
}

// Unlock loads the stored private key of account through km and opens a
// Session with it. The key manager errors pass through unchanged so callers
// can tell crypto.ErrKeyAbsent from crypto.ErrWrongPassphrase.
func (r *Registry) Unlock(ctx context.Context, km *keys.Manager, account ledger.AccountID, passphrase []byte) (*Session, error) {
	key, err := km.LoadPrivateKey(ctx, string(account), passphrase)
	if err != nil {
		if r.metrics != nil && errors.Is(err, crypto.ErrWrongPassphrase) {
			r.metrics.RecordCryptoFailure("wrong_passphrase")
		}
		return nil, err
	}
	return r.Session(account, key)
}

// Account returns the session account.
func (s *Session) Account() ledger.AccountID {
	return s.account
}

// PublicKey returns the public half of the session key.
func (s *Session) PublicKey() crypto.PublicKey {
	return s.pub
}

// Close wipes the private key.
func (s *Session) Close() {
	s.key.Wipe()
}

// PublishKey registers the session public key as the account's encryption
// key. The ledger keeps one key per account, last write wins; grants sealed
// to a replaced key stay sealed to it.
func (s *Session) PublishKey(ctx context.Context) (*ledger.Receipt, error) {
	prev, ok, err := s.r.ledger.GetUserEncryptionKey(ctx, s.account)
	if err != nil {
		return nil, err
	}
	if ok && prev == s.pub {
		return &ledger.Receipt{}, nil
	}
	if ok {
		s.r.logger.WithFields(logrus.Fields{
			"account":  s.account,
			"previous": prev.String(),
		}).Warn("Replacing published encryption key, grants sealed to the old key cannot be opened with the new one")
	}
	return s.r.Submit(ctx, Submission{
		Op:     ledger.OpRegisterEncryptionKey,
		Event:  audit.EventTypeKeyPublish,
		Caller: s.account,
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return s.r.ledger.RegisterEncryptionKey(ctx, tx, s.pub)
	})
}

// KeyPublished reports whether the ledger holds this session's key for the
// account.
func (s *Session) KeyPublished(ctx context.Context) (bool, error) {
	pub, ok, err := s.r.ledger.GetUserEncryptionKey(ctx, s.account)
	if err != nil {
		return false, fmt.Errorf("get encryption key: %w", err)
	}
	return ok && pub == s.pub, nil
}

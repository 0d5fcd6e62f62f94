// Package provider is the client side of the provider directory: accounts
// that offer readings or services announce themselves there so owners can
// find grantees.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/kenneth/chart-vault/internal/access"
	"github.com/kenneth/chart-vault/internal/audit"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/sirupsen/logrus"
)

// MaxScore is the highest rating a provider can receive.
const MaxScore = 100

var (
	// ErrKeyNotPublished is returned by Register when the account has not
	// published its encryption key yet.
	ErrKeyNotPublished = errors.New("provider: encryption key not published")

	// ErrScoreOutOfRange is returned for ratings above MaxScore.
	ErrScoreOutOfRange = errors.New("provider: score out of range")
)

// Directory registers, updates and looks up provider profiles.
// Unregistering or deactivating a provider never touches its grants.
type Directory struct {
	reg    *access.Registry
	ledger ledger.Reader
	logger *logrus.Logger
}

// NewDirectory returns a Directory that submits through reg.
func NewDirectory(reg *access.Registry, logger *logrus.Logger) *Directory {
	if logger == nil {
		logger = logrus.New()
	}
	return &Directory{reg: reg, ledger: reg.Ledger(), logger: logger}
}

// Register creates or overwrites the profile of the session account. A zero
// pub registers the session's own key. The account must have published its
// encryption key first.
func (d *Directory) Register(ctx context.Context, s *access.Session, t ledger.ProviderType, pub crypto.PublicKey) (*ledger.Receipt, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("provider: invalid type %s", t)
	}
	if pub.IsZero() {
		pub = s.PublicKey()
	}
	if _, ok, err := d.ledger.GetUserEncryptionKey(ctx, s.Account()); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotPublished, s.Account())
	}
	if t.RequiresCertification() {
		d.logger.WithFields(logrus.Fields{
			"account": s.Account(),
			"type":    t.String(),
		}).Info("Registering provider type that expects certification")
	}
	return d.submit(ctx, s, ledger.OpRegisterProvider, map[string]interface{}{"type": t.String()},
		func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
			return d.reg.Ledger().RegisterProvider(ctx, tx, t, pub)
		})
}

// SetActive toggles whether the session account is discoverable.
func (d *Directory) SetActive(ctx context.Context, s *access.Session, active bool) (*ledger.Receipt, error) {
	return d.submit(ctx, s, ledger.OpSetProviderActive, map[string]interface{}{"active": active},
		func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
			return d.reg.Ledger().SetProviderActive(ctx, tx, active)
		})
}

// Unregister removes the session account's profile.
func (d *Directory) Unregister(ctx context.Context, s *access.Session) (*ledger.Receipt, error) {
	return d.submit(ctx, s, ledger.OpUnregisterProvider, nil,
		func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
			return d.reg.Ledger().UnregisterProvider(ctx, tx)
		})
}

// Rate folds score into the reputation of a provider that the session
// account currently grants access to record id.
func (d *Directory) Rate(ctx context.Context, s *access.Session, id ledger.RecordID, provider ledger.AccountID, score uint8) (*ledger.Receipt, error) {
	if score > MaxScore {
		return nil, fmt.Errorf("%w: %d", ErrScoreOutOfRange, score)
	}
	return d.reg.Submit(ctx, access.Submission{
		Op:       ledger.OpRateProvider,
		Event:    audit.EventTypeProvider,
		Caller:   s.Account(),
		RecordID: id,
		Grantee:  provider,
		Metadata: map[string]interface{}{"op": ledger.OpRateProvider, "score": score},
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return d.reg.Ledger().RateProvider(ctx, tx, id, provider, score)
	})
}

func (d *Directory) submit(ctx context.Context, s *access.Session, op string, meta map[string]interface{}, fn func(context.Context, ledger.Tx) (*ledger.Receipt, error)) (*ledger.Receipt, error) {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["op"] = op
	return d.reg.Submit(ctx, access.Submission{
		Op:       op,
		Event:    audit.EventTypeProvider,
		Caller:   s.Account(),
		Metadata: meta,
	}, fn)
}

// Get returns the profile of account, or ok=false when it is not
// registered.
func (d *Directory) Get(ctx context.Context, account ledger.AccountID) (*ledger.ProviderProfile, bool, error) {
	return d.ledger.GetProvider(ctx, account)
}

// ListByType lists the active providers of type t.
func (d *Directory) ListByType(ctx context.Context, t ledger.ProviderType) ([]ledger.AccountID, error) {
	return d.ledger.GetProvidersByType(ctx, t)
}

// Browse returns the active profiles of type t, best reputation first.
func (d *Directory) Browse(ctx context.Context, t ledger.ProviderType) ([]*ledger.ProviderProfile, error) {
	accounts, err := d.ledger.GetProvidersByType(ctx, t)
	if err != nil {
		return nil, err
	}
	profiles := make([]*ledger.ProviderProfile, 0, len(accounts))
	for _, a := range accounts {
		p, ok, err := d.ledger.GetProvider(ctx, a)
		if err != nil {
			return nil, err
		}
		if ok && p.Active {
			profiles = append(profiles, p)
		}
	}
	sortByReputation(profiles)
	return profiles, nil
}

// Grants lists the records on which account currently holds a grant.
func (d *Directory) Grants(ctx context.Context, account ledger.AccountID) ([]ledger.RecordID, error) {
	return d.ledger.GetProviderGrants(ctx, account)
}

package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxGrants is the per-record cap on non-owner grants.
	DefaultMaxGrants = 10

	// DefaultReputation is shown for a provider nobody has rated yet. It is
	// not a sample: the first rating replaces it.
	DefaultReputation = 50
)

type record struct {
	id           RecordID
	owner        AccountID
	mode         PrivacyMode
	disclosedKey []byte
	createdAt    Height
	updatedAt    Height
	payload      Payload
	publicIndex  PublicIndex
	// grants holds one entry per grantee, the owner included. Revoked
	// entries are removed; expired ones stay until replaced.
	grants map[AccountID]*Grant
}

// Memory is an in-process reference ledger. Every transaction is applied
// under one lock and advances the height by one.
type Memory struct {
	mu         sync.RWMutex
	height     Height
	nextRecord RecordID
	maxGrants  int
	keys       map[AccountID]crypto.PublicKey
	records    map[RecordID]*record
	providers  map[AccountID]*ProviderProfile
	receipts   map[string]*Receipt
	logger     *logrus.Logger
}

// MemoryOption configures a Memory ledger.
type MemoryOption func(*Memory)

// WithMaxGrants overrides DefaultMaxGrants.
func WithMaxGrants(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxGrants = n
		}
	}
}

// WithLogger sets the logger used for confirmations.
func WithLogger(l *logrus.Logger) MemoryOption {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMemory returns an empty ledger at height 1.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		height:     1,
		nextRecord: 1,
		maxGrants:  DefaultMaxGrants,
		keys:       make(map[AccountID]crypto.PublicKey),
		records:    make(map[RecordID]*record),
		providers:  make(map[AccountID]*ProviderProfile),
		receipts:   make(map[string]*Receipt),
		logger:     logrus.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Advance moves the height forward by n blocks without transactions.
func (m *Memory) Advance(n Height) Height {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height += n
	return m.height
}

// MaxGrants returns the configured cap.
func (m *Memory) MaxGrants() int {
	return m.maxGrants
}

// submit confirms one transaction. apply runs under the write lock with the
// height the transaction will be confirmed at; it must validate everything
// before mutating state, so a rejection leaves state untouched.
func (m *Memory) submit(ctx context.Context, op string, tx Tx, apply func(next Height) (*Receipt, error)) (*Receipt, error) {
	if tx.ID == "" || tx.Caller == "" {
		return nil, reject(op, CodeInvalidArgument, "transaction id and caller are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.receipts[tx.ID]; ok {
		return copyReceipt(r), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next := m.height + 1
	r, err := apply(next)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"op":     op,
			"tx_id":  tx.ID,
			"caller": tx.Caller,
		}).WithError(err).Debug("Transaction rejected")
		return nil, err
	}
	if r == nil {
		r = &Receipt{}
	}
	r.TxID = tx.ID
	r.Height = next
	m.height = next
	m.receipts[tx.ID] = r

	m.logger.WithFields(logrus.Fields{
		"op":     op,
		"tx_id":  tx.ID,
		"caller": tx.Caller,
		"height": next,
	}).Debug("Transaction confirmed")
	return copyReceipt(r), nil
}

func copyReceipt(r *Receipt) *Receipt {
	c := *r
	if r.Revoked != nil {
		c.Revoked = append([]AccountID(nil), r.Revoked...)
	}
	return &c
}

func (m *Memory) ownedRecord(op string, caller AccountID, id RecordID) (*record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, reject(op, CodeRecordNotFound, "record %d", id)
	}
	if rec.owner != caller {
		return nil, reject(op, CodeNotOwner, "record %d", id)
	}
	return rec, nil
}

// serves reports whether g is usable at height h. A private record serves
// only its owner's entry.
func (r *record) serves(g *Grant, h Height) bool {
	return g.ActiveAt(h) && (g.Role == RoleOwner || r.mode.ServesGrants())
}

func (m *Memory) activeNonOwner(rec *record, h Height) int {
	n := 0
	for _, g := range rec.grants {
		if g.Role != RoleOwner && g.ActiveAt(h) {
			n++
		}
	}
	return n
}

func (m *Memory) RegisterEncryptionKey(ctx context.Context, tx Tx, pub crypto.PublicKey) (*Receipt, error) {
	const op = "registerEncryptionKey"
	return m.submit(ctx, op, tx, func(Height) (*Receipt, error) {
		if pub.IsZero() {
			return nil, reject(op, CodeInvalidArgument, "public key is zero")
		}
		m.keys[tx.Caller] = pub
		return nil, nil
	})
}

func (m *Memory) CreateEncryptedRecord(ctx context.Context, tx Tx, req CreateRecordRequest) (*Receipt, error) {
	const op = "createEncryptedRecord"
	return m.submit(ctx, op, tx, func(next Height) (*Receipt, error) {
		if _, ok := m.keys[tx.Caller]; !ok {
			return nil, reject(op, CodeKeyNotRegistered, "caller has no encryption key")
		}
		if err := validatePayload(op, &req.Payload); err != nil {
			return nil, err
		}
		if err := req.PublicIndex.Validate(); err != nil {
			return nil, reject(op, CodeInvalidArgument, "%v", err)
		}
		if len(req.OwnerSealedKey) != crypto.SealedKeySize {
			return nil, reject(op, CodeInvalidArgument, "owner sealed key must be %d bytes", crypto.SealedKeySize)
		}
		if err := validateDisclosure(op, req.Mode, req.DisclosedKey); err != nil {
			return nil, err
		}

		id := m.nextRecord
		m.nextRecord++
		m.records[id] = &record{
			id:           id,
			owner:        tx.Caller,
			mode:         req.Mode,
			disclosedKey: cloneBytes(req.DisclosedKey),
			createdAt:    next,
			updatedAt:    next,
			payload:      clonePayload(req.Payload),
			publicIndex:  cloneIndex(req.PublicIndex),
			grants: map[AccountID]*Grant{
				tx.Caller: {
					RecordID:  id,
					Grantee:   tx.Caller,
					Role:      RoleOwner,
					Scope:     ScopeFullAccess,
					SealedKey: append([]byte(nil), req.OwnerSealedKey...),
					GrantedAt: next,
				},
			},
		}
		return &Receipt{RecordID: id}, nil
	})
}

func validatePayload(op string, p *Payload) error {
	if p.Algorithm == "" || len(p.Nonce) == 0 {
		return reject(op, CodeInvalidArgument, "payload algorithm and nonce are required")
	}
	if (len(p.Data) == 0) == (p.ContentID == "") {
		return reject(op, CodeInvalidArgument, "payload needs exactly one of data or content id")
	}
	return nil
}

// validateDisclosure requires a DataKey-sized disclosed key exactly when
// mode is public.
func validateDisclosure(op string, mode PrivacyMode, key []byte) error {
	switch {
	case !mode.Valid():
		return reject(op, CodeInvalidArgument, "invalid privacy mode")
	case mode == PrivacyPublic && len(key) != crypto.DataKeySize:
		return reject(op, CodeInvalidArgument, "public records must disclose a %d byte data key", crypto.DataKeySize)
	case mode != PrivacyPublic && len(key) != 0:
		return reject(op, CodeInvalidArgument, "only public records disclose their data key")
	}
	return nil
}

// ChangePrivacyMode switches a record between privacy modes. Leaving
// PrivacyPublic drops the disclosed key; anyone who read it meanwhile keeps
// it, as with a revoked grant.
func (m *Memory) ChangePrivacyMode(ctx context.Context, tx Tx, req PrivacyRequest) (*Receipt, error) {
	const op = "changePrivacyMode"
	return m.submit(ctx, op, tx, func(next Height) (*Receipt, error) {
		rec, err := m.ownedRecord(op, tx.Caller, req.RecordID)
		if err != nil {
			return nil, err
		}
		if err := validateDisclosure(op, req.Mode, req.DisclosedKey); err != nil {
			return nil, err
		}
		rec.mode = req.Mode
		rec.disclosedKey = cloneBytes(req.DisclosedKey)
		rec.updatedAt = next
		return &Receipt{RecordID: rec.id}, nil
	})
}

func (m *Memory) DeleteEncryptedRecord(ctx context.Context, tx Tx, id RecordID) (*Receipt, error) {
	const op = "deleteEncryptedRecord"
	return m.submit(ctx, op, tx, func(Height) (*Receipt, error) {
		rec, err := m.ownedRecord(op, tx.Caller, id)
		if err != nil {
			return nil, err
		}
		revoked := make([]AccountID, 0, len(rec.grants))
		for a, g := range rec.grants {
			if g.Role != RoleOwner {
				revoked = append(revoked, a)
			}
		}
		sortAccounts(revoked)
		delete(m.records, id)
		return &Receipt{RecordID: id, Revoked: revoked}, nil
	})
}

// GrantChartAccess creates a grant. An existing expired grant for the same
// grantee is replaced; an active one is rejected.
func (m *Memory) GrantChartAccess(ctx context.Context, tx Tx, req GrantRequest) (*Receipt, error) {
	const op = "grantChartAccess"
	return m.submit(ctx, op, tx, func(next Height) (*Receipt, error) {
		rec, err := m.ownedRecord(op, tx.Caller, req.RecordID)
		if err != nil {
			return nil, err
		}
		switch {
		case !req.Role.Valid() || !req.Scope.Valid():
			return nil, reject(op, CodeInvalidArgument, "invalid role or scope")
		case req.Role == RoleOwner || req.Grantee == rec.owner:
			return nil, reject(op, CodeInvalidArgument, "owner access is implicit")
		case req.Grantee == "":
			return nil, reject(op, CodeInvalidArgument, "grantee is required")
		case len(req.SealedKey) != crypto.SealedKeySize:
			return nil, reject(op, CodeInvalidArgument, "sealed key must be %d bytes", crypto.SealedKeySize)
		case req.ExpiresAt != 0 && req.ExpiresAt <= next:
			return nil, reject(op, CodeInvalidArgument, "expiry %d is not after height %d", req.ExpiresAt, next)
		case !rec.mode.ServesGrants():
			return nil, reject(op, CodeRecordPrivate, "record %d", rec.id)
		}
		if _, ok := m.keys[req.Grantee]; !ok {
			return nil, reject(op, CodeGranteeKeyMissing, "grantee %s", req.Grantee)
		}
		if g, ok := rec.grants[req.Grantee]; ok && g.ActiveAt(next) {
			return nil, reject(op, CodeGrantExists, "grantee %s", req.Grantee)
		}
		if m.activeNonOwner(rec, next) >= m.maxGrants {
			return nil, reject(op, CodeGrantCapExceeded, "record %d has %d grants", rec.id, m.maxGrants)
		}

		rec.grants[req.Grantee] = &Grant{
			RecordID:  rec.id,
			Grantee:   req.Grantee,
			Role:      req.Role,
			Scope:     req.Scope,
			SealedKey: append([]byte(nil), req.SealedKey...),
			GrantedAt: next,
			ExpiresAt: req.ExpiresAt,
		}
		return &Receipt{RecordID: rec.id}, nil
	})
}

func (m *Memory) RevokeChartAccess(ctx context.Context, tx Tx, id RecordID, grantee AccountID) (*Receipt, error) {
	const op = "revokeChartAccess"
	return m.submit(ctx, op, tx, func(Height) (*Receipt, error) {
		rec, err := m.ownedRecord(op, tx.Caller, id)
		if err != nil {
			return nil, err
		}
		g, ok := rec.grants[grantee]
		if !ok {
			return nil, reject(op, CodeGrantNotFound, "grantee %s", grantee)
		}
		if !g.Role.Revocable() {
			return nil, reject(op, CodeOwnerNotRevocable, "record %d", id)
		}
		delete(rec.grants, grantee)
		return &Receipt{RecordID: id, Revoked: []AccountID{grantee}}, nil
	})
}

// RevokeAllChartAccess removes every non-owner grant in one transaction.
func (m *Memory) RevokeAllChartAccess(ctx context.Context, tx Tx, id RecordID) (*Receipt, error) {
	const op = "revokeAllChartAccess"
	return m.submit(ctx, op, tx, func(Height) (*Receipt, error) {
		rec, err := m.ownedRecord(op, tx.Caller, id)
		if err != nil {
			return nil, err
		}
		revoked := make([]AccountID, 0, len(rec.grants))
		for a, g := range rec.grants {
			if g.Role.Revocable() {
				revoked = append(revoked, a)
			}
		}
		for _, a := range revoked {
			delete(rec.grants, a)
		}
		sortAccounts(revoked)
		return &Receipt{RecordID: id, Revoked: revoked}, nil
	})
}

func (m *Memory) UpdateChartAccessScope(ctx context.Context, tx Tx, id RecordID, grantee AccountID, scope Scope) (*Receipt, error) {
	const op = "updateChartAccessScope"
	return m.submit(ctx, op, tx, func(next Height) (*Receipt, error) {
		rec, err := m.ownedRecord(op, tx.Caller, id)
		if err != nil {
			return nil, err
		}
		if !scope.Valid() {
			return nil, reject(op, CodeInvalidArgument, "invalid scope")
		}
		g, ok := rec.grants[grantee]
		if !ok || !g.ActiveAt(next) {
			return nil, reject(op, CodeGrantNotFound, "grantee %s", grantee)
		}
		if !g.Role.Revocable() {
			return nil, reject(op, CodeOwnerNotRevocable, "owner scope is fixed")
		}
		g.Scope = scope
		return &Receipt{RecordID: id}, nil
	})
}

func (m *Memory) RegisterProvider(ctx context.Context, tx Tx, t ProviderType, pub crypto.PublicKey) (*Receipt, error) {
	const op = "registerProvider"
	return m.submit(ctx, op, tx, func(next Height) (*Receipt, error) {
		if !t.Valid() {
			return nil, reject(op, CodeInvalidArgument, "invalid provider type")
		}
		if pub.IsZero() {
			return nil, reject(op, CodeInvalidArgument, "public key is zero")
		}
		if _, ok := m.keys[tx.Caller]; !ok {
			return nil, reject(op, CodeKeyNotRegistered, "caller has no encryption key")
		}
		if p, ok := m.providers[tx.Caller]; ok {
			p.Type = t
			p.PublicKey = pub
			p.Active = true
			return nil, nil
		}
		m.providers[tx.Caller] = &ProviderProfile{
			Account:      tx.Caller,
			Type:         t,
			PublicKey:    pub,
			Reputation:   DefaultReputation,
			Active:       true,
			RegisteredAt: next,
		}
		return nil, nil
	})
}

func (m *Memory) SetProviderActive(ctx context.Context, tx Tx, active bool) (*Receipt, error) {
	const op = "setProviderActive"
	return m.submit(ctx, op, tx, func(Height) (*Receipt, error) {
		p, ok := m.providers[tx.Caller]
		if !ok {
			return nil, reject(op, CodeProviderNotFound, "%s", tx.Caller)
		}
		p.Active = active
		return nil, nil
	})
}

func (m *Memory) UnregisterProvider(ctx context.Context, tx Tx) (*Receipt, error) {
	const op = "unregisterProvider"
	return m.submit(ctx, op, tx, func(Height) (*Receipt, error) {
		if _, ok := m.providers[tx.Caller]; !ok {
			return nil, reject(op, CodeProviderNotFound, "%s", tx.Caller)
		}
		delete(m.providers, tx.Caller)
		return nil, nil
	})
}

// RateProvider folds score into the provider's reputation, the running mean
// of every score it has received.
// Only the owner of a record that currently grants the provider may rate.
func (m *Memory) RateProvider(ctx context.Context, tx Tx, id RecordID, provider AccountID, score uint8) (*Receipt, error) {
	const op = "rateProvider"
	return m.submit(ctx, op, tx, func(next Height) (*Receipt, error) {
		if score > 100 {
			return nil, reject(op, CodeInvalidArgument, "score %d exceeds 100", score)
		}
		rec, err := m.ownedRecord(op, tx.Caller, id)
		if err != nil {
			return nil, err
		}
		p, ok := m.providers[provider]
		if !ok {
			return nil, reject(op, CodeProviderNotFound, "%s", provider)
		}
		g, ok := rec.grants[provider]
		if !ok || !rec.serves(g, next) || g.Role == RoleOwner {
			return nil, reject(op, CodeGrantNotFound, "provider %s holds no grant on record %d", provider, id)
		}
		total := uint64(p.Reputation)*p.CompletedServices + uint64(score)
		p.CompletedServices++
		p.Reputation = uint8(total / p.CompletedServices)
		return &Receipt{RecordID: id}, nil
	})
}

func (m *Memory) Height(ctx context.Context) (Height, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height, nil
}

func (m *Memory) GetUserEncryptionKey(ctx context.Context, account AccountID) (crypto.PublicKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pub, ok := m.keys[account]
	return pub, ok, nil
}

func (m *Memory) GetEncryptedRecordInfo(ctx context.Context, id RecordID) (*RecordInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, reject("getEncryptedRecordInfo", CodeRecordNotFound, "record %d", id)
	}
	accounts := make([]AccountID, 0, len(rec.grants))
	for a, g := range rec.grants {
		if g.Role != RoleOwner && rec.serves(g, m.height) {
			accounts = append(accounts, a)
		}
	}
	sortAccounts(accounts)
	return &RecordInfo{
		ID:            rec.id,
		Owner:         rec.owner,
		Mode:          rec.mode,
		GrantAccounts: accounts,
		CreatedAt:     rec.createdAt,
		UpdatedAt:     rec.updatedAt,
		Payload:       clonePayload(rec.payload),
		PublicIndex:   cloneIndex(rec.publicIndex),
		DisclosedKey:  cloneBytes(rec.disclosedKey),
	}, nil
}

// GetGrantInfo lists active grants, owner first and the rest by grant
// height then account.
func (m *Memory) GetGrantInfo(ctx context.Context, id RecordID) (*GrantInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, reject("getGrantInfo", CodeRecordNotFound, "record %d", id)
	}
	grants := make([]Grant, 0, len(rec.grants))
	for _, g := range rec.grants {
		if !rec.serves(g, m.height) {
			continue
		}
		c := *g
		c.SealedKey = nil
		grants = append(grants, c)
	}
	sort.Slice(grants, func(i, j int) bool {
		a, b := grants[i], grants[j]
		if (a.Role == RoleOwner) != (b.Role == RoleOwner) {
			return a.Role == RoleOwner
		}
		if a.GrantedAt != b.GrantedAt {
			return a.GrantedAt < b.GrantedAt
		}
		return a.Grantee < b.Grantee
	})
	return &GrantInfo{
		RecordID:    rec.id,
		Owner:       rec.owner,
		Mode:        rec.mode,
		Height:      m.height,
		Grants:      grants,
		PublicIndex: cloneIndex(rec.publicIndex),
	}, nil
}

func (m *Memory) GetGrantEntry(ctx context.Context, id RecordID, grantee AccountID) (*Grant, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, false, reject("getGrantEntry", CodeRecordNotFound, "record %d", id)
	}
	g, ok := rec.grants[grantee]
	if !ok || !rec.serves(g, m.height) {
		return nil, false, nil
	}
	c := *g
	c.SealedKey = append([]byte(nil), g.SealedKey...)
	return &c, true, nil
}

func (m *Memory) GetOwnerRecords(ctx context.Context, owner AccountID) ([]RecordID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []RecordID
	for id, rec := range m.records {
		if rec.owner == owner {
			ids = append(ids, id)
		}
	}
	sortRecords(ids)
	return ids, nil
}

// GetProvidersByType lists active providers of type t.
func (m *Memory) GetProvidersByType(ctx context.Context, t ProviderType) ([]AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AccountID
	for a, p := range m.providers {
		if p.Type == t && p.Active {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (m *Memory) GetProvider(ctx context.Context, account AccountID) (*ProviderProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[account]
	if !ok {
		return nil, false, nil
	}
	c := *p
	return &c, true, nil
}

// GetProviderGrants lists records on which account holds an active grant.
// It does not require a provider profile.
func (m *Memory) GetProviderGrants(ctx context.Context, account AccountID) ([]RecordID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []RecordID
	for id, rec := range m.records {
		if g, ok := rec.grants[account]; ok && g.Role != RoleOwner && rec.serves(g, m.height) {
			ids = append(ids, id)
		}
	}
	sortRecords(ids)
	return ids, nil
}

func clonePayload(p Payload) Payload {
	p.Nonce = append([]byte(nil), p.Nonce...)
	if p.Data != nil {
		p.Data = append([]byte(nil), p.Data...)
	}
	return p
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneIndex(p PublicIndex) PublicIndex {
	out := make(PublicIndex, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func sortAccounts(a []AccountID) {
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
}

func sortRecords(ids []RecordID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

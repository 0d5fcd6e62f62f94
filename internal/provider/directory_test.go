package provider

import (
	"context"
	"io"
	"testing"

	"github.com/kenneth/chart-vault/internal/access"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t   *testing.T
	ctx context.Context
	mem *ledger.Memory
	reg *access.Registry
	dir *Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mem := ledger.NewMemory(ledger.WithLogger(logger))
	reg, err := access.NewRegistry(access.Options{Ledger: mem, Logger: logger})
	require.NoError(t, err)
	return &fixture{t: t, ctx: context.Background(), mem: mem, reg: reg, dir: NewDirectory(reg, logger)}
}

func (f *fixture) session(account ledger.AccountID, publish bool) *access.Session {
	f.t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(f.t, err)
	s, err := f.reg.Session(account, &kp.Private)
	require.NoError(f.t, err)
	if publish {
		_, err = s.PublishKey(f.ctx)
		require.NoError(f.t, err)
	}
	return s
}

func TestRegister_RequiresPublishedKey(t *testing.T) {
	f := newFixture(t)
	s := f.session("reader", false)

	_, err := f.dir.Register(f.ctx, s, ledger.ProviderMaster, crypto.PublicKey{})
	require.ErrorIs(t, err, ErrKeyNotPublished)

	_, ok, err := f.dir.Get(f.ctx, "reader")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegister_Lifecycle(t *testing.T) {
	f := newFixture(t)
	s := f.session("reader", true)

	rcpt, err := f.dir.Register(f.ctx, s, ledger.ProviderMaster, crypto.PublicKey{})
	require.NoError(t, err)

	p, ok, err := f.dir.Get(f.ctx, "reader")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.ProviderMaster, p.Type)
	assert.Equal(t, s.PublicKey(), p.PublicKey)
	assert.Equal(t, uint8(ledger.DefaultReputation), p.Reputation)
	assert.True(t, p.Active)
	assert.Equal(t, rcpt.Height, p.RegisteredAt)

	list, err := f.dir.ListByType(f.ctx, ledger.ProviderMaster)
	require.NoError(t, err)
	assert.Equal(t, []ledger.AccountID{"reader"}, list)

	_, err = f.dir.SetActive(f.ctx, s, false)
	require.NoError(t, err)
	list, err = f.dir.ListByType(f.ctx, ledger.ProviderMaster)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Re-registering with a new key keeps the registration height.
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, err = f.dir.Register(f.ctx, s, ledger.ProviderResearch, other.Public)
	require.NoError(t, err)
	p, _, err = f.dir.Get(f.ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, ledger.ProviderResearch, p.Type)
	assert.Equal(t, other.Public, p.PublicKey)
	assert.Equal(t, rcpt.Height, p.RegisteredAt)
	assert.True(t, p.Active)

	_, err = f.dir.Unregister(f.ctx, s)
	require.NoError(t, err)
	_, ok, err = f.dir.Get(f.ctx, "reader")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.dir.Unregister(f.ctx, s)
	assert.True(t, ledger.IsCode(err, ledger.CodeProviderNotFound))
}

func TestUnregister_KeepsGrants(t *testing.T) {
	f := newFixture(t)
	owner := f.session("owner", true)
	reader := f.session("reader", true)
	_, err := f.dir.Register(f.ctx, reader, ledger.ProviderAiService, crypto.PublicKey{})
	require.NoError(t, err)

	rcpt, err := owner.CreateRecord(f.ctx, []byte("chart"), nil)
	require.NoError(t, err)
	_, err = owner.Grant(f.ctx, access.GrantSpec{RecordID: rcpt.RecordID, Grantee: "reader", Role: ledger.RoleAiService, Scope: ledger.ScopeReadOnly})
	require.NoError(t, err)

	_, err = f.dir.Unregister(f.ctx, reader)
	require.NoError(t, err)

	grants, err := f.dir.Grants(f.ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, []ledger.RecordID{rcpt.RecordID}, grants)

	rec, err := reader.Open(f.ctx, rcpt.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "chart", string(rec.Plaintext))
}

func TestRate(t *testing.T) {
	f := newFixture(t)
	owner := f.session("owner", true)
	reader := f.session("reader", true)
	_, err := f.dir.Register(f.ctx, reader, ledger.ProviderMaster, crypto.PublicKey{})
	require.NoError(t, err)

	rcpt, err := owner.CreateRecord(f.ctx, []byte("chart"), nil)
	require.NoError(t, err)
	id := rcpt.RecordID

	_, err = f.dir.Rate(f.ctx, owner, id, "reader", 90)
	require.True(t, ledger.IsCode(err, ledger.CodeGrantNotFound))

	_, err = owner.Grant(f.ctx, access.GrantSpec{RecordID: id, Grantee: "reader", Role: ledger.RoleMaster, Scope: ledger.ScopeCanComment})
	require.NoError(t, err)

	_, err = f.dir.Rate(f.ctx, owner, id, "reader", 101)
	require.ErrorIs(t, err, ErrScoreOutOfRange)

	_, err = f.dir.Rate(f.ctx, reader, id, "reader", 100)
	require.True(t, ledger.IsCode(err, ledger.CodeNotOwner))

	_, err = f.dir.Rate(f.ctx, owner, id, "reader", 90)
	require.NoError(t, err)
	p, _, err := f.dir.Get(f.ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, uint8(90), p.Reputation)
	assert.Equal(t, uint64(1), p.CompletedServices)

	_, err = f.dir.Rate(f.ctx, owner, id, "reader", 100)
	require.NoError(t, err)
	p, _, err = f.dir.Get(f.ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, uint8(95), p.Reputation)
	assert.Equal(t, uint64(2), p.CompletedServices)
}

func TestBrowse(t *testing.T) {
	f := newFixture(t)
	owner := f.session("owner", true)
	rcpt, err := owner.CreateRecord(f.ctx, []byte("chart"), nil)
	require.NoError(t, err)

	for _, a := range []ledger.AccountID{"amy", "ben", "cid"} {
		s := f.session(a, true)
		_, err := f.dir.Register(f.ctx, s, ledger.ProviderMaster, crypto.PublicKey{})
		require.NoError(t, err)
		_, err = owner.Grant(f.ctx, access.GrantSpec{RecordID: rcpt.RecordID, Grantee: a, Role: ledger.RoleMaster, Scope: ledger.ScopeReadOnly})
		require.NoError(t, err)
		if a == "cid" {
			_, err = f.dir.SetActive(f.ctx, s, false)
			require.NoError(t, err)
		}
	}
	_, err = f.dir.Rate(f.ctx, owner, rcpt.RecordID, "ben", 100)
	require.NoError(t, err)

	profiles, err := f.dir.Browse(f.ctx, ledger.ProviderMaster)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, ledger.AccountID("ben"), profiles[0].Account)
	assert.Equal(t, ledger.AccountID("amy"), profiles[1].Account)
}

package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t   *testing.T
	ctx context.Context
	l   *Memory
}

func newFixture(t *testing.T, opts ...MemoryOption) *fixture {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return &fixture{t: t, ctx: context.Background(), l: NewMemory(append([]MemoryOption{WithLogger(logger)}, opts...)...)}
}

func (f *fixture) publish(account AccountID) crypto.PublicKey {
	f.t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(f.t, err)
	_, err = f.l.RegisterEncryptionKey(f.ctx, NewTx(account), kp.Public)
	require.NoError(f.t, err)
	return kp.Public
}

func sealed(b byte) []byte {
	s := make([]byte, crypto.SealedKeySize)
	for i := range s {
		s[i] = b
	}
	return s
}

func (f *fixture) record(owner AccountID) RecordID {
	f.t.Helper()
	r, err := f.l.CreateEncryptedRecord(f.ctx, NewTx(owner), CreateRecordRequest{
		Payload:        Payload{Algorithm: "XChaCha20-Poly1305", Nonce: []byte{1, 2, 3}, Data: []byte("ciphertext"), Size: 10},
		PublicIndex:    PublicIndex{"pillars": "3-7-1-9"},
		OwnerSealedKey: sealed(0xAA),
	})
	require.NoError(f.t, err)
	return r.RecordID
}

func (f *fixture) grant(owner AccountID, id RecordID, grantee AccountID, expires Height) (*Receipt, error) {
	return f.l.GrantChartAccess(f.ctx, NewTx(owner), GrantRequest{
		RecordID:  id,
		Grantee:   grantee,
		SealedKey: sealed(0xBB),
		Role:      RoleFamily,
		Scope:     ScopeReadOnly,
		ExpiresAt: expires,
	})
}

func TestMemory_CreateRecordHasOwnerGrant(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	id := f.record("alice")

	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, gi.Grants, 1)
	owner := gi.Grants[0]
	assert.Equal(t, AccountID("alice"), owner.Grantee)
	assert.Equal(t, RoleOwner, owner.Role)
	assert.Equal(t, ScopeFullAccess, owner.Scope)
	assert.Zero(t, owner.ExpiresAt)
	assert.Nil(t, owner.SealedKey, "grant info never carries sealed keys")
	assert.Equal(t, "3-7-1-9", gi.PublicIndex["pillars"])

	entry, ok, err := f.l.GetGrantEntry(f.ctx, id, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sealed(0xAA), entry.SealedKey)
}

func TestMemory_CreateRecordRequiresKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.l.CreateEncryptedRecord(f.ctx, NewTx("alice"), CreateRecordRequest{
		Payload:        Payload{Algorithm: "x", Nonce: []byte{1}, Data: []byte{1}},
		OwnerSealedKey: sealed(1),
	})
	assert.True(t, IsCode(err, CodeKeyNotRegistered))
	assert.ErrorIs(t, err, ErrLedgerRejected)
}

func TestMemory_CreateRecordValidatesPayload(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	tests := []struct {
		name string
		req  CreateRecordRequest
	}{
		{"no algorithm", CreateRecordRequest{Payload: Payload{Nonce: []byte{1}, Data: []byte{1}}, OwnerSealedKey: sealed(1)}},
		{"both data and cid", CreateRecordRequest{Payload: Payload{Algorithm: "a", Nonce: []byte{1}, Data: []byte{1}, ContentID: "c"}, OwnerSealedKey: sealed(1)}},
		{"neither", CreateRecordRequest{Payload: Payload{Algorithm: "a", Nonce: []byte{1}}, OwnerSealedKey: sealed(1)}},
		{"short sealed key", CreateRecordRequest{Payload: Payload{Algorithm: "a", Nonce: []byte{1}, Data: []byte{1}}, OwnerSealedKey: []byte{1}}},
		{"index not utf-8", CreateRecordRequest{Payload: Payload{Algorithm: "a", Nonce: []byte{1}, Data: []byte{1}}, PublicIndex: PublicIndex{"sun": "Le\xffo"}, OwnerSealedKey: sealed(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.l.CreateEncryptedRecord(f.ctx, NewTx("alice"), tt.req)
			assert.True(t, IsCode(err, CodeInvalidArgument), "got %v", err)
		})
	}
}

func TestMemory_CreateRecordDisclosure(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	base := func(mode PrivacyMode, key []byte) CreateRecordRequest {
		return CreateRecordRequest{
			Payload:        Payload{Algorithm: "a", Nonce: []byte{1}, Data: []byte{1}},
			OwnerSealedKey: sealed(1),
			Mode:           mode,
			DisclosedKey:   key,
		}
	}

	_, err := f.l.CreateEncryptedRecord(f.ctx, NewTx("alice"), base(PrivacyPublic, nil))
	assert.True(t, IsCode(err, CodeInvalidArgument), "public records need a disclosed key")
	_, err = f.l.CreateEncryptedRecord(f.ctx, NewTx("alice"), base(PrivacyPrivate, make([]byte, crypto.DataKeySize)))
	assert.True(t, IsCode(err, CodeInvalidArgument), "only public records disclose")
	_, err = f.l.CreateEncryptedRecord(f.ctx, NewTx("alice"), base(PrivacyMode(7), nil))
	assert.True(t, IsCode(err, CodeInvalidArgument))

	key := sealed(0x42)[:crypto.DataKeySize]
	r, err := f.l.CreateEncryptedRecord(f.ctx, NewTx("alice"), base(PrivacyPublic, key))
	require.NoError(t, err)
	info, err := f.l.GetEncryptedRecordInfo(f.ctx, r.RecordID)
	require.NoError(t, err)
	assert.Equal(t, PrivacyPublic, info.Mode)
	assert.Equal(t, key, info.DisclosedKey)
}

func TestMemory_ChangePrivacyMode(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	f.publish("carol")
	id := f.record("alice")
	_, err := f.grant("alice", id, "bob", 0)
	require.NoError(t, err)

	_, err = f.l.ChangePrivacyMode(f.ctx, NewTx("bob"), PrivacyRequest{RecordID: id, Mode: PrivacyPrivate})
	assert.True(t, IsCode(err, CodeNotOwner))
	_, err = f.l.ChangePrivacyMode(f.ctx, NewTx("alice"), PrivacyRequest{RecordID: 99, Mode: PrivacyPrivate})
	assert.True(t, IsCode(err, CodeRecordNotFound))

	rcpt, err := f.l.ChangePrivacyMode(f.ctx, NewTx("alice"), PrivacyRequest{RecordID: id, Mode: PrivacyPrivate})
	require.NoError(t, err)

	// Private: the owner entry stays, bob's grant is suspended and no new
	// grant is accepted.
	_, ok, err := f.l.GetGrantEntry(f.ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = f.l.GetGrantEntry(f.ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PrivacyPrivate, gi.Mode)
	assert.False(t, gi.Has("bob"))
	ids, err := f.l.GetProviderGrants(f.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, err = f.grant("alice", id, "carol", 0)
	assert.True(t, IsCode(err, CodeRecordPrivate))
	info, err := f.l.GetEncryptedRecordInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rcpt.Height, info.UpdatedAt)
	assert.Empty(t, info.GrantAccounts)

	// Back to authorized: bob's grant is served again.
	_, err = f.l.ChangePrivacyMode(f.ctx, NewTx("alice"), PrivacyRequest{RecordID: id, Mode: PrivacyAuthorized})
	require.NoError(t, err)
	_, ok, err = f.l.GetGrantEntry(f.ctx, id, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	// Leaving public drops the disclosed key.
	key := sealed(0x42)[:crypto.DataKeySize]
	_, err = f.l.ChangePrivacyMode(f.ctx, NewTx("alice"), PrivacyRequest{RecordID: id, Mode: PrivacyPublic})
	assert.True(t, IsCode(err, CodeInvalidArgument))
	_, err = f.l.ChangePrivacyMode(f.ctx, NewTx("alice"), PrivacyRequest{RecordID: id, Mode: PrivacyPublic, DisclosedKey: key})
	require.NoError(t, err)
	info, err = f.l.GetEncryptedRecordInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, key, info.DisclosedKey)
	_, err = f.l.ChangePrivacyMode(f.ctx, NewTx("alice"), PrivacyRequest{RecordID: id, Mode: PrivacyAuthorized})
	require.NoError(t, err)
	info, err = f.l.GetEncryptedRecordInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Nil(t, info.DisclosedKey)
}

func TestMemory_GrantRequiresGranteeKey(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	id := f.record("alice")
	before, _ := f.l.Height(f.ctx)

	_, err := f.grant("alice", id, "bob", 0)
	assert.True(t, IsCode(err, CodeGranteeKeyMissing))

	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, gi.Has("bob"))
	after, _ := f.l.Height(f.ctx)
	assert.Equal(t, before, after, "rejected transactions are not confirmed")
}

func TestMemory_GrantOnlyByOwner(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	f.publish("mallory")
	id := f.record("alice")

	_, err := f.grant("mallory", id, "bob", 0)
	assert.True(t, IsCode(err, CodeNotOwner))

	_, err = f.grant("alice", 99, "bob", 0)
	assert.True(t, IsCode(err, CodeRecordNotFound))
}

func TestMemory_GrantRejectsOwnerRoleAndDuplicates(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")

	_, err := f.l.GrantChartAccess(f.ctx, NewTx("alice"), GrantRequest{
		RecordID: id, Grantee: "bob", SealedKey: sealed(1), Role: RoleOwner, Scope: ScopeFullAccess,
	})
	assert.True(t, IsCode(err, CodeInvalidArgument))

	_, err = f.grant("alice", id, "alice", 0)
	assert.True(t, IsCode(err, CodeInvalidArgument))

	_, err = f.grant("alice", id, "bob", 0)
	require.NoError(t, err)
	_, err = f.grant("alice", id, "bob", 0)
	assert.True(t, IsCode(err, CodeGrantExists))
}

func TestMemory_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")

	h, _ := f.l.Height(f.ctx)
	expires := h + 5
	_, err := f.grant("alice", id, "bob", expires)
	require.NoError(t, err)

	// Move to expires-1: still active.
	h, _ = f.l.Height(f.ctx)
	f.l.Advance(expires - 1 - h)
	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, expires-1, gi.Height)
	assert.True(t, gi.Has("bob"))
	_, ok, err := f.l.GetGrantEntry(f.ctx, id, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	// At expires: inactive, without any revoke.
	f.l.Advance(1)
	gi, err = f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, gi.Has("bob"))
	_, ok, err = f.l.GetGrantEntry(f.ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	f.l.Advance(100)
	gi, err = f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, gi.Has("bob"))

	// A fresh grant for the same pair replaces the expired entry.
	_, err = f.grant("alice", id, "bob", 0)
	require.NoError(t, err)
	gi, err = f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, gi.Has("bob"))
}

func TestMemory_GrantRejectsPastExpiry(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")
	h, _ := f.l.Height(f.ctx)

	_, err := f.grant("alice", id, "bob", h)
	assert.True(t, IsCode(err, CodeInvalidArgument))
	_, err = f.grant("alice", id, "bob", h+1)
	assert.True(t, IsCode(err, CodeInvalidArgument), "expiry equal to confirmation height is already expired")
}

func TestMemory_GrantCap(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	id := f.record("alice")

	for i := 0; i < DefaultMaxGrants; i++ {
		grantee := AccountID(fmt.Sprintf("g%02d", i))
		f.publish(grantee)
		_, err := f.grant("alice", id, grantee, 0)
		require.NoError(t, err)
	}

	f.publish("eleventh")
	before, _ := f.l.Height(f.ctx)
	_, err := f.grant("alice", id, "eleventh", 0)
	assert.True(t, IsCode(err, CodeGrantCapExceeded))

	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxGrants, gi.NonOwnerCount())
	assert.False(t, gi.Has("eleventh"))
	after, _ := f.l.Height(f.ctx)
	assert.Equal(t, before, after)
}

func TestMemory_ExpiredGrantsDoNotCountTowardCap(t *testing.T) {
	f := newFixture(t, WithMaxGrants(2))
	f.publish("alice")
	for _, a := range []AccountID{"a", "b", "c"} {
		f.publish(a)
	}
	id := f.record("alice")
	h, _ := f.l.Height(f.ctx)

	_, err := f.grant("alice", id, "a", h+3)
	require.NoError(t, err)
	_, err = f.grant("alice", id, "b", 0)
	require.NoError(t, err)
	_, err = f.grant("alice", id, "c", 0)
	require.True(t, IsCode(err, CodeGrantCapExceeded))

	f.l.Advance(5)
	_, err = f.grant("alice", id, "c", 0)
	require.NoError(t, err)
}

func TestMemory_ConcurrentGrantsNeverOvershootCap(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	id := f.record("alice")

	const attempts = 25
	for i := 0; i < attempts; i++ {
		f.publish(AccountID(fmt.Sprintf("p%02d", i)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, capped := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.grant("alice", id, AccountID(fmt.Sprintf("p%02d", i)), 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case IsCode(err, CodeGrantCapExceeded):
				capped++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, DefaultMaxGrants, accepted)
	assert.Equal(t, attempts-DefaultMaxGrants, capped)
	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxGrants, gi.NonOwnerCount())
}

func TestMemory_Revoke(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")
	_, err := f.grant("alice", id, "bob", 0)
	require.NoError(t, err)

	entry, ok, err := f.l.GetGrantEntry(f.ctx, id, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	r, err := f.l.RevokeChartAccess(f.ctx, NewTx("alice"), id, "bob")
	require.NoError(t, err)
	assert.Equal(t, []AccountID{"bob"}, r.Revoked)

	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, gi.Has("bob"))
	_, ok, err = f.l.GetGrantEntry(f.ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	// The copy fetched before revocation is untouched.
	assert.Equal(t, sealed(0xBB), entry.SealedKey)

	_, err = f.l.RevokeChartAccess(f.ctx, NewTx("alice"), id, "bob")
	assert.True(t, IsCode(err, CodeGrantNotFound))

	_, err = f.l.RevokeChartAccess(f.ctx, NewTx("alice"), id, "alice")
	assert.True(t, IsCode(err, CodeOwnerNotRevocable))
}

func TestMemory_RevokeAll(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	id := f.record("alice")
	for _, a := range []AccountID{"carol", "bob", "dave"} {
		f.publish(a)
		_, err := f.grant("alice", id, a, 0)
		require.NoError(t, err)
	}

	// A non-owner cannot lock the record down, and nothing changes.
	before, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	_, err = f.l.RevokeAllChartAccess(f.ctx, NewTx("bob"), id)
	assert.True(t, IsCode(err, CodeNotOwner))
	unchanged, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, unchanged)

	r, err := f.l.RevokeAllChartAccess(f.ctx, NewTx("alice"), id)
	require.NoError(t, err)
	assert.Equal(t, []AccountID{"bob", "carol", "dave"}, r.Revoked)

	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, gi.Grants, 1)
	assert.Equal(t, RoleOwner, gi.Grants[0].Role)
}

func TestMemory_GrantThenRevokeOrdering(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")

	// Revoke confirmed first finds nothing; the later grant wins.
	_, err := f.l.RevokeChartAccess(f.ctx, NewTx("alice"), id, "bob")
	assert.True(t, IsCode(err, CodeGrantNotFound))
	_, err = f.grant("alice", id, "bob", 0)
	require.NoError(t, err)
	gi, _ := f.l.GetGrantInfo(f.ctx, id)
	assert.True(t, gi.Has("bob"))

	// Revoke confirmed second wins.
	_, err = f.l.RevokeChartAccess(f.ctx, NewTx("alice"), id, "bob")
	require.NoError(t, err)
	gi, _ = f.l.GetGrantInfo(f.ctx, id)
	assert.False(t, gi.Has("bob"))
}

func TestMemory_CancelledSubmissionNotApplied(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")
	before, _ := f.l.Height(f.ctx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.l.GrantChartAccess(ctx, NewTx("alice"), GrantRequest{
		RecordID: id, Grantee: "bob", SealedKey: sealed(1), Role: RoleFamily, Scope: ScopeReadOnly,
	})
	assert.ErrorIs(t, err, context.Canceled)

	gi, err := f.l.GetGrantInfo(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, gi.Has("bob"))
	after, _ := f.l.Height(f.ctx)
	assert.Equal(t, before, after)
}

func TestMemory_IdempotentTx(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")

	tx := NewTx("alice")
	req := GrantRequest{RecordID: id, Grantee: "bob", SealedKey: sealed(1), Role: RoleFamily, Scope: ScopeReadOnly}
	first, err := f.l.GrantChartAccess(f.ctx, tx, req)
	require.NoError(t, err)
	second, err := f.l.GrantChartAccess(f.ctx, tx, req)
	require.NoError(t, err, "resubmitting a confirmed tx returns its receipt")
	assert.Equal(t, first, second)

	h, _ := f.l.Height(f.ctx)
	assert.Equal(t, first.Height, h)
}

func TestMemory_TxRequiresIDAndCaller(t *testing.T) {
	f := newFixture(t)
	_, err := f.l.RegisterEncryptionKey(f.ctx, Tx{Caller: "alice"}, crypto.PublicKey{1})
	assert.True(t, IsCode(err, CodeInvalidArgument))
	_, err = f.l.RegisterEncryptionKey(f.ctx, Tx{ID: "x"}, crypto.PublicKey{1})
	assert.True(t, IsCode(err, CodeInvalidArgument))
}

func TestMemory_UpdateScope(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")
	_, err := f.grant("alice", id, "bob", 0)
	require.NoError(t, err)

	_, err = f.l.UpdateChartAccessScope(f.ctx, NewTx("alice"), id, "bob", ScopeCanComment)
	require.NoError(t, err)
	entry, ok, err := f.l.GetGrantEntry(f.ctx, id, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ScopeCanComment, entry.Scope)
	assert.Equal(t, RoleFamily, entry.Role)
	assert.Equal(t, sealed(0xBB), entry.SealedKey)

	_, err = f.l.UpdateChartAccessScope(f.ctx, NewTx("alice"), id, "alice", ScopeReadOnly)
	assert.True(t, IsCode(err, CodeOwnerNotRevocable))
	_, err = f.l.UpdateChartAccessScope(f.ctx, NewTx("alice"), id, "carol", ScopeReadOnly)
	assert.True(t, IsCode(err, CodeGrantNotFound))
	_, err = f.l.UpdateChartAccessScope(f.ctx, NewTx("bob"), id, "bob", ScopeFullAccess)
	assert.True(t, IsCode(err, CodeNotOwner))
}

func TestMemory_DeleteRecord(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")
	_, err := f.grant("alice", id, "bob", 0)
	require.NoError(t, err)

	_, err = f.l.DeleteEncryptedRecord(f.ctx, NewTx("bob"), id)
	assert.True(t, IsCode(err, CodeNotOwner))

	r, err := f.l.DeleteEncryptedRecord(f.ctx, NewTx("alice"), id)
	require.NoError(t, err)
	assert.Equal(t, []AccountID{"bob"}, r.Revoked)

	_, err = f.l.GetEncryptedRecordInfo(f.ctx, id)
	assert.True(t, IsCode(err, CodeRecordNotFound))
	grants, err := f.l.GetProviderGrants(f.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestMemory_RecordInfo(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	f.publish("bob")
	id := f.record("alice")
	_, err := f.grant("alice", id, "bob", 0)
	require.NoError(t, err)

	info, err := f.l.GetEncryptedRecordInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, AccountID("alice"), info.Owner)
	assert.Equal(t, []AccountID{"bob"}, info.GrantAccounts)
	assert.Equal(t, []byte("ciphertext"), info.Payload.Data)
	assert.True(t, info.Payload.Inline())

	// Returned values are copies.
	info.Payload.Data[0] = 'X'
	info.PublicIndex["pillars"] = "changed"
	again, err := f.l.GetEncryptedRecordInfo(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), again.Payload.Data)
	assert.Equal(t, "3-7-1-9", again.PublicIndex["pillars"])

	ids, err := f.l.GetOwnerRecords(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []RecordID{id}, ids)
}

func TestMemory_KeyRegistrationLastWriteWins(t *testing.T) {
	f := newFixture(t)
	first := f.publish("alice")
	second := f.publish("alice")
	require.NotEqual(t, first, second)

	got, ok, err := f.l.GetUserEncryptionKey(f.ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got)

	_, ok, err = f.l.GetUserEncryptionKey(f.ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.l.RegisterEncryptionKey(f.ctx, NewTx("alice"), crypto.PublicKey{})
	assert.True(t, IsCode(err, CodeInvalidArgument))
}

func TestMemory_Providers(t *testing.T) {
	f := newFixture(t)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = f.l.RegisterProvider(f.ctx, NewTx("reader"), ProviderMaster, kp.Public)
	assert.True(t, IsCode(err, CodeKeyNotRegistered), "registration is gated on a published key")

	pub := f.publish("reader")
	_, err = f.l.RegisterProvider(f.ctx, NewTx("reader"), ProviderMaster, pub)
	require.NoError(t, err)

	p, ok, err := f.l.GetProvider(f.ctx, "reader")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(DefaultReputation), p.Reputation)
	assert.True(t, p.Active)
	registered := p.RegisteredAt

	list, err := f.l.GetProvidersByType(f.ctx, ProviderMaster)
	require.NoError(t, err)
	assert.Equal(t, []AccountID{"reader"}, list)

	_, err = f.l.SetProviderActive(f.ctx, NewTx("reader"), false)
	require.NoError(t, err)
	list, err = f.l.GetProvidersByType(f.ctx, ProviderMaster)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Re-registering overwrites type and key, keeps history.
	_, err = f.l.RegisterProvider(f.ctx, NewTx("reader"), ProviderResearch, kp.Public)
	require.NoError(t, err)
	p, _, _ = f.l.GetProvider(f.ctx, "reader")
	assert.Equal(t, ProviderResearch, p.Type)
	assert.Equal(t, kp.Public, p.PublicKey)
	assert.Equal(t, registered, p.RegisteredAt)

	_, err = f.l.UnregisterProvider(f.ctx, NewTx("reader"))
	require.NoError(t, err)
	_, ok, err = f.l.GetProvider(f.ctx, "reader")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.l.UnregisterProvider(f.ctx, NewTx("reader"))
	assert.True(t, IsCode(err, CodeProviderNotFound))
	_, err = f.l.SetProviderActive(f.ctx, NewTx("reader"), true)
	assert.True(t, IsCode(err, CodeProviderNotFound))
}

func TestMemory_UnregisterKeepsGrants(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	pub := f.publish("reader")
	_, err := f.l.RegisterProvider(f.ctx, NewTx("reader"), ProviderAiService, pub)
	require.NoError(t, err)
	id := f.record("alice")
	_, err = f.grant("alice", id, "reader", 0)
	require.NoError(t, err)

	_, err = f.l.UnregisterProvider(f.ctx, NewTx("reader"))
	require.NoError(t, err)

	grants, err := f.l.GetProviderGrants(f.ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, []RecordID{id}, grants)
}

func TestMemory_RateProvider(t *testing.T) {
	f := newFixture(t)
	f.publish("alice")
	pub := f.publish("reader")
	_, err := f.l.RegisterProvider(f.ctx, NewTx("reader"), ProviderMaster, pub)
	require.NoError(t, err)
	id := f.record("alice")

	_, err = f.l.RateProvider(f.ctx, NewTx("alice"), id, "reader", 90)
	assert.True(t, IsCode(err, CodeGrantNotFound), "only granted providers can be rated")

	_, err = f.grant("alice", id, "reader", 0)
	require.NoError(t, err)

	_, err = f.l.RateProvider(f.ctx, NewTx("alice"), id, "reader", 101)
	assert.True(t, IsCode(err, CodeInvalidArgument))

	_, err = f.l.RateProvider(f.ctx, NewTx("alice"), id, "reader", 100)
	require.NoError(t, err)
	p, _, _ := f.l.GetProvider(f.ctx, "reader")
	assert.Equal(t, uint8(100), p.Reputation, "the first rating replaces the default")
	assert.Equal(t, uint64(1), p.CompletedServices)

	_, err = f.l.RateProvider(f.ctx, NewTx("alice"), id, "reader", 0)
	require.NoError(t, err)
	p, _, _ = f.l.GetProvider(f.ctx, "reader")
	assert.Equal(t, uint8(50), p.Reputation)
	assert.Equal(t, uint64(2), p.CompletedServices)
}

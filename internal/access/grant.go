package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/kenneth/chart-vault/internal/audit"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/ledger"
	"golang.org/x/sync/errgroup"
)

// grantParallelism bounds concurrent submissions in GrantMany.
const grantParallelism = 4

// GrantSpec describes one grant to create.
type GrantSpec struct {
	RecordID ledger.RecordID
	Grantee  ledger.AccountID
	Role     ledger.Role
	Scope    ledger.Scope
	// ExpiresAt is the first height at which the grant is inactive; zero
	// means never.
	ExpiresAt ledger.Height
	// ExpiresIn, when non-zero, overrides ExpiresAt: the grant stays active
	// for ExpiresIn heights after the one it is confirmed at, counted from
	// the latest height seen before submission.
	ExpiresIn ledger.Height
}

// GrantResult is the outcome of one grant in GrantMany.
type GrantResult struct {
	Grantee ledger.AccountID
	Receipt *ledger.Receipt
	Err     error
}

// Grant seals the record's DataKey to the grantee's published key and
// submits the grant. ErrGranteeKeyMissing and ErrGrantCapExceeded are
// detected before anything is submitted.
func (s *Session) Grant(ctx context.Context, spec GrantSpec) (*ledger.Receipt, error) {
	dk, err := s.ownerDataKey(ctx, spec.RecordID)
	if err != nil {
		return nil, err
	}
	defer dk.Wipe()
	return s.grant(ctx, spec, dk)
}

// GrantMany grants several accounts access to one record in parallel. The
// DataKey is unsealed once. Each grant re-checks the cap against the latest
// confirmed state right before it is submitted, and the ledger enforces it
// again at confirmation, so concurrent grants never overshoot it. Results
// are returned in input order and carry per-grantee failures. The returned
// error is non-nil only when ctx ends first; grants still queued at that
// point fail with the context error.
func (s *Session) GrantMany(ctx context.Context, id ledger.RecordID, specs []GrantSpec) ([]GrantResult, error) {
	dk, err := s.ownerDataKey(ctx, id)
	if err != nil {
		return nil, err
	}
	defer dk.Wipe()

	results := make([]GrantResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(grantParallelism)
	for i := range specs {
		spec := specs[i]
		spec.RecordID = id
		results[i].Grantee = spec.Grantee
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return err
			}
			results[i].Receipt, results[i].Err = s.grant(gctx, spec, dk)
			if errors.Is(results[i].Err, context.Canceled) || errors.Is(results[i].Err, context.DeadlineExceeded) {
				return results[i].Err
			}
			return nil
		})
	}
	return results, g.Wait()
}

// ownerDataKey recovers the DataKey from the owner's own sealed entry.
func (s *Session) ownerDataKey(ctx context.Context, id ledger.RecordID) (*crypto.DataKey, error) {
	g, ok, err := s.r.ledger.GetGrantEntry(ctx, id, s.account)
	if err != nil {
		return nil, err
	}
	if !ok || g.Role != ledger.RoleOwner {
		return nil, fmt.Errorf("%w: record %d", ErrNotOwner, id)
	}
	dk, err := crypto.UnsealDataKey(g.SealedKey, s.key)
	if err != nil {
		s.r.cryptoFailure(err)
		return nil, fmt.Errorf("open owner entry of record %d: %w", id, err)
	}
	return dk, nil
}

func (s *Session) grant(ctx context.Context, spec GrantSpec, dk *crypto.DataKey) (*ledger.Receipt, error) {
	if !spec.Role.Valid() || spec.Role == ledger.RoleOwner {
		return nil, fmt.Errorf("access: cannot grant role %s", spec.Role)
	}
	if !spec.Scope.Valid() {
		return nil, fmt.Errorf("access: invalid scope %s", spec.Scope)
	}

	pub, ok, err := s.r.ledger.GetUserEncryptionKey(ctx, spec.Grantee)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.r.precheckRejected(spec, "grantee_key_missing", ErrGranteeKeyMissing, s.account)
		return nil, fmt.Errorf("%w: %s", ErrGranteeKeyMissing, spec.Grantee)
	}
	sealed, err := crypto.SealDataKey(dk, pub)
	if err != nil {
		return nil, err
	}

	info, err := s.r.ledger.GetGrantInfo(ctx, spec.RecordID)
	if err != nil {
		return nil, err
	}
	if !info.Mode.ServesGrants() {
		s.r.precheckRejected(spec, "record_private", ErrRecordPrivate, s.account)
		return nil, fmt.Errorf("%w: record %d", ErrRecordPrivate, spec.RecordID)
	}
	if !info.Has(spec.Grantee) && info.NonOwnerCount() >= s.r.maxGrants {
		s.r.precheckRejected(spec, "cap_exceeded", ErrGrantCapExceeded, s.account)
		return nil, fmt.Errorf("%w: record %d has %d grants", ErrGrantCapExceeded, spec.RecordID, info.NonOwnerCount())
	}

	expiresAt := spec.ExpiresAt
	if spec.ExpiresIn > 0 {
		expiresAt = info.Height + 1 + spec.ExpiresIn
	}
	req := ledger.GrantRequest{
		RecordID:  spec.RecordID,
		Grantee:   spec.Grantee,
		SealedKey: sealed,
		Role:      spec.Role,
		Scope:     spec.Scope,
		ExpiresAt: expiresAt,
	}
	return s.r.Submit(ctx, Submission{
		Op:       ledger.OpGrantChartAccess,
		Event:    audit.EventTypeGrant,
		Caller:   s.account,
		RecordID: spec.RecordID,
		Grantee:  spec.Grantee,
		Metadata: map[string]interface{}{
			"role":       spec.Role.String(),
			"scope":      spec.Scope.String(),
			"expires_at": uint64(expiresAt),
		},
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return s.r.ledger.GrantChartAccess(ctx, tx, req)
	})
}

func (r *Registry) precheckRejected(spec GrantSpec, reason string, err error, caller ledger.AccountID) {
	if r.metrics != nil {
		r.metrics.RecordGrantPrecheckRejection(reason)
	}
	r.audit.LogGrant(audit.EventTypeGrant, string(caller), uint64(spec.RecordID), string(spec.Grantee), "", false, err, 0, map[string]interface{}{"precheck": reason})
}

// Revoke removes a grantee's entry so the registry no longer serves its
// sealed DataKey. Plaintext the grantee already decrypted is out of reach.
// The owner's own entry cannot be revoked.
func (s *Session) Revoke(ctx context.Context, id ledger.RecordID, grantee ledger.AccountID) (*ledger.Receipt, error) {
	return s.r.Submit(ctx, Submission{
		Op:       ledger.OpRevokeChartAccess,
		Event:    audit.EventTypeRevoke,
		Caller:   s.account,
		RecordID: id,
		Grantee:  grantee,
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return s.r.ledger.RevokeChartAccess(ctx, tx, id, grantee)
	})
}

// RevokeAll revokes every non-owner grant of a record in one transaction.
// It either applies in full or not at all; the receipt lists the revoked
// accounts.
func (s *Session) RevokeAll(ctx context.Context, id ledger.RecordID) (*ledger.Receipt, error) {
	return s.r.Submit(ctx, Submission{
		Op:       ledger.OpRevokeAllChartAccess,
		Event:    audit.EventTypeRevokeAll,
		Caller:   s.account,
		RecordID: id,
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return s.r.ledger.RevokeAllChartAccess(ctx, tx, id)
	})
}

// UpdateScope changes the scope of an active non-owner grant. Role, sealed
// key and expiry are unchanged.
func (s *Session) UpdateScope(ctx context.Context, id ledger.RecordID, grantee ledger.AccountID, scope ledger.Scope) (*ledger.Receipt, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("access: invalid scope %s", scope)
	}
	return s.r.Submit(ctx, Submission{
		Op:       ledger.OpUpdateChartAccessScope,
		Event:    audit.EventTypeScopeUpdate,
		Caller:   s.account,
		RecordID: id,
		Grantee:  grantee,
		Metadata: map[string]interface{}{"scope": scope.String()},
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return s.r.ledger.UpdateChartAccessScope(ctx, tx, id, grantee, scope)
	})
}

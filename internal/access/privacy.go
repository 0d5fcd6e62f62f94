package access

import (
	"context"
	"fmt"

	"github.com/kenneth/chart-vault/internal/audit"
	"github.com/kenneth/chart-vault/internal/ledger"
)

// SetPrivacyMode changes who may read a record. Switching to PrivacyPublic
// discloses the DataKey, which the owner recovers from its own entry first.
// Leaving PrivacyPublic withdraws the key from the ledger but cannot take it
// back from readers who already fetched it.
func (s *Session) SetPrivacyMode(ctx context.Context, id ledger.RecordID, mode ledger.PrivacyMode) (*ledger.Receipt, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("access: invalid privacy mode %s", mode)
	}
	req := ledger.PrivacyRequest{RecordID: id, Mode: mode}
	if mode == ledger.PrivacyPublic {
		dk, err := s.ownerDataKey(ctx, id)
		if err != nil {
			return nil, err
		}
		req.DisclosedKey = append([]byte(nil), dk[:]...)
		dk.Wipe()
	}
	return s.r.Submit(ctx, Submission{
		Op:       ledger.OpChangePrivacyMode,
		Event:    audit.EventTypePrivacy,
		Caller:   s.account,
		RecordID: id,
		Metadata: map[string]interface{}{"mode": mode.String()},
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return s.r.ledger.ChangePrivacyMode(ctx, tx, req)
	})
}

// HasAccess reports whether account may currently read a record: the owner
// always, anyone when it is public, and otherwise holders of an active
// grant.
func (r *Registry) HasAccess(ctx context.Context, id ledger.RecordID, account ledger.AccountID) (bool, error) {
	info, err := r.ledger.GetEncryptedRecordInfo(ctx, id)
	if err != nil {
		return false, err
	}
	if info.Owner == account || info.Mode == ledger.PrivacyPublic {
		return true, nil
	}
	_, ok, err := r.ledger.GetGrantEntry(ctx, id, account)
	return ok, err
}

// Package ledger defines the boundary with the external ledger that stores
// encrypted records, grants and provider profiles, and ships an in-memory
// reference ledger plus an HTTP client for ledgerd.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/kenneth/chart-vault/internal/crypto"
)

// Tx identifies one submission. Resubmitting a confirmed Tx returns its
// original receipt without applying it again.
type Tx struct {
	ID     string    `json:"id"`
	Caller AccountID `json:"caller"`
}

// NewTx returns a Tx with a fresh id for caller.
func NewTx(caller AccountID) Tx {
	return Tx{ID: uuid.NewString(), Caller: caller}
}

// Receipt describes a confirmed transaction.
type Receipt struct {
	TxID     string      `json:"tx_id"`
	Height   Height      `json:"height"`
	RecordID RecordID    `json:"record_id,omitempty"`
	Revoked  []AccountID `json:"revoked,omitempty"`
}

// CreateRecordRequest creates a record with the owner's own sealed entry.
// DisclosedKey is required for, and only accepted with, PrivacyPublic.
type CreateRecordRequest struct {
	Payload        Payload     `json:"payload"`
	PublicIndex    PublicIndex `json:"public_index"`
	OwnerSealedKey []byte      `json:"owner_sealed_key"`
	Mode           PrivacyMode `json:"mode"`
	DisclosedKey   []byte      `json:"disclosed_key,omitempty"`
}

// PrivacyRequest changes the privacy mode of a record.
type PrivacyRequest struct {
	RecordID     RecordID    `json:"record_id"`
	Mode         PrivacyMode `json:"mode"`
	DisclosedKey []byte      `json:"disclosed_key,omitempty"`
}

// GrantRequest grants grantee access to a record.
type GrantRequest struct {
	RecordID  RecordID  `json:"record_id"`
	Grantee   AccountID `json:"grantee"`
	SealedKey []byte    `json:"sealed_key"`
	Role      Role      `json:"role"`
	Scope     Scope     `json:"scope"`
	ExpiresAt Height    `json:"expires_at"`
}

// Reader is the query side of the ledger. Queries evaluate expiry against
// the height at the time of the query.
type Reader interface {
	Height(ctx context.Context) (Height, error)
	// GetUserEncryptionKey returns ok=false when account has no key.
	GetUserEncryptionKey(ctx context.Context, account AccountID) (pub crypto.PublicKey, ok bool, err error)
	GetEncryptedRecordInfo(ctx context.Context, id RecordID) (*RecordInfo, error)
	GetGrantInfo(ctx context.Context, id RecordID) (*GrantInfo, error)
	// GetGrantEntry returns the active grant of grantee on a record,
	// including the sealed key, or ok=false. Non-owner grants of a private
	// record are not active.
	GetGrantEntry(ctx context.Context, id RecordID, grantee AccountID) (g *Grant, ok bool, err error)
	GetOwnerRecords(ctx context.Context, owner AccountID) ([]RecordID, error)
	GetProvidersByType(ctx context.Context, t ProviderType) ([]AccountID, error)
	// GetProvider returns ok=false when account is not registered.
	GetProvider(ctx context.Context, account AccountID) (p *ProviderProfile, ok bool, err error)
	GetProviderGrants(ctx context.Context, account AccountID) ([]RecordID, error)
}

// Writer is the transaction side of the ledger. Each call is confirmed
// atomically: it either applies in full or leaves state unchanged.
type Writer interface {
	RegisterEncryptionKey(ctx context.Context, tx Tx, pub crypto.PublicKey) (*Receipt, error)
	CreateEncryptedRecord(ctx context.Context, tx Tx, req CreateRecordRequest) (*Receipt, error)
	DeleteEncryptedRecord(ctx context.Context, tx Tx, id RecordID) (*Receipt, error)
	GrantChartAccess(ctx context.Context, tx Tx, req GrantRequest) (*Receipt, error)
	RevokeChartAccess(ctx context.Context, tx Tx, id RecordID, grantee AccountID) (*Receipt, error)
	RevokeAllChartAccess(ctx context.Context, tx Tx, id RecordID) (*Receipt, error)
	UpdateChartAccessScope(ctx context.Context, tx Tx, id RecordID, grantee AccountID, scope Scope) (*Receipt, error)
	ChangePrivacyMode(ctx context.Context, tx Tx, req PrivacyRequest) (*Receipt, error)
	RegisterProvider(ctx context.Context, tx Tx, t ProviderType, pub crypto.PublicKey) (*Receipt, error)
	SetProviderActive(ctx context.Context, tx Tx, active bool) (*Receipt, error)
	UnregisterProvider(ctx context.Context, tx Tx) (*Receipt, error)
	RateProvider(ctx context.Context, tx Tx, id RecordID, provider AccountID, score uint8) (*Receipt, error)
}

// Ledger is the full boundary.
type Ledger interface {
	Reader
	Writer
}

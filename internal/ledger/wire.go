package ledger

import (
	"context"

	"github.com/kenneth/chart-vault/internal/crypto"
)

// Transaction operation names as they appear in ledgerd routes.
const (
	OpRegisterEncryptionKey  = "registerEncryptionKey"
	OpCreateEncryptedRecord  = "createEncryptedRecord"
	OpDeleteEncryptedRecord  = "deleteEncryptedRecord"
	OpGrantChartAccess       = "grantChartAccess"
	OpRevokeChartAccess      = "revokeChartAccess"
	OpRevokeAllChartAccess   = "revokeAllChartAccess"
	OpUpdateChartAccessScope = "updateChartAccessScope"
	OpChangePrivacyMode      = "changePrivacyMode"
	OpRegisterProvider       = "registerProvider"
	OpSetProviderActive      = "setProviderActive"
	OpUnregisterProvider     = "unregisterProvider"
	OpRateProvider           = "rateProvider"
)

// TxEnvelope is the body of POST /v1/tx/{op}. Only the fields the operation
// needs are set.
type TxEnvelope struct {
	Tx           Tx                   `json:"tx"`
	PublicKey    *crypto.PublicKey    `json:"public_key,omitempty"`
	Record       *CreateRecordRequest `json:"record,omitempty"`
	Grant        *GrantRequest        `json:"grant,omitempty"`
	Privacy      *PrivacyRequest      `json:"privacy,omitempty"`
	RecordID     RecordID             `json:"record_id,omitempty"`
	Grantee      AccountID            `json:"grantee,omitempty"`
	Provider     AccountID            `json:"provider,omitempty"`
	Scope        *Scope               `json:"scope,omitempty"`
	ProviderType *ProviderType        `json:"provider_type,omitempty"`
	Active       *bool                `json:"active,omitempty"`
	Score        uint8                `json:"score,omitempty"`
}

// ErrorBody is the JSON body of every non-2xx ledgerd response.
type ErrorBody struct {
	Error Error `json:"error"`
}

// HeightBody is the response of GET /v1/height.
type HeightBody struct {
	Height Height `json:"height"`
}

// KeyBody is the response of GET /v1/keys/{account}.
type KeyBody struct {
	Account   AccountID        `json:"account"`
	PublicKey crypto.PublicKey `json:"public_key"`
}

// Apply dispatches an envelope to w. It is used by ledgerd and keeps the
// mapping between wire operations and Writer methods in one place.
func Apply(ctx context.Context, w Writer, op string, env *TxEnvelope) (*Receipt, error) {
	switch op {
	case OpRegisterEncryptionKey:
		if env.PublicKey == nil {
			return nil, reject(op, CodeInvalidArgument, "public_key is required")
		}
		return w.RegisterEncryptionKey(ctx, env.Tx, *env.PublicKey)
	case OpCreateEncryptedRecord:
		if env.Record == nil {
			return nil, reject(op, CodeInvalidArgument, "record is required")
		}
		return w.CreateEncryptedRecord(ctx, env.Tx, *env.Record)
	case OpDeleteEncryptedRecord:
		return w.DeleteEncryptedRecord(ctx, env.Tx, env.RecordID)
	case OpGrantChartAccess:
		if env.Grant == nil {
			return nil, reject(op, CodeInvalidArgument, "grant is required")
		}
		return w.GrantChartAccess(ctx, env.Tx, *env.Grant)
	case OpRevokeChartAccess:
		return w.RevokeChartAccess(ctx, env.Tx, env.RecordID, env.Grantee)
	case OpRevokeAllChartAccess:
		return w.RevokeAllChartAccess(ctx, env.Tx, env.RecordID)
	case OpUpdateChartAccessScope:
		if env.Scope == nil {
			return nil, reject(op, CodeInvalidArgument, "scope is required")
		}
		return w.UpdateChartAccessScope(ctx, env.Tx, env.RecordID, env.Grantee, *env.Scope)
	case OpChangePrivacyMode:
		if env.Privacy == nil {
			return nil, reject(op, CodeInvalidArgument, "privacy is required")
		}
		return w.ChangePrivacyMode(ctx, env.Tx, *env.Privacy)
	case OpRegisterProvider:
		if env.ProviderType == nil || env.PublicKey == nil {
			return nil, reject(op, CodeInvalidArgument, "provider_type and public_key are required")
		}
		return w.RegisterProvider(ctx, env.Tx, *env.ProviderType, *env.PublicKey)
	case OpSetProviderActive:
		if env.Active == nil {
			return nil, reject(op, CodeInvalidArgument, "active is required")
		}
		return w.SetProviderActive(ctx, env.Tx, *env.Active)
	case OpUnregisterProvider:
		return w.UnregisterProvider(ctx, env.Tx)
	case OpRateProvider:
		return w.RateProvider(ctx, env.Tx, env.RecordID, env.Provider, env.Score)
	default:
		return nil, reject(op, CodeInvalidArgument, "unknown operation")
	}
}

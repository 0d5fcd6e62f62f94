package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kenneth/chart-vault/internal/audit"
	"github.com/kenneth/chart-vault/internal/blobstore"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/debug"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/kenneth/chart-vault/internal/metrics"
	"github.com/sirupsen/logrus"
)

const recordAADPrefix = "chart-vault/record/v1"

var errNoBlobStore = errors.New("access: record payload is in the blob store but no blob store is configured")

// recordAAD binds a ciphertext to its owner and public index so neither can
// be swapped on the ledger without failing authentication.
func recordAAD(owner ledger.AccountID, index ledger.PublicIndex) []byte {
	aad := make([]byte, 0, 64)
	aad = append(aad, recordAADPrefix...)
	aad = append(aad, 0)
	aad = append(aad, owner...)
	aad = append(aad, 0)
	return append(aad, index.Canonical()...)
}

// Record is a decrypted record together with the access the reader holds.
// Granted is false when the record was opened through the DataKey a public
// record discloses; Role, Scope and ExpiresAt are then unset.
type Record struct {
	ID          ledger.RecordID
	Owner       ledger.AccountID
	Mode        ledger.PrivacyMode
	Granted     bool
	Role        ledger.Role
	Scope       ledger.Scope
	ExpiresAt   ledger.Height
	PublicIndex ledger.PublicIndex
	Algorithm   crypto.Algorithm
	Plaintext   []byte
}

// CreateRecord encrypts plaintext under a fresh DataKey, seals the DataKey to
// the session's own key and submits the record. index is stored in the
// clear; it must only hold fields meant to be public. The receipt carries
// the new record id.
func (s *Session) CreateRecord(ctx context.Context, plaintext []byte, index ledger.PublicIndex) (*ledger.Receipt, error) {
	return s.CreateRecordWithMode(ctx, plaintext, index, ledger.PrivacyAuthorized)
}

// CreateRecordWithMode is CreateRecord with an explicit privacy mode. A
// public record discloses its DataKey on the ledger.
func (s *Session) CreateRecordWithMode(ctx context.Context, plaintext []byte, index ledger.PublicIndex, mode ledger.PrivacyMode) (*ledger.Receipt, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("access: invalid privacy mode %s", mode)
	}
	if err := index.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIndex, err)
	}
	dk, err := crypto.NewDataKey()
	if err != nil {
		return nil, err
	}
	defer dk.Wipe()

	ct, err := s.r.cipher.Encrypt(plaintext, dk, recordAAD(s.account, index))
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.SealDataKey(dk, s.pub)
	if err != nil {
		return nil, err
	}

	payload := ledger.Payload{
		Algorithm: string(ct.Algorithm),
		Nonce:     ct.Nonce,
		Size:      len(ct.Data),
	}
	if s.r.blobs != nil && len(ct.Data) > s.r.inlineLimit {
		cid, err := s.r.putBlob(ctx, ct.Data)
		if err != nil {
			return nil, fmt.Errorf("store ciphertext: %w", err)
		}
		payload.ContentID = cid
	} else {
		payload.Data = ct.Data
	}

	req := ledger.CreateRecordRequest{
		Payload:        payload,
		PublicIndex:    index,
		OwnerSealedKey: sealed,
		Mode:           mode,
	}
	if mode == ledger.PrivacyPublic {
		req.DisclosedKey = append([]byte(nil), dk[:]...)
	}
	rcpt, err := s.r.Submit(ctx, Submission{
		Op:     ledger.OpCreateEncryptedRecord,
		Event:  audit.EventTypeRecordCreate,
		Caller: s.account,
		Metadata: map[string]interface{}{
			"algorithm": ct.Algorithm,
			"size":      payload.Size,
			"inline":    payload.Inline(),
			"mode":      mode.String(),
		},
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return s.r.ledger.CreateEncryptedRecord(ctx, tx, req)
	})
	if err != nil {
		if !payload.Inline() {
			s.r.deleteBlob(context.WithoutCancel(ctx), payload.ContentID)
		}
		return nil, err
	}
	return rcpt, nil
}

// DeleteRecord removes a record and all of its grants in one transaction,
// then drops its blob if it had one.
func (s *Session) DeleteRecord(ctx context.Context, id ledger.RecordID) (*ledger.Receipt, error) {
	info, err := s.r.ledger.GetEncryptedRecordInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.r.Submit(ctx, Submission{
		Op:       ledger.OpDeleteEncryptedRecord,
		Event:    audit.EventTypeRecordDelete,
		Caller:   s.account,
		RecordID: id,
	}, func(ctx context.Context, tx ledger.Tx) (*ledger.Receipt, error) {
		return s.r.ledger.DeleteEncryptedRecord(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	if !info.Payload.Inline() {
		s.r.deleteBlob(ctx, info.Payload.ContentID)
	}
	return rcpt, nil
}

// Open recovers the DataKey from the session account's own grant entry and
// decrypts the record. Every denial or decryption failure is reported as
// ErrRecordUnavailable with an identical message; the precise cause is
// wrapped for the local caller and logged at debug level only. Transport
// errors are returned as they are so the caller can retry.
func (s *Session) Open(ctx context.Context, id ledger.RecordID) (*Record, error) {
	start := time.Now()
	rec, alg, err := s.open(ctx, id)
	var denied *unavailableError
	if errors.As(err, &denied) && debug.Enabled() {
		s.r.logger.WithFields(logrus.Fields{
			"account":   s.account,
			"record_id": id,
		}).WithError(denied.cause).Debug("Record open denied")
	}
	if s.r.metrics != nil {
		switch {
		case err == nil:
			s.r.metrics.RecordOpen(ctx, metrics.OutcomeOK)
		case denied != nil:
			s.r.metrics.RecordOpen(ctx, metrics.OutcomeDenied)
		default:
			s.r.metrics.RecordOpen(ctx, metrics.OutcomeError)
		}
	}
	s.r.audit.LogOpen(string(s.account), uint64(id), alg, err == nil, err, time.Since(start))
	return rec, err
}

func (s *Session) open(ctx context.Context, id ledger.RecordID) (*Record, string, error) {
	g, ok, err := s.r.ledger.GetGrantEntry(ctx, id, s.account)
	switch {
	case ledger.IsCode(err, ledger.CodeRecordNotFound):
		return nil, "", unavailable(fmt.Errorf("%w: %w", ErrNoActiveGrant, err))
	case err != nil:
		return nil, "", err
	}

	info, err := s.r.ledger.GetEncryptedRecordInfo(ctx, id)
	switch {
	case ledger.IsCode(err, ledger.CodeRecordNotFound):
		return nil, "", unavailable(fmt.Errorf("%w: %w", ErrNoActiveGrant, err))
	case err != nil:
		return nil, "", err
	}
	alg := info.Payload.Algorithm

	var dk *crypto.DataKey
	switch {
	case ok:
		dk, err = crypto.UnsealDataKey(g.SealedKey, s.key)
		if err != nil {
			s.r.cryptoFailure(err)
			return nil, alg, unavailable(err)
		}
	case info.Mode == ledger.PrivacyPublic:
		dk, err = crypto.ParseDataKey(info.DisclosedKey)
		if err != nil {
			return nil, alg, unavailable(err)
		}
	default:
		return nil, alg, unavailable(ErrNoActiveGrant)
	}
	defer dk.Wipe()

	data := info.Payload.Data
	if !info.Payload.Inline() {
		data, err = s.r.getBlob(ctx, info.Payload.ContentID)
		switch {
		case errors.Is(err, blobstore.ErrNotFound), errors.Is(err, blobstore.ErrDigestMismatch):
			return nil, alg, unavailable(err)
		case err != nil:
			return nil, alg, err
		}
	}

	pt, err := crypto.Decrypt(&crypto.Ciphertext{
		Algorithm: crypto.Algorithm(alg),
		Nonce:     info.Payload.Nonce,
		Data:      data,
	}, dk, recordAAD(info.Owner, info.PublicIndex))
	if err != nil {
		s.r.cryptoFailure(err)
		return nil, alg, unavailable(err)
	}

	rec := &Record{
		ID:          id,
		Owner:       info.Owner,
		Mode:        info.Mode,
		Granted:     ok,
		PublicIndex: info.PublicIndex,
		Algorithm:   crypto.Algorithm(alg),
		Plaintext:   pt,
	}
	if ok {
		rec.Role = g.Role
		rec.Scope = g.Scope
		rec.ExpiresAt = g.ExpiresAt
	}
	return rec, alg, nil
}

func (r *Registry) cryptoFailure(err error) {
	if r.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, crypto.ErrSealOpen):
		r.metrics.RecordCryptoFailure("seal_open")
	case errors.Is(err, crypto.ErrAuthentication):
		r.metrics.RecordCryptoFailure("authentication")
	case errors.Is(err, crypto.ErrUnsupportedAlgorithm):
		r.metrics.RecordCryptoFailure("unsupported_algorithm")
	default:
		r.metrics.RecordCryptoFailure("other")
	}
}

func (r *Registry) putBlob(ctx context.Context, data []byte) (string, error) {
	start := time.Now()
	cid, err := r.blobs.Put(ctx, data)
	r.blobMetric(ctx, "put", err, start)
	return cid, err
}

func (r *Registry) getBlob(ctx context.Context, cid string) ([]byte, error) {
	if r.blobs == nil {
		return nil, errNoBlobStore
	}
	start := time.Now()
	data, err := r.blobs.Get(ctx, cid)
	r.blobMetric(ctx, "get", err, start)
	return data, err
}

// deleteBlob is best effort: a leftover blob is unreadable without a sealed
// DataKey, so failures are only logged.
func (r *Registry) deleteBlob(ctx context.Context, cid string) {
	if r.blobs == nil {
		return
	}
	start := time.Now()
	err := r.blobs.Delete(ctx, cid)
	r.blobMetric(ctx, "delete", err, start)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		r.logger.WithError(err).WithField("content_id", cid).Warn("Failed to delete record blob")
	}
}

func (r *Registry) blobMetric(ctx context.Context, op string, err error, start time.Time) {
	if r.metrics == nil {
		return
	}
	o := metrics.OutcomeOK
	if err != nil {
		o = metrics.OutcomeError
	}
	r.metrics.RecordBlobOperation(ctx, op, o, time.Since(start))
}

// Package access orchestrates the record lifecycle on top of the ledger:
// encrypting a record once, sealing its DataKey per grantee, and granting,
// revoking and opening records. Cryptography stays in internal/crypto; this
// package only sequences it around ledger round trips.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kenneth/chart-vault/internal/audit"
	"github.com/kenneth/chart-vault/internal/blobstore"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/kenneth/chart-vault/internal/metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kenneth/chart-vault/internal/access"

// DefaultInlineLimit is the largest ciphertext kept on the ledger itself.
const DefaultInlineLimit = 16 << 10

// Options configures a Registry.
type Options struct {
	Ledger ledger.Ledger
	// Blobs stores ciphertexts larger than InlineLimit. Nil keeps every
	// ciphertext inline.
	Blobs       blobstore.Store
	Cipher      *crypto.ContentCipher
	InlineLimit int
	// MaxGrants is the local pre-check for the non-owner grant cap.
	MaxGrants int
	// Retries is how many times a submission that failed with
	// ledger.ErrUnavailable is resent under the same transaction id.
	Retries      int
	RetryBackoff time.Duration
	Logger       *logrus.Logger
	Audit        audit.Logger
	Metrics      *metrics.Metrics
}

// Registry is the access grant registry as seen from a client. It is safe
// for concurrent use; per-account state lives in Session.
type Registry struct {
	ledger      ledger.Ledger
	blobs       blobstore.Store
	cipher      *crypto.ContentCipher
	inlineLimit int
	maxGrants   int
	retries     int
	backoff     time.Duration
	logger      *logrus.Logger
	audit       audit.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// NewRegistry returns a Registry over opts.Ledger.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Ledger == nil {
		return nil, errors.New("access: ledger is required")
	}
	r := &Registry{
		ledger:      opts.Ledger,
		blobs:       opts.Blobs,
		cipher:      opts.Cipher,
		inlineLimit: opts.InlineLimit,
		maxGrants:   opts.MaxGrants,
		retries:     opts.Retries,
		backoff:     opts.RetryBackoff,
		logger:      opts.Logger,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(tracerName),
	}
	if r.cipher == nil {
		r.cipher = crypto.DefaultContentCipher(false)
	}
	if r.inlineLimit <= 0 {
		r.inlineLimit = DefaultInlineLimit
	}
	if r.maxGrants <= 0 {
		r.maxGrants = ledger.DefaultMaxGrants
	}
	if r.backoff <= 0 {
		r.backoff = 200 * time.Millisecond
	}
	if r.logger == nil {
		r.logger = logrus.New()
	}
	if r.audit == nil {
		r.audit = audit.NewNopLogger()
	}
	return r, nil
}

// Ledger returns the underlying ledger.
func (r *Registry) Ledger() ledger.Ledger {
	return r.ledger
}

// GrantInfo returns the active grants of a record. Anyone may read it.
func (r *Registry) GrantInfo(ctx context.Context, id ledger.RecordID) (*ledger.GrantInfo, error) {
	info, err := r.ledger.GetGrantInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.SetLedgerHeight(uint64(info.Height))
	}
	return info, nil
}

// RecordInfo returns the public view of a record.
func (r *Registry) RecordInfo(ctx context.Context, id ledger.RecordID) (*ledger.RecordInfo, error) {
	return r.ledger.GetEncryptedRecordInfo(ctx, id)
}

// OwnerRecords lists the records owned by account.
func (r *Registry) OwnerRecords(ctx context.Context, account ledger.AccountID) ([]ledger.RecordID, error) {
	return r.ledger.GetOwnerRecords(ctx, account)
}

// Submission describes one ledger transaction for tracing, metrics and
// audit. An empty Event skips the audit trail.
type Submission struct {
	Op       string
	Event    audit.EventType
	Caller   ledger.AccountID
	RecordID ledger.RecordID
	Grantee  ledger.AccountID
	Metadata map[string]interface{}
}

// Submit sends one transaction built by fn. Only ErrUnavailable is
// retried, and always under the same transaction id so a confirmed attempt
// is not applied twice.
func (r *Registry) Submit(ctx context.Context, s Submission, fn func(context.Context, ledger.Tx) (*ledger.Receipt, error)) (*ledger.Receipt, error) {
	ctx, span := r.tracer.Start(ctx, "ledger."+s.Op, trace.WithAttributes(
		attribute.String("ledger.op", s.Op),
		attribute.String("ledger.caller", string(s.Caller)),
		attribute.Int64("record.id", int64(s.RecordID)),
	))
	defer span.End()

	tx := ledger.NewTx(s.Caller)
	span.SetAttributes(attribute.String("ledger.tx_id", tx.ID))
	start := time.Now()

	var (
		rcpt *ledger.Receipt
		err  error
	)
	for attempt := 0; ; attempt++ {
		rcpt, err = fn(ctx, tx)
		if err == nil || !errors.Is(err, ledger.ErrUnavailable) || attempt >= r.retries {
			break
		}
		r.logger.WithFields(logrus.Fields{
			"op":      s.Op,
			"tx_id":   tx.ID,
			"attempt": attempt + 1,
		}).WithError(err).Warn("Ledger unavailable, resubmitting")
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt+1)):
			continue
		}
		break
	}
	duration := time.Since(start)
	err = translate(err)

	if r.metrics != nil {
		r.metrics.RecordLedgerSubmission(ctx, s.Op, outcome(err), duration)
		if rcpt != nil {
			r.metrics.SetLedgerHeight(uint64(rcpt.Height))
		}
	}
	if s.Event != "" {
		r.audit.LogGrant(s.Event, string(s.Caller), uint64(s.RecordID), string(s.Grantee), tx.ID, err == nil, err, duration, s.Metadata)
	}

	fields := logrus.Fields{
		"op":        s.Op,
		"tx_id":     tx.ID,
		"account":   s.Caller,
		"record_id": s.RecordID,
	}
	if s.Grantee != "" {
		fields["grantee"] = s.Grantee
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.WithFields(fields).WithError(err).Warn("Ledger submission failed")
		return nil, fmt.Errorf("%s: %w", s.Op, err)
	}
	span.SetAttributes(attribute.Int64("ledger.height", int64(rcpt.Height)))
	fields["height"] = rcpt.Height
	r.logger.WithFields(fields).Info("Ledger submission confirmed")
	return rcpt, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	case errors.Is(err, ledger.ErrLedgerRejected):
		return metrics.OutcomeRejected
	case errors.Is(err, ledger.ErrUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}

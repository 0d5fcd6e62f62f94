// Package api serves the ledger boundary over HTTP for ledgerd. The routes
// mirror ledger.Client one to one.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/kenneth/chart-vault/internal/metrics"
	"github.com/sirupsen/logrus"
)

// maxTxBody bounds a transaction body. Large ciphertexts go to the blob
// store, so envelopes stay small.
const maxTxBody = 1 << 20

// Handler handles HTTP requests for one ledger.
type Handler struct {
	ledger  ledger.Ledger
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a new API handler.
func NewHandler(l ledger.Ledger, logger *logrus.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{ledger: l, logger: logger, metrics: m}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", metrics.HealthHandler()).Methods("GET")
	r.HandleFunc("/ready", metrics.ReadinessHandler(h.readiness)).Methods("GET")
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/tx/{op}", h.handleSubmit).Methods("POST")
	v1.HandleFunc("/height", h.handleHeight).Methods("GET")
	v1.HandleFunc("/keys/{account}", h.handleGetKey).Methods("GET")
	v1.HandleFunc("/records/{id:[0-9]+}", h.handleGetRecord).Methods("GET")
	v1.HandleFunc("/records/{id:[0-9]+}/grants", h.handleGetGrants).Methods("GET")
	v1.HandleFunc("/records/{id:[0-9]+}/grants/{grantee}", h.handleGetGrantEntry).Methods("GET")
	v1.HandleFunc("/owners/{account}/records", h.handleOwnerRecords).Methods("GET")
	v1.HandleFunc("/providers", h.handleListProviders).Methods("GET")
	v1.HandleFunc("/providers/{account}", h.handleGetProvider).Methods("GET")
	v1.HandleFunc("/providers/{account}/grants", h.handleProviderGrants).Methods("GET")
}

func (h *Handler) readiness(ctx context.Context) (uint64, error) {
	height, err := h.ledger.Height(ctx)
	return uint64(height), err
}

// handleSubmit confirms one transaction.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	op := mux.Vars(r)["op"]

	var env ledger.TxEnvelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTxBody))
	if err := dec.Decode(&env); err != nil {
		h.writeError(w, r, &ledger.Error{Code: ledger.CodeInvalidArgument, Op: op, Message: "malformed transaction body"})
		return
	}

	rcpt, err := ledger.Apply(r.Context(), h.ledger, op, &env)
	if h.metrics != nil {
		h.metrics.RecordLedgerSubmission(r.Context(), op, submitOutcome(err), time.Since(start))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SetLedgerHeight(uint64(rcpt.Height))
	}
	h.logger.WithFields(logrus.Fields{
		"op":     op,
		"tx_id":  rcpt.TxID,
		"caller": env.Tx.Caller,
		"height": rcpt.Height,
	}).Info("Transaction confirmed")
	writeJSON(w, http.StatusOK, rcpt)
}

func (h *Handler) handleHeight(w http.ResponseWriter, r *http.Request) {
	height, err := h.ledger.Height(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.HeightBody{Height: height})
}

func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	account := ledger.AccountID(mux.Vars(r)["account"])
	pub, ok, err := h.ledger.GetUserEncryptionKey(r.Context(), account)
	switch {
	case err != nil:
		h.writeError(w, r, err)
	case !ok:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, ledger.KeyBody{Account: account, PublicKey: pub})
	}
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	info, err := h.ledger.GetEncryptedRecordInfo(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleGetGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	info, err := h.ledger.GetGrantInfo(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleGetGrantEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	grantee := ledger.AccountID(mux.Vars(r)["grantee"])
	g, found, err := h.ledger.GetGrantEntry(r.Context(), id, grantee)
	switch {
	case err != nil:
		h.writeError(w, r, err)
	case !found:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, g)
	}
}

func (h *Handler) handleOwnerRecords(w http.ResponseWriter, r *http.Request) {
	ids, err := h.ledger.GetOwnerRecords(r.Context(), ledger.AccountID(mux.Vars(r)["account"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []ledger.RecordID{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	t, err := ledger.ParseProviderType(r.URL.Query().Get("type"))
	if err != nil {
		h.writeError(w, r, &ledger.Error{Code: ledger.CodeInvalidArgument, Op: "getProvidersByType", Message: err.Error()})
		return
	}
	accounts, err := h.ledger.GetProvidersByType(r.Context(), t)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []ledger.AccountID{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, ok, err := h.ledger.GetProvider(r.Context(), ledger.AccountID(mux.Vars(r)["account"]))
	switch {
	case err != nil:
		h.writeError(w, r, err)
	case !ok:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *Handler) handleProviderGrants(w http.ResponseWriter, r *http.Request) {
	ids, err := h.ledger.GetProviderGrants(r.Context(), ledger.AccountID(mux.Vars(r)["account"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []ledger.RecordID{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *Handler) recordID(w http.ResponseWriter, r *http.Request) (ledger.RecordID, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, r, &ledger.Error{Code: ledger.CodeInvalidArgument, Op: "parseRecordID", Message: "record id must be an unsigned integer"})
		return 0, false
	}
	return ledger.RecordID(id), true
}

// statusFor maps a ledger rejection code onto an HTTP status.
func statusFor(code ledger.Code) int {
	switch code {
	case ledger.CodeRecordNotFound, ledger.CodeGrantNotFound, ledger.CodeProviderNotFound:
		return http.StatusNotFound
	case ledger.CodeNotOwner:
		return http.StatusForbidden
	case ledger.CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var le *ledger.Error
	if errors.As(err, &le) {
		h.logger.WithFields(logrus.Fields{
			"path": r.URL.Path,
			"op":   le.Op,
			"code": le.Code,
		}).Debug("Request rejected")
		writeJSON(w, statusFor(le.Code), ledger.ErrorBody{Error: *le})
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusServiceUnavailable, ledger.ErrorBody{Error: ledger.Error{Code: "Cancelled", Message: "request cancelled"}})
		return
	}
	h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	writeJSON(w, http.StatusInternalServerError, ledger.ErrorBody{Error: ledger.Error{Code: "Internal", Message: "internal error"}})
}

func submitOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ledger.ErrLedgerRejected):
		return metrics.OutcomeRejected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

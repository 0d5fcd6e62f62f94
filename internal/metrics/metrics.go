package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Outcome labels shared by ledger, blob and open metrics.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeCancelled   = "cancelled"
	OutcomeDenied      = "denied"
	OutcomeError       = "error"
)

// Metrics holds all application metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestBytes    *prometheus.CounterVec

	ledgerSubmissions        *prometheus.CounterVec
	ledgerSubmissionDuration *prometheus.HistogramVec
	ledgerHeight             prometheus.Gauge

	grantPrecheckRejections *prometheus.CounterVec
	cryptoFailures          *prometheus.CounterVec
	recordOpens             *prometheus.CounterVec

	blobOperations        *prometheus.CounterVec
	blobOperationDuration *prometheus.HistogramVec
}

// NewMetrics registers metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry registers metrics with reg. Tests use a fresh
// registry per case.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_bytes_total",
				Help: "Total bytes transferred in HTTP requests",
			},
			[]string{"method", "path"},
		),
		ledgerSubmissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_submissions_total",
				Help: "Ledger transactions by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ledgerSubmissionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_submission_duration_seconds",
				Help:    "Time from submission to confirmation or rejection",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ledgerHeight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_height",
				Help: "Current ledger height",
			},
		),
		grantPrecheckRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grant_precheck_rejections_total",
				Help: "Grants rejected locally before submission",
			},
			[]string{"reason"},
		),
		cryptoFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_failures_total",
				Help: "Cryptographic failures by kind",
			},
			[]string{"kind"},
		),
		recordOpens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_opens_total",
				Help: "Attempts to decrypt a record",
			},
			[]string{"outcome"},
		),
		blobOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blob_operations_total",
				Help: "Blob store operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		blobOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blob_operation_duration_seconds",
				Help:    "Blob store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// getExemplar returns trace labels for ctx, or nil without a sampled span.
func getExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}

func addCounter(ctx context.Context, c prometheus.Counter, v float64) {
	if ex := getExemplar(ctx); ex != nil {
		if adder, ok := c.(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(v, ex)
			return
		}
	}
	c.Add(v)
}

func observe(ctx context.Context, o prometheus.Observer, v float64) {
	if ex := getExemplar(ctx); ex != nil {
		if eo, ok := o.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, ex)
			return
		}
	}
	o.Observe(v)
}

// sanitizePathLabel keeps the first two path segments and collapses the
// rest so record ids and accounts do not become label values.
func sanitizePathLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(segs) == 0 || segs[0] == "":
		return "/"
	case len(segs) <= 2:
		return "/" + strings.Join(segs, "/")
	default:
		return "/" + segs[0] + "/" + segs[1] + "/*"
	}
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, bytes int64) {
	path = sanitizePathLabel(path)
	statusText := http.StatusText(status)
	addCounter(ctx, m.httpRequestsTotal.WithLabelValues(method, path, statusText), 1)
	observe(ctx, m.httpRequestDuration.WithLabelValues(method, path, statusText), duration.Seconds())
	m.httpRequestBytes.WithLabelValues(method, path).Add(float64(bytes))
}

// RecordLedgerSubmission records one ledger transaction.
func (m *Metrics) RecordLedgerSubmission(ctx context.Context, operation, outcome string, duration time.Duration) {
	addCounter(ctx, m.ledgerSubmissions.WithLabelValues(operation, outcome), 1)
	observe(ctx, m.ledgerSubmissionDuration.WithLabelValues(operation), duration.Seconds())
}

// SetLedgerHeight publishes the current height.
func (m *Metrics) SetLedgerHeight(h uint64) {
	m.ledgerHeight.Set(float64(h))
}

// RecordGrantPrecheckRejection counts a grant refused before submission.
func (m *Metrics) RecordGrantPrecheckRejection(reason string) {
	m.grantPrecheckRejections.WithLabelValues(reason).Inc()
}

// RecordCryptoFailure counts a cryptographic failure such as a seal that
// does not open.
func (m *Metrics) RecordCryptoFailure(kind string) {
	m.cryptoFailures.WithLabelValues(kind).Inc()
}

// RecordOpen counts a decrypt attempt.
func (m *Metrics) RecordOpen(ctx context.Context, outcome string) {
	addCounter(ctx, m.recordOpens.WithLabelValues(outcome), 1)
}

// RecordBlobOperation records a blob store call.
func (m *Metrics) RecordBlobOperation(ctx context.Context, operation, outcome string, duration time.Duration) {
	addCounter(ctx, m.blobOperations.WithLabelValues(operation, outcome), 1)
	observe(ctx, m.blobOperationDuration.WithLabelValues(operation), duration.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

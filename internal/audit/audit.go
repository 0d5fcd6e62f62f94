package audit

import (
	"sync"
	"time"

	"github.com/kenneth/chart-vault/internal/config"
	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventTypeKeyGenerate  EventType = "key_generate"
	EventTypeKeySave      EventType = "key_save"
	EventTypeKeyDelete    EventType = "key_delete"
	EventTypeKeyPublish   EventType = "key_publish"
	EventTypeRecordCreate EventType = "record_create"
	EventTypeRecordDelete EventType = "record_delete"
	EventTypeGrant        EventType = "grant"
	EventTypeRevoke       EventType = "revoke"
	EventTypeRevokeAll    EventType = "revoke_all"
	EventTypeScopeUpdate  EventType = "scope_update"
	EventTypePrivacy      EventType = "privacy_mode"
	// EventTypeOpen is a decrypt attempt by a grantee or the owner.
	EventTypeOpen     EventType = "open"
	EventTypeProvider EventType = "provider"
)

// AuditEvent is a single audit log entry. It never carries key material or
// plaintext.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Account   string                 `json:"account,omitempty"`
	RecordID  uint64                 `json:"record_id,omitempty"`
	Grantee   string                 `json:"grantee,omitempty"`
	TxID      string                 `json:"tx_id,omitempty"`
	Algorithm string                 `json:"algorithm,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log records an event as given.
	Log(event *AuditEvent) error

	// LogKey records a local key lifecycle event.
	LogKey(eventType EventType, account string, success bool, err error)

	// LogGrant records a record or grant mutation submitted to the ledger.
	LogGrant(eventType EventType, account string, recordID uint64, grantee, txID string, success bool, err error, duration time.Duration, metadata map[string]interface{})

	// LogOpen records a decrypt attempt.
	LogOpen(account string, recordID uint64, algorithm string, success bool, err error, duration time.Duration)

	// GetEvents returns buffered events (for testing/querying).
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

type auditLogger struct {
	mu            sync.Mutex
	events        []*AuditEvent
	maxEvents     int
	writer        EventWriter
	redactPattern []string
	log           *logrus.Logger
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates an audit logger that replaces metadata
// values whose keys match any of the glob patterns.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactPatterns []string) Logger {
	if writer == nil {
		writer = NewStdoutSink(nil)
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &auditLogger{
		events:        make([]*AuditEvent, 0, maxEvents),
		maxEvents:     maxEvents,
		writer:        writer,
		redactPattern: redactPatterns,
		log:           logrus.StandardLogger(),
	}
}

// NewLoggerFromConfig creates an audit logger from configuration. A disabled
// audit section yields a logger that only buffers in memory.
func NewLoggerFromConfig(cfg config.AuditConfig, logger *logrus.Logger) (Logger, error) {
	if !cfg.Enabled {
		return NewLoggerWithRedaction(cfg.MaxEvents, discardWriter{}, cfg.RedactMetadataKeys), nil
	}

	var writer EventWriter
	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		fs, err := NewFileSink(cfg.Sink.FilePath)
		if err != nil {
			return nil, err
		}
		writer = fs
	case "stdout", "":
		writer = NewStdoutSink(nil)
	default:
		return nil, errUnknownSink(cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		bs := NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
		bs.logger = logger
		writer = bs
	}

	l := NewLoggerWithRedaction(cfg.MaxEvents, writer, cfg.RedactMetadataKeys).(*auditLogger)
	if logger != nil {
		l.log = logger
	}
	return l, nil
}

// Log logs an audit event. Sink failures are logged and never returned so
// auditing cannot block the operation being audited.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Metadata = l.redact(event.Metadata)

	if err := l.writer.WriteEvent(event); err != nil {
		l.log.WithError(err).WithField("event_type", event.EventType).Warn("Failed to write audit event")
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (l *auditLogger) redact(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactPattern) == 0 || len(metadata) == 0 {
		return metadata
	}

	var clone map[string]interface{}
	for k := range metadata {
		if !l.matches(k) {
			continue
		}
		if clone == nil {
			clone = make(map[string]interface{}, len(metadata))
			for ck, cv := range metadata {
				clone[ck] = cv
			}
		}
		clone[k] = "[REDACTED]"
	}
	if clone == nil {
		return metadata
	}
	return clone
}

func (l *auditLogger) matches(key string) bool {
	for _, p := range l.redactPattern {
		if glob.Glob(p, key) {
			return true
		}
	}
	return false
}

func (l *auditLogger) LogKey(eventType EventType, account string, success bool, err error) {
	event := &AuditEvent{
		EventType: eventType,
		Account:   account,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogGrant(eventType EventType, account string, recordID uint64, grantee, txID string, success bool, err error, duration time.Duration, metadata map[string]interface{}) {
	event := &AuditEvent{
		EventType: eventType,
		Account:   account,
		RecordID:  recordID,
		Grantee:   grantee,
		TxID:      txID,
		Success:   success,
		Duration:  duration,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogOpen(account string, recordID uint64, algorithm string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		EventType: EventTypeOpen,
		Account:   account,
		RecordID:  recordID,
		Algorithm: algorithm,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

type discardWriter struct{}

func (discardWriter) WriteEvent(*AuditEvent) error { return nil }

// NewNopLogger returns a Logger that keeps events in memory only.
func NewNopLogger() Logger {
	return NewLogger(0, discardWriter{})
}

package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/calagent/internal/logging"
)

// TurnAudit captures one handled user request for audit logging.
//
// # Privacy Considerations
//
// UserEmail and Utterance are PII. They are only written when the audit
// logger is configured with IncludePII.
type TurnAudit struct {
	// Host that served the turn (http, mcp, cli)
	Host string

	UserEmail string
	SessionID string
	Utterance string

	Intent     string
	Transition string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewTurnAudit creates a new TurnAudit with timing started.
// Call Complete() when the turn finishes.
func NewTurnAudit(host string) *TurnAudit {
	return &TurnAudit{
		Host:      host,
		StartTime: time.Now(),
	}
}

// WithUser sets the user identity and session.
func (ta *TurnAudit) WithUser(email, sessionID string) *TurnAudit {
	ta.UserEmail = email
	ta.SessionID = sessionID
	return ta
}

// WithUtterance sets the raw request text.
func (ta *TurnAudit) WithUtterance(utterance string) *TurnAudit {
	ta.Utterance = utterance
	return ta
}

// WithOutcome sets the classified intent and the transition taken.
func (ta *TurnAudit) WithOutcome(intent, transition string) *TurnAudit {
	ta.Intent = intent
	ta.Transition = transition
	return ta
}

// WithSpanContext extracts trace context from the current span.
func (ta *TurnAudit) WithSpanContext(ctx context.Context) *TurnAudit {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ta.TraceID = span.SpanContext().TraceID().String()
		ta.SpanID = span.SpanContext().SpanID().String()
	}
	return ta
}

// Complete marks the turn as finished and calculates the duration.
func (ta *TurnAudit) Complete(err error) *TurnAudit {
	ta.Duration = time.Since(ta.StartTime)
	ta.Success = err == nil
	if err != nil {
		ta.Error = err.Error()
	}
	return ta
}

// Status returns "success" or "error" based on the Success field.
func (ta *TurnAudit) Status() string {
	if ta.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns cardinality-controlled attributes, without PII.
func (ta *TurnAudit) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("host", ta.Host),
		logging.UserHash(ta.UserEmail),
		logging.Session(ta.SessionID),
		slog.Duration(logging.KeyDuration, ta.Duration),
		slog.Bool("success", ta.Success),
	}
	return ta.appendOptional(attrs)
}

// LogAuditAttrs returns attributes including the full email and utterance.
func (ta *TurnAudit) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("host", ta.Host),
		slog.String("user", ta.UserEmail),
		logging.Session(ta.SessionID),
		slog.String("utterance", ta.Utterance),
		slog.Duration(logging.KeyDuration, ta.Duration),
		slog.Bool("success", ta.Success),
	}
	if ta.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ta.SpanID))
	}
	return ta.appendOptional(attrs)
}

func (ta *TurnAudit) appendOptional(attrs []slog.Attr) []slog.Attr {
	if ta.Intent != "" {
		attrs = append(attrs, logging.Intent(ta.Intent))
	}
	if ta.Transition != "" {
		attrs = append(attrs, logging.Transition(ta.Transition))
	}
	if ta.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ta.TraceID))
	}
	if ta.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, ta.Error))
	}
	return attrs
}

// AuditLogger writes TurnAudit records.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger. A nil logger means slog.Default().
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogTurn logs a completed turn. Safe on a nil receiver.
func (al *AuditLogger) LogTurn(ctx context.Context, ta *TurnAudit) {
	if al == nil || !al.enabled || ta == nil {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = ta.LogAuditAttrs()
	} else {
		attrs = ta.LogAttrs()
	}

	level := slog.LevelInfo
	msg := "turn_handled"
	if !ta.Success {
		level = slog.LevelWarn
		msg = "turn_failed"
	}
	al.logger.LogAttrs(ctx, level, msg, attrs...)
}

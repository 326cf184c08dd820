package instrumentation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTurnAudit_Complete(t *testing.T) {
	ta := NewTurnAudit("http").
		WithUser("jane@example.com", "0123456789abcdef").
		WithUtterance("cancel the review").
		WithOutcome("CANCEL_EVENT", "cancel_single")
	time.Sleep(time.Millisecond)
	ta.Complete(nil)

	assert.True(t, ta.Success)
	assert.Equal(t, StatusSuccess, ta.Status())
	assert.Positive(t, ta.Duration)
	assert.Empty(t, ta.Error)

	ta.Complete(errors.New("calendar down"))
	assert.False(t, ta.Success)
	assert.Equal(t, StatusError, ta.Status())
	assert.Equal(t, "calendar down", ta.Error)
}

func TestTurnAudit_WithSpanContext_NoSpan(t *testing.T) {
	ta := NewTurnAudit("cli").WithSpanContext(context.Background())
	assert.Empty(t, ta.TraceID)
	assert.Empty(t, ta.SpanID)
}

func TestAuditLogger_LogTurn(t *testing.T) {
	tests := []struct {
		name        string
		config      AuditLoggingConfig
		err         error
		contains    []string
		notContains []string
	}{
		{
			name:        "anonymized by default",
			config:      AuditLoggingConfig{Enabled: true},
			contains:    []string{"turn_handled", "user_hash=user:", "session=01234567", "intent=CANCEL_EVENT", "transition=cancel_single"},
			notContains: []string{"jane@example.com", "cancel the review"},
		},
		{
			name:     "with pii",
			config:   AuditLoggingConfig{Enabled: true, IncludePII: true},
			contains: []string{"user=jane@example.com", `utterance="cancel the review"`},
		},
		{
			name:     "failure",
			config:   AuditLoggingConfig{Enabled: true},
			err:      errors.New("calendar down"),
			contains: []string{"level=WARN", "turn_failed", `error="calendar down"`},
		},
		{
			name:        "disabled",
			config:      AuditLoggingConfig{},
			notContains: []string{"turn_"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			al := NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)), tt.config)

			ta := NewTurnAudit("http").
				WithUser("jane@example.com", "0123456789abcdef").
				WithUtterance("cancel the review").
				WithOutcome("CANCEL_EVENT", "cancel_single").
				Complete(tt.err)
			al.LogTurn(context.Background(), ta)

			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestAuditLogger_NilSafe(t *testing.T) {
	var al *AuditLogger
	assert.NotPanics(t, func() { al.LogTurn(context.Background(), NewTurnAudit("cli")) })
}

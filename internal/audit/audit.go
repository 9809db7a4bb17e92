// Package audit writes structured security audit records and feeds them to
// an anomaly monitor.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Event identifies the type of security-relevant action being logged.
type Event string

const (
	OriginRejected            Event = "origin_rejected"
	CSRFRejected              Event = "csrf_rejected"
	RateLimited               Event = "rate_limited"
	RateLimitStoreUnavailable Event = "rate_limit_store_unavailable"
	RateLimitPolicyInvalid    Event = "rate_limit_policy_invalid"
	Unauthenticated           Event = "unauthenticated"
	Forbidden                 Event = "forbidden"
	AccessCodeIssued          Event = "access_code_issued"
	AccessCodeRedeemed        Event = "access_code_redeemed"
	AccessCodeRejected        Event = "access_code_rejected"
	AccessCodeDeleted         Event = "access_code_deleted"
	PIIRevealed               Event = "pii_revealed"
	SessionCleared            Event = "session_cleared"
)

// Logger wraps slog.Logger for audit records. A nil *Logger discards
// everything, so guards can hold one unconditionally.
type Logger struct {
	logger  *slog.Logger
	monitor *Monitor
	now     func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithMonitor feeds every logged event to m.
func WithMonitor(m *Monitor) Option {
	return func(l *Logger) { l.monitor = m }
}

func New(logger *slog.Logger, opts ...Option) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log writes an audit entry tied to an HTTP request.
func (l *Logger) Log(r *http.Request, event Event, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	base := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	}
	l.write(r.Context(), event, append(base, attrs...))
}

// LogContext writes an audit entry that has no request, such as a store
// failure detected below the HTTP layer.
func (l *Logger) LogContext(ctx context.Context, event Event, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	l.write(ctx, event, attrs)
}

// Failure logs a rejected request with a short machine-readable reason.
func (l *Logger) Failure(r *http.Request, event Event, reason string, extra ...slog.Attr) {
	l.Log(r, event, append([]slog.Attr{slog.String("reason", reason)}, extra...)...)
}

func (l *Logger) write(ctx context.Context, event Event, attrs []slog.Attr) {
	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all,
		slog.String("event", string(event)),
		slog.String("timestamp", l.now().UTC().Format(time.RFC3339)),
	)
	all = append(all, attrs...)
	l.logger.LogAttrs(ctx, levelFor(event), "audit", all...)
	l.monitor.Record(event)
}

func levelFor(event Event) slog.Level {
	switch event {
	case RateLimitStoreUnavailable, RateLimitPolicyInvalid:
		return slog.LevelError
	case OriginRejected, CSRFRejected, RateLimited, Forbidden, AccessCodeRejected:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

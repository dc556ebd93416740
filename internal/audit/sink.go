package audit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"crmdesk.io/internal/obs"
)

// LogSink writes entries to a structured logger.
type LogSink struct {
	logger *zerolog.Logger
}

// NewLogSink logs through l, or the shared service logger when l is nil.
func NewLogSink(l *zerolog.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Write(ctx context.Context, e Entry) error {
	l := s.logger
	if l == nil {
		l = obs.Ctx(ctx)
	}
	ev := l.Info().
		Str("type", "audit").
		Str("audit_id", e.ID).
		Str("user_id", e.UserID).
		Str("action", string(e.Action)).
		Str("description", e.Description).
		Time("created_at", e.CreatedAt)
	if e.Metadata.IP != "" {
		ev = ev.Str("ip", e.Metadata.IP)
	}
	if e.Metadata.UserAgent != "" {
		ev = ev.Str("user_agent", e.Metadata.UserAgent)
	}
	if e.Metadata.SessionID != "" {
		ev = ev.Str("session_id", e.Metadata.SessionID)
	}
	if e.Metadata.Reason != "" {
		ev = ev.Str("reason", e.Metadata.Reason)
	}
	if e.Metadata.RiskScore > 0 {
		ev = ev.Int("risk_score", e.Metadata.RiskScore)
	}
	if e.Changes != nil {
		ev = ev.Interface("changes", e.Changes)
	}
	ev.Msg("audit")
	return nil
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

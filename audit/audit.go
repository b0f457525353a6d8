// Package audit records authentication outcomes per tenant.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	LoginSuccess         EventType = "login.success"
	LoginRejected        EventType = "login.rejected"
	RefreshSuccess       EventType = "refresh.success"
	RefreshRejected      EventType = "refresh.rejected"
	RefreshReuseDetected EventType = "refresh.reuse_detected"
	Logout               EventType = "logout"
	LogoutAll            EventType = "logout.all"
	LockoutEngaged       EventType = "lockout.engaged"
	UserEnrolled         EventType = "user.enrolled"
)

// Event is one audited outcome. Field order is fixed because ledgers hash the
// JSON encoding.
type Event struct {
	Type      EventType `json:"type"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RemoteIP  string    `json:"remote_ip,omitempty"`
	Time      time.Time `json:"time"`
}

// Recorder persists events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// LogRecorder writes events to a zerolog logger
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// DefaultRecorder logs through the global zerolog logger
func DefaultRecorder() Recorder {
	return NewLogRecorder(log.Logger)
}

func (r *LogRecorder) Record(_ context.Context, e Event) error {
	ev := r.logger.Info()
	switch e.Type {
	case LoginRejected, RefreshRejected:
		ev = r.logger.Warn()
	case RefreshReuseDetected, LockoutEngaged:
		ev = r.logger.Error()
	}
	ev.Str("event", string(e.Type)).
		Str("tenant", e.TenantID).
		Str("user", e.UserID).
		Str("session", e.SessionID).
		Str("reason", e.Reason).
		Str("remote_ip", e.RemoteIP).
		Time("at", e.Time).
		Msg("audit")
	return nil
}

type multi []Recorder

// Multi fans each event out to every recorder. All recorders are tried and
// their errors joined.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}

func (m multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package audit defines the security events emitted by the request guard and
// the Sink they are handed to.
package audit

import (
	"context"
	"time"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

// EventType names what the guard stopped.
type EventType string

const (
	EventRateLimited             EventType = "rate_limited"
	EventSuspiciousRequest       EventType = "suspicious_request"
	EventAuthenticationFailed    EventType = "authentication_failed"
	EventAuthorizationDenied     EventType = "authorization_denied"
	EventAccessDenied            EventType = "access_denied"
	EventQueryConstructionFailed EventType = "query_construction_failed"
)

// Event is one guard decision worth recording. Reason and Code are
// server-side detail and never reach the client.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id"`
	ClientKey string    `json:"client_key"`
	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Route     string    `json:"route,omitempty"`
	Code      string    `json:"code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Sink receives events. Implementations must not block the request for long.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// NopSink drops every event.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(context.Context, Event) error { return nil }

// LogSink writes events to a logger at WARN.
type LogSink struct {
	Logger logging.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(_ context.Context, ev Event) error {
	s.Logger.Warn("security event",
		logging.String("event_id", ev.ID),
		logging.String("event_type", string(ev.Type)),
		logging.Time("occurred_at", ev.Time),
		logging.String("request_id", ev.RequestID),
		logging.String("client_key", ev.ClientKey),
		logging.String("user_id", ev.UserID),
		logging.String("method", ev.Method),
		logging.String("path", ev.Path),
		logging.String("code", ev.Code),
		logging.String("reason", ev.Reason),
	)
	return nil
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

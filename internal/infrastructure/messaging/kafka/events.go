package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/audit"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// SchemaVersion is carried in every event header.
const SchemaVersion = "1"

// publisher is the part of Producer the event publisher needs.
type publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// SecurityEventPublisher encodes audit events as JSON keyed by client key so
// one client's events stay ordered within a partition.
type SecurityEventPublisher struct {
	producer publisher
	source   string
	logger   logging.Logger
	now      func() time.Time
}

var _ audit.Sink = (*SecurityEventPublisher)(nil)

// NewSecurityEventPublisher wraps p. source names the emitting service.
func NewSecurityEventPublisher(p publisher, source string, log logging.Logger) *SecurityEventPublisher {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &SecurityEventPublisher{producer: p, source: source, logger: log, now: time.Now}
}

// Publish implements audit.Sink. Missing ids and times are filled in.
func (s *SecurityEventPublisher) Publish(ctx context.Context, ev audit.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = s.now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode security event")
	}

	key := ev.ClientKey
	if key == "" {
		key = ev.RequestID
	}
	err = s.producer.Publish(ctx, Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.Time,
		Headers: map[string]string{
			"event_type":     string(ev.Type),
			"source":         s.source,
			"schema_version": SchemaVersion,
		},
	})
	if err != nil {
		s.logger.Warn("security event not published",
			logging.String("event_id", ev.ID),
			logging.String("event_type", string(ev.Type)),
			logging.Err(err))
		return err
	}
	return nil
}

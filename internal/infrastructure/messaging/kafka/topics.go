package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// TopicSpec describes a topic to create when missing.
type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	Retention         time.Duration
}

// SecurityEventsTopic is the default layout of the security events topic.
func SecurityEventsTopic(name string) TopicSpec {
	return TopicSpec{Name: name, NumPartitions: 3, ReplicationFactor: 1, Retention: 30 * 24 * time.Hour}
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates topics on startup.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the first broker.
func NewTopicManager(ctx context.Context, brokers []string, log logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	conn, err := (&kafka.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "failed to dial kafka")
	}
	return NewTopicManagerWithConn(conn, log), nil
}

// NewTopicManagerWithConn wraps an existing connection.
func NewTopicManagerWithConn(conn ConnInterface, log logging.Logger) *TopicManager {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &TopicManager{conn: conn, logger: log}
}

// TopicExists reports whether the broker knows any partition of name.
func (m *TopicManager) TopicExists(name string) bool {
	partitions, err := m.conn.ReadPartitions(name)
	return err == nil && len(partitions) > 0
}

// EnsureTopic creates spec unless it already exists.
func (m *TopicManager) EnsureTopic(spec TopicSpec) error {
	if spec.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if spec.NumPartitions <= 0 || spec.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "topic partitions and replication factor must be > 0")
	}
	if m.TopicExists(spec.Name) {
		return nil
	}

	cfg := kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	}
	if spec.Retention > 0 {
		cfg.ConfigEntries = append(cfg.ConfigEntries, kafka.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: fmt.Sprintf("%d", spec.Retention.Milliseconds()),
		})
	}
	if err := m.conn.CreateTopics(cfg); err != nil {
		if m.TopicExists(spec.Name) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeExternalService, "create topic failed")
	}
	m.logger.Info("kafka topic created", logging.String("topic", spec.Name))
	return nil
}

// Close closes the connection.
func (m *TopicManager) Close() error {
	return m.conn.Close()
}

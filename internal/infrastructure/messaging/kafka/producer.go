// Package kafka publishes ConstructOps security events to Kafka.
package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

var (
	ErrProducerClosed = errors.New(errors.ErrCodeExternalService, "producer closed")
)

// MaxMessageBytes caps a single encoded message.
const MaxMessageBytes = 1 << 20

// Message is what the producer writes.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// ProducerMetrics counts writes since start.
type ProducerMetrics struct {
	MessagesSent   atomic.Int64
	MessagesFailed atomic.Int64
	BytesSent      atomic.Int64
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// Producer writes to one topic.
type Producer struct {
	writer  WriterInterface
	topic   string
	logger  logging.Logger
	closed  atomic.Bool
	metrics *ProducerMetrics
}

// NewProducer builds a hash-balanced writer for cfg.Topic. In async mode
// delivery failures are only logged.
func NewProducer(cfg config.KafkaConfig, log logging.Logger) (*Producer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	p := &Producer{topic: cfg.Topic, logger: log, metrics: &ProducerMetrics{}}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        cfg.Async,
		Transport:    &kafka.Transport{DialTimeout: 10 * time.Second},
	}
	if cfg.Async {
		w.Completion = p.complete
	}
	p.writer = w
	return p, nil
}

// NewProducerWithWriter wraps an existing writer. Used by tests.
func NewProducerWithWriter(w WriterInterface, topic string, log logging.Logger) *Producer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Producer{writer: w, topic: topic, logger: log, metrics: &ProducerMetrics{}}
}

// ValidateConfig checks the fields NewProducer depends on.
func ValidateConfig(cfg config.KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	if cfg.Topic == "" {
		return errors.New(errors.ErrCodeValidation, "kafka topic required")
	}
	return nil
}

// Topic returns the destination topic.
func (p *Producer) Topic() string { return p.topic }

// Publish writes one message.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if len(msg.Value) == 0 {
		return errors.New(errors.ErrCodeValidation, "message value required")
	}
	if len(msg.Value) > MaxMessageBytes {
		return errors.New(errors.ErrCodeValidation, "message too large")
	}

	if err := p.writer.WriteMessages(ctx, p.toKafkaMessage(msg)); err != nil {
		p.metrics.MessagesFailed.Add(1)
		return errors.Wrap(err, errors.ErrCodeExternalService, "publish failed")
	}
	p.metrics.MessagesSent.Add(1)
	p.metrics.BytesSent.Add(int64(len(msg.Value)))
	return nil
}

func (p *Producer) complete(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	p.metrics.MessagesFailed.Add(int64(len(msgs)))
	p.logger.Warn("kafka async delivery failed",
		logging.String("topic", p.topic),
		logging.Int("messages", len(msgs)),
		logging.Err(err))
}

// Metrics returns a snapshot of the counters.
func (p *Producer) Metrics() (sent, failed, bytes int64) {
	return p.metrics.MessagesSent.Load(), p.metrics.MessagesFailed.Load(), p.metrics.BytesSent.Load()
}

// Close flushes and closes the writer once.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("kafka producer closed",
		logging.String("topic", p.topic),
		logging.Int64("sent", p.metrics.MessagesSent.Load()))
	return err
}

func (p *Producer) toKafkaMessage(msg Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    ts,
	}
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka audit sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Async hands messages to the client's background batcher instead of
	// waiting for broker acknowledgement.
	Async bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record as a JSON message keyed by record ID.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaSink creates a producer for cfg.Topic.
func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka audit sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka audit sink: no topic configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "audit.KafkaSink")

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        cfg.Async,
	}
	if cfg.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka audit publish failed", "messages", len(msgs), "error", err)
			}
		}
	}
	return newKafkaSink(w, cfg.Topic, log), nil
}

func newKafkaSink(w messageWriter, topic string, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, logger: logger}
}

// Append publishes the event; failures are logged.
func (k *KafkaSink) Append(event string, fields map[string]any) {
	if err := k.Write(context.Background(), NewRecord(event, fields, time.Now())); err != nil {
		k.logger.Warn("audit write failed", "event", event, "error", err)
	}
}

// Write publishes rec.
func (k *KafkaSink) Write(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.ID),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(rec.Event)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the producer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerOptions configures a Producer. With Async set, Publish returns as
// soon as the message is queued and delivery failures are only logged and
// counted.
type ProducerOptions struct {
	Brokers      []string
	BatchTimeout time.Duration
	Async        bool
}

// Producer writes events keyed by aggregate id, so all events of one
// aggregate land on the same partition in order.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *slog.Logger
}

// NewProducer creates a producer. No connection is made until the first
// Publish.
func NewProducer(opts ProducerOptions, logger *slog.Logger) *Producer {
	p := &Producer{brokers: opts.Brokers, logger: logger}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: opts.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        opts.Async,
	}
	if opts.Async {
		p.writer.Completion = p.delivered
	}
	return p
}

func (p *Producer) delivered(msgs []kafka.Message, err error) {
	for _, m := range msgs {
		observePublish(m.Topic, err)
	}
	if err != nil {
		p.logger.Error("event delivery failed",
			slog.Int("messages", len(msgs)),
			slog.String("error", err.Error()),
		)
	}
}

// Publish writes ev to topic. The event type, source and correlation id are
// copied into message headers.
func (p *Producer) Publish(ctx context.Context, topic string, ev *Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(ev.Type)},
		{Key: "source", Value: []byte(ev.Source)},
	}
	if ev.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: "correlation_id", Value: []byte(ev.CorrelationID)})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(ev.AggregateID),
		Value:   value,
		Headers: headers,
	})
	if !p.writer.Async {
		observePublish(topic, err)
	}
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

// Ping succeeds when any broker answers a metadata request.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	var errs []error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err == nil {
			_, err = conn.Brokers()
			_ = conn.Close()
		}
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return fmt.Errorf("kafka unreachable: %w", errors.Join(errs...))
}

// Close flushes queued messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

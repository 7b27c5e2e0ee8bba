package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler processes one event. A returned error is retried.
type Handler func(ctx context.Context, ev *Event) error

// ConsumerOptions configures a Consumer. Attempts bounds how often a failing
// event is handled before it is skipped; Backoff is the first wait between
// attempts and doubles after each.
type ConsumerOptions struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	Attempts int
	Backoff  time.Duration
}

// Consumer reads a set of topics as one consumer group.
type Consumer struct {
	reader    *kafka.Reader
	handle    Handler
	attempts  int
	backoff   time.Duration
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewConsumer creates a consumer. It joins the group when Run starts.
func NewConsumer(opts ConsumerOptions, handle Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     opts.Brokers,
			GroupID:     opts.GroupID,
			GroupTopics: opts.Topics,
			MinBytes:    1,
			MaxBytes:    10e6,
		}),
		handle:   handle,
		attempts: max(opts.Attempts, 1),
		backoff:  opts.Backoff,
		logger:   logger,
	}
}

// Run consumes until ctx is done or the consumer is closed. A message is
// committed once it was handled, failed every attempt or could not be
// decoded, so one bad event never stalls its partition.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() { _ = c.Close() }()
	cfg := c.reader.Config()
	c.logger.Info("consumer started", slog.Any("topics", cfg.GroupTopics), slog.String("group", cfg.GroupID))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if ctx.Err() != nil || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			c.logger.Error("fetch message", slog.String("error", err.Error()))
			continue
		}

		if c.dispatch(ctx, msg.Topic, msg.Value) != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit message",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dispatch decodes and handles one message. It only fails when ctx ended
// before the handler succeeded, in which case the message must stay
// uncommitted.
func (c *Consumer) dispatch(ctx context.Context, topic string, raw []byte) error {
	ev, err := parseEvent(raw)
	if err != nil {
		eventsConsumed.WithLabelValues(topic, "malformed").Inc()
		c.logger.Warn("skipping malformed event", slog.String("topic", topic), slog.String("error", err.Error()))
		return nil
	}

	start := time.Now()
	err = c.handleWithRetry(ctx, ev)
	handleDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		eventsConsumed.WithLabelValues(topic, "handled").Inc()
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		eventsConsumed.WithLabelValues(topic, "failed").Inc()
		c.logger.Error("skipping event after failed attempts",
			slog.String("topic", topic),
			slog.String("event_type", ev.Type),
			slog.String("event_id", ev.ID),
			slog.Int("attempts", c.attempts),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (c *Consumer) handleWithRetry(ctx context.Context, ev *Event) error {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, ev)
		if err == nil || attempt >= c.attempts {
			return err
		}
		c.logger.Warn("event handler failed",
			slog.String("event_type", ev.Type),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// Close leaves the group. Safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.reader.Close() })
	return err
}

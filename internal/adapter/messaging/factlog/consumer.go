package factlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DeadLetter is written to "<topic>.dlq" when a consumer group gives up on a message
type DeadLetter struct {
	OriginalTopic string          `json:"originalTopic"`
	Partition     int             `json:"partition"`
	Offset        int64           `json:"offset"`
	Key           string          `json:"key"`
	ConsumerGroup string          `json:"consumerGroup"`
	Fact          json.RawMessage `json:"fact"`
	Attempts      int             `json:"attempts"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failedAt"`
}

// ConsumerOptions tunes in-process retries
type ConsumerOptions struct {
	Attempts int           // handler runs per message before dead-lettering
	Backoff  time.Duration // multiplied by the attempt number
}

// Consumer feeds one topic to a Router on behalf of a consumer group.
// Offsets are committed only after a message was handled or dead-lettered.
type Consumer struct {
	Group string
	Topic string

	broker Broker
	router *Router
	opts   ConsumerOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewConsumer creates a consumer for group on topic
func NewConsumer(broker Broker, group, topic string, router *Router, opts ConsumerOptions, logger *zap.Logger) *Consumer {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Consumer{
		Group:  group,
		Topic:  topic,
		broker: broker,
		router: router,
		opts:   opts,
		logger: logger.With(zap.String("topic", topic), zap.String("group", group)),
		now:    time.Now,
	}
}

// Run consumes until ctx is cancelled. The message being handled when ctx ends
// is finished and committed before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	reader, err := c.broker.Reader(c.Group, c.Topic)
	if err != nil {
		return fmt.Errorf("failed to open reader for %s: %w", c.Topic, err)
	}
	defer reader.Close()

	c.logger.Info("consumer started")
	for {
		msg, err := reader.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped")
				return nil
			}
			return fmt.Errorf("failed to fetch from %s: %w", c.Topic, err)
		}

		work := context.WithoutCancel(ctx)
		if err := c.process(ctx, work, msg); err != nil {
			if errors.Is(err, errStopped) {
				// offset stays uncommitted so the message is redelivered
				return nil
			}
			return err
		}
		if err := reader.Commit(work, msg); err != nil {
			return fmt.Errorf("failed to commit offset %d on %s: %w", msg.Offset, c.Topic, err)
		}
	}
}

var errStopped = errors.New("consumer stopped")

// process returns errStopped when ctx ended before the message reached a final outcome
func (c *Consumer) process(ctx, work context.Context, msg Message) error {
	log := c.logger.With(
		zap.String("correlation_id", msg.Key),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	fact, err := decodeFact(msg)
	if err != nil {
		log.Error("undecodable message, dead-lettering", zap.Error(err))
		return c.deadLetter(work, msg, 1, err)
	}
	log = log.With(zap.String("fact_type", string(fact.Type)), zap.String("fact_id", fact.ID.String()))

	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		routed, err := c.router.Route(work, fact)
		if err == nil {
			if !routed {
				log.Debug("no route for fact type, skipping")
			}
			return nil
		}
		lastErr = err
		log.Warn("fact handler failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < c.opts.Attempts && c.opts.Backoff > 0 {
			select {
			case <-ctx.Done():
				return errStopped
			case <-time.After(c.opts.Backoff * time.Duration(attempt)):
			}
		}
	}

	log.Error("fact handler exhausted retries, dead-lettering", zap.Int("attempts", c.opts.Attempts), zap.Error(lastErr))
	return c.deadLetter(work, msg, c.opts.Attempts, lastErr)
}

func (c *Consumer) deadLetter(ctx context.Context, msg Message, attempts int, cause error) error {
	letter := DeadLetter{
		OriginalTopic: c.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Key:           msg.Key,
		ConsumerGroup: c.Group,
		Fact:          json.RawMessage(msg.Value),
		Attempts:      attempts,
		Error:         cause.Error(),
		FailedAt:      c.now().UTC(),
	}
	if !json.Valid(msg.Value) {
		raw, _ := json.Marshal(string(msg.Value))
		letter.Fact = raw
	}

	value, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	headers := map[string]string{HeaderCorrelationID: msg.Key}
	if t, ok := msg.Headers[HeaderFactType]; ok {
		headers[HeaderFactType] = t
	}
	if err := c.broker.Write(ctx, DeadLetterTopic(c.Topic), Message{Key: msg.Key, Value: value, Headers: headers}); err != nil {
		return fmt.Errorf("failed to write dead letter for offset %d: %w", msg.Offset, err)
	}
	return nil
}

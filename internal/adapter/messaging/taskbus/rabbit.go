package taskbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// RabbitBroker is the RabbitMQ Task Bus.
// Work queues are addressed through the default exchange; every queue dead-letters
// into "<prefix>.dlx" which routes to "<queue>.dlq".
type RabbitBroker struct {
	conn   *amqp.Connection
	logger *zap.Logger

	deadLetterExchange string

	mu    sync.Mutex
	pubCh *amqp.Channel
}

// NewRabbitBroker dials url and opens a publisher channel in confirm mode
func NewRabbitBroker(url, exchangePrefix string, logger *zap.Logger) (*RabbitBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publisher channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	dlx := exchangePrefix + ".dlx"
	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", dlx, err)
	}

	return &RabbitBroker{
		conn:               conn,
		logger:             logger,
		deadLetterExchange: dlx,
		pubCh:              ch,
	}, nil
}

func (b *RabbitBroker) Declare(_ context.Context, spec QueueSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dlq := spec.DeadLetterQueue()
	if _, err := b.pubCh.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", dlq, err)
	}
	if err := b.pubCh.QueueBind(dlq, dlq, b.deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", dlq, err)
	}

	if _, err := b.pubCh.QueueDeclare(spec.Name, true, false, false, false, queueArgs(spec, b.deadLetterExchange)); err != nil {
		return fmt.Errorf("failed to declare %s: %w", spec.Name, err)
	}
	return nil
}

func queueArgs(spec QueueSpec, dlx string) amqp.Table {
	args := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": spec.DeadLetterQueue(),
	}
	if spec.MaxPriority > 0 {
		args["x-max-priority"] = int32(spec.MaxPriority)
	}
	if spec.TTL > 0 {
		args["x-message-ttl"] = spec.TTL.Milliseconds()
	}
	return args
}

func (b *RabbitBroker) Publish(ctx context.Context, msg Message) error {
	pub := amqp.Publishing{
		Headers:      amqp.Table(msg.Headers),
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		Priority:     msg.Priority,
		Timestamp:    msg.Timestamp,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Body:         msg.Body,
	}

	b.mu.Lock()
	confirm, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", msg.Queue, false, false, pub)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publisher confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", msg.ID)
	}
	return nil
}

func (b *RabbitBroker) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		// closing the channel returns unacknowledged messages to the queue
		defer ch.Close()

		for {
			var raw amqp.Delivery
			var ok bool
			select {
			case <-ctx.Done():
				return
			case raw, ok = <-msgs:
				if !ok {
					return
				}
			}

			d := b.toDelivery(queue, raw)
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
			<-d.Settled()
		}
	}()
	return out, nil
}

func (b *RabbitBroker) toDelivery(queue string, raw amqp.Delivery) *Delivery {
	msg := Message{
		ID:          raw.MessageId,
		Type:        domain.TaskType(raw.Type),
		Queue:       queue,
		Priority:    raw.Priority,
		Timestamp:   raw.Timestamp,
		ContentType: raw.ContentType,
		Body:        raw.Body,
		Headers:     map[string]any(raw.Headers),
	}
	attempt := Attempts(raw.Headers, queue)

	return newDelivery(msg, attempt, func(ack, requeue bool) error {
		switch {
		case ack:
			return raw.Ack(false)
		case requeue:
			return b.requeue(msg, attempt, raw)
		default:
			return raw.Nack(false, false)
		}
	})
}

// requeue puts the message back with an incremented delivery count.
// Classic priority queues do not stamp x-delivery-count on a plain requeue,
// so the count is carried by republishing before acking the original.
func (b *RabbitBroker) requeue(msg Message, attempt int, raw amqp.Delivery) error {
	headers := make(map[string]any, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderDeliveryCount] = int64(attempt)
	msg.Headers = headers

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Publish(ctx, msg); err != nil {
		b.logger.Warn("republish failed, falling back to broker requeue",
			zap.String("queue", msg.Queue),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return raw.Nack(false, true)
	}
	return raw.Ack(false)
}

func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	return b.conn.Close()
}

// Attempts derives the 1-based delivery attempt from broker headers:
// one plus the larger of x-delivery-count and the x-death counts recorded for queue.
func Attempts(headers amqp.Table, queue string) int {
	previous := toInt(headers[HeaderDeliveryCount])

	if deaths, ok := headers["x-death"].([]interface{}); ok {
		total := 0
		for _, entry := range deaths {
			death, ok := entry.(amqp.Table)
			if !ok {
				continue
			}
			if q, _ := death["queue"].(string); q != queue {
				continue
			}
			total += toInt(death["count"])
		}
		if total > previous {
			previous = total
		}
	}

	return previous + 1
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

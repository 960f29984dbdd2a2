package taskbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// Publisher turns domain tasks into Task Bus messages
type Publisher struct {
	broker Broker
	now    func() time.Time
}

// NewPublisher creates a publisher on top of broker
func NewPublisher(broker Broker) *Publisher {
	return &Publisher{broker: broker, now: time.Now}
}

// Publish encodes task as JSON and enqueues it on queue. Priority is clamped to 0-9.
func (p *Publisher) Publish(ctx context.Context, queue string, task domain.Task, priority uint8) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode %s task: %w", task.TaskType(), err)
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}

	msg := Message{
		ID:          uuid.NewString(),
		Type:        task.TaskType(),
		Queue:       queue,
		Priority:    priority,
		Timestamp:   p.now().UTC().Truncate(time.Second),
		ContentType: ContentTypeJSON,
		Body:        body,
	}
	if err := p.broker.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", msg.Type, queue, err)
	}
	return nil
}

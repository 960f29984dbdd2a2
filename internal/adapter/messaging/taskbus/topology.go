package taskbus

import (
	"context"
	"fmt"
	"time"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// MaxPriority is the highest priority a task may carry
const MaxPriority uint8 = 9

// QueueSpec describes one work queue
type QueueSpec struct {
	Name        string
	MaxPriority uint8         // 0 disables priorities on the queue
	TTL         time.Duration // 0 keeps messages until consumed
}

// DeadLetterQueue returns the name of the queue that receives rejected and expired messages
func (s QueueSpec) DeadLetterQueue() string {
	return DeadLetterQueue(s.Name)
}

// DeadLetterQueue returns the dead-letter queue name of queue
func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}

// DefaultQueues is the topology the payment service works with
func DefaultQueues() []QueueSpec {
	return []QueueSpec{
		{Name: domain.QueueEmailNotifications, MaxPriority: 10},
		{Name: domain.QueueSMSNotifications, MaxPriority: 10},
		{Name: domain.QueuePushNotifications, MaxPriority: 10},
		{Name: domain.QueueGenerateReceipt},
		{Name: domain.QueueUploadReceipt, TTL: 24 * time.Hour},
		{Name: domain.QueueReconciliation, MaxPriority: 10},
	}
}

// Provision declares every queue on the broker
func Provision(ctx context.Context, b Broker, specs []QueueSpec) error {
	for _, spec := range specs {
		if err := b.Declare(ctx, spec); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", spec.Name, err)
		}
	}
	return nil
}

package taskbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

var (
	// ErrUnknownQueue is returned when publishing or consuming on a queue that was never provisioned
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrAlreadySettled is returned by Ack/Nack on a delivery that was already acknowledged
	ErrAlreadySettled = errors.New("delivery already settled")
)

// HeaderDeliveryCount is the broker header carrying the number of previous deliveries
const HeaderDeliveryCount = "x-delivery-count"

// ContentTypeJSON is the content type of every task body
const ContentTypeJSON = "application/json"

// Message is the wire envelope of a dispatched task
type Message struct {
	ID          string
	Type        domain.TaskType
	Queue       string
	Priority    uint8
	Timestamp   time.Time
	ContentType string
	Body        []byte
	Headers     map[string]any
}

// Delivery is a received message awaiting acknowledgement.
// Attempt is 1 on the first delivery and is derived from broker metadata.
type Delivery struct {
	Message
	Attempt int

	settle func(ack, requeue bool) error
	once   sync.Once
	done   chan struct{}
}

func newDelivery(msg Message, attempt int, settle func(ack, requeue bool) error) *Delivery {
	return &Delivery{
		Message: msg,
		Attempt: attempt,
		settle:  settle,
		done:    make(chan struct{}),
	}
}

// Ack confirms the message was processed
func (d *Delivery) Ack() error {
	return d.finish(true, false)
}

// Nack rejects the message. requeue=false routes it to the dead-letter queue.
func (d *Delivery) Nack(requeue bool) error {
	return d.finish(false, requeue)
}

// Settled is closed once Ack or Nack was called
func (d *Delivery) Settled() <-chan struct{} {
	return d.done
}

func (d *Delivery) finish(ack, requeue bool) error {
	err := ErrAlreadySettled
	d.once.Do(func() {
		err = d.settle(ack, requeue)
		close(d.done)
	})
	return err
}

// Broker is the transport behind the Task Bus
type Broker interface {
	// Declare provisions a queue with its dead-letter companion
	Declare(ctx context.Context, spec QueueSpec) error

	// Publish enqueues msg on msg.Queue
	Publish(ctx context.Context, msg Message) error

	// Consume streams deliveries from queue one at a time: the next delivery is
	// only sent after the previous one was settled. The channel closes when ctx ends.
	Consume(ctx context.Context, queue string) (<-chan *Delivery, error)

	Close() error
}

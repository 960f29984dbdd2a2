package taskbus

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Task Bus used by tests and single-node setups.
// It keeps RabbitMQ semantics that matter to workers: priority ordering,
// one outstanding delivery per consumer, delivery counting, TTL expiry and dead-lettering.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	now    func() time.Time
}

type memQueue struct {
	spec   QueueSpec
	items  memHeap
	seq    uint64
	signal chan struct{}
}

type memItem struct {
	msg        Message
	deliveries int
	seq        uint64
	enqueuedAt time.Time
}

// NewMemoryBroker creates an empty broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memQueue), now: time.Now}
}

func (b *MemoryBroker) Declare(_ context.Context, spec QueueSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.declareLocked(spec)
	b.declareLocked(QueueSpec{Name: spec.DeadLetterQueue()})
	return nil
}

func (b *MemoryBroker) declareLocked(spec QueueSpec) {
	if q, ok := b.queues[spec.Name]; ok {
		q.spec = spec
		return
	}
	b.queues[spec.Name] = &memQueue{spec: spec, signal: make(chan struct{}, 1)}
}

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[msg.Queue]
	if !ok {
		return ErrUnknownQueue
	}
	b.pushLocked(q, msg, 0, 0)
	return nil
}

func (b *MemoryBroker) pushLocked(q *memQueue, msg Message, deliveries int, seq uint64) {
	if q.spec.MaxPriority == 0 {
		msg.Priority = 0
	} else if msg.Priority > q.spec.MaxPriority {
		msg.Priority = q.spec.MaxPriority
	}
	if seq == 0 {
		q.seq++
		seq = q.seq
	}
	heap.Push(&q.items, &memItem{msg: msg, deliveries: deliveries, seq: seq, enqueuedAt: b.now()})
	wake(q)
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	b.mu.Lock()
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return nil, ErrUnknownQueue
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			item, ok := b.next(ctx, q)
			if !ok {
				return
			}

			d := newDelivery(item.msg, item.deliveries+1, func(ack, requeue bool) error {
				b.settle(q, item, ack, requeue)
				return nil
			})

			select {
			case out <- d:
			case <-ctx.Done():
				b.mu.Lock()
				b.pushLocked(q, item.msg, item.deliveries, item.seq)
				b.mu.Unlock()
				return
			}

			// prefetch 1: wait for the consumer before handing out the next message
			<-d.Settled()
		}
	}()
	return out, nil
}

func (b *MemoryBroker) next(ctx context.Context, q *memQueue) (*memItem, bool) {
	for {
		b.mu.Lock()
		for q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*memItem)
			if q.spec.TTL > 0 && b.now().Sub(item.enqueuedAt) > q.spec.TTL {
				b.deadLetterLocked(q, item.msg)
				continue
			}
			if q.items.Len() > 0 {
				wake(q)
			}
			b.mu.Unlock()
			return item, true
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.signal:
		}
	}
}

func (b *MemoryBroker) settle(q *memQueue, item *memItem, ack, requeue bool) {
	if ack {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if requeue {
		b.pushLocked(q, item.msg, item.deliveries+1, item.seq)
		return
	}
	b.deadLetterLocked(q, item.msg)
}

func (b *MemoryBroker) deadLetterLocked(q *memQueue, msg Message) {
	dlq, ok := b.queues[q.spec.DeadLetterQueue()]
	if !ok {
		return
	}
	msg.Queue = dlq.spec.Name
	b.pushLocked(dlq, msg, 0, 0)
}

// Len returns the number of ready messages on queue
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[queue]; ok {
		return q.items.Len()
	}
	return 0
}

// DeadLetters returns a snapshot of the messages dead-lettered from queue
func (b *MemoryBroker) DeadLetters(queue string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	dlq, ok := b.queues[DeadLetterQueue(queue)]
	if !ok {
		return nil
	}
	msgs := make([]Message, 0, dlq.items.Len())
	for _, item := range dlq.items {
		msgs = append(msgs, item.msg)
	}
	return msgs
}

func (b *MemoryBroker) Close() error {
	return nil
}

func wake(q *memQueue) {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// memHeap orders by priority, highest first, then by arrival
type memHeap []*memItem

func (h memHeap) Len() int { return len(h) }

func (h memHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h memHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *memHeap) Push(x any) { *h = append(*h, x.(*memItem)) }

func (h *memHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

package factlog

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnknownTopic is returned for topics that were never provisioned
var ErrUnknownTopic = errors.New("unknown topic")

// MemoryBroker is a single-partition, append-only Fact Log kept in process memory.
// Every consumer group tracks its own committed offset.
type MemoryBroker struct {
	mu      sync.Mutex
	topics  map[string][]Message
	offsets map[groupTopic]int64
	changed chan struct{}
	now     func() time.Time
}

type groupTopic struct {
	group string
	topic string
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics:  make(map[string][]Message),
		offsets: make(map[groupTopic]int64),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

func (b *MemoryBroker) EnsureTopics(_ context.Context, specs []TopicSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, spec := range specs {
		if _, ok := b.topics[spec.Name]; !ok {
			b.topics[spec.Name] = nil
		}
	}
	return nil
}

func (b *MemoryBroker) Write(ctx context.Context, topic string, msgs ...Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	log, ok := b.topics[topic]
	if !ok {
		return ErrUnknownTopic
	}
	for _, msg := range msgs {
		msg.Topic = topic
		msg.Partition = 0
		msg.Offset = int64(len(log))
		if msg.Time.IsZero() {
			msg.Time = b.now()
		}
		log = append(log, msg)
	}
	b.topics[topic] = log

	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

func (b *MemoryBroker) Reader(group, topic string) (Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[topic]; !ok {
		return nil, ErrUnknownTopic
	}
	key := groupTopic{group: group, topic: topic}
	return &memoryReader{broker: b, key: key, next: b.offsets[key]}, nil
}

func (b *MemoryBroker) Replay(ctx context.Context, topic string, fn func(Message) error) error {
	snapshot, err := b.Messages(topic)
	if err != nil {
		return err
	}
	for _, msg := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

// Messages returns a copy of everything written to topic
func (b *MemoryBroker) Messages(topic string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log, ok := b.topics[topic]
	if !ok {
		return nil, ErrUnknownTopic
	}
	return append([]Message(nil), log...), nil
}

// Committed returns the next offset group will read from topic
func (b *MemoryBroker) Committed(group, topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offsets[groupTopic{group: group, topic: topic}]
}

// ResetGroup rewinds group to the start of topic. Readers opened afterwards re-read everything.
func (b *MemoryBroker) ResetGroup(group, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.offsets, groupTopic{group: group, topic: topic})
}

func (b *MemoryBroker) Close() error {
	return nil
}

type memoryReader struct {
	broker *MemoryBroker
	key    groupTopic
	next   int64
}

func (r *memoryReader) Fetch(ctx context.Context) (Message, error) {
	for {
		r.broker.mu.Lock()
		log := r.broker.topics[r.key.topic]
		if r.next < int64(len(log)) {
			msg := log[r.next]
			r.next++
			r.broker.mu.Unlock()
			return msg, nil
		}
		changed := r.broker.changed
		r.broker.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-changed:
		}
	}
}

func (r *memoryReader) Commit(_ context.Context, msg Message) error {
	r.broker.mu.Lock()
	defer r.broker.mu.Unlock()

	if msg.Offset+1 > r.broker.offsets[r.key] {
		r.broker.offsets[r.key] = msg.Offset + 1
	}
	return nil
}

func (r *memoryReader) Close() error {
	return nil
}

package factlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// Kafka headers stamped on every fact
const (
	HeaderFactType      = "fact-type"
	HeaderFactVersion   = "fact-version"
	HeaderCorrelationID = "correlation-id"
)

// Message is one record on a topic
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Reader reads a topic on behalf of a consumer group
type Reader interface {
	// Fetch blocks until the next message is available or ctx ends
	Fetch(ctx context.Context) (Message, error)

	// Commit marks msg and everything before it on its partition as processed
	Commit(ctx context.Context, msg Message) error

	Close() error
}

// Broker is the transport behind the Fact Log
type Broker interface {
	EnsureTopics(ctx context.Context, specs []TopicSpec) error
	Write(ctx context.Context, topic string, msgs ...Message) error
	Reader(group, topic string) (Reader, error)

	// Replay hands every retained message of topic to fn, oldest first per partition,
	// without touching any consumer group offsets
	Replay(ctx context.Context, topic string, fn func(Message) error) error

	Close() error
}

// TopicSpec describes one Fact Log topic
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	Retention         time.Duration
}

// DeadLetterTopic returns the topic receiving facts a consumer gave up on
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// DefaultTopics returns the payment topics and their dead-letter companions
func DefaultTopics(partitions, replication int, retention time.Duration) []TopicSpec {
	names := []string{domain.TopicTransfers, domain.TopicFraudVerdicts, domain.TopicTransferOutcomes}
	specs := make([]TopicSpec, 0, len(names)*2)
	for _, name := range names {
		specs = append(specs,
			TopicSpec{Name: name, Partitions: partitions, ReplicationFactor: replication, Retention: retention},
			TopicSpec{Name: DeadLetterTopic(name), Partitions: 1, ReplicationFactor: replication, Retention: retention},
		)
	}
	return specs
}

// Log appends and replays domain facts on a Broker
type Log struct {
	broker Broker
}

// NewLog wraps broker
func NewLog(broker Broker) *Log {
	return &Log{broker: broker}
}

// Append writes fact to topic keyed by its correlation id, so every fact of a
// transfer lands on the same partition in order
func (l *Log) Append(ctx context.Context, topic string, fact domain.Fact) error {
	msg, err := encodeFact(fact)
	if err != nil {
		return err
	}
	if err := l.broker.Write(ctx, topic, msg); err != nil {
		return fmt.Errorf("failed to append %s to %s: %w", fact.Type, topic, err)
	}
	return nil
}

// Replay decodes every fact retained on topic and hands it to fn
func (l *Log) Replay(ctx context.Context, topic string, fn func(context.Context, domain.Fact) error) error {
	return l.broker.Replay(ctx, topic, func(msg Message) error {
		fact, err := decodeFact(msg)
		if err != nil {
			return err
		}
		return fn(ctx, fact)
	})
}

func encodeFact(fact domain.Fact) (Message, error) {
	value, err := json.Marshal(fact)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode fact %s: %w", fact.ID, err)
	}
	return Message{
		Key:   fact.CorrelationID,
		Value: value,
		Headers: map[string]string{
			HeaderFactType:      string(fact.Type),
			HeaderFactVersion:   strconv.Itoa(fact.Version),
			HeaderCorrelationID: fact.CorrelationID,
		},
		Time: fact.OccurredAt,
	}, nil
}

func decodeFact(msg Message) (domain.Fact, error) {
	var fact domain.Fact
	if err := json.Unmarshal(msg.Value, &fact); err != nil {
		return domain.Fact{}, fmt.Errorf("failed to decode fact at %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return fact, nil
}

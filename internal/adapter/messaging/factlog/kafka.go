package factlog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBroker is the Kafka Fact Log.
// Writes wait for all in-sync replicas; group readers commit explicitly.
type KafkaBroker struct {
	brokers []string
	writer  *kafka.Writer
	logger  *zap.Logger
}

// NewKafkaBroker creates a broker client for the given bootstrap servers
func NewKafkaBroker(brokers []string, logger *zap.Logger) (*KafkaBroker, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	return &KafkaBroker{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: false,
		},
		logger: logger,
	}, nil
}

// EnsureTopics creates missing topics through the cluster controller
func (b *KafkaBroker) EnsureTopics(ctx context.Context, specs []TopicSpec) error {
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to locate kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(specs))
	for _, spec := range specs {
		configs = append(configs, topicConfig(spec))
	}
	if err := controllerConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	return nil
}

func topicConfig(spec TopicSpec) kafka.TopicConfig {
	partitions := spec.Partitions
	if partitions < 1 {
		partitions = 1
	}
	replication := spec.ReplicationFactor
	if replication < 1 {
		replication = 1
	}
	cfg := kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	}
	if spec.Retention > 0 {
		cfg.ConfigEntries = append(cfg.ConfigEntries, kafka.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(spec.Retention.Milliseconds(), 10),
		})
	}
	return cfg
}

func (b *KafkaBroker) Write(ctx context.Context, topic string, msgs ...Message) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toKafka(topic, msg))
	}
	return b.writer.WriteMessages(ctx, out...)
}

func (b *KafkaBroker) Reader(group, topic string) (Reader, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // synchronous commits
	})
	return &kafkaReader{r: r}, nil
}

// Replay reads every partition of topic from its first retained offset up to the
// high watermark observed when the replay started
func (b *KafkaBroker) Replay(ctx context.Context, topic string, fn func(Message) error) error {
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	partitions, err := conn.ReadPartitions(topic)
	conn.Close()
	if err != nil {
		return fmt.Errorf("failed to read partitions of %s: %w", topic, err)
	}

	for _, p := range partitions {
		if err := b.replayPartition(ctx, topic, p.ID, fn); err != nil {
			return err
		}
	}
	return nil
}

func (b *KafkaBroker) replayPartition(ctx context.Context, topic string, partition int, fn func(Message) error) error {
	leader, err := kafka.DialLeader(ctx, "tcp", b.brokers[0], topic, partition)
	if err != nil {
		return fmt.Errorf("failed to dial leader of %s/%d: %w", topic, partition, err)
	}
	first, last, err := leader.ReadOffsets()
	leader.Close()
	if err != nil {
		return fmt.Errorf("failed to read offsets of %s/%d: %w", topic, partition, err)
	}
	if first >= last {
		return nil
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   b.brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()
	if err := r.SetOffset(first); err != nil {
		return fmt.Errorf("failed to seek %s/%d: %w", topic, partition, err)
	}

	b.logger.Info("replaying partition",
		zap.String("topic", topic),
		zap.Int("partition", partition),
		zap.Int64("first_offset", first),
		zap.Int64("last_offset", last),
	)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			return fmt.Errorf("failed to read %s/%d: %w", topic, partition, err)
		}
		if err := fn(fromKafka(m)); err != nil {
			return err
		}
		if m.Offset >= last-1 {
			return nil
		}
	}
}

func (b *KafkaBroker) Close() error {
	return b.writer.Close()
}

type kafkaReader struct {
	r *kafka.Reader
}

func (k *kafkaReader) Fetch(ctx context.Context) (Message, error) {
	m, err := k.r.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return fromKafka(m), nil
}

func (k *kafkaReader) Commit(ctx context.Context, msg Message) error {
	return k.r.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

func (k *kafkaReader) Close() error {
	return k.r.Close()
}

func toKafka(topic string, msg Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
		Time:    msg.Time,
	}
}

func fromKafka(m kafka.Message) Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       string(m.Key),
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Time,
	}
}

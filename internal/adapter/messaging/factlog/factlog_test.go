package factlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/messaging/taskbus"
	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

func newBroker(t *testing.T) *MemoryBroker {
	t.Helper()
	b := NewMemoryBroker()
	require.NoError(t, b.EnsureTopics(context.Background(), DefaultTopics(1, 1, time.Hour)))
	return b
}

func verdictFact(t *testing.T, factType domain.FactType, transferID uuid.UUID) domain.Fact {
	t.Helper()
	fact, err := domain.NewFact(factType, transferID.String(), domain.FraudVerdictFact{
		TransferID: transferID,
		Score:      decimal.RequireFromString("0.10"),
	}, time.Now())
	require.NoError(t, err)
	return fact
}

// runUntil runs c until cond holds, then stops it and waits for Run to return
func runUntil(t *testing.T, c *Consumer, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestLog_AppendStampsKeyAndHeaders(t *testing.T) {
	b := newBroker(t)
	l := NewLog(b)
	id := uuid.New()

	require.NoError(t, l.Append(context.Background(), domain.TopicFraudVerdicts, verdictFact(t, domain.FactFraudApproved, id)))

	msgs, err := b.Messages(domain.TopicFraudVerdicts)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id.String(), msgs[0].Key)
	assert.Equal(t, "FraudApproved", msgs[0].Headers[HeaderFactType])
	assert.Equal(t, "1", msgs[0].Headers[HeaderFactVersion])
	assert.Equal(t, id.String(), msgs[0].Headers[HeaderCorrelationID])
}

func TestLog_AppendUnknownTopic(t *testing.T) {
	l := NewLog(NewMemoryBroker())
	err := l.Append(context.Background(), "nope", verdictFact(t, domain.FactFraudApproved, uuid.New()))
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestRouter_On(t *testing.T) {
	r := NewRouter()
	var got domain.FraudVerdictFact
	On(r, domain.FactFraudApproved, func(ctx context.Context, fact domain.Fact, payload domain.FraudVerdictFact) error {
		got = payload
		return nil
	})

	id := uuid.New()
	routed, err := r.Route(context.Background(), verdictFact(t, domain.FactFraudApproved, id))
	require.NoError(t, err)
	assert.True(t, routed)
	assert.Equal(t, id, got.TransferID)

	routed, err = r.Route(context.Background(), verdictFact(t, domain.FactFraudRejected, id))
	require.NoError(t, err)
	assert.False(t, routed, "unknown types are skipped")

	assert.Equal(t, []domain.FactType{domain.FactFraudApproved}, r.Types())
}

func TestRouter_DecodeFailure(t *testing.T) {
	r := NewRouter()
	On(r, domain.FactTransferCompleted, func(ctx context.Context, fact domain.Fact, payload domain.TransferCompleted) error {
		return nil
	})

	_, err := r.Route(context.Background(), domain.Fact{Type: domain.FactTransferCompleted, Payload: json.RawMessage(`"oops"`)})
	assert.Error(t, err)
}

func TestConsumer_ProcessesAndCommits(t *testing.T) {
	b := newBroker(t)
	l := NewLog(b)
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, l.Append(ctx, domain.TopicFraudVerdicts, verdictFact(t, domain.FactFraudApproved, id)))
	}

	var mu sync.Mutex
	var seen []uuid.UUID
	r := NewRouter()
	On(r, domain.FactFraudApproved, func(ctx context.Context, fact domain.Fact, p domain.FraudVerdictFact) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p.TransferID)
		return nil
	})

	c := NewConsumer(b, "payments-saga", domain.TopicFraudVerdicts, r, ConsumerOptions{Attempts: 3}, zap.NewNop())
	runUntil(t, c, func() bool { return b.Committed("payments-saga", domain.TopicFraudVerdicts) == 3 })

	mu.Lock()
	assert.Equal(t, ids, seen)
	mu.Unlock()
}

func TestConsumer_GroupsAreIndependent(t *testing.T) {
	b := newBroker(t)
	l := NewLog(b)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, domain.TopicTransferOutcomes, verdictFact(t, domain.FactTransferCompleted, uuid.New())))

	counts := map[string]int{}
	var mu sync.Mutex
	for _, group := range []string{"payments-audit", "payments-dispatch"} {
		group := group
		r := NewRouter().Handle(domain.FactTransferCompleted, func(ctx context.Context, fact domain.Fact) error {
			mu.Lock()
			defer mu.Unlock()
			counts[group]++
			return nil
		})
		c := NewConsumer(b, group, domain.TopicTransferOutcomes, r, ConsumerOptions{Attempts: 1}, zap.NewNop())
		runUntil(t, c, func() bool { return b.Committed(group, domain.TopicTransferOutcomes) == 1 })
	}

	assert.Equal(t, map[string]int{"payments-audit": 1, "payments-dispatch": 1}, counts)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	b := newBroker(t)
	l := NewLog(b)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, l.Append(ctx, domain.TopicFraudVerdicts, verdictFact(t, domain.FactFraudApproved, id)))

	calls := 0
	r := NewRouter().Handle(domain.FactFraudApproved, func(ctx context.Context, fact domain.Fact) error {
		calls++
		return errors.New("database down")
	})

	c := NewConsumer(b, "payments-saga", domain.TopicFraudVerdicts, r, ConsumerOptions{Attempts: 3, Backoff: time.Millisecond}, zap.NewNop())
	runUntil(t, c, func() bool { return b.Committed("payments-saga", domain.TopicFraudVerdicts) == 1 })

	assert.Equal(t, 3, calls)

	dlq, err := b.Messages(DeadLetterTopic(domain.TopicFraudVerdicts))
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, id.String(), dlq[0].Key)

	var letter DeadLetter
	require.NoError(t, json.Unmarshal(dlq[0].Value, &letter))
	assert.Equal(t, domain.TopicFraudVerdicts, letter.OriginalTopic)
	assert.Equal(t, "payments-saga", letter.ConsumerGroup)
	assert.Equal(t, 3, letter.Attempts)
	assert.Contains(t, letter.Error, "database down")

	var original domain.Fact
	require.NoError(t, json.Unmarshal(letter.Fact, &original))
	assert.Equal(t, domain.FactFraudApproved, original.Type)
}

func TestConsumer_UndecodableMessageIsDeadLettered(t *testing.T) {
	b := newBroker(t)
	require.NoError(t, b.Write(context.Background(), domain.TopicFraudVerdicts, Message{Key: "k", Value: []byte("garbage")}))

	c := NewConsumer(b, "payments-saga", domain.TopicFraudVerdicts, NewRouter(), ConsumerOptions{Attempts: 3}, zap.NewNop())
	runUntil(t, c, func() bool { return b.Committed("payments-saga", domain.TopicFraudVerdicts) == 1 })

	dlq, err := b.Messages(DeadLetterTopic(domain.TopicFraudVerdicts))
	require.NoError(t, err)
	require.Len(t, dlq, 1)

	var letter DeadLetter
	require.NoError(t, json.Unmarshal(dlq[0].Value, &letter))
	assert.Equal(t, `"garbage"`, string(letter.Fact))
}

func TestLog_ReplayAfterResetGroup(t *testing.T) {
	b := newBroker(t)
	l := NewLog(b)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(ctx, domain.TopicTransferOutcomes, verdictFact(t, domain.FactTransferCompleted, uuid.New())))
	}

	var replayed int
	require.NoError(t, l.Replay(ctx, domain.TopicTransferOutcomes, func(ctx context.Context, fact domain.Fact) error {
		replayed++
		return nil
	}))
	assert.Equal(t, 3, replayed)

	r := NewRouter().Handle(domain.FactTransferCompleted, func(ctx context.Context, fact domain.Fact) error { return nil })
	c := NewConsumer(b, "payments-audit", domain.TopicTransferOutcomes, r, ConsumerOptions{Attempts: 1}, zap.NewNop())
	runUntil(t, c, func() bool { return b.Committed("payments-audit", domain.TopicTransferOutcomes) == 3 })

	b.ResetGroup("payments-audit", domain.TopicTransferOutcomes)
	assert.Equal(t, int64(0), b.Committed("payments-audit", domain.TopicTransferOutcomes))
}

func TestTopicConfig(t *testing.T) {
	cfg := topicConfig(TopicSpec{Name: "payments.transfers", Partitions: 6, ReplicationFactor: 3, Retention: 365 * 24 * time.Hour})

	assert.Equal(t, "payments.transfers", cfg.Topic)
	assert.Equal(t, 6, cfg.NumPartitions)
	assert.Equal(t, 3, cfg.ReplicationFactor)
	require.Len(t, cfg.ConfigEntries, 1)
	assert.Equal(t, "retention.ms", cfg.ConfigEntries[0].ConfigName)
	assert.Equal(t, "31536000000", cfg.ConfigEntries[0].ConfigValue)
}

func TestDefaultTopics(t *testing.T) {
	specs := DefaultTopics(6, 1, time.Hour)
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{
		"payments.transfers", "payments.transfers.dlq",
		"payments.fraud-verdicts", "payments.fraud-verdicts.dlq",
		"payments.transfer-outcomes", "payments.transfer-outcomes.dlq",
	}, names)
}

// flakyBroker fails the first Fetch of its first reader
type flakyBroker struct {
	*MemoryBroker
	mu      sync.Mutex
	readers int
}

func (b *flakyBroker) Reader(group, topic string) (Reader, error) {
	r, err := b.MemoryBroker.Reader(group, topic)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readers++
	if b.readers == 1 {
		return &brokenReader{Reader: r}, nil
	}
	return r, nil
}

type brokenReader struct {
	Reader
}

func (r *brokenReader) Fetch(ctx context.Context) (Message, error) {
	return Message{}, errors.New("kafka: leader not available")
}

func TestConsumer_ResumesAfterFetchError(t *testing.T) {
	b := &flakyBroker{MemoryBroker: newBroker(t)}
	l := NewLog(b)
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, l.Append(context.Background(), domain.TopicFraudVerdicts, verdictFact(t, domain.FactFraudApproved, id)))
	}

	var mu sync.Mutex
	var seen []uuid.UUID
	r := NewRouter()
	On(r, domain.FactFraudApproved, func(ctx context.Context, fact domain.Fact, p domain.FraudVerdictFact) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p.TransferID)
		return nil
	})
	c := NewConsumer(b, "payments-saga", domain.TopicFraudVerdicts, r, ConsumerOptions{Attempts: 1}, zap.NewNop())

	// a bare Run gives up on the fetch error
	require.Error(t, c.Run(context.Background()))

	b.mu.Lock()
	b.readers = 0
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		taskbus.RunAll(ctx, zap.NewNop(), time.Millisecond, c)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return b.Committed("payments-saga", domain.TopicFraudVerdicts) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, seen)
}

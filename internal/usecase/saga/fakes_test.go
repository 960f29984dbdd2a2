package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// memTransfers is an in-memory TransferRepository with version checks
type memTransfers struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]domain.Transfer
	quotas *memQuotas

	failRecordDebit error
}

func newMemTransfers(quotas *memQuotas) *memTransfers {
	return &memTransfers{rows: map[uuid.UUID]domain.Transfer{}, quotas: quotas}
}

func (r *memTransfers) Create(ctx context.Context, t *domain.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.IdempotencyKey == t.IdempotencyKey {
			return domain.ErrIdempotencyConflict
		}
	}
	t.Version = 1
	r.rows[t.ID] = *t
	return nil
}

func (r *memTransfers) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (r *memTransfers) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.IdempotencyKey == key {
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memTransfers) Update(ctx context.Context, t *domain.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows[t.ID].Version != t.Version {
		return domain.ErrVersionConflict
	}
	t.Version++
	r.rows[t.ID] = *t
	return nil
}

func (r *memTransfers) RecordDebit(ctx context.Context, t *domain.Transfer, q *domain.QuotaWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failRecordDebit; err != nil {
		r.failRecordDebit = nil
		return err
	}
	if r.rows[t.ID].Version != t.Version {
		return domain.ErrVersionConflict
	}
	if err := r.quotas.put(q); err != nil {
		return err
	}
	t.Version++
	r.rows[t.ID] = *t
	return nil
}

func (r *memTransfers) get(id uuid.UUID) domain.Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

// memQuotas is an in-memory QuotaRepository
type memQuotas struct {
	mu     sync.Mutex
	policy domain.QuotaPolicy
	rows   map[string]domain.QuotaWindow
}

func newMemQuotas(policy domain.QuotaPolicy) *memQuotas {
	return &memQuotas{policy: policy, rows: map[string]domain.QuotaWindow{}}
}

func (r *memQuotas) Get(ctx context.Context, accountID string, now time.Time) (*domain.QuotaWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[accountID]; ok {
		return &row, nil
	}
	return domain.NewQuotaWindow(accountID, r.policy, now), nil
}

func (r *memQuotas) put(q *domain.QuotaWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows[q.AccountID].Version != q.Version {
		return domain.ErrVersionConflict
	}
	q.Version++
	r.rows[q.AccountID] = *q
	return nil
}

func (r *memQuotas) consumed(accountID string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[accountID]
	if !ok {
		return decimal.Zero
	}
	return row.Day.ConsumedToday.Add(row.Night.ConsumedToday)
}

// ledger is a fake account service that honours idempotency keys
type ledger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	applied  map[string]bool
	calls    []domain.AccountMovement
	fail     map[domain.AccountOperation]error
	block    map[domain.AccountOperation]bool

	// beforeDebit runs once, ahead of the next debit
	beforeDebit func()
}

func newLedger() *ledger {
	return &ledger{
		balances: map[string]decimal.Decimal{},
		applied:  map[string]bool{},
		fail:     map[domain.AccountOperation]error{},
		block:    map[domain.AccountOperation]bool{},
	}
}

func (l *ledger) Debit(ctx context.Context, m domain.AccountMovement) error {
	l.mu.Lock()
	hook := l.beforeDebit
	l.beforeDebit = nil
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return l.apply(ctx, m, m.Amount.Neg())
}

func (l *ledger) Credit(ctx context.Context, m domain.AccountMovement) error {
	return l.apply(ctx, m, m.Amount)
}

func (l *ledger) apply(ctx context.Context, m domain.AccountMovement, delta decimal.Decimal) error {
	l.mu.Lock()
	l.calls = append(l.calls, m)
	err, block := l.fail[m.Operation], l.block[m.Operation]
	l.mu.Unlock()

	if block {
		<-ctx.Done()
		return fmt.Errorf("%w: %v", domain.ErrAccountUnavailable, ctx.Err())
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.applied[m.IdempotencyKey()] {
		return nil
	}
	l.applied[m.IdempotencyKey()] = true
	l.balances[m.AccountID] = l.balances[m.AccountID].Add(delta)
	return nil
}

func (l *ledger) balance(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

func (l *ledger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// MockAccountService is a mock implementation of domain.AccountService for testing
type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) Debit(ctx context.Context, mv domain.AccountMovement) error {
	args := m.Called(ctx, mv)
	return args.Error(0)
}

func (m *MockAccountService) Credit(ctx context.Context, mv domain.AccountMovement) error {
	args := m.Called(ctx, mv)
	return args.Error(0)
}

// recordingFacts captures appended facts
type recordingFacts struct {
	mu    sync.Mutex
	facts []domain.Fact
	err   error
}

func (r *recordingFacts) Append(ctx context.Context, topic string, fact domain.Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.facts = append(r.facts, fact)
	return nil
}

func (r *recordingFacts) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingFacts) all() []domain.Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Fact(nil), r.facts...)
}

type publishedTask struct {
	queue    string
	task     domain.Task
	priority uint8
}

// recordingTasks captures Task Bus publications
type recordingTasks struct {
	mu        sync.Mutex
	published []publishedTask
	err       error
}

func (r *recordingTasks) Publish(ctx context.Context, queue string, task domain.Task, priority uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, publishedTask{queue: queue, task: task, priority: priority})
	return nil
}

func (r *recordingTasks) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingTasks) all() []publishedTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishedTask(nil), r.published...)
}

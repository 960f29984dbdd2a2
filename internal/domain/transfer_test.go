package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func validInput() NewTransferInput {
	return NewTransferInput{
		SourceAccountID:      "acc-source",
		DestinationAccountID: "acc-destination",
		Amount:               decimal.NewFromInt(250),
		DestinationKey:       "destination@krt.bank",
		Description:          "rent",
		IdempotencyKey:       "idem-1",
	}
}

func newTestTransfer(t *testing.T) *Transfer {
	t.Helper()
	tr, err := NewTransfer(validInput(), testNow)
	require.NoError(t, err)
	return tr
}

func approvedVerdict() FraudVerdict {
	return FraudVerdict{Score: decimal.NewFromFloat(0.12), Explanation: "low risk", AnalyzedAt: testNow}
}

func TestNewTransfer_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(in *NewTransferInput)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "Valid input should pass",
			mutate:  func(in *NewTransferInput) {},
			wantErr: false,
		},
		{
			name:    "Zero amount should fail",
			mutate:  func(in *NewTransferInput) { in.Amount = decimal.Zero },
			wantErr: true,
			errMsg:  "amount must be positive",
		},
		{
			name:    "Negative amount should fail",
			mutate:  func(in *NewTransferInput) { in.Amount = decimal.NewFromInt(-10) },
			wantErr: true,
			errMsg:  "amount must be positive",
		},
		{
			name:    "Sub-cent amount should fail",
			mutate:  func(in *NewTransferInput) { in.Amount = decimal.RequireFromString("10.001") },
			wantErr: true,
			errMsg:  "at most 2 decimal places",
		},
		{
			name:    "Same account should fail",
			mutate:  func(in *NewTransferInput) { in.DestinationAccountID = in.SourceAccountID },
			wantErr: true,
			errMsg:  "same account",
		},
		{
			name:    "Missing idempotency key should fail",
			mutate:  func(in *NewTransferInput) { in.IdempotencyKey = "  " },
			wantErr: true,
			errMsg:  "idempotency key is required",
		},
		{
			name:    "Missing destination key should fail",
			mutate:  func(in *NewTransferInput) { in.DestinationKey = "" },
			wantErr: true,
			errMsg:  "destination key is required",
		},
		{
			name:    "Invalid currency should fail",
			mutate:  func(in *NewTransferInput) { in.Currency = "REAL" },
			wantErr: true,
			errMsg:  "currency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			tr, err := NewTransfer(in, testNow)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, tr)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, TransferStatusPendingAnalysis, tr.Status)
				assert.Equal(t, DefaultCurrency, tr.Currency)
				assert.False(t, tr.SourceDebited)
			}
		})
	}
}

func TestTransfer_HappyPath(t *testing.T) {
	tr := newTestTransfer(t)

	require.NoError(t, tr.Approve(approvedVerdict()))
	assert.Equal(t, TransferStatusApproved, tr.Status)
	require.NotNil(t, tr.FraudScore)
	assert.True(t, decimal.NewFromFloat(0.12).Equal(*tr.FraudScore))

	require.NoError(t, tr.StartSaga(testNow))
	assert.Equal(t, TransferStatusPending, tr.Status)

	require.NoError(t, tr.MarkSourceDebited(testNow))
	assert.Equal(t, TransferStatusSourceDebited, tr.Status)
	assert.True(t, tr.SourceDebited)

	require.NoError(t, tr.Complete(testNow.Add(time.Second)))
	assert.Equal(t, TransferStatusCompleted, tr.Status)
	assert.True(t, tr.DestinationCredited)
	require.NotNil(t, tr.CompletedAt)
	assert.Equal(t, testNow.Add(time.Second), *tr.CompletedAt)
	assert.True(t, tr.IsTerminal())
}

func TestTransfer_OutOfOrderTransitionsDoNotMutate(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tr *Transfer)
		act   func(tr *Transfer) error
	}{
		{
			name:  "Complete before MarkSourceDebited",
			setup: func(tr *Transfer) { _ = tr.Approve(approvedVerdict()); _ = tr.StartSaga(testNow) },
			act:   func(tr *Transfer) error { return tr.Complete(testNow) },
		},
		{
			name:  "MarkSourceDebited before StartSaga",
			setup: func(tr *Transfer) { _ = tr.Approve(approvedVerdict()) },
			act:   func(tr *Transfer) error { return tr.MarkSourceDebited(testNow) },
		},
		{
			name:  "StartSaga before fraud approval",
			setup: func(tr *Transfer) {},
			act:   func(tr *Transfer) error { return tr.StartSaga(testNow) },
		},
		{
			name: "MarkSourceDebited twice",
			setup: func(tr *Transfer) {
				_ = tr.Approve(approvedVerdict())
				_ = tr.StartSaga(testNow)
				_ = tr.MarkSourceDebited(testNow)
			},
			act: func(tr *Transfer) error { return tr.MarkSourceDebited(testNow) },
		},
		{
			name:  "Fail from PendingAnalysis",
			setup: func(tr *Transfer) {},
			act:   func(tr *Transfer) error { return tr.Fail("boom", testNow) },
		},
		{
			name:  "Compensate before any debit",
			setup: func(tr *Transfer) { _ = tr.Approve(approvedVerdict()); _ = tr.StartSaga(testNow) },
			act:   func(tr *Transfer) error { return tr.Compensate("", testNow) },
		},
		{
			name: "Approve a completed transfer",
			setup: func(tr *Transfer) {
				_ = tr.Approve(approvedVerdict())
				_ = tr.StartSaga(testNow)
				_ = tr.MarkSourceDebited(testNow)
				_ = tr.Complete(testNow)
			},
			act: func(tr *Transfer) error { return tr.Approve(approvedVerdict()) },
		},
		{
			name:  "RequestDebit before StartSaga",
			setup: func(tr *Transfer) { _ = tr.Approve(approvedVerdict()) },
			act:   func(tr *Transfer) error { return tr.RequestDebit(testNow) },
		},
		{
			name: "RequestDebit twice",
			setup: func(tr *Transfer) {
				_ = tr.Approve(approvedVerdict())
				_ = tr.StartSaga(testNow)
				_ = tr.RequestDebit(testNow)
			},
			act: func(tr *Transfer) error { return tr.RequestDebit(testNow) },
		},
		{
			name:  "Reject an approved transfer",
			setup: func(tr *Transfer) { _ = tr.Approve(approvedVerdict()) },
			act:   func(tr *Transfer) error { return tr.Reject(approvedVerdict()) },
		},
		{
			name:  "Send an approved transfer to review",
			setup: func(tr *Transfer) { _ = tr.Approve(approvedVerdict()) },
			act:   func(tr *Transfer) error { return tr.SendToReview(approvedVerdict()) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransfer(t)
			tt.setup(tr)
			before := *tr

			err := tt.act(tr)

			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidState))
			var stateErr *InvalidStateError
			assert.True(t, errors.As(err, &stateErr))
			assert.Equal(t, before.Status, stateErr.From)
			assert.Equal(t, before, *tr, "failed transition must not mutate the aggregate")
		})
	}
}

func TestTransfer_RejectFromReview(t *testing.T) {
	tr := newTestTransfer(t)

	require.NoError(t, tr.SendToReview(FraudVerdict{Score: decimal.NewFromFloat(0.6), AnalyzedAt: testNow}))
	assert.Equal(t, TransferStatusUnderReview, tr.Status)

	require.NoError(t, tr.Reject(FraudVerdict{Score: decimal.NewFromFloat(0.95), Explanation: "mule account", AnalyzedAt: testNow}))
	assert.Equal(t, TransferStatusRejected, tr.Status)
	assert.Contains(t, tr.FailureReason, "mule account")
	assert.True(t, tr.IsTerminal())
	assert.False(t, tr.SourceDebited)
}

func TestTransfer_ApproveFromReview(t *testing.T) {
	tr := newTestTransfer(t)

	require.NoError(t, tr.SendToReview(approvedVerdict()))
	require.NoError(t, tr.Approve(approvedVerdict()))
	assert.Equal(t, TransferStatusApproved, tr.Status)
}

func TestTransfer_FailPaths(t *testing.T) {
	t.Run("Fail from Pending", func(t *testing.T) {
		tr := newTestTransfer(t)
		require.NoError(t, tr.Approve(approvedVerdict()))
		require.NoError(t, tr.StartSaga(testNow))

		require.NoError(t, tr.Fail("insufficient funds", testNow))
		assert.Equal(t, TransferStatusFailed, tr.Status)
		assert.Equal(t, "insufficient funds", tr.FailureReason)
		assert.True(t, tr.IsTerminal())
	})

	t.Run("Compensate from SourceDebited", func(t *testing.T) {
		tr := newTestTransfer(t)
		require.NoError(t, tr.Approve(approvedVerdict()))
		require.NoError(t, tr.StartSaga(testNow))
		require.NoError(t, tr.MarkSourceDebited(testNow))

		require.NoError(t, tr.Compensate("destination credit failed", testNow))
		assert.Equal(t, TransferStatusCompensated, tr.Status)
		assert.False(t, tr.DestinationCredited)
		assert.True(t, tr.IsTerminal())
	})

	t.Run("Reconciliation then Compensate", func(t *testing.T) {
		tr := newTestTransfer(t)
		require.NoError(t, tr.Approve(approvedVerdict()))
		require.NoError(t, tr.StartSaga(testNow))
		require.NoError(t, tr.MarkSourceDebited(testNow))

		require.NoError(t, tr.RequireReconciliation("compensation failed", testNow))
		assert.Equal(t, TransferStatusFailed, tr.Status)
		assert.True(t, tr.NeedsReconciliation)
		assert.False(t, tr.IsTerminal())

		require.NoError(t, tr.Compensate("", testNow.Add(time.Minute)))
		assert.Equal(t, TransferStatusCompensated, tr.Status)
		assert.False(t, tr.NeedsReconciliation)
		assert.Equal(t, "compensation failed", tr.FailureReason)
	})

	t.Run("Plain failure cannot be compensated later", func(t *testing.T) {
		tr := newTestTransfer(t)
		require.NoError(t, tr.Approve(approvedVerdict()))
		require.NoError(t, tr.StartSaga(testNow))
		require.NoError(t, tr.Fail("debit refused", testNow))

		err := tr.Compensate("", testNow)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, TransferStatusFailed, tr.Status)
	})
}

func TestTransfer_RequestDebit(t *testing.T) {
	tr := newTestTransfer(t)
	require.NoError(t, tr.Approve(approvedVerdict()))
	require.NoError(t, tr.StartSaga(testNow))

	require.NoError(t, tr.RequestDebit(testNow.Add(time.Second)))
	assert.Equal(t, TransferStatusPending, tr.Status)
	assert.True(t, tr.DebitRequested)
	assert.False(t, tr.SourceDebited)
	assert.Equal(t, testNow.Add(time.Second), tr.UpdatedAt)

	require.NoError(t, tr.MarkSourceDebited(testNow.Add(2*time.Second)))
	assert.Equal(t, TransferStatusSourceDebited, tr.Status)
}

func TestTransfer_TransitionsRequireTimestamp(t *testing.T) {
	var zero time.Time
	pending := func(tr *Transfer) { _ = tr.Approve(approvedVerdict()); _ = tr.StartSaga(testNow) }
	debited := func(tr *Transfer) { pending(tr); _ = tr.MarkSourceDebited(testNow) }

	tests := []struct {
		name  string
		setup func(tr *Transfer)
		act   func(tr *Transfer) error
	}{
		{name: "Approve", setup: func(tr *Transfer) {}, act: func(tr *Transfer) error {
			return tr.Approve(FraudVerdict{Score: decimal.NewFromFloat(0.1)})
		}},
		{name: "Reject", setup: func(tr *Transfer) {}, act: func(tr *Transfer) error {
			return tr.Reject(FraudVerdict{Score: decimal.NewFromFloat(0.9)})
		}},
		{name: "SendToReview", setup: func(tr *Transfer) {}, act: func(tr *Transfer) error {
			return tr.SendToReview(FraudVerdict{Score: decimal.NewFromFloat(0.5)})
		}},
		{name: "StartSaga", setup: func(tr *Transfer) { _ = tr.Approve(approvedVerdict()) }, act: func(tr *Transfer) error { return tr.StartSaga(zero) }},
		{name: "RequestDebit", setup: pending, act: func(tr *Transfer) error { return tr.RequestDebit(zero) }},
		{name: "MarkSourceDebited", setup: pending, act: func(tr *Transfer) error { return tr.MarkSourceDebited(zero) }},
		{name: "Fail", setup: pending, act: func(tr *Transfer) error { return tr.Fail("quota", zero) }},
		{name: "Complete", setup: debited, act: func(tr *Transfer) error { return tr.Complete(zero) }},
		{name: "Compensate", setup: debited, act: func(tr *Transfer) error { return tr.Compensate("credit failed", zero) }},
		{name: "RequireReconciliation", setup: debited, act: func(tr *Transfer) error { return tr.RequireReconciliation("stuck", zero) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransfer(t)
			tt.setup(tr)
			before := *tr

			err := tt.act(tr)

			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, before, *tr)
		})
	}
}

func TestTransfer_SameRequest(t *testing.T) {
	tr := newTestTransfer(t)

	assert.True(t, tr.SameRequest(validInput()))

	other := validInput()
	other.Amount = decimal.NewFromInt(251)
	assert.False(t, tr.SameRequest(other))

	lower := validInput()
	lower.Currency = "brl"
	assert.True(t, tr.SameRequest(lower))
}

func TestTransfer_Movement(t *testing.T) {
	tr := newTestTransfer(t)

	tests := []struct {
		op      AccountOperation
		account string
		key     string
	}{
		{op: OperationDebit, account: "acc-source", key: tr.ID.String() + ":debit"},
		{op: OperationCredit, account: "acc-destination", key: tr.ID.String() + ":credit"},
		{op: OperationCompensate, account: "acc-source", key: tr.ID.String() + ":compensate"},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			m := tr.Movement(tt.op)
			assert.Equal(t, tt.account, m.AccountID)
			assert.Equal(t, tt.key, m.IdempotencyKey())
			assert.True(t, tr.Amount.Equal(m.Amount))
			assert.Equal(t, "BRL", m.Currency)
		})
	}
}

package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fact Log topics
const (
	TopicTransfers        = "payments.transfers"
	TopicFraudVerdicts    = "payments.fraud-verdicts"
	TopicTransferOutcomes = "payments.transfer-outcomes"
)

// Task Bus queues
const (
	QueueEmailNotifications = "notifications.email"
	QueueSMSNotifications   = "notifications.sms"
	QueuePushNotifications  = "notifications.push"
	QueueGenerateReceipt    = "receipts.generate"
	QueueUploadReceipt      = "receipts.upload"
	QueueReconciliation     = "payments.reconciliation"
)

// NotificationQueue returns the dedicated queue of a channel
func NotificationQueue(channel NotificationChannel) string {
	switch channel {
	case ChannelSMS:
		return QueueSMSNotifications
	case ChannelPush:
		return QueuePushNotifications
	default:
		return QueueEmailNotifications
	}
}

// FactAppender appends facts to the Fact Log
type FactAppender interface {
	Append(ctx context.Context, topic string, fact Fact) error
}

// TaskPublisher dispatches work on the Task Bus
type TaskPublisher interface {
	Publish(ctx context.Context, queue string, task Task, priority uint8) error
}

// AccountOperation distinguishes the idempotency scopes of account movements
type AccountOperation string

const (
	OperationDebit      AccountOperation = "debit"
	OperationCredit     AccountOperation = "credit"
	OperationCompensate AccountOperation = "compensate"
)

// AccountMovement is one leg of a transfer sent to the account service
type AccountMovement struct {
	AccountID   string
	Amount      decimal.Decimal
	Currency    string
	TransferID  uuid.UUID
	Description string
	Operation   AccountOperation
}

// IdempotencyKey is stable across saga re-runs: transfer id plus operation kind
func (m AccountMovement) IdempotencyKey() string {
	return m.TransferID.String() + ":" + string(m.Operation)
}

// AccountService is the external account store boundary.
// Both calls must be idempotent on AccountMovement.IdempotencyKey.
type AccountService interface {
	Debit(ctx context.Context, m AccountMovement) error
	Credit(ctx context.Context, m AccountMovement) error
}

// Notifier delivers notifications through the external gateway
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// ObjectStorage stores rendered documents
type ObjectStorage interface {
	Put(ctx context.Context, key, contentType string, content []byte) error
}

// Movement builds the account leg of t for op. Debits and compensations
// touch the source account; credits touch the destination.
func (t *Transfer) Movement(op AccountOperation) AccountMovement {
	account := t.SourceAccountID
	if op == OperationCredit {
		account = t.DestinationAccountID
	}
	return AccountMovement{
		AccountID:   account,
		Amount:      t.Amount,
		Currency:    t.Currency,
		TransferID:  t.ID,
		Description: t.Description,
		Operation:   op,
	}
}

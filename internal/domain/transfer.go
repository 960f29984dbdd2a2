package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferStatus represents a state of the transfer saga
type TransferStatus string

const (
	TransferStatusPendingAnalysis TransferStatus = "PENDING_ANALYSIS"
	TransferStatusUnderReview     TransferStatus = "UNDER_REVIEW"
	TransferStatusApproved        TransferStatus = "APPROVED"
	TransferStatusRejected        TransferStatus = "REJECTED"
	TransferStatusPending         TransferStatus = "PENDING"
	TransferStatusSourceDebited   TransferStatus = "SOURCE_DEBITED"
	TransferStatusCompleted       TransferStatus = "COMPLETED"
	TransferStatusFailed          TransferStatus = "FAILED"
	TransferStatusCompensated     TransferStatus = "COMPENSATED"
)

// DefaultCurrency is used when the caller does not provide one
const DefaultCurrency = "BRL"

// Transfer is the aggregate root of the instant-payment saga.
// It is the single source of truth for saga progress; buses only carry
// notifications about changes that already happened here.
type Transfer struct {
	ID                   uuid.UUID
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal // fixed-point, always positive
	Currency             string
	DestinationKey       string
	Description          string
	IdempotencyKey       string
	Status               TransferStatus

	// DebitRequested is persisted before the source debit is sent. Once set the
	// debit may have landed, so a retry re-sends it instead of re-checking quota.
	DebitRequested      bool
	SourceDebited       bool
	DestinationCredited bool
	NeedsReconciliation bool
	FailureReason       string

	FraudScore       *decimal.Decimal
	FraudExplanation string
	FraudAnalyzedAt  *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time // terminal timestamp

	// Version is the optimistic concurrency token checked by the repository on update
	Version int64
}

// NewTransferInput carries the caller supplied fields of a transfer request
type NewTransferInput struct {
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal
	Currency             string
	DestinationKey       string
	Description          string
	IdempotencyKey       string
}

// FraudVerdict is the oracle metadata recorded on the aggregate
type FraudVerdict struct {
	Score       decimal.Decimal
	Explanation string
	AnalyzedAt  time.Time
}

// NewTransfer validates the input and creates a transfer in PENDING_ANALYSIS
func NewTransfer(input NewTransferInput, now time.Time) (*Transfer, error) {
	t := &Transfer{
		ID:                   uuid.New(),
		SourceAccountID:      strings.TrimSpace(input.SourceAccountID),
		DestinationAccountID: strings.TrimSpace(input.DestinationAccountID),
		Amount:               input.Amount,
		Currency:             strings.ToUpper(strings.TrimSpace(input.Currency)),
		DestinationKey:       strings.TrimSpace(input.DestinationKey),
		Description:          strings.TrimSpace(input.Description),
		IdempotencyKey:       strings.TrimSpace(input.IdempotencyKey),
		Status:               TransferStatusPendingAnalysis,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate ensures the transfer adheres to domain rules
func (t *Transfer) Validate() error {
	if t.SourceAccountID == "" {
		return validationError("source account id is required")
	}
	if t.DestinationAccountID == "" {
		return validationError("destination account id is required")
	}
	if t.SourceAccountID == t.DestinationAccountID {
		return validationError("cannot transfer to the same account")
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	if t.DestinationKey == "" {
		return validationError("destination key is required")
	}
	if t.IdempotencyKey == "" {
		return validationError("idempotency key is required")
	}
	if len(t.Currency) != 3 {
		return validationError("currency must be a 3-letter ISO code")
	}
	return nil
}

// ValidateAmount checks that amount is positive and has at most two decimal places
func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return validationError("amount must be positive")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return validationError("amount must have at most 2 decimal places")
	}
	return nil
}

// SameRequest reports whether input describes the same transfer as t.
// Used to tell an idempotent retry from a reused key.
func (t *Transfer) SameRequest(input NewTransferInput) bool {
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return t.SourceAccountID == strings.TrimSpace(input.SourceAccountID) &&
		t.DestinationAccountID == strings.TrimSpace(input.DestinationAccountID) &&
		t.Amount.Equal(input.Amount) &&
		t.Currency == currency &&
		t.DestinationKey == strings.TrimSpace(input.DestinationKey)
}

// CorrelationID threads every fact and task belonging to this transfer
func (t *Transfer) CorrelationID() string {
	return t.ID.String()
}

// IsTerminal reports whether the transfer reached a rest state
func (t *Transfer) IsTerminal() bool {
	switch t.Status {
	case TransferStatusRejected, TransferStatusCompleted, TransferStatusCompensated:
		return true
	case TransferStatusFailed:
		return !t.NeedsReconciliation
	default:
		return false
	}
}

// Approve records a positive fraud verdict
func (t *Transfer) Approve(v FraudVerdict) error {
	if t.Status != TransferStatusPendingAnalysis && t.Status != TransferStatusUnderReview {
		return &InvalidStateError{Action: "approve", From: t.Status}
	}
	if err := requireTimestamp("approve", v.AnalyzedAt); err != nil {
		return err
	}
	t.recordVerdict(v)
	t.transition(TransferStatusApproved, v.AnalyzedAt)
	return nil
}

// Reject records a negative fraud verdict. Rejected is terminal.
func (t *Transfer) Reject(v FraudVerdict) error {
	if t.Status != TransferStatusPendingAnalysis && t.Status != TransferStatusUnderReview {
		return &InvalidStateError{Action: "reject", From: t.Status}
	}
	if err := requireTimestamp("reject", v.AnalyzedAt); err != nil {
		return err
	}
	t.recordVerdict(v)
	t.FailureReason = "rejected by fraud analysis"
	if v.Explanation != "" {
		t.FailureReason += ": " + v.Explanation
	}
	t.transition(TransferStatusRejected, v.AnalyzedAt)
	t.finish()
	return nil
}

// SendToReview parks the transfer for manual fraud review
func (t *Transfer) SendToReview(v FraudVerdict) error {
	if t.Status != TransferStatusPendingAnalysis {
		return &InvalidStateError{Action: "send to review", From: t.Status}
	}
	if err := requireTimestamp("send to review", v.AnalyzedAt); err != nil {
		return err
	}
	t.recordVerdict(v)
	t.transition(TransferStatusUnderReview, v.AnalyzedAt)
	return nil
}

// StartSaga moves an approved transfer into the debit/credit saga
func (t *Transfer) StartSaga(at time.Time) error {
	if t.Status != TransferStatusApproved {
		return &InvalidStateError{Action: "start saga for", From: t.Status}
	}
	if err := requireTimestamp("start saga", at); err != nil {
		return err
	}
	t.transition(TransferStatusPending, at)
	return nil
}

// RequestDebit records that the source debit is about to be sent. The status stays Pending.
func (t *Transfer) RequestDebit(at time.Time) error {
	if t.Status != TransferStatusPending || t.DebitRequested {
		return &InvalidStateError{Action: "request debit for", From: t.Status}
	}
	if err := requireTimestamp("request debit", at); err != nil {
		return err
	}
	t.DebitRequested = true
	t.UpdatedAt = at
	return nil
}

// MarkSourceDebited records that the source leg moved funds
func (t *Transfer) MarkSourceDebited(at time.Time) error {
	if t.Status != TransferStatusPending || t.SourceDebited {
		return &InvalidStateError{Action: "mark source debited", From: t.Status}
	}
	if err := requireTimestamp("mark source debited", at); err != nil {
		return err
	}
	t.DebitRequested = true
	t.SourceDebited = true
	t.transition(TransferStatusSourceDebited, at)
	return nil
}

// Complete records that the destination leg was credited
func (t *Transfer) Complete(at time.Time) error {
	if t.Status != TransferStatusSourceDebited || !t.SourceDebited {
		return &InvalidStateError{Action: "complete", From: t.Status}
	}
	if err := requireTimestamp("complete", at); err != nil {
		return err
	}
	t.DestinationCredited = true
	t.transition(TransferStatusCompleted, at)
	t.finish()
	return nil
}

// Fail ends the saga without compensation
func (t *Transfer) Fail(reason string, at time.Time) error {
	if t.Status != TransferStatusPending && t.Status != TransferStatusSourceDebited {
		return &InvalidStateError{Action: "fail", From: t.Status}
	}
	if err := requireTimestamp("fail", at); err != nil {
		return err
	}
	t.FailureReason = reason
	t.transition(TransferStatusFailed, at)
	t.finish()
	return nil
}

// RequireReconciliation marks a transfer whose compensating credit failed.
// It rests in FAILED with NeedsReconciliation until Compensate succeeds.
func (t *Transfer) RequireReconciliation(reason string, at time.Time) error {
	if t.Status != TransferStatusSourceDebited {
		return &InvalidStateError{Action: "require reconciliation for", From: t.Status}
	}
	if err := requireTimestamp("require reconciliation", at); err != nil {
		return err
	}
	t.FailureReason = reason
	t.NeedsReconciliation = true
	t.transition(TransferStatusFailed, at)
	t.finish()
	return nil
}

// Compensate records that the debited funds were returned to the source
func (t *Transfer) Compensate(reason string, at time.Time) error {
	legal := t.Status == TransferStatusSourceDebited ||
		(t.Status == TransferStatusFailed && t.NeedsReconciliation)
	if !legal || !t.SourceDebited || t.DestinationCredited {
		return &InvalidStateError{Action: "compensate", From: t.Status}
	}
	if err := requireTimestamp("compensate", at); err != nil {
		return err
	}
	if reason != "" {
		t.FailureReason = reason
	}
	t.NeedsReconciliation = false
	t.transition(TransferStatusCompensated, at)
	t.finish()
	return nil
}

func (t *Transfer) recordVerdict(v FraudVerdict) {
	score := v.Score
	analyzedAt := v.AnalyzedAt
	t.FraudScore = &score
	t.FraudExplanation = v.Explanation
	t.FraudAnalyzedAt = &analyzedAt
}

func (t *Transfer) finish() {
	completedAt := t.UpdatedAt
	t.CompletedAt = &completedAt
}

func (t *Transfer) transition(to TransferStatus, at time.Time) {
	t.Status = to
	t.UpdatedAt = at
}

func requireTimestamp(action string, at time.Time) error {
	if at.IsZero() {
		return validationError(action + " requires a timestamp")
	}
	return nil
}

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FactType tags the payload carried by a Fact
type FactType string

const (
	FactTransferInitiated FactType = "TransferInitiated"
	FactFraudApproved     FactType = "FraudApproved"
	FactFraudRejected     FactType = "FraudRejected"
	FactFraudUnderReview  FactType = "FraudUnderReview"
	FactTransferCompleted FactType = "TransferCompleted"
	FactTransferFailed    FactType = "TransferFailed"
)

// FactVersion is the schema version written by this service
const FactVersion = 1

// FactSource identifies this service on every fact it appends
const FactSource = "krt-payments"

// Fact is an immutable, versioned record of something that already happened
type Fact struct {
	ID            uuid.UUID       `json:"id"`
	Type          FactType        `json:"type"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlationId"`
	Source        string          `json:"source"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// NewFact wraps a typed payload into a fact envelope
func NewFact(factType FactType, correlationID string, payload any, occurredAt time.Time) (Fact, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Fact{}, fmt.Errorf("failed to encode %s payload: %w", factType, err)
	}
	return Fact{
		ID:            uuid.New(),
		Type:          factType,
		Version:       FactVersion,
		CorrelationID: correlationID,
		Source:        FactSource,
		OccurredAt:    occurredAt.UTC(),
		Payload:       raw,
	}, nil
}

// Decode unmarshals the payload into dst
func (f Fact) Decode(dst any) error {
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", f.Type, err)
	}
	return nil
}

// TransferInitiated is appended on intake; the fraud oracle consumes it
type TransferInitiated struct {
	TransferID           uuid.UUID       `json:"transferId"`
	SourceAccountID      string          `json:"sourceAccountId"`
	DestinationAccountID string          `json:"destinationAccountId"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	DestinationKey       string          `json:"destinationKey"`
	Description          string          `json:"description,omitempty"`
	InitiatedAt          time.Time       `json:"initiatedAt"`
}

// FraudVerdictFact is the payload shared by FraudApproved, FraudRejected and FraudUnderReview
type FraudVerdictFact struct {
	TransferID  uuid.UUID       `json:"transferId"`
	Score       decimal.Decimal `json:"score"`
	Explanation string          `json:"explanation,omitempty"`
	AnalyzedAt  time.Time       `json:"analyzedAt"`
}

// Verdict converts the payload into the metadata recorded on the aggregate
func (f FraudVerdictFact) Verdict() FraudVerdict {
	return FraudVerdict{Score: f.Score, Explanation: f.Explanation, AnalyzedAt: f.AnalyzedAt}
}

// TransferCompleted is appended when both legs succeeded
type TransferCompleted struct {
	TransferID           uuid.UUID       `json:"transferId"`
	SourceAccountID      string          `json:"sourceAccountId"`
	DestinationAccountID string          `json:"destinationAccountId"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	DestinationKey       string          `json:"destinationKey"`
	CompletedAt          time.Time       `json:"completedAt"`
}

// TransferFailed is appended for every transfer that ends without moving funds to the destination
type TransferFailed struct {
	TransferID             uuid.UUID       `json:"transferId"`
	SourceAccountID        string          `json:"sourceAccountId"`
	DestinationAccountID   string          `json:"destinationAccountId"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	Reason                 string          `json:"reason"`
	Compensated            bool            `json:"compensated"`
	FraudRejected          bool            `json:"fraudRejected"`
	ReconciliationRequired bool            `json:"reconciliationRequired"`
	FailedAt               time.Time       `json:"failedAt"`
}

// InitiatedFact builds the intake fact for t
func InitiatedFact(t *Transfer) (Fact, error) {
	return NewFact(FactTransferInitiated, t.CorrelationID(), TransferInitiated{
		TransferID:           t.ID,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount,
		Currency:             t.Currency,
		DestinationKey:       t.DestinationKey,
		Description:          t.Description,
		InitiatedAt:          t.CreatedAt,
	}, t.CreatedAt)
}

// OutcomeFactID is derived from the transfer, fact type and status, so an
// outcome published again after a failed append carries the id consumers
// already deduplicate on.
func OutcomeFactID(t *Transfer, factType FactType) uuid.UUID {
	return uuid.NewSHA1(t.ID, []byte(string(factType)+"/"+string(t.Status)))
}

func outcomeFact(t *Transfer, factType FactType, payload any, at time.Time) (Fact, error) {
	fact, err := NewFact(factType, t.CorrelationID(), payload, at)
	if err != nil {
		return Fact{}, err
	}
	fact.ID = OutcomeFactID(t, factType)
	return fact, nil
}

// CompletedFact builds the success fact for a completed transfer
func CompletedFact(t *Transfer) (Fact, error) {
	completedAt := t.UpdatedAt
	if t.CompletedAt != nil {
		completedAt = *t.CompletedAt
	}
	return outcomeFact(t, FactTransferCompleted, TransferCompleted{
		TransferID:           t.ID,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount,
		Currency:             t.Currency,
		DestinationKey:       t.DestinationKey,
		CompletedAt:          completedAt,
	}, completedAt)
}

// FailedFact builds the failure fact from the aggregate's current state
func FailedFact(t *Transfer) (Fact, error) {
	failedAt := t.UpdatedAt
	if t.CompletedAt != nil {
		failedAt = *t.CompletedAt
	}
	return outcomeFact(t, FactTransferFailed, TransferFailed{
		TransferID:             t.ID,
		SourceAccountID:        t.SourceAccountID,
		DestinationAccountID:   t.DestinationAccountID,
		Amount:                 t.Amount,
		Currency:               t.Currency,
		Reason:                 t.FailureReason,
		Compensated:            t.Status == TransferStatusCompensated,
		FraudRejected:          t.Status == TransferStatusRejected,
		ReconciliationRequired: t.NeedsReconciliation,
		FailedAt:               failedAt,
	}, failedAt)
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditOutcome summarizes how a transfer ended
type AuditOutcome string

const (
	AuditOutcomeCompleted   AuditOutcome = "COMPLETED"
	AuditOutcomeFailed      AuditOutcome = "FAILED"
	AuditOutcomeCompensated AuditOutcome = "COMPENSATED"
	AuditOutcomeRejected    AuditOutcome = "REJECTED"
)

// AuditEntry is the durable compliance record of one terminal fact
type AuditEntry struct {
	ID            uuid.UUID
	FactID        uuid.UUID
	ConsumerGroup string
	TransferID    uuid.UUID
	CorrelationID string
	FactType      FactType
	Outcome       AuditOutcome
	Amount        decimal.Decimal
	Currency      string
	Reason        string
	OccurredAt    time.Time
	RecordedAt    time.Time
	Payload       json.RawMessage
}

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// DefaultConsumerGroup is the Fact Log group the recorder consumes as
const DefaultConsumerGroup = "payments-audit"

// Recorder turns terminal transfer facts into compliance audit entries
type Recorder struct {
	AuditRepo domain.AuditRepository
	Group     string
	Now       func() time.Time

	logger *zap.Logger
}

// NewRecorder creates a new Recorder instance
func NewRecorder(auditRepo domain.AuditRepository, logger *zap.Logger) *Recorder {
	return &Recorder{
		AuditRepo: auditRepo,
		Group:     DefaultConsumerGroup,
		Now:       time.Now,
		logger:    logger,
	}
}

// Handle records fact and ignores whether it was new. It fits a Fact Log router.
func (r *Recorder) Handle(ctx context.Context, fact domain.Fact) error {
	_, err := r.Record(ctx, fact)
	return err
}

// Record stores an audit entry for a TransferCompleted or TransferFailed fact.
// It reports false for facts already recorded and for fact types it does not audit.
func (r *Recorder) Record(ctx context.Context, fact domain.Fact) (bool, error) {
	entry, ok, err := r.entryFor(fact)
	if err != nil || !ok {
		return false, err
	}

	inserted, err := r.AuditRepo.Record(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("failed to record audit entry for fact %s: %w", fact.ID, err)
	}

	if inserted {
		r.logger.Info("audit entry recorded",
			zap.String("transfer_id", entry.TransferID.String()),
			zap.String("correlation_id", entry.CorrelationID),
			zap.String("outcome", string(entry.Outcome)),
		)
	} else {
		r.logger.Debug("audit entry already present", zap.String("fact_id", fact.ID.String()))
	}
	return inserted, nil
}

func (r *Recorder) entryFor(fact domain.Fact) (*domain.AuditEntry, bool, error) {
	entry := &domain.AuditEntry{
		ID:            uuid.New(),
		FactID:        fact.ID,
		ConsumerGroup: r.Group,
		CorrelationID: fact.CorrelationID,
		FactType:      fact.Type,
		OccurredAt:    fact.OccurredAt,
		RecordedAt:    r.Now().UTC(),
		Payload:       fact.Payload,
	}

	switch fact.Type {
	case domain.FactTransferCompleted:
		var p domain.TransferCompleted
		if err := fact.Decode(&p); err != nil {
			return nil, false, err
		}
		entry.TransferID = p.TransferID
		entry.Outcome = domain.AuditOutcomeCompleted
		entry.Amount = p.Amount
		entry.Currency = p.Currency

	case domain.FactTransferFailed:
		var p domain.TransferFailed
		if err := fact.Decode(&p); err != nil {
			return nil, false, err
		}
		entry.TransferID = p.TransferID
		entry.Outcome = failedOutcome(p)
		entry.Amount = p.Amount
		entry.Currency = p.Currency
		entry.Reason = p.Reason

	default:
		return nil, false, nil
	}

	return entry, true, nil
}

func failedOutcome(p domain.TransferFailed) domain.AuditOutcome {
	switch {
	case p.FraudRejected:
		return domain.AuditOutcomeRejected
	case p.Compensated:
		return domain.AuditOutcomeCompensated
	default:
		return domain.AuditOutcomeFailed
	}
}

package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// auditRepository implements domain.AuditRepository
type auditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) domain.AuditRepository {
	return &auditRepository{db: db}
}

// Record inserts entry unless the same fact was already recorded for its consumer group
func (r *auditRepository) Record(ctx context.Context, entry *domain.AuditEntry) (bool, error) {
	query := `
		INSERT INTO audit_entries (
			id, fact_id, consumer_group, transfer_id, correlation_id, fact_type, outcome,
			amount, currency, reason, occurred_at, recorded_at, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (fact_id, consumer_group) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.FactID,
		entry.ConsumerGroup,
		entry.TransferID,
		entry.CorrelationID,
		string(entry.FactType),
		string(entry.Outcome),
		entry.Amount.String(),
		entry.Currency,
		entry.Reason,
		entry.OccurredAt,
		entry.RecordedAt,
		string(entry.Payload),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record audit entry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ListByTransfer returns the audit trail of one transfer
func (r *auditRepository) ListByTransfer(ctx context.Context, transferID uuid.UUID) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, fact_id, consumer_group, transfer_id, correlation_id, fact_type, outcome,
		       amount, currency, reason, occurred_at, recorded_at, payload
		FROM audit_entries
		WHERE transfer_id = $1
		ORDER BY occurred_at, recorded_at
	`

	rows, err := r.db.QueryContext(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var factType, outcome, amountStr string
		var payload []byte

		if err := rows.Scan(
			&e.ID,
			&e.FactID,
			&e.ConsumerGroup,
			&e.TransferID,
			&e.CorrelationID,
			&factType,
			&outcome,
			&amountStr,
			&e.Currency,
			&e.Reason,
			&e.OccurredAt,
			&e.RecordedAt,
			&payload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audit amount: %w", err)
		}
		e.Amount = amount
		e.FactType = domain.FactType(factType)
		e.Outcome = domain.AuditOutcome(outcome)
		e.Payload = payload

		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

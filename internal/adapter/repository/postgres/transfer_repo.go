package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// transferRepository implements domain.TransferRepository
type transferRepository struct {
	db *DB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *DB) domain.TransferRepository {
	return &transferRepository{db: db}
}

const transferColumns = `
	id, source_account_id, destination_account_id, amount, currency, destination_key, description,
	idempotency_key, status, debit_requested, source_debited, destination_credited, needs_reconciliation,
	failure_reason, fraud_score, fraud_explanation, fraud_analyzed_at, created_at, updated_at, completed_at, version`

// Create inserts a new transfer. A taken idempotency key maps to ErrIdempotencyConflict.
func (r *transferRepository) Create(ctx context.Context, t *domain.Transfer) error {
	query := `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.SourceAccountID,
		t.DestinationAccountID,
		t.Amount.String(),
		t.Currency,
		t.DestinationKey,
		t.Description,
		t.IdempotencyKey,
		string(t.Status),
		t.DebitRequested,
		t.SourceDebited,
		t.DestinationCredited,
		t.NeedsReconciliation,
		t.FailureReason,
		nullableDecimal(t.FraudScore),
		t.FraudExplanation,
		t.FraudAnalyzedAt,
		t.CreatedAt,
		t.UpdatedAt,
		t.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transfer with idempotency key %q already exists: %w", t.IdempotencyKey, domain.ErrIdempotencyConflict)
		}
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	t.Version = 1
	return nil
}

// GetByID retrieves a transfer by its ID
func (r *transferRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`

	t, err := scanTransfer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transfer %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transfer by ID: %w", err)
	}
	return t, nil
}

// GetByIdempotencyKey retrieves a transfer by the caller supplied key
func (r *transferRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE idempotency_key = $1`

	t, err := scanTransfer(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transfer with idempotency key %q: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transfer by idempotency key: %w", err)
	}
	return t, nil
}

// Update persists the mutable saga fields if the stored version still matches
func (r *transferRepository) Update(ctx context.Context, t *domain.Transfer) error {
	if err := updateTransfer(ctx, r.db, t); err != nil {
		return err
	}
	t.Version++
	return nil
}

// RecordDebit stores the debited transfer and the committed quota window atomically
func (r *transferRepository) RecordDebit(ctx context.Context, t *domain.Transfer, quota *domain.QuotaWindow) error {
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateTransfer(ctx, tx, t); err != nil {
			return err
		}
		return saveQuota(ctx, tx, quota)
	})
	if err != nil {
		return err
	}

	t.Version++
	quota.Version++
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateTransfer(ctx context.Context, db execer, t *domain.Transfer) error {
	query := `
		UPDATE transfers SET
			status = $3,
			debit_requested = $4,
			source_debited = $5,
			destination_credited = $6,
			needs_reconciliation = $7,
			failure_reason = $8,
			fraud_score = $9,
			fraud_explanation = $10,
			fraud_analyzed_at = $11,
			updated_at = $12,
			completed_at = $13,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	res, err := db.ExecContext(ctx, query,
		t.ID,
		t.Version,
		string(t.Status),
		t.DebitRequested,
		t.SourceDebited,
		t.DestinationCredited,
		t.NeedsReconciliation,
		t.FailureReason,
		nullableDecimal(t.FraudScore),
		t.FraudExplanation,
		t.FraudAnalyzedAt,
		t.UpdatedAt,
		t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transfer %s at version %d: %w", t.ID, t.Version, domain.ErrVersionConflict)
	}
	return nil
}

func scanTransfer(row *sql.Row) (*domain.Transfer, error) {
	var t domain.Transfer
	var amountStr string
	var status string
	var fraudScore sql.NullString
	var fraudAnalyzedAt, completedAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.SourceAccountID,
		&t.DestinationAccountID,
		&amountStr,
		&t.Currency,
		&t.DestinationKey,
		&t.Description,
		&t.IdempotencyKey,
		&status,
		&t.DebitRequested,
		&t.SourceDebited,
		&t.DestinationCredited,
		&t.NeedsReconciliation,
		&t.FailureReason,
		&fraudScore,
		&t.FraudExplanation,
		&fraudAnalyzedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
		&t.Version,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TransferStatus(status)

	// Parse amount (NUMERIC)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	t.Amount = amount

	if fraudScore.Valid {
		score, err := decimal.NewFromString(fraudScore.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fraud_score: %w", err)
		}
		t.FraudScore = &score
	}
	if fraudAnalyzedAt.Valid {
		at := fraudAnalyzedAt.Time
		t.FraudAnalyzedAt = &at
	}
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}

	return &t, nil
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

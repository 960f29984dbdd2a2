package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// quotaRepository implements domain.QuotaRepository
type quotaRepository struct {
	db     *DB
	policy domain.QuotaPolicy
}

// NewQuotaRepository creates a quota repository that hands out policy defaults
// for accounts without a stored window
func NewQuotaRepository(db *DB, policy domain.QuotaPolicy) domain.QuotaRepository {
	return &quotaRepository{db: db, policy: policy}
}

// Get retrieves the window of accountID, or a fresh unsaved one (Version 0)
func (r *quotaRepository) Get(ctx context.Context, accountID string, now time.Time) (*domain.QuotaWindow, error) {
	query := `
		SELECT day_start_hour, night_start_hour,
		       day_per_transaction, day_daily, day_consumed,
		       night_per_transaction, night_daily, night_consumed,
		       last_reset, version
		FROM quota_windows
		WHERE account_id = $1
	`

	q := domain.NewQuotaWindow(accountID, r.policy, now)
	var dayPerTx, dayDaily, dayConsumed, nightPerTx, nightDaily, nightConsumed string
	var lastReset time.Time

	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&q.DayStartHour,
		&q.NightStartHour,
		&dayPerTx,
		&dayDaily,
		&dayConsumed,
		&nightPerTx,
		&nightDaily,
		&nightConsumed,
		&lastReset,
		&q.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return q, nil
		}
		return nil, fmt.Errorf("failed to get quota window: %w", err)
	}

	values, err := parseDecimals(dayPerTx, dayDaily, dayConsumed, nightPerTx, nightDaily, nightConsumed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quota window of %s: %w", accountID, err)
	}
	q.Day = domain.PeriodLimit{PerTransaction: values[0], Daily: values[1], ConsumedToday: values[2]}
	q.Night = domain.PeriodLimit{PerTransaction: values[3], Daily: values[4], ConsumedToday: values[5]}

	// DATE carries no zone: rebuild the calendar date in the policy location
	q.LastReset = time.Date(lastReset.Year(), lastReset.Month(), lastReset.Day(), 0, 0, 0, 0, q.Location)

	return q, nil
}

// saveQuota inserts or updates q guarded by its version.
// Version 0 means the window was never stored.
func saveQuota(ctx context.Context, db execer, q *domain.QuotaWindow) error {
	query := `
		INSERT INTO quota_windows (
			account_id, day_start_hour, night_start_hour,
			day_per_transaction, day_daily, day_consumed,
			night_per_transaction, night_daily, night_consumed,
			last_reset, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		ON CONFLICT (account_id) DO UPDATE SET
			day_consumed = EXCLUDED.day_consumed,
			night_consumed = EXCLUDED.night_consumed,
			last_reset = EXCLUDED.last_reset,
			version = quota_windows.version + 1
		WHERE quota_windows.version = $11
	`

	res, err := db.ExecContext(ctx, query,
		q.AccountID,
		q.DayStartHour,
		q.NightStartHour,
		q.Day.PerTransaction.String(),
		q.Day.Daily.String(),
		q.Day.ConsumedToday.String(),
		q.Night.PerTransaction.String(),
		q.Night.Daily.String(),
		q.Night.ConsumedToday.String(),
		q.LastReset.Format("2006-01-02"),
		q.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save quota window: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("quota window of %s at version %d: %w", q.AccountID, q.Version, domain.ErrVersionConflict)
	}
	return nil
}

func parseDecimals(raw ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(raw))
	for _, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

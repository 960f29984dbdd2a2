package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent and safe to apply on every deploy
const schema = `
CREATE TABLE IF NOT EXISTS transfers (
	id                     UUID PRIMARY KEY,
	source_account_id      TEXT NOT NULL,
	destination_account_id TEXT NOT NULL,
	amount                 NUMERIC(18, 2) NOT NULL CHECK (amount > 0),
	currency               CHAR(3) NOT NULL,
	destination_key        TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	idempotency_key        TEXT NOT NULL UNIQUE,
	status                 TEXT NOT NULL,
	debit_requested        BOOLEAN NOT NULL DEFAULT FALSE,
	source_debited         BOOLEAN NOT NULL DEFAULT FALSE,
	destination_credited   BOOLEAN NOT NULL DEFAULT FALSE,
	needs_reconciliation   BOOLEAN NOT NULL DEFAULT FALSE,
	failure_reason         TEXT NOT NULL DEFAULT '',
	fraud_score            NUMERIC,
	fraud_explanation      TEXT NOT NULL DEFAULT '',
	fraud_analyzed_at      TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL,
	completed_at           TIMESTAMPTZ,
	version                BIGINT NOT NULL DEFAULT 1,
	CONSTRAINT transfers_credit_requires_debit CHECK (NOT destination_credited OR source_debited)
);

ALTER TABLE transfers ADD COLUMN IF NOT EXISTS debit_requested BOOLEAN NOT NULL DEFAULT FALSE;

CREATE INDEX IF NOT EXISTS idx_transfers_reconciliation
	ON transfers (updated_at) WHERE needs_reconciliation;

CREATE TABLE IF NOT EXISTS quota_windows (
	account_id            TEXT PRIMARY KEY,
	day_start_hour        SMALLINT NOT NULL,
	night_start_hour      SMALLINT NOT NULL,
	day_per_transaction   NUMERIC(18, 2) NOT NULL,
	day_daily             NUMERIC(18, 2) NOT NULL,
	day_consumed          NUMERIC(18, 2) NOT NULL DEFAULT 0,
	night_per_transaction NUMERIC(18, 2) NOT NULL,
	night_daily           NUMERIC(18, 2) NOT NULL,
	night_consumed        NUMERIC(18, 2) NOT NULL DEFAULT 0,
	last_reset            DATE NOT NULL,
	version               BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id             UUID PRIMARY KEY,
	fact_id        UUID NOT NULL,
	consumer_group TEXT NOT NULL,
	transfer_id    UUID NOT NULL,
	correlation_id TEXT NOT NULL,
	fact_type      TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	amount         NUMERIC(18, 2) NOT NULL,
	currency       CHAR(3) NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	occurred_at    TIMESTAMPTZ NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL,
	payload        JSONB NOT NULL,
	UNIQUE (fact_id, consumer_group)
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_transfer
	ON audit_entries (transfer_id, occurred_at);
`

// Migrate applies the schema
func Migrate(ctx context.Context, db *DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

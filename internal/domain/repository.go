package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransferRepository defines the interface for transfer persistence operations
type TransferRepository interface {
	// Create stores a new transfer.
	// Returns ErrIdempotencyConflict if the idempotency key is already taken.
	Create(ctx context.Context, t *Transfer) error

	// GetByID retrieves a transfer by its ID, ErrNotFound if missing
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)

	// GetByIdempotencyKey retrieves a transfer by the caller supplied key, ErrNotFound if missing
	GetByIdempotencyKey(ctx context.Context, key string) (*Transfer, error)

	// Update persists t if its Version still matches the stored row and bumps Version.
	// Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, t *Transfer) error

	// RecordDebit persists the debited transfer and the committed quota window
	// in one unit of work, so a re-run saga can never count the same debit twice.
	RecordDebit(ctx context.Context, t *Transfer, quota *QuotaWindow) error
}

// QuotaRepository defines the interface for quota window lookups
type QuotaRepository interface {
	// Get returns the stored window for the account or a new one built from
	// the policy defaults when the account has none yet.
	Get(ctx context.Context, accountID string, now time.Time) (*QuotaWindow, error)
}

// AuditRepository defines the interface for the compliance audit trail
type AuditRepository interface {
	// Record stores the entry. Returns false when an entry for the same fact and
	// consumer group already exists, which makes replays harmless.
	Record(ctx context.Context, entry *AuditEntry) (bool, error)

	// ListByTransfer returns the audit trail of one transfer ordered by occurrence
	ListByTransfer(ctx context.Context, transferID uuid.UUID) ([]*AuditEntry, error)
}

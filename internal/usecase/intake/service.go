package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// IntakeService accepts transfer requests and hands them to fraud analysis
type IntakeService struct {
	TransferRepo domain.TransferRepository
	Facts        domain.FactAppender
	Now          func() time.Time

	logger *zap.Logger
}

// NewIntakeService creates a new IntakeService instance
func NewIntakeService(transferRepo domain.TransferRepository, facts domain.FactAppender, logger *zap.Logger) *IntakeService {
	return &IntakeService{
		TransferRepo: transferRepo,
		Facts:        facts,
		Now:          time.Now,
		logger:       logger,
	}
}

// Initiate registers a transfer request
// Logic:
//  1. Look up the idempotency key. Same request -> return the stored transfer.
//     Different request -> ErrIdempotencyConflict
//  2. Validate and persist a new transfer in PENDING_ANALYSIS
//  3. Append TransferInitiated for the fraud oracle
//
// The boolean is false when the call was an idempotent retry.
func (s *IntakeService) Initiate(ctx context.Context, input domain.NewTransferInput) (*domain.Transfer, bool, error) {
	// 1. Idempotency lookup
	existing, err := s.TransferRepo.GetByIdempotencyKey(ctx, strings.TrimSpace(input.IdempotencyKey))
	switch {
	case err == nil:
		t, err := s.replay(ctx, existing, input)
		return t, false, err
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	// 2. Validate and persist
	t, err := domain.NewTransfer(input, s.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	if err := s.TransferRepo.Create(ctx, t); err != nil {
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			// lost a race against a concurrent request with the same key
			existing, getErr := s.TransferRepo.GetByIdempotencyKey(ctx, t.IdempotencyKey)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to load concurrent transfer: %w", getErr)
			}
			replayed, err := s.replay(ctx, existing, input)
			return replayed, false, err
		}
		return nil, false, fmt.Errorf("failed to create transfer: %w", err)
	}

	// 3. Hand over to fraud analysis
	if err := s.appendInitiated(ctx, t); err != nil {
		return nil, false, err
	}

	s.logger.Info("transfer initiated",
		zap.String("transfer_id", t.ID.String()),
		zap.String("source_account_id", t.SourceAccountID),
		zap.String("amount", t.Amount.String()),
	)
	return t, true, nil
}

// Get returns a transfer by id
func (s *IntakeService) Get(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	return s.TransferRepo.GetByID(ctx, id)
}

// replay answers a retried request. A transfer still waiting for analysis gets
// its TransferInitiated appended again in case the first append was lost; the
// fraud oracle keys its work by transfer id.
func (s *IntakeService) replay(ctx context.Context, existing *domain.Transfer, input domain.NewTransferInput) (*domain.Transfer, error) {
	if !existing.SameRequest(input) {
		return nil, fmt.Errorf("%w: key %q", domain.ErrIdempotencyConflict, existing.IdempotencyKey)
	}
	if existing.Status == domain.TransferStatusPendingAnalysis {
		if err := s.appendInitiated(ctx, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

func (s *IntakeService) appendInitiated(ctx context.Context, t *domain.Transfer) error {
	fact, err := domain.InitiatedFact(t)
	if err != nil {
		return err
	}
	if err := s.Facts.Append(ctx, domain.TopicTransfers, fact); err != nil {
		return fmt.Errorf("failed to publish transfer initiation: %w", err)
	}
	return nil
}

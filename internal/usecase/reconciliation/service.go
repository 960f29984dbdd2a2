package reconciliation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

const defaultStepTimeout = 5 * time.Second

// ReconciliationService retries compensations the saga could not complete.
// A task that keeps failing is dead-lettered by the worker for manual handling.
type ReconciliationService struct {
	TransferRepo domain.TransferRepository
	Accounts     domain.AccountService
	Facts        domain.FactAppender

	StepTimeout time.Duration
	Now         func() time.Time

	logger *zap.Logger
}

// NewReconciliationService creates a new ReconciliationService instance
func NewReconciliationService(
	transferRepo domain.TransferRepository,
	accounts domain.AccountService,
	facts domain.FactAppender,
	stepTimeout time.Duration,
	logger *zap.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		TransferRepo: transferRepo,
		Accounts:     accounts,
		Facts:        facts,
		StepTimeout:  stepTimeout,
		Now:          time.Now,
		logger:       logger,
	}
}

// Reconcile returns the debited funds to the source account
// Logic:
//  1. Load transfer. Already compensated -> publish TransferFailed again, in
//     case the append of an earlier delivery failed after the status was stored
//  2. Anything but FAILED awaiting reconciliation -> nothing to do
//  3. Retry the compensating credit with the saga's idempotency key
//  4. Compensate, persist, publish TransferFailed{Compensated: true}
func (s *ReconciliationService) Reconcile(ctx context.Context, task domain.ReconcileTransfer) error {
	t, err := s.TransferRepo.GetByID(ctx, task.TransferID)
	if err != nil {
		return fmt.Errorf("failed to load transfer %s: %w", task.TransferID, err)
	}
	log := s.logger.With(zap.String("transfer_id", t.ID.String()), zap.String("correlation_id", task.CorrelationID))

	if t.Status == domain.TransferStatusCompensated && t.SourceDebited {
		log.Info("transfer already compensated")
		return s.publishCompensated(ctx, t)
	}
	if t.Status != domain.TransferStatusFailed || !t.NeedsReconciliation {
		log.Info("nothing to reconcile", zap.String("status", string(t.Status)))
		return nil
	}

	timeout := s.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Accounts.Credit(stepCtx, t.Movement(domain.OperationCompensate)); err != nil {
		log.Warn("compensation retry failed", zap.Error(err))
		return fmt.Errorf("failed to compensate transfer %s: %w", t.ID, err)
	}

	if err := t.Compensate("", s.Now()); err != nil {
		return err
	}
	if err := s.TransferRepo.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to persist compensation: %w", err)
	}

	log.Info("transfer reconciled", zap.String("amount", t.Amount.String()))
	return s.publishCompensated(ctx, t)
}

func (s *ReconciliationService) publishCompensated(ctx context.Context, t *domain.Transfer) error {
	fact, err := domain.FailedFact(t)
	if err != nil {
		return err
	}
	if err := s.Facts.Append(ctx, domain.TopicTransferOutcomes, fact); err != nil {
		return fmt.Errorf("failed to publish compensation: %w", err)
	}
	return nil
}

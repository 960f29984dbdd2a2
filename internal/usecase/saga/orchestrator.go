package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/notification"
)

// DefaultStepTimeout bounds every account service call
const DefaultStepTimeout = 5 * time.Second

// Orchestrator drives a transfer from its fraud verdict to a terminal state.
//
// Progress lives on the persisted aggregate only. Every handler reloads the
// transfer and resumes from its status, so a redelivered or replayed fact
// re-runs the remaining steps and announces the outcome again. Account calls carry the
// transfer id plus operation kind as idempotency key, which makes a step that
// succeeded remotely but was not persisted safe to repeat.
type Orchestrator struct {
	TransferRepo domain.TransferRepository
	QuotaRepo    domain.QuotaRepository
	Accounts     domain.AccountService
	Facts        domain.FactAppender
	Tasks        domain.TaskPublisher

	StepTimeout time.Duration
	Now         func() time.Time

	logger *zap.Logger
}

// NewOrchestrator creates a new Orchestrator instance
func NewOrchestrator(
	transferRepo domain.TransferRepository,
	quotaRepo domain.QuotaRepository,
	accounts domain.AccountService,
	facts domain.FactAppender,
	tasks domain.TaskPublisher,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		TransferRepo: transferRepo,
		QuotaRepo:    quotaRepo,
		Accounts:     accounts,
		Facts:        facts,
		Tasks:        tasks,
		StepTimeout:  DefaultStepTimeout,
		Now:          time.Now,
		logger:       logger,
	}
}

// OnApproved runs the debit/credit saga for an approved transfer
// Logic:
//  1. Load transfer. PendingAnalysis/UnderReview -> Approve, persist
//  2. Approved -> StartSaga, persist
//  3. Pending -> quota check and persist the debit request, then debit source
//     and commit quota with the debit. A retry with the request already
//     persisted re-sends the same-key debit without re-checking quota
//  4. SourceDebited -> credit destination, compensate on failure
//  5. Resting state -> publish the outcome fact, also on redelivery
func (o *Orchestrator) OnApproved(ctx context.Context, fact domain.Fact, verdict domain.FraudVerdictFact) error {
	t, err := o.TransferRepo.GetByID(ctx, verdict.TransferID)
	if err != nil {
		return fmt.Errorf("failed to load transfer %s: %w", verdict.TransferID, err)
	}
	log := o.logger.With(zap.String("transfer_id", t.ID.String()), zap.String("correlation_id", fact.CorrelationID))

	switch t.Status {
	case domain.TransferStatusPendingAnalysis, domain.TransferStatusUnderReview:
		if err := t.Approve(o.verdictOf(verdict)); err != nil {
			return err
		}
		if err := o.TransferRepo.Update(ctx, t); err != nil {
			return fmt.Errorf("failed to persist approval: %w", err)
		}
		log.Info("transfer approved", zap.String("fraud_score", verdict.Score.String()))
	}

	return o.advance(ctx, t, log)
}

// OnRejected ends a transfer blocked by fraud analysis. No account is touched.
// A redelivered rejection publishes the failure fact and notices again; their
// ids are derived from the transfer so consumers drop the duplicates.
func (o *Orchestrator) OnRejected(ctx context.Context, fact domain.Fact, verdict domain.FraudVerdictFact) error {
	t, err := o.TransferRepo.GetByID(ctx, verdict.TransferID)
	if err != nil {
		return fmt.Errorf("failed to load transfer %s: %w", verdict.TransferID, err)
	}
	log := o.logger.With(zap.String("transfer_id", t.ID.String()), zap.String("correlation_id", fact.CorrelationID))

	if t.Status != domain.TransferStatusRejected {
		if err := t.Reject(o.verdictOf(verdict)); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				log.Warn("ignoring fraud rejection", zap.Error(err))
				return nil
			}
			return err
		}
		if err := o.TransferRepo.Update(ctx, t); err != nil {
			return fmt.Errorf("failed to persist rejection: %w", err)
		}
		log.Warn("transfer rejected by fraud analysis", zap.String("reason", t.FailureReason))
	}

	if err := o.publishFailed(ctx, t); err != nil {
		return err
	}
	subject := notification.SubjectOf(t)
	for _, channel := range []domain.NotificationChannel{domain.ChannelEmail, domain.ChannelPush, domain.ChannelSMS} {
		n := notification.Rejected(subject, channel)
		if err := o.Tasks.Publish(ctx, domain.NotificationQueue(channel), n, domain.PriorityUrgent); err != nil {
			return fmt.Errorf("failed to enqueue %s rejection notice: %w", channel, err)
		}
	}
	return nil
}

// OnUnderReview parks the transfer until a final verdict arrives
func (o *Orchestrator) OnUnderReview(ctx context.Context, fact domain.Fact, verdict domain.FraudVerdictFact) error {
	t, err := o.TransferRepo.GetByID(ctx, verdict.TransferID)
	if err != nil {
		return fmt.Errorf("failed to load transfer %s: %w", verdict.TransferID, err)
	}
	log := o.logger.With(zap.String("transfer_id", t.ID.String()), zap.String("correlation_id", fact.CorrelationID))

	if t.Status != domain.TransferStatusUnderReview {
		if err := t.SendToReview(o.verdictOf(verdict)); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				log.Warn("ignoring review verdict", zap.Error(err))
				return nil
			}
			return err
		}
		if err := o.TransferRepo.Update(ctx, t); err != nil {
			return fmt.Errorf("failed to persist review: %w", err)
		}
		log.Info("transfer sent to manual review")
	}

	n := notification.UnderReview(notification.SubjectOf(t), domain.ChannelPush)
	if err := o.Tasks.Publish(ctx, domain.QueuePushNotifications, n, domain.PriorityRoutine); err != nil {
		return fmt.Errorf("failed to enqueue review notice: %w", err)
	}
	return nil
}

// advance executes saga steps until the transfer rests, then publishes its outcome
func (o *Orchestrator) advance(ctx context.Context, t *domain.Transfer, log *zap.Logger) error {
	for {
		var err error
		switch t.Status {
		case domain.TransferStatusApproved:
			err = o.start(ctx, t)
		case domain.TransferStatusPending:
			err = o.debit(ctx, t, log)
		case domain.TransferStatusSourceDebited:
			err = o.credit(ctx, t, log)
		default:
			return o.publishOutcome(ctx, t, log)
		}
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) start(ctx context.Context, t *domain.Transfer) error {
	if err := t.StartSaga(o.Now()); err != nil {
		return err
	}
	if err := o.TransferRepo.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to persist saga start: %w", err)
	}
	return nil
}

func (o *Orchestrator) debit(ctx context.Context, t *domain.Transfer, log *zap.Logger) error {
	now := o.Now()

	quota, err := o.QuotaRepo.Get(ctx, t.SourceAccountID, now)
	if err != nil {
		return fmt.Errorf("failed to load quota of %s: %w", t.SourceAccountID, err)
	}

	if t.DebitRequested {
		// an earlier attempt may have moved the funds; the account service
		// answers the same key with the original result
		log.Info("resending debit of an earlier attempt")
	} else {
		if ok, reason := quota.Check(t.Amount, now); !ok {
			log.Info("transfer exceeds quota", zap.String("reason", reason))
			return o.fail(ctx, t, "quota exceeded: "+reason)
		}
		if err := t.RequestDebit(now); err != nil {
			return err
		}
		if err := o.TransferRepo.Update(ctx, t); err != nil {
			return fmt.Errorf("failed to persist debit request: %w", err)
		}
	}

	if err := o.call(ctx, o.Accounts.Debit, t.Movement(domain.OperationDebit)); err != nil {
		log.Warn("source debit failed", zap.Error(err))
		return o.fail(ctx, t, "source debit failed: "+err.Error())
	}

	now = o.Now()
	quota.Commit(t.Amount, now)
	if err := t.MarkSourceDebited(now); err != nil {
		return err
	}
	if err := o.TransferRepo.RecordDebit(ctx, t, quota); err != nil {
		return fmt.Errorf("failed to record debit: %w", err)
	}

	log.Info("source account debited", zap.String("amount", t.Amount.String()))
	return nil
}

func (o *Orchestrator) credit(ctx context.Context, t *domain.Transfer, log *zap.Logger) error {
	creditErr := o.call(ctx, o.Accounts.Credit, t.Movement(domain.OperationCredit))
	if creditErr == nil {
		if err := t.Complete(o.Now()); err != nil {
			return err
		}
		if err := o.TransferRepo.Update(ctx, t); err != nil {
			return fmt.Errorf("failed to persist completion: %w", err)
		}
		log.Info("transfer completed")
		return nil
	}

	reason := "destination credit failed: " + creditErr.Error()
	log.Warn("destination credit failed, compensating", zap.Error(creditErr))

	if err := o.call(ctx, o.Accounts.Credit, t.Movement(domain.OperationCompensate)); err != nil {
		log.Error("compensation failed, reconciliation required", zap.Error(err))
		if err := t.RequireReconciliation(reason+"; compensation failed: "+err.Error(), o.Now()); err != nil {
			return err
		}
		if err := o.TransferRepo.Update(ctx, t); err != nil {
			return fmt.Errorf("failed to persist reconciliation flag: %w", err)
		}
		return nil
	}

	if err := t.Compensate(reason, o.Now()); err != nil {
		return err
	}
	if err := o.TransferRepo.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to persist compensation: %w", err)
	}
	log.Info("transfer compensated")
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, t *domain.Transfer, reason string) error {
	if err := t.Fail(reason, o.Now()); err != nil {
		return err
	}
	if err := o.TransferRepo.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to persist failure: %w", err)
	}
	return nil
}

// publishOutcome announces where a transfer came to rest. It runs on every
// delivery that finds the transfer resting, so an append that failed after the
// status was persisted is retried by the redelivered verdict.
func (o *Orchestrator) publishOutcome(ctx context.Context, t *domain.Transfer, log *zap.Logger) error {
	switch t.Status {
	case domain.TransferStatusCompleted:
		fact, err := domain.CompletedFact(t)
		if err != nil {
			return err
		}
		if err := o.Facts.Append(ctx, domain.TopicTransferOutcomes, fact); err != nil {
			return fmt.Errorf("failed to publish completion: %w", err)
		}
	case domain.TransferStatusFailed, domain.TransferStatusCompensated:
		if err := o.publishFailed(ctx, t); err != nil {
			return err
		}
		if t.NeedsReconciliation {
			task := domain.ReconcileTransfer{TransferID: t.ID, CorrelationID: t.CorrelationID(), Reason: t.FailureReason}
			if err := o.Tasks.Publish(ctx, domain.QueueReconciliation, task, domain.PriorityUrgent); err != nil {
				return fmt.Errorf("failed to enqueue reconciliation: %w", err)
			}
		}
	default:
		// Rejected is announced by OnRejected
		log.Info("saga has nothing to do", zap.String("status", string(t.Status)))
	}
	return nil
}

func (o *Orchestrator) publishFailed(ctx context.Context, t *domain.Transfer) error {
	fact, err := domain.FailedFact(t)
	if err != nil {
		return err
	}
	if err := o.Facts.Append(ctx, domain.TopicTransferOutcomes, fact); err != nil {
		return fmt.Errorf("failed to publish failure: %w", err)
	}
	return nil
}

// verdictOf falls back to the orchestrator clock when the oracle sent no analysis time
func (o *Orchestrator) verdictOf(f domain.FraudVerdictFact) domain.FraudVerdict {
	v := f.Verdict()
	if v.AnalyzedAt.IsZero() {
		v.AnalyzedAt = o.Now()
	}
	return v
}

// call bounds one account service step. A timeout counts as a failed step.
func (o *Orchestrator) call(ctx context.Context, step func(context.Context, domain.AccountMovement) error, m domain.AccountMovement) error {
	timeout := o.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := step(stepCtx, m); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrAccountUnavailable) {
			return fmt.Errorf("%w: %s timed out: %v", domain.ErrAccountUnavailable, m.Operation, err)
		}
		return err
	}
	return nil
}

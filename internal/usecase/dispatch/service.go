package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/notification"
)

// DispatchService turns transfer outcomes into Task Bus jobs
type DispatchService struct {
	Tasks domain.TaskPublisher

	logger *zap.Logger
}

// NewDispatchService creates a new DispatchService instance
func NewDispatchService(tasks domain.TaskPublisher, logger *zap.Logger) *DispatchService {
	return &DispatchService{
		Tasks:  tasks,
		logger: logger,
	}
}

// OnCompleted confirms the transfer by email and push and starts the receipt pipeline
func (s *DispatchService) OnCompleted(ctx context.Context, fact domain.Fact, p domain.TransferCompleted) error {
	subject := notification.Subject{
		TransferID:    p.TransferID,
		CorrelationID: fact.CorrelationID,
		Recipient:     p.SourceAccountID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Ref:           fact.ID,
	}

	for _, channel := range []domain.NotificationChannel{domain.ChannelEmail, domain.ChannelPush} {
		n := notification.Completed(subject, channel)
		if err := s.Tasks.Publish(ctx, domain.NotificationQueue(channel), n, domain.PriorityRoutine); err != nil {
			return fmt.Errorf("failed to enqueue %s confirmation: %w", channel, err)
		}
	}

	receipt := domain.GenerateReceipt{TransferID: p.TransferID, CorrelationID: fact.CorrelationID}
	if err := s.Tasks.Publish(ctx, domain.QueueGenerateReceipt, receipt, domain.PriorityLow); err != nil {
		return fmt.Errorf("failed to enqueue receipt: %w", err)
	}

	s.logger.Debug("completion dispatched", zap.String("transfer_id", p.TransferID.String()))
	return nil
}

// OnFailed sends a failure notice by email. Fraud rejections are skipped: the
// saga already raised urgent notices on every channel.
func (s *DispatchService) OnFailed(ctx context.Context, fact domain.Fact, p domain.TransferFailed) error {
	if p.FraudRejected {
		return nil
	}

	priority := domain.PriorityHigh
	if p.ReconciliationRequired {
		priority = domain.PriorityUrgent
	}

	n := notification.Failed(notification.Subject{
		TransferID:    p.TransferID,
		CorrelationID: fact.CorrelationID,
		Recipient:     p.SourceAccountID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Reason:        p.Reason,
		Ref:           fact.ID,
	}, domain.ChannelEmail, p.ReconciliationRequired)

	if err := s.Tasks.Publish(ctx, domain.QueueEmailNotifications, n, priority); err != nil {
		return fmt.Errorf("failed to enqueue failure notice: %w", err)
	}

	s.logger.Debug("failure dispatched",
		zap.String("transfer_id", p.TransferID.String()),
		zap.Bool("compensated", p.Compensated),
		zap.Bool("reconciliation_required", p.ReconciliationRequired),
	)
	return nil
}

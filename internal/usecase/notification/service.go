package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// NotificationService delivers notification tasks taken from the Task Bus
type NotificationService struct {
	Notifier domain.Notifier
	logger   *zap.Logger
}

// NewNotificationService creates a new NotificationService instance
func NewNotificationService(notifier domain.Notifier, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		Notifier: notifier,
		logger:   logger,
	}
}

// Send hands n to the gateway. Errors are returned so the worker redelivers.
func (s *NotificationService) Send(ctx context.Context, n domain.Notification) error {
	if n.Channel == "" || n.Recipient == "" {
		return fmt.Errorf("%w: notification %s has no channel or recipient", domain.ErrValidation, n.ID)
	}

	if err := s.Notifier.Send(ctx, n); err != nil {
		return fmt.Errorf("failed to send %s notification: %w", n.Channel, err)
	}

	s.logger.Info("notification sent",
		zap.String("notification_id", n.ID.String()),
		zap.String("transfer_id", n.TransferID.String()),
		zap.String("correlation_id", n.CorrelationID),
		zap.String("channel", string(n.Channel)),
		zap.String("template", n.Template),
	)
	return nil
}

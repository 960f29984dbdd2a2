package notification

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// Template names understood by the notification gateway
const (
	TemplateTransferCompleted   = "transfer-completed"
	TemplateTransferFailed      = "transfer-failed"
	TemplateTransferRejected    = "transfer-rejected"
	TemplateTransferUnderReview = "transfer-under-review"
)

// Subject describes the transfer a notification is about
type Subject struct {
	TransferID    uuid.UUID
	CorrelationID string
	Recipient     string
	Amount        decimal.Decimal
	Currency      string
	Reason        string

	// Ref namespaces the notification id. Zero means TransferID.
	Ref uuid.UUID
}

// SubjectOf builds a Subject addressed to the source account holder of t
func SubjectOf(t *domain.Transfer) Subject {
	return Subject{
		TransferID:    t.ID,
		CorrelationID: t.CorrelationID(),
		Recipient:     t.SourceAccountID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Reason:        t.FailureReason,
	}
}

// Completed confirms a successful transfer
func Completed(s Subject, channel domain.NotificationChannel) domain.Notification {
	return build(s, channel, TemplateTransferCompleted, false,
		"Transfer completed",
		fmt.Sprintf("Your transfer of %s %s was completed.", s.Amount.StringFixed(2), s.Currency))
}

// Failed reports a failed or compensated transfer
func Failed(s Subject, channel domain.NotificationChannel, urgent bool) domain.Notification {
	return build(s, channel, TemplateTransferFailed, urgent,
		"Transfer failed",
		fmt.Sprintf("Your transfer of %s %s could not be completed: %s.", s.Amount.StringFixed(2), s.Currency, s.Reason))
}

// Rejected alerts the account holder that fraud analysis blocked the transfer
func Rejected(s Subject, channel domain.NotificationChannel) domain.Notification {
	return build(s, channel, TemplateTransferRejected, true,
		"Transfer blocked",
		fmt.Sprintf("Your transfer of %s %s was blocked by our security analysis. If you did not request it, contact us now.",
			s.Amount.StringFixed(2), s.Currency))
}

// UnderReview tells the account holder the transfer is waiting for manual review
func UnderReview(s Subject, channel domain.NotificationChannel) domain.Notification {
	return build(s, channel, TemplateTransferUnderReview, false,
		"Transfer under review",
		fmt.Sprintf("Your transfer of %s %s is under review.", s.Amount.StringFixed(2), s.Currency))
}

// build derives the notification id from Ref, template and channel so a
// redelivered fact produces the same id and the gateway can drop the duplicate.
func build(s Subject, channel domain.NotificationChannel, template string, urgent bool, subject, body string) domain.Notification {
	ref := s.Ref
	if ref == uuid.Nil {
		ref = s.TransferID
	}
	return domain.Notification{
		ID:            uuid.NewSHA1(ref, []byte(template+"/"+string(channel))),
		TransferID:    s.TransferID,
		CorrelationID: s.CorrelationID,
		Channel:       channel,
		Recipient:     s.Recipient,
		Template:      template,
		Subject:       subject,
		Body:          body,
		Urgent:        urgent,
	}
}

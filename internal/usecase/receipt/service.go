package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// ContentType of rendered receipts
const ContentType = "text/plain; charset=utf-8"

const timestampLayout = "2006-01-02 15:04:05 MST"

// ErrNotCompleted is returned when a receipt is requested for an unfinished transfer
var ErrNotCompleted = errors.New("receipts are only issued for completed transfers")

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"completedAt": func(t *domain.Transfer) string {
		if t.CompletedAt == nil {
			return "-"
		}
		return t.CompletedAt.UTC().Format(timestampLayout)
	},
}).Parse(`KRT BANK - INSTANT PAYMENT RECEIPT
==================================
Transfer ID:     {{.ID}}
Status:          {{.Status}}
Amount:          {{.Amount.StringFixed 2}} {{.Currency}}
From account:    {{.SourceAccountID}}
To account:      {{.DestinationAccountID}}
Destination key: {{.DestinationKey}}
{{- if .Description}}
Description:     {{.Description}}
{{- end}}
Requested at:    {{.CreatedAt.UTC.Format "2006-01-02 15:04:05 MST"}}
Completed at:    {{completedAt .}}
`))

// ObjectKey is where the receipt of t is stored: receipts/<yyyy>/<mm>/<id>.txt
func ObjectKey(t *domain.Transfer) string {
	at := t.UpdatedAt
	if t.CompletedAt != nil {
		at = *t.CompletedAt
	}
	at = at.UTC()
	return fmt.Sprintf("receipts/%04d/%02d/%s.txt", at.Year(), int(at.Month()), t.ID)
}

// Render produces the plain text receipt of a completed transfer
func Render(t *domain.Transfer) ([]byte, error) {
	if t.Status != domain.TransferStatusCompleted {
		return nil, fmt.Errorf("%w: transfer %s is %s", ErrNotCompleted, t.ID, t.Status)
	}
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, t); err != nil {
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// ReceiptService runs both stages of the receipt pipeline
type ReceiptService struct {
	TransferRepo domain.TransferRepository
	Tasks        domain.TaskPublisher
	Storage      domain.ObjectStorage

	logger *zap.Logger
}

// NewReceiptService creates a new ReceiptService instance
func NewReceiptService(
	transferRepo domain.TransferRepository,
	tasks domain.TaskPublisher,
	storage domain.ObjectStorage,
	logger *zap.Logger,
) *ReceiptService {
	return &ReceiptService{
		TransferRepo: transferRepo,
		Tasks:        tasks,
		Storage:      storage,
		logger:       logger,
	}
}

// Generate renders the receipt and hands it to the upload stage.
// An upload failure later on never re-renders.
func (s *ReceiptService) Generate(ctx context.Context, task domain.GenerateReceipt) error {
	t, err := s.TransferRepo.GetByID(ctx, task.TransferID)
	if err != nil {
		return fmt.Errorf("failed to load transfer %s: %w", task.TransferID, err)
	}

	content, err := Render(t)
	if err != nil {
		return err
	}

	upload := domain.UploadReceipt{
		TransferID:    t.ID,
		CorrelationID: task.CorrelationID,
		ObjectKey:     ObjectKey(t),
		ContentType:   ContentType,
		Content:       content,
	}
	if err := s.Tasks.Publish(ctx, domain.QueueUploadReceipt, upload, domain.PriorityLow); err != nil {
		return fmt.Errorf("failed to enqueue receipt upload: %w", err)
	}

	s.logger.Info("receipt generated",
		zap.String("transfer_id", t.ID.String()),
		zap.String("object_key", upload.ObjectKey),
	)
	return nil
}

// Upload stores a rendered receipt
func (s *ReceiptService) Upload(ctx context.Context, task domain.UploadReceipt) error {
	if task.ObjectKey == "" || len(task.Content) == 0 {
		return fmt.Errorf("%w: receipt upload for %s has no key or content", domain.ErrValidation, task.TransferID)
	}

	if err := s.Storage.Put(ctx, task.ObjectKey, task.ContentType, task.Content); err != nil {
		return fmt.Errorf("failed to upload receipt: %w", err)
	}

	s.logger.Info("receipt uploaded",
		zap.String("transfer_id", task.TransferID.String()),
		zap.String("object_key", task.ObjectKey),
	)
	return nil
}

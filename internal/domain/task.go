package domain

import (
	"github.com/google/uuid"
)

// TaskType is the type tag carried by every Task Bus message
type TaskType string

const (
	TaskSendNotification  TaskType = "notification.send"
	TaskGenerateReceipt   TaskType = "receipt.generate"
	TaskUploadReceipt     TaskType = "receipt.upload"
	TaskReconcileTransfer TaskType = "reconciliation.compensate"
)

// Task is a unit of work dispatched on the Task Bus
type Task interface {
	TaskType() TaskType
}

// Notification priorities used by the publishers
const (
	PriorityUrgent  uint8 = 9
	PriorityHigh    uint8 = 7
	PriorityRoutine uint8 = 5
	PriorityLow     uint8 = 3
)

// NotificationChannel selects the delivery medium
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelPush  NotificationChannel = "push"
)

// Notification is handed to the notification gateway
type Notification struct {
	ID            uuid.UUID           `json:"id"`
	TransferID    uuid.UUID           `json:"transferId"`
	CorrelationID string              `json:"correlationId"`
	Channel       NotificationChannel `json:"channel"`
	Recipient     string              `json:"recipient"` // account id; the gateway resolves contact data
	Template      string              `json:"template"`
	Subject       string              `json:"subject"`
	Body          string              `json:"body"`
	Urgent        bool                `json:"urgent"`
}

func (Notification) TaskType() TaskType { return TaskSendNotification }

// GenerateReceipt is the first stage of the receipt pipeline
type GenerateReceipt struct {
	TransferID    uuid.UUID `json:"transferId"`
	CorrelationID string    `json:"correlationId"`
}

func (GenerateReceipt) TaskType() TaskType { return TaskGenerateReceipt }

// UploadReceipt is the second stage: it carries the rendered document
type UploadReceipt struct {
	TransferID    uuid.UUID `json:"transferId"`
	CorrelationID string    `json:"correlationId"`
	ObjectKey     string    `json:"objectKey"`
	ContentType   string    `json:"contentType"`
	Content       []byte    `json:"content"`
}

func (UploadReceipt) TaskType() TaskType { return TaskUploadReceipt }

// ReconcileTransfer asks the reconciliation worker to retry a failed compensation
type ReconcileTransfer struct {
	TransferID    uuid.UUID `json:"transferId"`
	CorrelationID string    `json:"correlationId"`
	Reason        string    `json:"reason"`
}

func (ReconcileTransfer) TaskType() TaskType { return TaskReconcileTransfer }

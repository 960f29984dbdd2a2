package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/accountclient"
	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/messaging/factlog"
	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/messaging/taskbus"
	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/notifier"
	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/objectstore"
	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/repository/postgres"
	"github.com/KlistenesLima/krt-bank-sub000/internal/config"
	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/audit"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/dispatch"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/intake"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/notification"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/receipt"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/reconciliation"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/saga"
)

// Consumer groups of the Fact Log
const (
	GroupSaga     = "payments-saga"
	GroupAudit    = audit.DefaultConsumerGroup
	GroupDispatch = "payments-dispatch"
)

// Infra holds the connections every component shares
type Infra struct {
	DB         *postgres.DB
	TaskBroker taskbus.Broker
	FactBroker factlog.Broker
}

// Close releases the brokers and the database
func (i *Infra) Close() error {
	var errs []error
	if i.TaskBroker != nil {
		errs = append(errs, i.TaskBroker.Close())
	}
	if i.FactBroker != nil {
		errs = append(errs, i.FactBroker.Close())
	}
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}
	return errors.Join(errs...)
}

// Connect opens the database and both brokers, then provisions queues and topics
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Infra, error) {
	infra := &Infra{}

	// 1. Database
	db, err := postgres.NewDB(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	infra.DB = db

	// 2. Task Bus
	switch cfg.TaskBus.Driver {
	case config.DriverMemory:
		infra.TaskBroker = taskbus.NewMemoryBroker()
	default:
		rb, err := taskbus.NewRabbitBroker(cfg.TaskBus.URL, cfg.TaskBus.ExchangePrefix, logger)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.TaskBroker = rb
	}
	if err := taskbus.Provision(ctx, infra.TaskBroker, taskbus.DefaultQueues()); err != nil {
		infra.Close()
		return nil, err
	}

	// 3. Fact Log
	switch cfg.FactLog.Driver {
	case config.DriverMemory:
		infra.FactBroker = factlog.NewMemoryBroker()
	default:
		kb, err := factlog.NewKafkaBroker(cfg.FactLog.Brokers, logger)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.FactBroker = kb
	}
	topics := factlog.DefaultTopics(cfg.FactLog.Partitions, cfg.FactLog.ReplicationFactor, cfg.FactLog.Retention)
	if err := infra.FactBroker.EnsureTopics(ctx, topics); err != nil {
		infra.Close()
		return nil, fmt.Errorf("failed to ensure topics: %w", err)
	}

	return infra, nil
}

// Services are the use cases built on top of Infra
type Services struct {
	Intake         *intake.IntakeService
	Orchestrator   *saga.Orchestrator
	Audit          *audit.Recorder
	Dispatch       *dispatch.DispatchService
	Notifications  *notification.NotificationService
	Receipts       *receipt.ReceiptService
	Reconciliation *reconciliation.ReconciliationService

	Facts *factlog.Log
}

// NewServices wires repositories, outbound clients and use cases
func NewServices(cfg *config.Config, infra *Infra, logger *zap.Logger) (*Services, error) {
	policy, err := cfg.Quota.Policy()
	if err != nil {
		return nil, err
	}

	// Repositories (Postgres)
	transferRepo := postgres.NewTransferRepository(infra.DB)
	quotaRepo := postgres.NewQuotaRepository(infra.DB, policy)
	auditRepo := postgres.NewAuditRepository(infra.DB)

	// Messaging
	facts := factlog.NewLog(infra.FactBroker)
	tasks := taskbus.NewPublisher(infra.TaskBroker)

	// Outbound collaborators
	accounts := accountclient.New(cfg.Accounts.BaseURL, cfg.Accounts.Timeout)
	gateway := notifier.New(cfg.Notifier.BaseURL, cfg.Notifier.Timeout)
	storage := objectstore.New(cfg.ObjectStore.BaseURL, cfg.ObjectStore.Bucket, cfg.ObjectStore.Timeout)

	orchestrator := saga.NewOrchestrator(transferRepo, quotaRepo, accounts, facts, tasks, logger.Named("saga"))
	if cfg.Accounts.Timeout > 0 {
		orchestrator.StepTimeout = cfg.Accounts.Timeout
	}

	return &Services{
		Intake:         intake.NewIntakeService(transferRepo, facts, logger.Named("intake")),
		Orchestrator:   orchestrator,
		Audit:          audit.NewRecorder(auditRepo, logger.Named("audit")),
		Dispatch:       dispatch.NewDispatchService(tasks, logger.Named("dispatch")),
		Notifications:  notification.NewNotificationService(gateway, logger.Named("notification")),
		Receipts:       receipt.NewReceiptService(transferRepo, tasks, storage, logger.Named("receipt")),
		Reconciliation: reconciliation.NewReconciliationService(transferRepo, accounts, facts, cfg.Accounts.Timeout, logger.Named("reconciliation")),
		Facts:          facts,
	}, nil
}

// FactConsumers returns one consumer per Fact Log consumer group
func FactConsumers(cfg *config.Config, broker factlog.Broker, svc *Services, logger *zap.Logger) []taskbus.Runner {
	opts := factlog.ConsumerOptions{
		Attempts: cfg.Worker.ConsumerAttempts,
		Backoff:  cfg.Worker.ConsumerBackoff,
	}
	return []taskbus.Runner{
		factlog.NewConsumer(broker, GroupSaga, domain.TopicFraudVerdicts, SagaRouter(svc.Orchestrator), opts, logger),
		factlog.NewConsumer(broker, GroupAudit, domain.TopicTransferOutcomes, AuditRouter(svc.Audit), opts, logger),
		factlog.NewConsumer(broker, GroupDispatch, domain.TopicTransferOutcomes, DispatchRouter(svc.Dispatch), opts, logger),
	}
}

// SagaRouter sends fraud verdicts to the orchestrator
func SagaRouter(o *saga.Orchestrator) *factlog.Router {
	r := factlog.NewRouter()
	factlog.On(r, domain.FactFraudApproved, o.OnApproved)
	factlog.On(r, domain.FactFraudRejected, o.OnRejected)
	factlog.On(r, domain.FactFraudUnderReview, o.OnUnderReview)
	return r
}

// AuditRouter records every terminal outcome
func AuditRouter(rec *audit.Recorder) *factlog.Router {
	return factlog.NewRouter().
		Handle(domain.FactTransferCompleted, rec.Handle).
		Handle(domain.FactTransferFailed, rec.Handle)
}

// DispatchRouter turns outcomes into notification and receipt tasks
func DispatchRouter(d *dispatch.DispatchService) *factlog.Router {
	r := factlog.NewRouter()
	factlog.On(r, domain.FactTransferCompleted, d.OnCompleted)
	factlog.On(r, domain.FactTransferFailed, d.OnFailed)
	return r
}

// TaskWorkers returns one worker per Task Bus queue
func TaskWorkers(cfg *config.Config, consumer taskbus.Consumer, svc *Services, logger *zap.Logger) []taskbus.Runner {
	n := cfg.Worker.MaxAttempts
	return []taskbus.Runner{
		withAttempts(taskbus.NewWorker[domain.Notification](consumer, domain.QueueEmailNotifications, svc.Notifications.Send, logger), n),
		withAttempts(taskbus.NewWorker[domain.Notification](consumer, domain.QueueSMSNotifications, svc.Notifications.Send, logger), n),
		withAttempts(taskbus.NewWorker[domain.Notification](consumer, domain.QueuePushNotifications, svc.Notifications.Send, logger), n),
		withAttempts(taskbus.NewWorker[domain.GenerateReceipt](consumer, domain.QueueGenerateReceipt, svc.Receipts.Generate, logger), n),
		withAttempts(taskbus.NewWorker[domain.UploadReceipt](consumer, domain.QueueUploadReceipt, svc.Receipts.Upload, logger), n),
		withAttempts(taskbus.NewWorker[domain.ReconcileTransfer](consumer, domain.QueueReconciliation, svc.Reconciliation.Reconcile, logger), n),
	}
}

func withAttempts[T domain.Task](w *taskbus.Worker[T], n int) *taskbus.Worker[T] {
	if n > 0 {
		w.MaxAttempts = n
	}
	return w
}

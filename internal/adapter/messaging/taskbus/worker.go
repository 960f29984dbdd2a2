package taskbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// DefaultMaxAttempts is the retry ceiling before a message is dead-lettered
const DefaultMaxAttempts = 3

// maxRestartBackoff caps the delay between restarts of a runner
const maxRestartBackoff = 30 * time.Second

// ErrDeliveriesClosed means the broker stopped delivering while the worker was still wanted
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// HandlerFunc processes one decoded task
type HandlerFunc[T domain.Task] func(ctx context.Context, task T) error

// Consumer is the receiving side of a Broker
type Consumer interface {
	Consume(ctx context.Context, queue string) (<-chan *Delivery, error)
}

// Worker consumes one queue sequentially: decode, handle, acknowledge.
// Failures are requeued until MaxAttempts deliveries, then dead-lettered.
type Worker[T domain.Task] struct {
	Queue       string
	MaxAttempts int

	consumer Consumer
	handle   HandlerFunc[T]
	logger   *zap.Logger
}

// NewWorker creates a worker for queue
func NewWorker[T domain.Task](consumer Consumer, queue string, handle HandlerFunc[T], logger *zap.Logger) *Worker[T] {
	return &Worker[T]{
		Queue:       queue,
		MaxAttempts: DefaultMaxAttempts,
		consumer:    consumer,
		handle:      handle,
		logger:      logger.With(zap.String("queue", queue)),
	}
}

// Run consumes until ctx is cancelled. A handler already running when ctx ends
// completes with a detached context before Run returns.
func (w *Worker[T]) Run(ctx context.Context) error {
	deliveries, err := w.consumer.Consume(ctx, w.Queue)
	if err != nil {
		return fmt.Errorf("failed to start worker on %s: %w", w.Queue, err)
	}

	w.logger.Info("worker started")
	for d := range deliveries {
		w.process(context.WithoutCancel(ctx), d)
	}
	if ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrDeliveriesClosed, w.Queue)
	}
	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker[T]) process(ctx context.Context, d *Delivery) {
	log := w.logger.With(
		zap.String("message_id", d.ID),
		zap.String("type", string(d.Type)),
		zap.Int("attempt", d.Attempt),
	)

	err := w.dispatch(ctx, d)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			log.Error("failed to ack message", zap.Error(ackErr))
		}
		return
	}

	if d.Attempt < w.MaxAttempts {
		log.Warn("task failed, requeueing", zap.Error(err))
		if nackErr := d.Nack(true); nackErr != nil {
			log.Error("failed to requeue message", zap.Error(nackErr))
		}
		return
	}

	log.Error("task failed permanently, dead-lettering", zap.Error(err))
	if nackErr := d.Nack(false); nackErr != nil {
		log.Error("failed to dead-letter message", zap.Error(nackErr))
	}
}

func (w *Worker[T]) dispatch(ctx context.Context, d *Delivery) error {
	var task T
	if want := task.TaskType(); d.Type != "" && d.Type != want {
		return fmt.Errorf("unexpected task type %q, want %q", d.Type, want)
	}
	if err := json.Unmarshal(d.Body, &task); err != nil {
		return fmt.Errorf("failed to decode %s task: %w", d.Type, err)
	}
	return w.handle(ctx, task)
}

// Runner is anything with a blocking Run loop
type Runner interface {
	Run(ctx context.Context) error
}

// RunAll runs every worker concurrently and waits for all of them to drain.
// A runner that returns before ctx is cancelled is started again after backoff,
// doubling up to 30s and resetting once a run outlives the cap.
func RunAll(ctx context.Context, logger *zap.Logger, backoff time.Duration, workers ...Runner) {
	if backoff <= 0 {
		backoff = time.Second
	}
	var wg sync.WaitGroup
	for _, worker := range workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			supervise(ctx, logger, backoff, r)
		}(worker)
	}
	wg.Wait()
}

func supervise(ctx context.Context, logger *zap.Logger, backoff time.Duration, r Runner) {
	delay := backoff
	for {
		started := time.Now()
		err := r.Run(ctx)
		if ctx.Err() != nil {
			if err != nil {
				logger.Error("worker exited with error", zap.Error(err))
			}
			return
		}

		if time.Since(started) >= maxRestartBackoff {
			delay = backoff
		}
		logger.Error("worker exited unexpectedly, restarting",
			zap.String("runner", fmt.Sprintf("%T", r)),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRestartBackoff)
	}
}

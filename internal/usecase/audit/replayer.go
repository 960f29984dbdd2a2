package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// FactSource reads a whole topic from its first retained fact
type FactSource interface {
	Replay(ctx context.Context, topic string, fn func(context.Context, domain.Fact) error) error
}

// ReplayStats summarizes one replay run
type ReplayStats struct {
	Seen     int
	Recorded int
}

// Replayer rebuilds the audit trail from the retained outcome facts.
// Entries already present are skipped, so a replay can run at any time.
type Replayer struct {
	Source   FactSource
	Recorder *Recorder

	logger *zap.Logger
}

// NewReplayer creates a new Replayer instance
func NewReplayer(source FactSource, recorder *Recorder, logger *zap.Logger) *Replayer {
	return &Replayer{
		Source:   source,
		Recorder: recorder,
		logger:   logger,
	}
}

// Replay records every fact of the outcome topic
func (r *Replayer) Replay(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats

	err := r.Source.Replay(ctx, domain.TopicTransferOutcomes, func(ctx context.Context, fact domain.Fact) error {
		stats.Seen++
		inserted, err := r.Recorder.Record(ctx, fact)
		if err != nil {
			return err
		}
		if inserted {
			stats.Recorded++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("audit replay stopped after %d facts: %w", stats.Seen, err)
	}

	r.logger.Info("audit replay finished",
		zap.String("topic", domain.TopicTransferOutcomes),
		zap.Int("seen", stats.Seen),
		zap.Int("recorded", stats.Recorded),
	)
	return stats, nil
}

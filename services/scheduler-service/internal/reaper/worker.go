package reaper

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nabil-hasan/tutorlane/libs/db"
	"github.com/nabil-hasan/tutorlane/libs/outbox"
)

// Worker sweeps lapsed pending_payment holds on a fixed interval. Each batch
// is one transaction: lock, cancel, emit booking.hold.expired.v1 per lesson.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	outbox    *outbox.Repository
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("hold reaper batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := w.now().UTC()
	holds, err := w.repo.FetchExpired(ctx, tx, now, w.batchSize)
	if err != nil {
		return err
	}
	if len(holds) == 0 {
		return tx.Commit(ctx)
	}

	ids := make([]string, 0, len(holds))
	for _, h := range holds {
		ids = append(ids, h.LessonID)
	}
	if err := w.repo.Release(ctx, tx, ids); err != nil {
		return err
	}

	for _, h := range holds {
		payload, err := json.Marshal(map[string]any{
			"lesson_id":       h.LessonID,
			"tutor_id":        h.TutorID,
			"student_id":      h.StudentID,
			"start_time":      h.StartTime.UTC().Format(time.RFC3339),
			"hold_expires_at": h.HoldExpiresAt.UTC().Format(time.RFC3339),
			"reaped_at":       now.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := w.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "lesson",
			AggregateID:   h.LessonID,
			EventType:     "booking.hold.expired.v1",
			Payload:       payload,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	w.logger.Info("expired holds released", "count", len(holds))
	return nil
}

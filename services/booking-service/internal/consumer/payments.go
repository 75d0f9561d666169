package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nabil-hasan/tutorlane/libs/outbox"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/cache"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/storage"
)

// PaymentEvents applies payment outcomes to held lessons: a paid checkout
// confirms the hold, an expired one releases it. Both paths invalidate the
// cached day so calendars converge without waiting for the TTL.
type PaymentEvents struct {
	repo       *storage.LessonRepository
	outboxRepo *outbox.Repository
	cache      *cache.SlotCache
	logger     *slog.Logger
}

func NewPaymentEvents(repo *storage.LessonRepository, outboxRepo *outbox.Repository, slotCache *cache.SlotCache, logger *slog.Logger) *PaymentEvents {
	return &PaymentEvents{
		repo:       repo,
		outboxRepo: outboxRepo,
		cache:      slotCache,
		logger:     logger,
	}
}

type paymentEventPayload struct {
	LessonID string `json:"lesson_id"`
}

// HandlePaid consumes payments.lesson.paid.v1.
func (p *PaymentEvents) HandlePaid(ctx context.Context, msg kafka.Message) error {
	var payload paymentEventPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("decode paid event: %w", err)
	}
	if payload.LessonID == "" {
		p.logger.Warn("paid event without lesson_id ignored")
		return nil
	}

	tx, err := p.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	confirmed, err := p.repo.ConfirmPaid(ctx, tx, payload.LessonID)
	if err != nil {
		return fmt.Errorf("confirm paid lesson %s: %w", payload.LessonID, err)
	}
	if !confirmed {
		// Hold already expired or cancelled; the payment side reconciles this
		// through its own refund path, nothing to do here.
		p.logger.Warn("paid event for non-held lesson", "lesson_id", payload.LessonID)
		return tx.Commit(ctx)
	}

	lesson, err := p.repo.GetForUpdate(ctx, tx, payload.LessonID)
	if err != nil {
		return err
	}
	evtPayload, err := json.Marshal(map[string]any{
		"lesson_id":  lesson.ID,
		"tutor_id":   lesson.TutorID,
		"student_id": lesson.StudentID,
		"start_time": lesson.StartTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := p.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "lesson",
		AggregateID:   lesson.ID,
		EventType:     "booking.lesson.scheduled.v1",
		Payload:       evtPayload,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.cache.Invalidate(ctx, lesson.TutorID, lesson.StartTime.UTC())
	p.logger.Info("lesson confirmed", "lesson_id", lesson.ID)
	return nil
}

// HandleHoldExpired consumes booking.hold.expired.v1 from the reaper. The
// reaper already cancelled the hold in the shared store; only the cached day
// needs refreshing here.
func (p *PaymentEvents) HandleHoldExpired(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		LessonID  string    `json:"lesson_id"`
		TutorID   string    `json:"tutor_id"`
		StartTime time.Time `json:"start_time"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("decode hold expired event: %w", err)
	}
	if payload.TutorID == "" || payload.StartTime.IsZero() {
		p.logger.Warn("hold expired event missing fields ignored", "lesson_id", payload.LessonID)
		return nil
	}
	p.cache.Invalidate(ctx, payload.TutorID, payload.StartTime.UTC())
	return nil
}

// HandleCheckoutExpired consumes payments.checkout.expired.v1.
func (p *PaymentEvents) HandleCheckoutExpired(ctx context.Context, msg kafka.Message) error {
	var payload paymentEventPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("decode expired event: %w", err)
	}
	if payload.LessonID == "" {
		p.logger.Warn("expired event without lesson_id ignored")
		return nil
	}

	tx, err := p.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lesson, err := p.repo.GetForUpdate(ctx, tx, payload.LessonID)
	if err != nil {
		if storage.IsNotFound(err) {
			p.logger.Warn("expired event for unknown lesson", "lesson_id", payload.LessonID)
			return nil
		}
		return err
	}

	released, err := p.repo.ReleaseHold(ctx, tx, lesson.ID, "checkout expired")
	if err != nil {
		return fmt.Errorf("release hold %s: %w", lesson.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if released {
		p.cache.Invalidate(ctx, lesson.TutorID, lesson.StartTime.UTC())
		p.logger.Info("hold released", "lesson_id", lesson.ID)
	}
	return nil
}

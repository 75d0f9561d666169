package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nabil-hasan/tutorlane/libs/outbox"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/availability"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/cache"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/model"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/storage"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/timegrid"
)

type LessonHandler struct {
	repo       *storage.LessonRepository
	schedule   *storage.ScheduleRepository
	outboxRepo *outbox.Repository
	cache      *cache.SlotCache
	logger     *slog.Logger
	holdTTL    time.Duration
	now        func() time.Time
}

func NewLessonHandler(repo *storage.LessonRepository, schedule *storage.ScheduleRepository, outboxRepo *outbox.Repository, slotCache *cache.SlotCache, logger *slog.Logger, holdTTL time.Duration) *LessonHandler {
	if holdTTL <= 0 {
		holdTTL = 15 * time.Minute
	}
	return &LessonHandler{
		repo:       repo,
		schedule:   schedule,
		outboxRepo: outboxRepo,
		cache:      slotCache,
		logger:     logger,
		holdTTL:    holdTTL,
		now:        time.Now,
	}
}

type createLessonRequest struct {
	TutorID         string `json:"tutor_id"`
	StudentID       string `json:"student_id"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
}

type createLessonResponse struct {
	LessonID      string `json:"lesson_id"`
	Status        string `json:"status"`
	StartTime     string `json:"start_time"`
	HoldExpiresAt string `json:"hold_expires_at"`
}

type cancelLessonRequest struct {
	LessonID string `json:"lesson_id"`
	Reason   string `json:"reason"`
}

type cancelLessonResponse struct {
	LessonID    string `json:"lesson_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type rescheduleLessonRequest struct {
	LessonID string `json:"lesson_id"`
	Date     string `json:"date"`
	Start    string `json:"start"`
}

type rescheduleLessonResponse struct {
	LessonID          string `json:"lesson_id"`
	Status            string `json:"status"`
	StartTime         string `json:"start_time"`
	OriginalStartTime string `json:"original_start_time"`
}

type completeLessonRequest struct {
	LessonID string `json:"lesson_id"`
}

// Create serves POST /api/v1/public/lessons. The slot is re-validated against
// the tutor's resolved schedule inside the booking transaction, then the
// pending_payment hold is inserted; the exclusion constraint on active lessons
// closes the race two concurrent students would otherwise win together.
func (h *LessonHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TutorID = strings.TrimSpace(req.TutorID)
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.TutorID == "" || req.StudentID == "" || req.Date == "" || req.Start == "" {
		http.Error(w, "tutor_id, student_id, date, and start are required", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = defaultLessonMinutes
	}
	if req.DurationMinutes <= 0 || req.DurationMinutes > maxLessonMinutes || req.DurationMinutes%timegrid.SlotMinutes != 0 {
		http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
		return
	}
	if req.PriceCents < 0 {
		http.Error(w, "invalid price_cents", http.StatusBadRequest)
		return
	}

	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	// A start that does not parse is an unavailable slot, never midnight.
	startMinute, err := timegrid.ParseClock(req.Start)
	if err != nil {
		http.Error(w, "requested slot is not available", http.StatusUnprocessableEntity)
		return
	}
	if startMinute%timegrid.SlotMinutes != 0 {
		http.Error(w, "requested slot is not available", http.StatusUnprocessableEntity)
		return
	}
	startTime := date.Add(time.Duration(startMinute) * time.Minute)

	now := h.now().UTC()
	if !startTime.After(now) {
		http.Error(w, "requested slot is in the past", http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, req.StudentID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 && len(rec.ResponsePayload) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	ok, err := h.validateSlotOpen(ctx, tx, req.TutorID, date, startMinute, req.DurationMinutes, now)
	if err != nil {
		http.Error(w, "failed to resolve availability", http.StatusInternalServerError)
		return
	}
	if !ok {
		if idempotencyKey != "" && h.finalizeIdempotencyError(ctx, tx, req.StudentID, idempotencyKey, http.StatusUnprocessableEntity, "requested slot is not available") {
			_ = tx.Commit(ctx)
		}
		http.Error(w, "requested slot is not available", http.StatusUnprocessableEntity)
		return
	}

	holdExpires := now.Add(h.holdTTL)
	lesson := &model.Lesson{
		TutorID:         req.TutorID,
		StudentID:       req.StudentID,
		StartTime:       startTime,
		DurationMinutes: req.DurationMinutes,
		Status:          model.StatusPendingPayment,
		PriceCents:      req.PriceCents,
		HoldExpiresAt:   &holdExpires,
	}
	id, err := h.repo.Create(ctx, tx, lesson)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create lesson", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"lesson_id":        id,
		"tutor_id":         req.TutorID,
		"student_id":       req.StudentID,
		"start_time":       startTime.Format(time.RFC3339),
		"duration_minutes": req.DurationMinutes,
		"price_cents":      req.PriceCents,
		"hold_expires_at":  holdExpires.Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "lesson",
		AggregateID:   id,
		EventType:     "booking.lesson.held.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createLessonResponse{
		LessonID:      id,
		Status:        model.StatusPendingPayment,
		StartTime:     startTime.Format(time.RFC3339),
		HoldExpiresAt: holdExpires.Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, req.StudentID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.cache.Invalidate(ctx, req.TutorID, date)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// validateSlotOpen re-resolves the day inside the booking transaction and
// checks the requested start against the full reconciler rule set.
func (h *LessonHandler) validateSlotOpen(ctx context.Context, tx pgx.Tx, tutorID string, date time.Time, startMinute, durationMins int, now time.Time) (bool, error) {
	template, err := h.schedule.GetWeeklyTemplate(ctx, tutorID)
	if err != nil {
		return false, err
	}
	exceptions, err := h.schedule.ListExceptions(ctx, tutorID, date, date)
	if err != nil {
		return false, err
	}
	day := availability.ResolveDay(template, exceptions, date, now)

	active, err := h.repo.ListActiveInRangeTx(ctx, tx, tutorID, date, date.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	busy := make([]availability.Interval, 0, len(active))
	for _, l := range active {
		busy = append(busy, availability.Interval{Start: l.StartTime, End: l.EndTime()})
	}
	if availability.IsStartBooked(busy, day.Date.Add(time.Duration(startMinute)*time.Minute), durationMins) {
		return false, nil
	}
	for _, m := range day.BookableStarts(busy, durationMins) {
		if m == startMinute {
			return true, nil
		}
	}
	return false, nil
}

func (h *LessonHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.LessonID = strings.TrimSpace(req.LessonID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.LessonID == "" {
		http.Error(w, "lesson_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lesson, err := h.repo.GetForUpdate(ctx, tx, req.LessonID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "lesson not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load lesson", http.StatusInternalServerError)
		return
	}

	if lesson.Status == model.StatusCancelled && lesson.CancelledAt != nil {
		h.writeCancelResponse(w, lesson.ID, lesson.CancelledAt.UTC())
		return
	}
	if !lesson.IsActive() {
		http.Error(w, "lesson cannot be cancelled", http.StatusConflict)
		return
	}
	// Holds awaiting payment may always be abandoned; the 24-hour window
	// applies to confirmed lessons only.
	if lesson.Status != model.StatusPendingPayment && withinCancellationWindow(lesson.StartTime, h.now().UTC()) {
		http.Error(w, "lessons cannot be cancelled less than 24 hours before start", http.StatusUnprocessableEntity)
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, lesson.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel lesson", http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"lesson_id":    lesson.ID,
		"tutor_id":     lesson.TutorID,
		"student_id":   lesson.StudentID,
		"start_time":   lesson.StartTime.UTC().Format(time.RFC3339),
		"cancelled_at": cancelledAt.UTC().Format(time.RFC3339),
		"reason":       req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "lesson",
		AggregateID:   lesson.ID,
		EventType:     "booking.lesson.cancelled.v1",
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.cache.Invalidate(ctx, lesson.TutorID, lesson.StartTime.UTC())
	h.writeCancelResponse(w, lesson.ID, cancelledAt.UTC())
}

func (h *LessonHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.LessonID = strings.TrimSpace(req.LessonID)
	if req.LessonID == "" || req.Date == "" || req.Start == "" {
		http.Error(w, "lesson_id, date, and start are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	startMinute, err := timegrid.ParseClock(req.Start)
	if err != nil || startMinute%timegrid.SlotMinutes != 0 {
		http.Error(w, "requested slot is not available", http.StatusUnprocessableEntity)
		return
	}
	newStart := date.Add(time.Duration(startMinute) * time.Minute)

	now := h.now().UTC()
	if !newStart.After(now) {
		http.Error(w, "requested slot is in the past", http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lesson, err := h.repo.GetForUpdate(ctx, tx, req.LessonID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "lesson not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load lesson", http.StatusInternalServerError)
		return
	}
	if lesson.Status != model.StatusScheduled && lesson.Status != model.StatusRescheduled {
		http.Error(w, "lesson cannot be rescheduled", http.StatusConflict)
		return
	}
	if withinCancellationWindow(lesson.StartTime, now) {
		http.Error(w, "lessons cannot be rescheduled less than 24 hours before start", http.StatusUnprocessableEntity)
		return
	}

	ok, err := h.validateReschedule(ctx, tx, lesson, date, startMinute, now)
	if err != nil {
		http.Error(w, "failed to resolve availability", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "requested slot is not available", http.StatusUnprocessableEntity)
		return
	}

	if err := h.repo.Reschedule(ctx, tx, lesson.ID, newStart); err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to reschedule lesson", http.StatusInternalServerError)
		return
	}

	originalStart := lesson.StartTime
	if lesson.OriginalStartTime != nil {
		originalStart = *lesson.OriginalStartTime
	}
	payload, err := json.Marshal(map[string]any{
		"lesson_id":           lesson.ID,
		"tutor_id":            lesson.TutorID,
		"student_id":          lesson.StudentID,
		"start_time":          newStart.Format(time.RFC3339),
		"previous_start_time": lesson.StartTime.UTC().Format(time.RFC3339),
		"original_start_time": originalStart.UTC().Format(time.RFC3339),
		"duration_minutes":    lesson.DurationMinutes,
	})
	if err != nil {
		http.Error(w, "failed to build reschedule event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "lesson",
		AggregateID:   lesson.ID,
		EventType:     "booking.lesson.rescheduled.v1",
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.cache.Invalidate(ctx, lesson.TutorID, lesson.StartTime.UTC(), date)

	body, err := json.Marshal(rescheduleLessonResponse{
		LessonID:          lesson.ID,
		Status:            model.StatusRescheduled,
		StartTime:         newStart.Format(time.RFC3339),
		OriginalStartTime: originalStart.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// validateReschedule checks the target slot the same way Create does, but
// ignores the lesson being moved when testing for collisions.
func (h *LessonHandler) validateReschedule(ctx context.Context, tx pgx.Tx, lesson model.Lesson, date time.Time, startMinute int, now time.Time) (bool, error) {
	template, err := h.schedule.GetWeeklyTemplate(ctx, lesson.TutorID)
	if err != nil {
		return false, err
	}
	exceptions, err := h.schedule.ListExceptions(ctx, lesson.TutorID, date, date)
	if err != nil {
		return false, err
	}
	day := availability.ResolveDay(template, exceptions, date, now)

	active, err := h.repo.ListActiveInRangeTx(ctx, tx, lesson.TutorID, date, date.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	occupied := make([]availability.BusyLesson, 0, len(active))
	busy := make([]availability.Interval, 0, len(active))
	for _, l := range active {
		occupied = append(occupied, availability.BusyLesson{LessonID: l.ID, Start: l.StartTime, End: l.EndTime()})
		if l.ID != lesson.ID {
			busy = append(busy, availability.Interval{Start: l.StartTime, End: l.EndTime()})
		}
	}

	newStart := day.Date.Add(time.Duration(startMinute) * time.Minute)
	if !availability.FitsExistingSchedule(occupied, newStart, lesson.DurationMinutes, lesson.ID) {
		return false, nil
	}
	for _, m := range day.BookableStarts(busy, lesson.DurationMinutes) {
		if m == startMinute {
			return true, nil
		}
	}
	return false, nil
}

func (h *LessonHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completeLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.LessonID = strings.TrimSpace(req.LessonID)
	if req.LessonID == "" {
		http.Error(w, "lesson_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lesson, err := h.repo.GetForUpdate(ctx, tx, req.LessonID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "lesson not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load lesson", http.StatusInternalServerError)
		return
	}
	if lesson.Status == model.StatusCompleted {
		h.writeStatusResponse(w, lesson.ID, model.StatusCompleted)
		return
	}
	if lesson.Status != model.StatusScheduled && lesson.Status != model.StatusRescheduled {
		http.Error(w, "lesson cannot be completed", http.StatusConflict)
		return
	}
	if h.now().UTC().Before(lesson.StartTime) {
		http.Error(w, "lesson has not started yet", http.StatusConflict)
		return
	}

	if err := h.repo.Complete(ctx, tx, lesson.ID); err != nil {
		http.Error(w, "failed to complete lesson", http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"lesson_id":  lesson.ID,
		"tutor_id":   lesson.TutorID,
		"student_id": lesson.StudentID,
		"start_time": lesson.StartTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build completion event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "lesson",
		AggregateID:   lesson.ID,
		EventType:     "booking.lesson.completed.v1",
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeStatusResponse(w, lesson.ID, model.StatusCompleted)
}

func (h *LessonHandler) writeCancelResponse(w http.ResponseWriter, lessonID string, cancelledAt time.Time) {
	body, err := json.Marshal(cancelLessonResponse{
		LessonID:    lessonID,
		Status:      model.StatusCancelled,
		CancelledAt: cancelledAt.Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *LessonHandler) writeStatusResponse(w http.ResponseWriter, lessonID, status string) {
	body, err := json.Marshal(map[string]string{"lesson_id": lessonID, "status": status})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *LessonHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, studentID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, studentID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}

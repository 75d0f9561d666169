package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nabil-hasan/tutorlane/libs/db"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/model"
)

const lessonColumns = `
	id::text, tutor_id::text, student_id::text, start_time, duration_minutes,
	status, price_cents, original_start_time, hold_expires_at, cancelled_at,
	COALESCE(cancel_reason, ''), created_at`

type LessonRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	StudentID       string
	IdempotencyKey  string
	LessonID        string
	StatusCode      int
	ResponsePayload []byte
}

func NewLessonRepository(pool *db.Pool) *LessonRepository {
	return &LessonRepository{pool: pool}
}

func (r *LessonRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts the lesson. The lessons table carries an exclusion
// constraint over (tutor_id, time range) for active statuses, so two
// concurrent inserts for colliding slots cannot both commit; the loser
// surfaces through IsConflict.
func (r *LessonRepository) Create(ctx context.Context, tx pgx.Tx, lesson *model.Lesson) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO lessons
			(tutor_id, student_id, start_time, duration_minutes, status, price_cents, hold_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, lesson.TutorID, lesson.StudentID, lesson.StartTime, lesson.DurationMinutes,
		lesson.Status, lesson.PriceCents, lesson.HoldExpiresAt).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *LessonRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, lessonID string) (model.Lesson, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE id = $1
		FOR UPDATE
	`, lessonID)
	return scanLesson(row)
}

// ListActiveInRange returns the tutor's slot-occupying lessons intersecting
// [start, end). Duration always comes from the row, never a fixed default.
func (r *LessonRepository) ListActiveInRange(ctx context.Context, tutorID string, start, end time.Time) ([]model.Lesson, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE tutor_id = $1
			AND status = ANY($2)
			AND start_time < $4
			AND start_time + make_interval(mins => duration_minutes) > $3
		ORDER BY start_time ASC
	`, tutorID, model.ActiveStatuses, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLessons(rows)
}

// ListActiveInRangeTx is ListActiveInRange inside the booking transaction, so
// the pre-commit conflict check sees the same snapshot the insert will.
func (r *LessonRepository) ListActiveInRangeTx(ctx context.Context, tx pgx.Tx, tutorID string, start, end time.Time) ([]model.Lesson, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE tutor_id = $1
			AND status = ANY($2)
			AND start_time < $4
			AND start_time + make_interval(mins => duration_minutes) > $3
		ORDER BY start_time ASC
	`, tutorID, model.ActiveStatuses, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLessons(rows)
}

func (r *LessonRepository) ListByTutor(ctx context.Context, tutorID string, limit int) ([]model.Lesson, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE tutor_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, tutorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLessons(rows)
}

func (r *LessonRepository) Cancel(ctx context.Context, tx pgx.Tx, lessonID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE lessons
		SET status = 'cancelled',
			cancelled_at = now(),
			cancel_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, lessonID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// Reschedule moves the lesson to newStart, keeping the first start time as
// the audit trail. The exclusion constraint re-checks the new range on
// update, so a move onto an occupied slot fails with IsConflict.
func (r *LessonRepository) Reschedule(ctx context.Context, tx pgx.Tx, lessonID string, newStart time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE lessons
		SET original_start_time = COALESCE(original_start_time, start_time),
			start_time = $2,
			status = 'rescheduled'
		WHERE id = $1
	`, lessonID, newStart)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *LessonRepository) Complete(ctx context.Context, tx pgx.Tx, lessonID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE lessons
		SET status = 'completed'
		WHERE id = $1
	`, lessonID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ConfirmPaid flips a pending_payment hold to scheduled. Returns false when
// the hold no longer exists in that state (already expired or cancelled).
func (r *LessonRepository) ConfirmPaid(ctx context.Context, tx pgx.Tx, lessonID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE lessons
		SET status = 'scheduled',
			hold_expires_at = NULL
		WHERE id = $1 AND status = 'pending_payment'
	`, lessonID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseHold cancels a pending_payment hold, freeing its slot.
func (r *LessonRepository) ReleaseHold(ctx context.Context, tx pgx.Tx, lessonID, reason string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE lessons
		SET status = 'cancelled',
			cancelled_at = now(),
			cancel_reason = $2
		WHERE id = $1 AND status = 'pending_payment'
	`, lessonID, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *LessonRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, studentID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, studentID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO lesson_idempotency_keys (student_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (student_id, idempotency_key) DO NOTHING
	`, studentID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, studentID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *LessonRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, studentID, key, lessonID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE lesson_idempotency_keys
		SET lesson_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE student_id = $1 AND idempotency_key = $2
	`, studentID, key, lessonID, statusCode, response)
	return err
}

func (r *LessonRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, studentID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT student_id::text,
			idempotency_key,
			COALESCE(lesson_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM lesson_idempotency_keys
		WHERE student_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, studentID, key).Scan(
		&rec.StudentID,
		&rec.IdempotencyKey,
		&rec.LessonID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

// IsConflict reports the exclusion-constraint violation raised when two
// active lessons would occupy overlapping tutor time.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLesson(row rowScanner) (model.Lesson, error) {
	var l model.Lesson
	err := row.Scan(
		&l.ID,
		&l.TutorID,
		&l.StudentID,
		&l.StartTime,
		&l.DurationMinutes,
		&l.Status,
		&l.PriceCents,
		&l.OriginalStartTime,
		&l.HoldExpiresAt,
		&l.CancelledAt,
		&l.CancelReason,
		&l.CreatedAt,
	)
	if err != nil {
		return model.Lesson{}, err
	}
	return l, nil
}

func collectLessons(rows pgx.Rows) ([]model.Lesson, error) {
	var lessons []model.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return lessons, nil
}

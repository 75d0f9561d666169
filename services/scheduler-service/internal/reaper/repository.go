package reaper

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// ExpiredHold is a pending_payment lesson whose hold window has lapsed.
type ExpiredHold struct {
	LessonID      string
	TutorID       string
	StudentID     string
	StartTime     time.Time
	HoldExpiresAt time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// FetchExpired locks a batch of lapsed holds. SKIP LOCKED lets several reaper
// replicas drain the backlog without stepping on each other.
func (r *Repository) FetchExpired(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]ExpiredHold, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, tutor_id::text, student_id::text, start_time, hold_expires_at
		FROM lessons
		WHERE status = 'pending_payment'
			AND hold_expires_at IS NOT NULL
			AND hold_expires_at <= $1
		ORDER BY hold_expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []ExpiredHold
	for rows.Next() {
		var h ExpiredHold
		if err := rows.Scan(&h.LessonID, &h.TutorID, &h.StudentID, &h.StartTime, &h.HoldExpiresAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return holds, nil
}

// Release cancels the locked holds, freeing their slots for rebooking.
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, lessonIDs []string) error {
	if len(lessonIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE lessons
		SET status = 'cancelled',
			cancelled_at = now(),
			cancel_reason = 'hold expired'
		WHERE id = ANY($1) AND status = 'pending_payment'
	`, lessonIDs)
	return err
}

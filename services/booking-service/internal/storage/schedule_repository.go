package storage

import (
	"context"
	"time"

	"github.com/nabil-hasan/tutorlane/libs/db"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/availability"
)

type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) GetWeeklyTemplate(ctx context.Context, tutorID string) (availability.WeeklyTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day_of_week, start_minute, end_minute
		FROM tutor_weekly_template
		WHERE tutor_id = $1
		ORDER BY day_of_week, start_minute
	`, tutorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	template := availability.WeeklyTemplate{}
	for rows.Next() {
		var dow, start, end int
		if err := rows.Scan(&dow, &start, &end); err != nil {
			return nil, err
		}
		wd := time.Weekday(dow)
		template[wd] = append(template[wd], availability.TimeRange{StartMinute: start, EndMinute: end})
	}
	return template, rows.Err()
}

// SaveWeeklyTemplate replaces the tutor's template wholesale. The calendar UI
// always submits the full week, so delete-and-insert beats row diffing here.
func (r *ScheduleRepository) SaveWeeklyTemplate(ctx context.Context, tutorID string, template availability.WeeklyTemplate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tutor_weekly_template WHERE tutor_id = $1`, tutorID); err != nil {
		return err
	}
	for wd, ranges := range template {
		for _, tr := range ranges {
			_, err := tx.Exec(ctx, `
				INSERT INTO tutor_weekly_template (tutor_id, day_of_week, start_minute, end_minute)
				VALUES ($1, $2, $3, $4)
			`, tutorID, int(wd), tr.StartMinute, tr.EndMinute)
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (r *ScheduleRepository) ListExceptions(ctx context.Context, tutorID string, from, to time.Time) ([]availability.Exception, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date, start_minute, kind
		FROM schedule_exceptions
		WHERE tutor_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, start_minute
	`, tutorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []availability.Exception
	for rows.Next() {
		var e availability.Exception
		if err := rows.Scan(&e.Date, &e.StartMinute, &e.Kind); err != nil {
			return nil, err
		}
		e.Date = e.Date.UTC()
		exceptions = append(exceptions, e)
	}
	return exceptions, rows.Err()
}

// ApplyExceptionDiff writes a computed schedule diff in one transaction. The
// unique (tutor_id, date, start_minute) key lets an Add flip the kind of an
// existing row via upsert instead of a delete-then-insert pair.
func (r *ScheduleRepository) ApplyExceptionDiff(ctx context.Context, tutorID string, diff availability.Diff) error {
	if diff.Empty() {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range diff.ToRemove {
		_, err := tx.Exec(ctx, `
			DELETE FROM schedule_exceptions
			WHERE tutor_id = $1 AND date = $2 AND start_minute = $3
		`, tutorID, e.Date, e.StartMinute)
		if err != nil {
			return err
		}
	}
	for _, e := range diff.ToAdd {
		_, err := tx.Exec(ctx, `
			INSERT INTO schedule_exceptions (tutor_id, date, start_minute, kind)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tutor_id, date, start_minute)
			DO UPDATE SET kind = EXCLUDED.kind, updated_at = now()
		`, tutorID, e.Date, e.StartMinute, e.Kind)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

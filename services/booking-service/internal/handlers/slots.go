package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/availability"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/cache"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/storage"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/timegrid"
)

const (
	defaultLessonMinutes = 60
	maxLessonMinutes     = 8 * 60
)

type SlotsHandler struct {
	schedule *storage.ScheduleRepository
	lessons  *storage.LessonRepository
	cache    *cache.SlotCache
	logger   *slog.Logger
	now      func() time.Time
}

func NewSlotsHandler(schedule *storage.ScheduleRepository, lessons *storage.LessonRepository, slotCache *cache.SlotCache, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{
		schedule: schedule,
		lessons:  lessons,
		cache:    slotCache,
		logger:   logger,
		now:      time.Now,
	}
}

type bookableStartItem struct {
	StartMinute int    `json:"start_minute"`
	Clock       string `json:"clock"`
	StartTime   string `json:"start_time"`
}

type slotsResponse struct {
	TutorID         string                      `json:"tutor_id"`
	Date            string                      `json:"date"`
	DurationMinutes int                         `json:"duration_minutes"`
	BookableStarts  []bookableStartItem         `json:"bookable_starts"`
	Slots           []availability.ResolvedSlot `json:"slots"`
}

// Get serves GET /api/v1/public/slots?tutor_id&date[&duration_minutes]. The
// day grid comes from the short-TTL cache when present; otherwise it is
// resolved fresh and written back.
func (h *SlotsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tutorID := strings.TrimSpace(r.URL.Query().Get("tutor_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if tutorID == "" || dateStr == "" {
		http.Error(w, "tutor_id and date are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	durationMins := defaultLessonMinutes
	if raw := strings.TrimSpace(r.URL.Query().Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLessonMinutes || n%timegrid.SlotMinutes != 0 {
			http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
			return
		}
		durationMins = n
	}

	ctx := r.Context()
	grid, err := h.cache.Get(ctx, tutorID, date, durationMins)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			h.logger.Warn("slot cache read failed", "tutor_id", tutorID, "err", err)
		}
		grid, err = h.resolveDayGrid(ctx, tutorID, date, durationMins)
		if err != nil {
			http.Error(w, "failed to resolve slots", http.StatusInternalServerError)
			return
		}
		if err := h.cache.Set(ctx, grid); err != nil {
			h.logger.Warn("slot cache write failed", "tutor_id", tutorID, "err", err)
		}
	}

	resp := slotsResponse{
		TutorID:         grid.TutorID,
		Date:            grid.Date,
		DurationMinutes: grid.DurationMinutes,
		BookableStarts:  make([]bookableStartItem, 0, len(grid.BookableStarts)),
		Slots:           grid.Slots,
	}
	for _, m := range grid.BookableStarts {
		resp.BookableStarts = append(resp.BookableStarts, bookableStartItem{
			StartMinute: m,
			Clock:       timegrid.FormatClock(m),
			StartTime:   date.Add(time.Duration(m) * time.Minute).Format(time.RFC3339),
		})
	}

	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *SlotsHandler) resolveDayGrid(ctx context.Context, tutorID string, date time.Time, durationMins int) (cache.DayGrid, error) {
	template, err := h.schedule.GetWeeklyTemplate(ctx, tutorID)
	if err != nil {
		return cache.DayGrid{}, err
	}
	exceptions, err := h.schedule.ListExceptions(ctx, tutorID, date, date)
	if err != nil {
		return cache.DayGrid{}, err
	}

	now := h.now().UTC()
	day := availability.ResolveDay(template, exceptions, date, now)

	active, err := h.lessons.ListActiveInRange(ctx, tutorID, date, date.AddDate(0, 0, 1))
	if err != nil {
		return cache.DayGrid{}, err
	}
	busy := make([]availability.Interval, 0, len(active))
	for _, l := range active {
		busy = append(busy, availability.Interval{Start: l.StartTime, End: l.EndTime()})
	}

	return cache.DayGrid{
		TutorID:         tutorID,
		Date:            date.Format("2006-01-02"),
		DurationMinutes: durationMins,
		BookableStarts:  day.BookableStarts(busy, durationMins),
		Slots:           day.Grid(busy, now),
	}, nil
}

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/availability"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/cache"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/storage"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/timegrid"
)

type ScheduleHandler struct {
	schedule *storage.ScheduleRepository
	cache    *cache.SlotCache
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduleHandler(schedule *storage.ScheduleRepository, slotCache *cache.SlotCache, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		schedule: schedule,
		cache:    slotCache,
		logger:   logger,
		now:      time.Now,
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

type templateRangeItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type saveTemplateRequest struct {
	TutorID  string                         `json:"tutor_id"`
	Template map[string][]templateRangeItem `json:"template"`
}

type exceptionItem struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	Kind  string `json:"kind"`
}

type scheduleResponse struct {
	TutorID    string                         `json:"tutor_id"`
	Template   map[string][]templateRangeItem `json:"template"`
	Exceptions []exceptionItem                `json:"exceptions"`
}

type applyExceptionsRequest struct {
	TutorID   string   `json:"tutor_id"`
	Date      string   `json:"date"`
	OpenSlots []string `json:"open_slots"`
}

type applyExceptionsResponse struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Get serves GET /api/v1/schedule?tutor_id[&from&to]: the weekly template
// plus stored exceptions in the window (default the next four weeks).
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tutorID := strings.TrimSpace(r.URL.Query().Get("tutor_id"))
	if tutorID == "" {
		http.Error(w, "tutor_id required", http.StatusBadRequest)
		return
	}

	now := h.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 28)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
		to = parsed
	}

	ctx := r.Context()
	template, err := h.schedule.GetWeeklyTemplate(ctx, tutorID)
	if err != nil {
		http.Error(w, "failed to load template", http.StatusInternalServerError)
		return
	}
	exceptions, err := h.schedule.ListExceptions(ctx, tutorID, from, to)
	if err != nil {
		http.Error(w, "failed to load exceptions", http.StatusInternalServerError)
		return
	}

	resp := scheduleResponse{
		TutorID:    tutorID,
		Template:   map[string][]templateRangeItem{},
		Exceptions: make([]exceptionItem, 0, len(exceptions)),
	}
	for name, wd := range weekdayNames {
		ranges := template[wd]
		if len(ranges) == 0 {
			continue
		}
		items := make([]templateRangeItem, 0, len(ranges))
		for _, tr := range ranges {
			items = append(items, templateRangeItem{
				Start: timegrid.FormatClock(tr.StartMinute),
				End:   timegrid.FormatClock(tr.EndMinute),
			})
		}
		resp.Template[name] = items
	}
	for _, e := range exceptions {
		resp.Exceptions = append(resp.Exceptions, exceptionItem{
			Date:  e.Date.Format("2006-01-02"),
			Start: timegrid.FormatClock(e.StartMinute),
			Kind:  string(e.Kind),
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

// SaveTemplate serves PUT /api/v1/schedule/template: the full week replaces
// the stored one atomically, then every cached day for the tutor is dropped.
func (h *ScheduleHandler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req saveTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TutorID = strings.TrimSpace(req.TutorID)
	if req.TutorID == "" {
		http.Error(w, "tutor_id required", http.StatusBadRequest)
		return
	}

	template := availability.WeeklyTemplate{}
	for name, items := range req.Template {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			http.Error(w, "unknown weekday "+name, http.StatusBadRequest)
			return
		}
		for _, item := range items {
			start, err := timegrid.ParseClock(item.Start)
			if err != nil {
				http.Error(w, "invalid range start "+item.Start, http.StatusBadRequest)
				return
			}
			end, err := timegrid.ParseClock(item.End)
			if err != nil {
				http.Error(w, "invalid range end "+item.End, http.StatusBadRequest)
				return
			}
			if end <= start {
				http.Error(w, "range end must be after start", http.StatusBadRequest)
				return
			}
			template[wd] = append(template[wd], availability.TimeRange{StartMinute: start, EndMinute: end})
		}
	}

	if err := h.schedule.SaveWeeklyTemplate(r.Context(), req.TutorID, template); err != nil {
		http.Error(w, "failed to save template", http.StatusInternalServerError)
		return
	}
	h.cache.InvalidateAll(r.Context(), req.TutorID)

	w.WriteHeader(http.StatusNoContent)
}

// ApplyExceptions serves POST /api/v1/schedule/exceptions. The client sends
// the desired open grid for one date; the handler diffs it against template
// plus stored exceptions and persists only the delta (an unchanged grid
// writes nothing).
func (h *ScheduleHandler) ApplyExceptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req applyExceptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TutorID = strings.TrimSpace(req.TutorID)
	if req.TutorID == "" || req.Date == "" {
		http.Error(w, "tutor_id and date are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	desired := make(map[int]bool, len(req.OpenSlots))
	for _, clock := range req.OpenSlots {
		m, err := timegrid.ParseClock(clock)
		if err != nil {
			http.Error(w, "invalid slot "+clock, http.StatusBadRequest)
			return
		}
		desired[timegrid.SlotFloor(m)] = true
	}

	ctx := r.Context()
	template, err := h.schedule.GetWeeklyTemplate(ctx, req.TutorID)
	if err != nil {
		http.Error(w, "failed to load template", http.StatusInternalServerError)
		return
	}
	current, err := h.schedule.ListExceptions(ctx, req.TutorID, date, date)
	if err != nil {
		http.Error(w, "failed to load exceptions", http.StatusInternalServerError)
		return
	}

	diff := availability.DiffExceptions(template, current, desired, date)
	if err := h.schedule.ApplyExceptionDiff(ctx, req.TutorID, diff); err != nil {
		http.Error(w, "failed to apply exceptions", http.StatusInternalServerError)
		return
	}
	if !diff.Empty() {
		h.cache.Invalidate(ctx, req.TutorID, date)
	}

	body, err := json.Marshal(applyExceptionsResponse{
		Added:   len(diff.ToAdd),
		Removed: len(diff.ToRemove),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

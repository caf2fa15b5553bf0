package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"appointly/internal/export"
	"appointly/internal/metrics"
	"appointly/internal/model"
)

// WorkingHoursResponse describes one day of a staff member's template.
type WorkingHoursResponse struct {
	StaffID string `json:"staff_id"`
	Date    string `json:"date"`
	Kind    string `json:"kind"` // "interval", "off", "unset"
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

// BusyResponse lists occupied intervals of a day.
type BusyResponse struct {
	StaffID string           `json:"staff_id"`
	Date    string           `json:"date"`
	Busy    []model.Interval `json:"busy"`
}

// SlotsResponse lists bookable intervals of a day.
type SlotsResponse struct {
	StaffID         string           `json:"staff_id"`
	Date            string           `json:"date"`
	DurationMinutes int              `json:"duration_minutes"`
	Slots           []model.Interval `json:"slots"`
}

// handleWorkingHours returns the effective working hours.
// GET /api/staff/{id}/working-hours?date=YYYY-MM-DD
func (s *HTTPServer) handleWorkingHours(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("working_hours")

	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	staffID := r.PathValue("id")

	hours, err := s.availability.WorkingInterval(r.Context(), staffID, date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := WorkingHoursResponse{StaffID: staffID, Date: date.Format("2006-01-02"), Kind: string(hours.Kind)}
	if hours.Kind == model.WorkingInterval {
		resp.Start, resp.End = hours.Start.String(), hours.End.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBusy returns the busy intervals.
// GET /api/staff/{id}/busy?date=YYYY-MM-DD
func (s *HTTPServer) handleBusy(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("busy")

	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	staffID := r.PathValue("id")

	busy, err := s.availability.FreeBusyForDay(r.Context(), staffID, date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if busy == nil {
		busy = []model.Interval{}
	}
	writeJSON(w, http.StatusOK, BusyResponse{StaffID: staffID, Date: date.Format("2006-01-02"), Busy: busy})
}

// handleSlots returns free slots of the requested length.
// GET /api/staff/{id}/slots?date=YYYY-MM-DD&duration=60&step=15
func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("slots")

	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	staffID := r.PathValue("id")

	duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
	if err != nil || duration <= 0 {
		writeJSON(w, http.StatusBadRequest, rejection{Error: "duration must be a positive number of minutes", Field: "duration"})
		return
	}
	step := 0
	if v := r.URL.Query().Get("step"); v != "" {
		if step, err = strconv.Atoi(v); err != nil || step < 0 {
			writeJSON(w, http.StatusBadRequest, rejection{Error: "step must be a number of minutes", Field: "step"})
			return
		}
	}

	slots, err := s.availability.FreeSlots(r.Context(), staffID, date,
		time.Duration(duration)*time.Minute, time.Duration(step)*time.Minute)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if slots == nil {
		slots = []model.Interval{}
	}
	writeJSON(w, http.StatusOK, SlotsResponse{
		StaffID:         staffID,
		Date:            date.Format("2006-01-02"),
		DurationMinutes: duration,
		Slots:           slots,
	})
}

// handleDaySheet exports the day as XLSX, cancelled and completed visits included.
// GET /api/staff/{id}/daysheet?date=YYYY-MM-DD
func (s *HTTPServer) handleDaySheet(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("daysheet")

	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	staffID := r.PathValue("id")

	hours, err := s.availability.WorkingInterval(r.Context(), staffID, date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	dayStart, dayEnd := model.DayBounds(date)
	appts, err := s.days.QueryByStaffAndDay(r.Context(), staffID, dayStart, dayEnd, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("staff_id", staffID).Msg("daysheet query failed")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable, retry later")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteDaySheet(&buf, staffID, date, hours, appts); err != nil {
		s.logger.Error().Err(err).Str("staff_id", staffID).Msg("daysheet export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="daysheet_%s_%s.xlsx"`, staffID, date.Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// parseDate reads ?date=, defaulting to today in the server zone.
func (s *HTTPServer) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		now := time.Now().In(s.loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc), true
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, s.loc)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rejection{Error: "invalid date format; expected YYYY-MM-DD", Field: "date"})
		return time.Time{}, false
	}
	return date, true
}

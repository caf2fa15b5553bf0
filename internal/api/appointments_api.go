package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"appointly/internal/metrics"
	"appointly/internal/model"
)

// localTimeLayout is accepted alongside RFC 3339 and read in the server zone.
const localTimeLayout = "2006-01-02T15:04"

// AppointmentRequest is the body for booking and rescheduling.
type AppointmentRequest struct {
	ID              string       `json:"id,omitempty"`
	Client          model.Client `json:"client"`
	LocationID      string       `json:"location_id"`
	StaffID         string       `json:"staff_id"`
	ServiceID       string       `json:"service_id,omitempty"`
	Start           string       `json:"start"` // RFC 3339 or 2006-01-02T15:04
	DurationMinutes int          `json:"duration_minutes"`
	Notes           string       `json:"notes,omitempty"`
}

// ProposalResponse is returned when a proposal is accepted.
type ProposalResponse struct {
	Accepted      bool               `json:"accepted"`
	AppointmentID string             `json:"appointment_id"`
	Appointment   *model.Appointment `json:"appointment"`
}

// StatusRequest is the body for POST /api/appointments/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// handleCreateAppointment books a new appointment.
// POST /api/appointments
func (s *HTTPServer) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_appointment")

	candidate, ok := s.decodeCandidate(w, r)
	if !ok {
		return
	}

	appt, err := s.scheduler.ProposeBooking(r.Context(), candidate)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProposalResponse{Accepted: true, AppointmentID: appt.ID, Appointment: appt})
}

// handleGetAppointment returns one appointment.
// GET /api/appointments/{id}
func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_appointment")

	appt, err := s.scheduler.GetAppointment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// handleReschedule moves an appointment.
// POST /api/appointments/{id}/reschedule
func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reschedule")

	candidate, ok := s.decodeCandidate(w, r)
	if !ok {
		return
	}

	appt, err := s.scheduler.ProposeReschedule(r.Context(), r.PathValue("id"), candidate)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProposalResponse{Accepted: true, AppointmentID: appt.ID, Appointment: appt})
}

// handleChangeStatus applies a lifecycle transition.
// POST /api/appointments/{id}/status
func (s *HTTPServer) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("change_status")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	appt, err := s.scheduler.ChangeStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) decodeCandidate(w http.ResponseWriter, r *http.Request) (model.Appointment, bool) {
	var req AppointmentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return model.Appointment{}, false
	}

	start, err := s.parseTime(req.Start)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rejection{
			Error: "invalid start; expected RFC 3339 or YYYY-MM-DDTHH:MM",
			Field: "start",
		})
		return model.Appointment{}, false
	}

	return model.Appointment{
		ID:              req.ID,
		Client:          req.Client,
		LocationID:      req.LocationID,
		StaffID:         req.StaffID,
		ServiceID:       req.ServiceID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	}, true
}

func (s *HTTPServer) parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(s.loc), nil
	}
	return time.ParseInLocation(localTimeLayout, v, s.loc)
}

// Package api exposes the scheduling engine over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"appointly/internal/apperr"
	"appointly/internal/availability"
	"appointly/internal/booking"
	"appointly/internal/config"
	"appointly/internal/model"
	"appointly/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Scheduler is the booking side the API drives.
type Scheduler interface {
	ProposeBooking(ctx context.Context, candidate model.Appointment) (*model.Appointment, error)
	ProposeReschedule(ctx context.Context, appointmentID string, candidate model.Appointment) (*model.Appointment, error)
	ChangeStatus(ctx context.Context, appointmentID string, status string) (*model.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID string) (*model.Appointment, error)
}

// Availability answers free/busy questions.
type Availability interface {
	WorkingInterval(ctx context.Context, staffID string, date time.Time) (model.WorkingHours, error)
	FreeBusyForDay(ctx context.Context, staffID string, date time.Time) ([]model.Interval, error)
	FreeSlots(ctx context.Context, staffID string, date time.Time, duration, step time.Duration) ([]model.Interval, error)
}

// HTTPServer serves the booking API.
type HTTPServer struct {
	scheduler    Scheduler
	availability Availability
	days         availability.DayReader
	ready        func(ctx context.Context) error
	apiKey       string
	limiter      *rate.Limiter
	loc          *time.Location
	logger       zerolog.Logger
	server       *http.Server
}

// NewHTTPServer wires routes. days is used for the day sheet and sees every status.
// ready may be nil.
func NewHTTPServer(cfg config.HTTPConfig, scheduler Scheduler, avail Availability, days availability.DayReader,
	ready func(ctx context.Context) error, loc *time.Location, logger zerolog.Logger,
) *HTTPServer {
	if loc == nil {
		loc = time.Local
	}
	s := &HTTPServer{
		scheduler:    scheduler,
		availability: avail,
		days:         days,
		ready:        ready,
		apiKey:       cfg.APIKey,
		loc:          loc,
		logger:       logger.With().Str("component", "api").Logger(),
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = max(1, int(cfg.RateLimitRPS))
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/appointments", s.handleCreateAppointment)
	api.HandleFunc("GET /api/appointments/{id}", s.handleGetAppointment)
	api.HandleFunc("POST /api/appointments/{id}/reschedule", s.handleReschedule)
	api.HandleFunc("POST /api/appointments/{id}/status", s.handleChangeStatus)
	api.HandleFunc("GET /api/staff/{id}/working-hours", s.handleWorkingHours)
	api.HandleFunc("GET /api/staff/{id}/busy", s.handleBusy)
	api.HandleFunc("GET /api/staff/{id}/slots", s.handleSlots)
	api.HandleFunc("GET /api/staff/{id}/daysheet", s.handleDaySheet)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("/api/", s.rateLimit(s.auth(api)))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *HTTPServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-Api-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.logger.Warn().Str("path", r.URL.Path).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// rejection is the body of every non-2xx engine answer.
type rejection struct {
	Accepted                 bool       `json:"accepted"`
	Error                    string     `json:"error"`
	Field                    string     `json:"field,omitempty"`
	ConflictKind             string     `json:"conflict_kind,omitempty"`
	ConflictingAppointmentID string     `json:"conflicting_appointment_id,omitempty"`
	ConflictingIntervalStart *time.Time `json:"conflicting_interval_start,omitempty"`
	ConflictingIntervalEnd   *time.Time `json:"conflicting_interval_end,omitempty"`
}

// writeServiceError maps engine errors to HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	resp := rejection{Error: err.Error()}
	status := http.StatusInternalServerError

	var te *booking.TransitionError
	if ve, ok := apperr.AsValidation(err); ok {
		status = http.StatusBadRequest
		resp.Error = ve.Error()
		resp.Field = ve.Field
	} else if ce, ok := apperr.AsConflict(err); ok {
		status = http.StatusConflict
		start, end := ce.Start, ce.End
		resp.ConflictKind = string(ce.Kind)
		resp.ConflictingAppointmentID = ce.AppointmentID
		resp.ConflictingIntervalStart = &start
		resp.ConflictingIntervalEnd = &end
	} else if errors.As(err, &te) {
		status = http.StatusUnprocessableEntity
	} else if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	} else if errors.Is(err, apperr.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
		resp.Error = "storage unavailable, retry later"
		w.Header().Set("Retry-After", "1")
		s.logger.Error().Err(err).Msg("storage unavailable")
	} else {
		s.logger.Error().Err(err).Msg("unexpected error")
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

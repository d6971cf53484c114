// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"cozy/internal/controller"
	"cozy/internal/logging"
	"cozy/internal/site"
)

type Options struct {
	Logger *slog.Logger
	// RateLimit is the sustained number of mutating requests per second.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
	// Registry receives the site gauges. A private registry is created when
	// nil.
	Registry *prometheus.Registry
}

type Handler struct {
	service  controller.Service
	logger   *slog.Logger
	limiter  *rate.Limiter
	registry *prometheus.Registry
}

func NewHandler(service controller.Service, opts Options) *Handler {
	h := &Handler{
		service:  service,
		logger:   opts.Logger,
		registry: opts.Registry,
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	if h.registry == nil {
		h.registry = prometheus.NewRegistry()
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	h.initMetrics()
	return h
}

func (h *Handler) initMetrics() {
	factory := promauto.With(h.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cozy_site_capacity",
		Help: "number of chairs at the site",
	}, func() float64 { return float64(h.service.Stats().Capacity) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cozy_site_busy_chairs",
		Help: "number of occupied chairs",
	}, func() float64 { return float64(h.service.Stats().Busy) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cozy_site_staff",
		Help: "number of staff members on the roster",
	}, func() float64 { return float64(h.service.Stats().Staff) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cozy_event_log_events",
		Help: "number of events in the site log",
	}, func() float64 { return float64(h.service.Stats().Events) })
}

// Routes builds the HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))

	r.Get("/site", h.handleGetSite)
	r.Get("/site/stats", h.handleGetStats)
	r.Get("/events", h.handleGetEvents)
	r.Get("/events/verify", h.handleVerifyEvents)
	r.Get("/staff/active", h.handleGetActiveStaff)

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)

		r.Post("/chairs/{id}/occupy", h.handleOccupyChair)
		r.Post("/chairs/{id}/free", h.handleFreeChair)
		r.Post("/staff", h.handleAddStaff)
		r.Put("/staff/active", h.handleSelectStaff)
		r.Delete("/staff/active", h.handleClearStaff)
		r.Put("/site/capacity", h.handleResizeSite)
		r.Post("/persist", h.handlePersist)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleGetSite(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Site())
}

func (h *Handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

func (h *Handler) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.EventLog())
}

func (h *Handler) handleVerifyEvents(w http.ResponseWriter, r *http.Request) {
	l := h.service.EventLog()
	if err := l.Verify(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true, "events": l.Len()})
}

func (h *Handler) handleOccupyChair(w http.ResponseWriter, r *http.Request) {
	id, ok := chairID(w, r)
	if !ok {
		return
	}
	var req struct {
		Client string `json:"client"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.OccupyChair(r.Context(), id, req.Client); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeChair(w, r, id)
}

func (h *Handler) handleFreeChair(w http.ResponseWriter, r *http.Request) {
	id, ok := chairID(w, r)
	if !ok {
		return
	}
	if err := h.service.FreeChair(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeChair(w, r, id)
}

func (h *Handler) writeChair(w http.ResponseWriter, r *http.Request, id int) {
	chair, err := h.service.Site().Chair(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chair)
}

func (h *Handler) handleAddStaff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	added, err := h.service.AddStaff(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, h.service.Site().Staff)
}

func (h *Handler) handleGetActiveStaff(w http.ResponseWriter, r *http.Request) {
	st, ok := h.service.ActiveStaff()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no active staff"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleSelectStaff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.SelectStaff(req.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handleGetActiveStaff(w, r)
}

func (h *Handler) handleClearStaff(w http.ResponseWriter, r *http.Request) {
	h.service.ClearStaff()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResizeSite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Capacity *int `json:"capacity"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Capacity == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "capacity is required"})
		return
	}
	moves, err := h.service.ResizeSite(r.Context(), *req.Capacity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if moves == nil {
		moves = []site.Move{}
	}
	writeJSON(w, http.StatusOK, struct {
		Moves []site.Move `json:"moves"`
		Site  *site.Site  `json:"site"`
	}{moves, h.service.Site()})
}

func (h *Handler) handlePersist(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Persist(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// StatusFor maps a command error to its HTTP status. Consistency failures
// and anything unrecognized are 500s.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, site.ErrChairNotFound),
		errors.Is(err, site.ErrStaffNotFound):
		return http.StatusNotFound
	case errors.Is(err, site.ErrDoubleOccupancy),
		errors.Is(err, site.ErrCapacityBelowOccupancy):
		return http.StatusConflict
	case errors.Is(err, site.ErrEmptyName),
		errors.Is(err, site.ErrInvalidCapacity):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrNotDurable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("http.command_failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func chairID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid chair id"})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

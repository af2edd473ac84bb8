package api

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/eefei22/ser-engine/internal/control"
	"github.com/eefei22/ser-engine/internal/queue"
	"github.com/eefei22/ser-engine/internal/resultlog"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DashboardHandler serves the HTML shell, its JSON feed, and the
// aggregation-interval setting.
type DashboardHandler struct {
	queue   *queue.Queue
	worker  *queue.Worker
	results *resultlog.Log
	reg     *control.Registries
	clock   Clock
	webFS   fs.FS
	log     zerolog.Logger
}

func NewDashboardHandler(q *queue.Queue, w *queue.Worker, results *resultlog.Log, reg *control.Registries, clk Clock, webFS fs.FS, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		queue:   q,
		worker:  w,
		results: results,
		reg:     reg,
		clock:   clk,
		webFS:   webFS,
		log:     log.With().Str("handler", "dashboard").Logger(),
	}
}

func (h *DashboardHandler) Routes(r chi.Router) {
	r.Get("/dashboard", h.Dashboard)
	r.Get("/api/dashboard/status", h.DashboardStatus)
	r.Get("/api/aggregation-interval", h.GetAggregationInterval)
	r.Post("/api/aggregation-interval", h.SetAggregationInterval)
}

// Dashboard handles GET /ser/dashboard.
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	body, err := fs.ReadFile(h.webFS, "dashboard.html")
	if err != nil {
		h.log.Error().Err(err).Msg("dashboard asset missing")
		WriteError(w, http.StatusInternalServerError, "dashboard unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(body)
}

type dashboardStatus struct {
	Now                 time.Time                  `json:"now"`
	QueueSize           int                        `json:"queue_size"`
	QueueCapacity       int                        `json:"queue_capacity"`
	WorkerRunning       bool                       `json:"worker_running"`
	Processing          *queue.ProcessingInfo      `json:"processing,omitempty"`
	RecentRequests      []queue.RequestInfo        `json:"recent_requests"`
	RecentResults       []resultlog.ChunkEntry     `json:"recent_results"`
	RecentAggregations  []resultlog.AggregateEntry `json:"recent_aggregations"`
	Stats               queue.Stats                `json:"stats"`
	DemoMode            bool                       `json:"demo_mode"`
	AggregationInterval int                        `json:"aggregation_interval_seconds"`
	GenerationInterval  int                        `json:"generation_interval_seconds"`
	SynthUserID         string                     `json:"synthetic_user_id"`
}

// DashboardStatus handles GET /ser/api/dashboard/status.
func (h *DashboardHandler) DashboardStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, dashboardStatus{
		Now:                 h.clock.Now(),
		QueueSize:           h.queue.Size(),
		QueueCapacity:       h.queue.Capacity(),
		WorkerRunning:       h.worker.Running(),
		Processing:          h.worker.Processing(),
		RecentRequests:      h.queue.RecentRequests(h.clock.Now().Add(-10 * time.Minute)),
		RecentResults:       h.results.RecentChunks(20, ""),
		RecentAggregations:  h.results.RecentAggregates(20, ""),
		Stats:               h.worker.Stats(),
		DemoMode:            h.reg.Demo.Enabled(),
		AggregationInterval: h.reg.AggInterval.Get(),
		GenerationInterval:  h.reg.GenInterval.Get(),
		SynthUserID:         h.reg.SynthUser.Get(),
	})
}

func (h *DashboardHandler) GetAggregationInterval(w http.ResponseWriter, r *http.Request) {
	min, max := h.reg.AggInterval.Bounds()
	WriteJSON(w, http.StatusOK, map[string]int{
		"seconds": h.reg.AggInterval.Get(), "min": min, "max": max,
	})
}

func (h *DashboardHandler) SetAggregationInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds *int `json:"seconds"`
	}
	if err := DecodeJSON(r, &req); err != nil || req.Seconds == nil {
		WriteError(w, http.StatusBadRequest, "body must be {\"seconds\": int}")
		return
	}
	if err := h.reg.AggInterval.Set(*req.Seconds); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Info().Int("seconds", *req.Seconds).Msg("aggregation interval changed")
	WriteJSON(w, http.StatusOK, map[string]int{"seconds": *req.Seconds})
}

package api

import (
	"net/http"
	"time"

	"github.com/eefei22/ser-engine/internal/queue"
	"github.com/rs/zerolog"
)

// Runner is anything with a liveness bit (aggregator, generator).
type Runner interface {
	Running() bool
}

type HealthResponse struct {
	Status            string            `json:"status"`
	Version           string            `json:"version"`
	UptimeSeconds     int64             `json:"uptime_seconds"`
	WorkerRunning     bool              `json:"worker_running"`
	AggregatorRunning bool              `json:"aggregator_running"`
	GeneratorRunning  bool              `json:"generator_running"`
	QueueSize         int               `json:"queue_size"`
	Checks            map[string]string `json:"checks"`
}

type HealthHandler struct {
	store      Store
	queue      *queue.Queue
	worker     *queue.Worker
	aggregator Runner
	generator  Runner
	version    string
	startTime  time.Time
	log        zerolog.Logger
}

func NewHealthHandler(store Store, q *queue.Queue, w *queue.Worker, aggregator, generator Runner, version string, startTime time.Time, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		store:      store,
		queue:      q,
		worker:     w,
		aggregator: aggregator,
		generator:  generator,
		version:    version,
		startTime:  startTime,
		log:        log,
	}
}

// ServeHTTP handles GET /health. The store check is advisory: a down
// database degrades the status but the service keeps serving.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}
	status := "ok"
	if err := h.store.HealthCheck(r.Context()); err != nil {
		checks["database"] = err.Error()
		status = "degraded"
	}
	if !h.worker.Running() || !h.aggregator.Running() {
		status = "degraded"
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:            status,
		Version:           h.version,
		UptimeSeconds:     int64(time.Since(h.startTime).Seconds()),
		WorkerRunning:     h.worker.Running(),
		AggregatorRunning: h.aggregator.Running(),
		GeneratorRunning:  h.generator.Running(),
		QueueSize:         h.queue.Size(),
		Checks:            checks,
	})
}

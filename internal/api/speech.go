package api

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/eefei22/ser-engine/internal/queue"
	"github.com/eefei22/ser-engine/internal/resultlog"
	"github.com/eefei22/ser-engine/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Clock is the subset of clock.Clock the handlers need.
type Clock interface {
	Now() time.Time
}

// SpeechHandler serves the ingest endpoint and the read APIs over the
// in-memory state (status, sessions, aggregations, signals).
type SpeechHandler struct {
	queue    *queue.Queue
	worker   *queue.Worker
	sessions *session.Tracker
	results  *resultlog.Log
	store    Store
	clock    Clock
	tmpDir   string
	log      zerolog.Logger
}

func NewSpeechHandler(q *queue.Queue, w *queue.Worker, sessions *session.Tracker, results *resultlog.Log, store Store, clk Clock, tmpDir string, log zerolog.Logger) *SpeechHandler {
	return &SpeechHandler{
		queue:    q,
		worker:   w,
		sessions: sessions,
		results:  results,
		store:    store,
		clock:    clk,
		tmpDir:   tmpDir,
		log:      log.With().Str("handler", "speech").Logger(),
	}
}

type queuedResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	QueueSize int    `json:"queue_size"`
}

// AnalyzeSpeech handles POST /ser/analyze-speech: validate, spool the
// upload to a temp file, hand ownership to the queue.
func (h *SpeechHandler) AnalyzeSpeech(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := r.FormValue("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		h.log.Warn().Str("user_id", userID).Msg("rejected upload: invalid user id")
		WriteError(w, http.StatusBadRequest, "Invalid user_id format: "+userID+". Must be a valid UUID.")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".wav") {
		h.log.Warn().Str("filename", header.Filename).Msg("rejected upload: not a wav file")
		WriteError(w, http.StatusBadRequest, "Only .wav files are supported.")
		return
	}

	tmp, err := os.CreateTemp(h.tmpDir, "chunk-*.wav")
	if err != nil {
		h.log.Error().Err(err).Msg("temp file creation failed")
		WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue audio chunk for processing")
		return
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		h.log.Error().Err(err).Msg("spooling upload failed")
		WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue audio chunk for processing")
		return
	}
	tmp.Close()

	job := queue.Job{
		UserID:     userID,
		AudioPath:  tmp.Name(),
		ReceivedAt: h.clock.Now(),
		Filename:   header.Filename,
	}
	if err := h.queue.Enqueue(job); err != nil {
		// Ownership never transferred; the handler unlinks.
		os.Remove(tmp.Name())
		h.log.Error().Err(err).Str("user_id", userID).Msg("enqueue failed")
		WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue audio chunk for processing")
		return
	}

	WriteJSON(w, http.StatusOK, queuedResponse{
		Status:    "queued",
		Message:   "Audio chunk queued for processing",
		QueueSize: h.queue.Size(),
	})
}

type statusResponse struct {
	QueueSize      int                    `json:"queue_size"`
	WorkerRunning  bool                   `json:"worker_running"`
	Processing     *queue.ProcessingInfo  `json:"processing,omitempty"`
	RecentRequests []queue.RequestInfo    `json:"recent_requests"`
	RecentResults  []resultlog.ChunkEntry `json:"recent_results"`
	Stats          queue.Stats            `json:"stats"`
}

// Status handles GET /ser/status.
func (h *SpeechHandler) Status(w http.ResponseWriter, r *http.Request) {
	limit := QueryInt(r, "limit", 50)
	WriteJSON(w, http.StatusOK, statusResponse{
		QueueSize:      h.queue.Size(),
		WorkerRunning:  h.worker.Running(),
		Processing:     h.worker.Processing(),
		RecentRequests: h.queue.RecentRequests(h.clock.Now().Add(-10 * time.Minute)),
		RecentResults:  h.results.RecentChunks(limit, r.URL.Query().Get("user_id")),
		Stats:          h.worker.Stats(),
	})
}

type sessionView struct {
	SessionID  string           `json:"session_id"`
	Start      time.Time        `json:"start_time"`
	LastChunk  time.Time        `json:"last_chunk_time"`
	ChunkCount int              `json:"chunk_count"`
	Results    []chunkResultView `json:"results"`
}

type chunkResultView struct {
	Timestamp           time.Time `json:"timestamp"`
	Emotion             string    `json:"emotion"`
	EmotionConfidence   float64   `json:"emotion_confidence"`
	Transcript          string    `json:"transcript,omitempty"`
	Language            string    `json:"language,omitempty"`
	Sentiment           string    `json:"sentiment,omitempty"`
	SentimentConfidence float64   `json:"sentiment_confidence,omitempty"`
}

// Sessions handles GET /ser/api/sessions/{user_id}.
func (h *SpeechHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if _, err := uuid.Parse(userID); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid user_id format: "+userID+". Must be a valid UUID.")
		return
	}

	meta := h.sessions.SessionMeta(userID)
	all := h.sessions.Sessions(userID)
	views := make([]sessionView, 0, len(all))
	for id, results := range all {
		v := sessionView{SessionID: id, ChunkCount: len(results)}
		if m, ok := meta[id]; ok {
			v.Start = m.Start
			v.LastChunk = m.LastChunk
		}
		for _, res := range results {
			v.Results = append(v.Results, chunkResultView{
				Timestamp:           res.Timestamp,
				Emotion:             string(res.Emotion),
				EmotionConfidence:   res.EmotionConfidence,
				Transcript:          res.Transcript,
				Language:            res.Language,
				Sentiment:           res.Sentiment,
				SentimentConfidence: res.SentimentConfidence,
			})
		}
		views = append(views, v)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "sessions": views})
}

// ClearSessions handles DELETE /ser/api/sessions/{user_id}.
func (h *SpeechHandler) ClearSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if _, err := uuid.Parse(userID); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid user_id format: "+userID+". Must be a valid UUID.")
		return
	}
	n := h.sessions.ClearUser(userID)
	WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "sessions_cleared": n})
}

// Aggregations handles GET /ser/api/aggregations.
func (h *SpeechHandler) Aggregations(w http.ResponseWriter, r *http.Request) {
	limit := QueryInt(r, "limit", 50)
	WriteJSON(w, http.StatusOK, map[string]any{
		"aggregations": h.results.RecentAggregates(limit, r.URL.Query().Get("user_id")),
	})
}

type signalView struct {
	UserID       string  `json:"user_id"`
	Timestamp    string  `json:"timestamp"`
	Modality     string  `json:"modality"`
	EmotionLabel string  `json:"emotion_label"`
	Confidence   float64 `json:"confidence"`
}

// Signals handles GET /ser/api/signals/{user_id}: the dashboard's view of
// persisted speech signals, hiding rows the fusion service has already
// consumed. A failing low-water query must not break the read.
func (h *SpeechHandler) Signals(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if _, err := uuid.Parse(userID); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid user_id format: "+userID+". Must be a valid UUID.")
		return
	}

	minutes := QueryInt(r, "minutes", 60)
	if minutes < 1 {
		minutes = 60
	}
	includeSynthetic := r.URL.Query().Get("include_synthetic") != "false"

	end := h.clock.Now()
	start := end.Add(-time.Duration(minutes) * time.Minute)

	signals, err := h.store.QueryVoiceEmotionSignals(r.Context(), userID, start, end, includeSynthetic)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("signal query failed")
		WriteError(w, http.StatusInternalServerError, "failed to query signals")
		return
	}

	lowWater, haveMark, err := h.store.LastDownstreamConsumption(r.Context(), userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("low-water query failed, showing all signals")
		haveMark = false
	}

	views := make([]signalView, 0, len(signals))
	for _, s := range signals {
		if haveMark && !s.Timestamp.After(lowWater) {
			continue
		}
		views = append(views, signalView{
			UserID:       s.UserID,
			Timestamp:    s.Timestamp.Format(time.RFC3339),
			Modality:     string(s.Modality),
			EmotionLabel: string(s.Label),
			Confidence:   s.Confidence,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "signals": views})
}

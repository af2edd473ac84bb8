package queue

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eefei22/ser-engine/internal/database"
	"github.com/eefei22/ser-engine/internal/emotion"
	"github.com/eefei22/ser-engine/internal/metrics"
	"github.com/eefei22/ser-engine/internal/pipeline"
	"github.com/eefei22/ser-engine/internal/resultlog"
	"github.com/eefei22/ser-engine/internal/session"
	"github.com/rs/zerolog"
)

// Clock is the subset of clock.Clock the worker needs.
type Clock interface {
	Now() time.Time
}

// VoiceStore is the slice of the store client the worker writes through.
type VoiceStore interface {
	InsertVoiceEmotion(ctx context.Context, row *database.VoiceEmotionRow) (*database.VoiceEmotionRow, error)
}

// ProcessingInfo describes the chunk currently being processed, for the
// dashboard. Nil when the worker is idle.
type ProcessingInfo struct {
	UserID    string    `json:"user_id"`
	Filename  string    `json:"filename"`
	StartedAt time.Time `json:"started_at"`
}

// Stats is the worker's lifetime counters. Processed includes dropped
// chunks: a neutral-class chunk was consumed and decided on, it just
// never reached storage.
type Stats struct {
	Processed  int64 `json:"processed"`
	Persisted  int64 `json:"persisted"`
	Dropped    int64 `json:"dropped"`
	Failed     int64 `json:"failed"`
	StoreError int64 `json:"store_errors"`
}

// WorkerOptions configures the single queue consumer.
type WorkerOptions struct {
	Queue    *Queue
	Analyzer pipeline.Analyzer
	Store    VoiceStore
	Sessions *session.Tracker
	Results  *resultlog.Log
	Clock    Clock

	// GracePeriod keeps the just-finished processing metadata visible to
	// the dashboard before it is cleared.
	GracePeriod time.Duration

	// AnalyzeTimeout bounds a single pipeline call.
	AnalyzeTimeout time.Duration

	Log zerolog.Logger
}

// Worker drains the chunk queue: probe, analyze, map, persist, track.
// It is an exception sink — no chunk failure escapes the loop.
type Worker struct {
	opts   WorkerOptions
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool

	procMu     sync.Mutex
	processing *ProcessingInfo

	processed  atomic.Int64
	persisted  atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
	storeError atomic.Int64
}

func NewWorker(opts WorkerOptions) *Worker {
	if opts.GracePeriod == 0 {
		opts.GracePeriod = 500 * time.Millisecond
	}
	if opts.AnalyzeTimeout == 0 {
		opts.AnalyzeTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Safe to call once.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.running.Store(true)
		go w.loop()
		w.opts.Log.Info().Int("queue_capacity", w.opts.Queue.Capacity()).Msg("chunk worker started")
	})
}

// Stop cancels the worker's context, which aborts an in-flight pipeline
// call or store insert, waits up to timeout for the loop to exit, then
// sweeps temp files of any jobs left in the queue. Jobs still queued at
// Stop are not processed. Idempotent; the second call returns immediately.
func (w *Worker) Stop(timeout time.Duration) {
	w.stopOnce.Do(func() {
		w.cancel()
		select {
		case <-w.done:
		case <-time.After(timeout):
			w.opts.Log.Warn().Dur("timeout", timeout).Msg("chunk worker did not finish cleanly")
		}
		w.running.Store(false)
		w.sweepQueue()
		s := w.Stats()
		w.opts.Log.Info().
			Int64("processed", s.Processed).
			Int64("persisted", s.Persisted).
			Int64("dropped", s.Dropped).
			Int64("failed", s.Failed).
			Msg("chunk worker stopped")
	})
}

// sweepQueue unlinks temp files of abandoned jobs on shutdown.
func (w *Worker) sweepQueue() {
	for {
		select {
		case j := <-w.opts.Queue.jobs:
			if err := os.Remove(j.AudioPath); err != nil && !os.IsNotExist(err) {
				w.opts.Log.Warn().Err(err).Str("path", j.AudioPath).Msg("failed to sweep abandoned temp file")
			}
		default:
			return
		}
	}
}

// Running reports whether the consumer loop is alive.
func (w *Worker) Running() bool { return w.running.Load() }

// Processing returns a copy of the current processing metadata, or nil.
func (w *Worker) Processing() *ProcessingInfo {
	w.procMu.Lock()
	defer w.procMu.Unlock()
	if w.processing == nil {
		return nil
	}
	cp := *w.processing
	return &cp
}

func (w *Worker) Stats() Stats {
	return Stats{
		Processed:  w.processed.Load(),
		Persisted:  w.persisted.Load(),
		Dropped:    w.dropped.Load(),
		Failed:     w.failed.Load(),
		StoreError: w.storeError.Load(),
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	// Dequeue with a short timeout so the loop observes cancellation
	// within a second even when the queue is idle.
	idle := time.NewTimer(time.Second)
	defer idle.Stop()

	for {
		idle.Reset(time.Second)
		select {
		case <-w.ctx.Done():
			return
		case job := <-w.opts.Queue.jobs:
			w.process(job)
		case <-idle.C:
		}
	}
}

func (w *Worker) process(job Job) {
	log := w.opts.Log.With().Str("user_id", job.UserID).Str("file", job.Filename).Logger()

	w.procMu.Lock()
	w.processing = &ProcessingInfo{
		UserID:    job.UserID,
		Filename:  job.Filename,
		StartedAt: w.opts.Clock.Now(),
	}
	w.procMu.Unlock()

	// The job owns its temp file; it is removed on every exit path.
	defer func() {
		if err := os.Remove(job.AudioPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", job.AudioPath).Msg("failed to remove temp file")
		}
		w.clearProcessingAfterGrace(job.UserID)
	}()

	meta, err := pipeline.ProbeWAV(job.AudioPath)
	if err != nil {
		log.Warn().Err(err).Msg("audio probe failed, using defaults")
		meta = pipeline.DefaultAudioMeta()
	}

	ctx, cancelAnalyze := context.WithTimeout(w.ctx, w.opts.AnalyzeTimeout)
	analysis, err := w.opts.Analyzer.Analyze(ctx, job.AudioPath)
	cancelAnalyze()
	if err != nil {
		w.failed.Add(1)
		metrics.ChunksProcessedTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("pipeline failed, chunk skipped")
		return
	}

	label, ok := emotion.MapRaw(analysis.Emotion)
	if !ok {
		// Neutral, other, and unknown never reach storage or sessions:
		// downstream consumers contract on the four-class enum.
		w.processed.Add(1)
		w.dropped.Add(1)
		metrics.ChunksProcessedTotal.WithLabelValues("dropped").Inc()
		log.Debug().Str("emotion", analysis.Emotion).Msg("unmappable emotion, chunk dropped")
		return
	}

	row := &database.VoiceEmotionRow{
		UserID:            job.UserID,
		Timestamp:         job.ReceivedAt,
		SampleRate:        meta.SampleRate,
		FrameSizeMS:       meta.FrameSizeMS,
		FrameStrideMS:     meta.FrameStrideMS,
		DurationSec:       meta.DurationSec,
		PredictedEmotion:  string(label),
		EmotionConfidence: analysis.EmotionConfidence,
	}
	if analysis.Transcript != "" {
		row.Transcript = &analysis.Transcript
	}
	if analysis.Language != "" {
		lang := emotion.NormalizeLanguage(analysis.Language)
		row.Language = &lang
	}
	if analysis.Sentiment != "" {
		row.Sentiment = &analysis.Sentiment
		row.SentimentConfidence = &analysis.SentimentConfidence
	}

	insertCtx, cancelInsert := context.WithTimeout(w.ctx, 10*time.Second)
	_, insertErr := w.opts.Store.InsertVoiceEmotion(insertCtx, row)
	cancelInsert()
	if insertErr != nil {
		w.storeError.Add(1)
		metrics.ChunksProcessedTotal.WithLabelValues("store_error").Inc()
		if database.IsTransient(insertErr) {
			log.Warn().Err(insertErr).Msg("store insert failed, will not retry this chunk")
		} else {
			log.Error().Err(insertErr).Msg("store rejected row, record dropped from storage")
		}
	} else {
		w.persisted.Add(1)
		metrics.ChunksProcessedTotal.WithLabelValues("persisted").Inc()
	}

	res := session.Result{
		Timestamp:           job.ReceivedAt,
		Emotion:             label,
		EmotionConfidence:   analysis.EmotionConfidence,
		Transcript:          analysis.Transcript,
		Language:            emotion.NormalizeLanguage(analysis.Language),
		Sentiment:           analysis.Sentiment,
		SentimentConfidence: analysis.SentimentConfidence,
	}
	sessionID := w.opts.Sessions.AddResult(job.UserID, res)

	w.opts.Results.AddChunk(resultlog.ChunkEntry{
		UserID:              job.UserID,
		SessionID:           sessionID,
		Timestamp:           job.ReceivedAt,
		ProcessedAt:         w.opts.Clock.Now(),
		Emotion:             string(label),
		EmotionConfidence:   analysis.EmotionConfidence,
		Transcript:          analysis.Transcript,
		Language:            res.Language,
		Sentiment:           analysis.Sentiment,
		SentimentConfidence: analysis.SentimentConfidence,
		Persisted:           insertErr == nil,
	})
	w.processed.Add(1)

	log.Info().
		Str("session_id", sessionID).
		Str("emotion", string(label)).
		Float64("confidence", analysis.EmotionConfidence).
		Bool("persisted", insertErr == nil).
		Msg("chunk processed")
}

// clearProcessingAfterGrace keeps the finished item visible briefly, then
// clears it unless a newer chunk already replaced it.
func (w *Worker) clearProcessingAfterGrace(userID string) {
	started := w.Processing()
	time.Sleep(w.opts.GracePeriod)
	w.procMu.Lock()
	if w.processing != nil && started != nil &&
		w.processing.UserID == started.UserID && w.processing.StartedAt.Equal(started.StartedAt) {
		w.processing = nil
	}
	w.procMu.Unlock()
}

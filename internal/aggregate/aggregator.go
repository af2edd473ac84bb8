// Package aggregate collapses a sliding time window of chunk results into
// one emitted record per (user, session).
package aggregate

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eefei22/ser-engine/internal/emotion"
	"github.com/eefei22/ser-engine/internal/metrics"
	"github.com/eefei22/ser-engine/internal/resultlog"
	"github.com/eefei22/ser-engine/internal/session"
	"github.com/rs/zerolog"
)

// Clock is the subset of clock.Clock the aggregator needs.
type Clock interface {
	Now() time.Time
}

// IntervalSource yields the current aggregation interval in seconds. Read
// fresh at each tick; changes take effect on the next tick, never
// mid-sleep.
type IntervalSource interface {
	Get() int
}

// Result is one emitted aggregate.
type Result struct {
	EmittedAt           time.Time
	UserID              string
	SessionID           string
	WindowStart         time.Time
	WindowEnd           time.Time
	ChunkCount          int
	Emotion             emotion.Label
	EmotionConfidence   float64
	Sentiment           string
	SentimentConfidence float64
}

// Aggregator runs the periodic window collapse. States: idle until Start,
// then sleeping/ticking until Stop. A stop during sleep ends the loop
// within one interval; during a tick it is observed after the tick.
type Aggregator struct {
	sessions *session.Tracker
	interval IntervalSource
	results  *resultlog.Log
	clock    Clock
	log      zerolog.Logger

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool
}

func New(sessions *session.Tracker, interval IntervalSource, results *resultlog.Log, clk Clock, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		sessions: sessions,
		interval: interval,
		results:  results,
		clock:    clk,
		log:      log.With().Str("component", "aggregator").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic loop. The first tick fires one full
// interval after Start.
func (a *Aggregator) Start() {
	a.startOnce.Do(func() {
		a.running.Store(true)
		go a.loop()
		a.log.Info().Int("interval_seconds", a.interval.Get()).Msg("aggregator started")
	})
}

// Stop signals the loop and waits up to timeout for it to exit.
// Idempotent; the second call returns immediately.
func (a *Aggregator) Stop(timeout time.Duration) {
	a.stopOnce.Do(func() {
		close(a.stop)
		select {
		case <-a.done:
			a.log.Info().Msg("aggregator stopped")
		case <-time.After(timeout):
			a.log.Warn().Dur("timeout", timeout).Msg("aggregator did not finish cleanly")
		}
		a.running.Store(false)
	})
}

// Running reports whether the periodic loop is alive.
func (a *Aggregator) Running() bool { return a.running.Load() }

func (a *Aggregator) loop() {
	defer close(a.done)
	timer := time.NewTimer(a.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-timer.C:
		}

		interval := a.currentInterval()
		tickStart := time.Now()
		a.RunOnce()
		elapsed := time.Since(tickStart)

		// Never skip a tick because the previous one was slow; run
		// back-to-back instead and say so.
		next := interval - elapsed
		if next <= 0 {
			a.log.Warn().Dur("elapsed", elapsed).Dur("interval", interval).
				Msg("aggregation tick exceeded interval, running back-to-back")
			next = time.Nanosecond
		}
		timer.Reset(next)
	}
}

func (a *Aggregator) currentInterval() time.Duration {
	return time.Duration(a.interval.Get()) * time.Second
}

// RunOnce performs one aggregation tick and returns the number of
// aggregates emitted. Window end is the tick time; window start is one
// current interval earlier.
func (a *Aggregator) RunOnce() int {
	interval := a.currentInterval()
	windowEnd := a.clock.Now()
	windowStart := windowEnd.Add(-interval)

	active := a.sessions.ActiveSessionsInWindow(windowStart, windowEnd)
	emitted := 0

	for userID, sessions := range active {
		for sessionID, results := range sessions {
			if len(results) == 0 {
				continue
			}
			agg := aggregateSession(userID, sessionID, results, windowStart, windowEnd, a.log)
			if agg == nil {
				continue
			}
			a.results.AddAggregate(resultlog.AggregateEntry{
				EmittedAt:           agg.EmittedAt,
				UserID:              agg.UserID,
				SessionID:           agg.SessionID,
				WindowStart:         agg.WindowStart,
				WindowEnd:           agg.WindowEnd,
				ChunkCount:          agg.ChunkCount,
				Emotion:             string(agg.Emotion),
				EmotionConfidence:   agg.EmotionConfidence,
				Sentiment:           agg.Sentiment,
				SentimentConfidence: agg.SentimentConfidence,
			})
			emitted++
			metrics.AggregatedSessionsTotal.Inc()
		}
	}

	// Drop sessions idle for more than two windows, for the users seen
	// this tick.
	cutoff := windowEnd.Add(-2 * interval)
	for userID := range active {
		a.sessions.CleanupOlderThan(userID, cutoff)
	}

	metrics.AggregationRunsTotal.Inc()
	if emitted > 0 {
		a.log.Info().
			Int("aggregates", emitted).
			Time("window_start", windowStart).
			Time("window_end", windowEnd).
			Msg("aggregation completed")
	}
	return emitted
}

// aggregateSession picks the emotion with the greatest mean confidence
// across the window's chunks. Ties break toward the earlier label in
// emotion.All() order, which keeps the result deterministic. Sentiment is
// the most frequent sentiment label, its confidence the mean over that
// label's occurrences; sentiment ties break lexicographically.
func aggregateSession(userID, sessionID string, results []session.Result, windowStart, windowEnd time.Time, log zerolog.Logger) *Result {
	sums := make(map[emotion.Label]float64)
	counts := make(map[emotion.Label]int)
	sentimentSums := make(map[string]float64)
	sentimentCounts := make(map[string]int)
	kept := 0

	for _, r := range results {
		if !r.Emotion.Valid() {
			// The worker guarantees this never happens; skip rather than
			// poison the aggregate if it does.
			log.Warn().Str("user_id", userID).Str("session_id", sessionID).
				Str("emotion", string(r.Emotion)).Msg("invalid emotion in session, skipping chunk")
			continue
		}
		sums[r.Emotion] += r.EmotionConfidence
		counts[r.Emotion]++
		kept++
		if r.Sentiment != "" {
			sentimentSums[r.Sentiment] += r.SentimentConfidence
			sentimentCounts[r.Sentiment]++
		}
	}
	if kept == 0 {
		return nil
	}

	var best emotion.Label
	bestMean := -1.0
	for _, label := range emotion.All() {
		if counts[label] == 0 {
			continue
		}
		mean := sums[label] / float64(counts[label])
		if mean > bestMean {
			best = label
			bestMean = mean
		}
	}

	agg := &Result{
		EmittedAt:         windowEnd,
		UserID:            userID,
		SessionID:         sessionID,
		WindowStart:       windowStart,
		WindowEnd:         windowEnd,
		ChunkCount:        len(results),
		Emotion:           best,
		EmotionConfidence: bestMean,
	}

	if len(sentimentCounts) > 0 {
		labels := make([]string, 0, len(sentimentCounts))
		for s := range sentimentCounts {
			labels = append(labels, s)
		}
		sort.Strings(labels)
		top := labels[0]
		for _, s := range labels[1:] {
			if sentimentCounts[s] > sentimentCounts[top] {
				top = s
			}
		}
		agg.Sentiment = top
		agg.SentimentConfidence = sentimentSums[top] / float64(sentimentCounts[top])
	}
	return agg
}

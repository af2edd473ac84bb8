package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/eefei22/ser-engine/internal/clock"
	"github.com/eefei22/ser-engine/internal/control"
	"github.com/eefei22/ser-engine/internal/emotion"
	"github.com/eefei22/ser-engine/internal/resultlog"
	"github.com/eefei22/ser-engine/internal/session"
	"github.com/rs/zerolog"
)

const userA = "11111111-1111-1111-1111-111111111111"

func fixture() (*Aggregator, *session.Tracker, *resultlog.Log, *clock.Fake, *control.Registries) {
	sessions := session.NewTracker(60*time.Second, zerolog.Nop())
	results := resultlog.New(500, 1000)
	reg := control.New(300, 30, userA)
	clk := clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	a := New(sessions, reg.AggInterval, results, clk, zerolog.Nop())
	return a, sessions, results, clk, reg
}

func res(ts time.Time, label emotion.Label, conf float64) session.Result {
	return session.Result{Timestamp: ts, Emotion: label, EmotionConfidence: conf}
}

func TestRunOnceArgmaxMeanConfidence(t *testing.T) {
	a, sessions, results, clk, _ := fixture()
	now := clk.Now()

	// Happy 0.6, Happy 0.8, Sad 0.5 → Happy wins on mean 0.70.
	sessions.AddResult(userA, res(now.Add(-200*time.Second), emotion.Happy, 0.6))
	sessions.AddResult(userA, res(now.Add(-150*time.Second), emotion.Happy, 0.8))
	sessions.AddResult(userA, res(now.Add(-100*time.Second), emotion.Sad, 0.5))

	if emitted := a.RunOnce(); emitted != 1 {
		t.Fatalf("emitted = %d, want 1", emitted)
	}

	aggs := results.RecentAggregates(0, "")
	if len(aggs) != 1 {
		t.Fatalf("aggregate ring = %d entries, want 1", len(aggs))
	}
	got := aggs[0]
	if got.Emotion != "Happy" {
		t.Errorf("emotion = %s, want Happy", got.Emotion)
	}
	if math.Abs(got.EmotionConfidence-0.70) > 1e-9 {
		t.Errorf("confidence = %.4f, want 0.70", got.EmotionConfidence)
	}
	if got.ChunkCount != 3 {
		t.Errorf("chunk_count = %d, want 3", got.ChunkCount)
	}
	if !got.WindowEnd.Equal(now) || !got.WindowStart.Equal(now.Add(-300*time.Second)) {
		t.Errorf("window = [%v, %v], want [now-300s, now]", got.WindowStart, got.WindowEnd)
	}
}

func TestRunOnceGreatestMeanWinsRegardlessOfFrequency(t *testing.T) {
	a, sessions, results, clk, _ := fixture()
	now := clk.Now()

	// A single high-confidence Sad outweighs two mid Happy chunks: the
	// aggregate follows mean confidence, not frequency.
	sessions.AddResult(userA, res(now.Add(-200*time.Second), emotion.Happy, 0.6))
	sessions.AddResult(userA, res(now.Add(-150*time.Second), emotion.Happy, 0.8))
	sessions.AddResult(userA, res(now.Add(-100*time.Second), emotion.Sad, 0.95))

	a.RunOnce()
	got := results.RecentAggregates(0, "")[0]
	if got.Emotion != "Sad" || math.Abs(got.EmotionConfidence-0.95) > 1e-9 {
		t.Errorf("aggregate = %s %.3f, want Sad 0.95", got.Emotion, got.EmotionConfidence)
	}
}

func TestRunOnceTieBreakDeterministic(t *testing.T) {
	a, sessions, results, clk, _ := fixture()
	now := clk.Now()

	// Equal means; the earlier label in enum order (Angry) wins.
	sessions.AddResult(userA, res(now.Add(-10*time.Second), emotion.Happy, 0.8))
	sessions.AddResult(userA, res(now.Add(-20*time.Second), emotion.Angry, 0.8))

	a.RunOnce()
	aggs := results.RecentAggregates(0, "")
	if len(aggs) != 1 || aggs[0].Emotion != "Angry" {
		t.Errorf("tie-break result = %+v, want Angry", aggs)
	}
}

func TestRunOnceSentimentMode(t *testing.T) {
	a, sessions, results, clk, _ := fixture()
	now := clk.Now()

	r1 := res(now.Add(-30*time.Second), emotion.Happy, 0.9)
	r1.Sentiment, r1.SentimentConfidence = "POS", 0.8
	r2 := res(now.Add(-20*time.Second), emotion.Happy, 0.9)
	r2.Sentiment, r2.SentimentConfidence = "POS", 0.6
	r3 := res(now.Add(-10*time.Second), emotion.Happy, 0.9)
	r3.Sentiment, r3.SentimentConfidence = "NEG", 0.99
	sessions.AddResult(userA, r1)
	sessions.AddResult(userA, r2)
	sessions.AddResult(userA, r3)

	a.RunOnce()
	got := results.RecentAggregates(0, "")[0]
	if got.Sentiment != "POS" {
		t.Errorf("sentiment = %s, want most-frequent POS", got.Sentiment)
	}
	if math.Abs(got.SentimentConfidence-0.7) > 1e-9 {
		t.Errorf("sentiment confidence = %.4f, want 0.70", got.SentimentConfidence)
	}
}

func TestRunOnceSkipsResultsOutsideWindow(t *testing.T) {
	a, sessions, results, clk, _ := fixture()
	now := clk.Now()

	sessions.AddResult(userA, res(now.Add(-400*time.Second), emotion.Sad, 0.9))
	if emitted := a.RunOnce(); emitted != 0 {
		t.Errorf("emitted = %d for out-of-window chunk, want 0", emitted)
	}
	if got := len(results.RecentAggregates(0, "")); got != 0 {
		t.Errorf("aggregate ring = %d entries, want 0", got)
	}
}

func TestRunOnceUsesCurrentInterval(t *testing.T) {
	a, sessions, results, clk, reg := fixture()
	now := clk.Now()

	// Inside a 300 s window but outside a 120 s one.
	sessions.AddResult(userA, res(now.Add(-200*time.Second), emotion.Happy, 0.9))

	if err := reg.AggInterval.Set(120); err != nil {
		t.Fatal(err)
	}
	if emitted := a.RunOnce(); emitted != 0 {
		t.Errorf("interval change not picked up: emitted = %d", emitted)
	}

	sessions.AddResult(userA, res(now.Add(-60*time.Second), emotion.Happy, 0.9))
	if emitted := a.RunOnce(); emitted != 1 {
		t.Fatalf("emitted = %d, want 1", emitted)
	}
	got := results.RecentAggregates(0, "")[0]
	if !got.WindowStart.Equal(now.Add(-120 * time.Second)) {
		t.Errorf("window start = %v, want now-120s", got.WindowStart)
	}
}

func TestRunOnceCleansUpStaleSessions(t *testing.T) {
	a, sessions, _, clk, _ := fixture()
	now := clk.Now()

	// One stale session (ended 700 s ago, beyond 2×300 s) and one live.
	staleID := sessions.AddResult(userA, res(now.Add(-700*time.Second), emotion.Sad, 0.9))
	liveID := sessions.AddResult(userA, res(now.Add(-100*time.Second), emotion.Happy, 0.9))

	a.RunOnce()

	remaining := sessions.Sessions(userA)
	if _, ok := remaining[staleID]; ok {
		t.Errorf("stale session survived cleanup")
	}
	if _, ok := remaining[liveID]; !ok {
		t.Errorf("live session was cleaned up")
	}
}

func TestRunOncePerSessionAggregates(t *testing.T) {
	a, sessions, results, clk, _ := fixture()
	now := clk.Now()

	// Two sessions for one user inside the window (split by the 60 s gap).
	sessions.AddResult(userA, res(now.Add(-290*time.Second), emotion.Happy, 0.9))
	sessions.AddResult(userA, res(now.Add(-100*time.Second), emotion.Sad, 0.8))

	if emitted := a.RunOnce(); emitted != 2 {
		t.Fatalf("emitted = %d, want one aggregate per session", emitted)
	}
	if got := len(results.RecentAggregates(0, userA)); got != 2 {
		t.Errorf("aggregate ring = %d entries for user, want 2", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	a, _, _, _, _ := fixture()
	a.Start()
	if !a.Running() {
		t.Fatalf("aggregator not running after Start")
	}

	for i := 0; i < 2; i++ {
		done := make(chan struct{})
		go func() {
			a.Stop(time.Second)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("Stop call %d did not return within the bounded timeout", i+1)
		}
	}
	if a.Running() {
		t.Errorf("aggregator still running after Stop")
	}
}

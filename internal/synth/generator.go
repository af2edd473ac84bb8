// Package synth fabricates ModelSignals for demo mode, bypassing the ML
// path and writing straight to the store's modality tables.
package synth

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eefei22/ser-engine/internal/control"
	"github.com/eefei22/ser-engine/internal/emotion"
	"github.com/eefei22/ser-engine/internal/metrics"
	"github.com/rs/zerolog"
)

// Clock is the subset of clock.Clock the generator needs.
type Clock interface {
	Now() time.Time
}

// Store is the slice of the store client the generator writes through.
// Real and synthetic rows share tables; these writes carry the synthetic
// flag.
type Store interface {
	InsertSyntheticSpeech(ctx context.Context, userID string, t time.Time, label emotion.Label, confidence float64) error
	InsertFaceEmotionSynthetic(ctx context.Context, userID string, t time.Time, label emotion.Label, confidence float64) error
	InsertVitalsEmotionSynthetic(ctx context.Context, userID string, t time.Time, label emotion.Label, confidence float64) error
}

// Generator runs unconditionally from boot; demo mode only gates whether
// a tick writes anything.
type Generator struct {
	store Store
	reg   *control.Registries
	clock Clock
	rng   *rand.Rand
	rngMu sync.Mutex
	log   zerolog.Logger

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool
}

// New builds a generator. rng may be nil, in which case a time-seeded
// source is used; tests inject a seeded one.
func New(store Store, reg *control.Registries, clk Clock, rng *rand.Rand, log zerolog.Logger) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{
		store: store,
		reg:   reg,
		clock: clk,
		rng:   rng,
		log:   log.With().Str("component", "synth").Logger(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (g *Generator) Start() {
	g.startOnce.Do(func() {
		g.running.Store(true)
		go g.loop()
		g.log.Info().Int("interval_seconds", g.reg.GenInterval.Get()).Msg("signal generator started")
	})
}

// Stop signals the loop and waits up to timeout. Idempotent.
func (g *Generator) Stop(timeout time.Duration) {
	g.stopOnce.Do(func() {
		close(g.stop)
		select {
		case <-g.done:
			g.log.Info().Msg("signal generator stopped")
		case <-time.After(timeout):
			g.log.Warn().Dur("timeout", timeout).Msg("signal generator did not finish cleanly")
		}
		g.running.Store(false)
	})
}

func (g *Generator) Running() bool { return g.running.Load() }

func (g *Generator) loop() {
	defer close(g.done)
	timer := time.NewTimer(g.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-timer.C:
		}
		g.Tick(context.Background())
		timer.Reset(g.currentInterval())
	}
}

func (g *Generator) currentInterval() time.Duration {
	secs := g.reg.GenInterval.Get()
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// Tick writes one signal per enabled modality when demo mode is on.
// Returns the number of rows written. Exported for tests and one-shot
// generation.
func (g *Generator) Tick(ctx context.Context) int {
	if !g.reg.Demo.Enabled() {
		return 0
	}

	userID := g.reg.SynthUser.Get()
	written := 0

	for _, m := range emotion.Modalities() {
		if !g.reg.Toggles.Enabled(m) {
			continue
		}
		sig := g.draw(userID, m)

		var err error
		switch m {
		case emotion.Speech:
			err = g.store.InsertSyntheticSpeech(ctx, sig.UserID, sig.Timestamp, sig.Label, sig.Confidence)
		case emotion.Face:
			err = g.store.InsertFaceEmotionSynthetic(ctx, sig.UserID, sig.Timestamp, sig.Label, sig.Confidence)
		case emotion.Vitals:
			err = g.store.InsertVitalsEmotionSynthetic(ctx, sig.UserID, sig.Timestamp, sig.Label, sig.Confidence)
		}
		if err != nil {
			g.log.Warn().Err(err).Str("modality", string(m)).Msg("synthetic insert failed, skipped")
			continue
		}
		metrics.SyntheticSignalsTotal.WithLabelValues(string(m)).Inc()
		written++
	}

	if written > 0 {
		g.log.Debug().Int("signals", written).Str("user_id", userID).Msg("synthetic signals written")
	}
	return written
}

// draw fabricates one signal. With a bias set, the biased label is drawn
// with probability 0.75 and the other three share the remaining 0.25
// evenly; without one, the four labels are uniform. Confidence is uniform
// in [0.5, 0.95], two decimals.
func (g *Generator) draw(userID string, m emotion.Modality) emotion.Signal {
	g.rngMu.Lock()
	bias, biased := g.reg.Bias.Get(m)
	var label emotion.Label
	if biased && g.rng.Float64() < 0.75 {
		label = bias
	} else {
		candidates := emotion.All()
		if biased {
			others := make([]emotion.Label, 0, 3)
			for _, l := range candidates {
				if l != bias {
					others = append(others, l)
				}
			}
			candidates = others
		}
		label = candidates[g.rng.Intn(len(candidates))]
	}
	confidence := math.Round((0.5+g.rng.Float64()*0.45)*100) / 100
	g.rngMu.Unlock()

	return emotion.Signal{
		UserID:     userID,
		Timestamp:  g.clock.Now(),
		Modality:   m,
		Label:      label,
		Confidence: confidence,
	}
}

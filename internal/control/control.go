// Package control holds the operator-mutable runtime settings. Each
// registry has its own mutex; writes are atomic per field and there is no
// cross-field consistency — the periodic tasks re-read what they need at
// each tick, which is the only coupling required.
package control

import (
	"fmt"
	"sync"

	"github.com/eefei22/ser-engine/internal/emotion"
	"github.com/google/uuid"
)

// ErrOutOfRange marks a setter rejection the HTTP layer maps to 400.
type ErrOutOfRange struct {
	Field    string
	Value    int
	Min, Max int
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("%s must be between %d and %d, got %d", e.Field, e.Min, e.Max, e.Value)
}

// BoundedInterval is a seconds-valued setting with inclusive bounds.
type BoundedInterval struct {
	mu       sync.Mutex
	name     string
	secs     int
	min, max int
}

func NewBoundedInterval(name string, initial, min, max int) *BoundedInterval {
	return &BoundedInterval{name: name, secs: initial, min: min, max: max}
}

func (b *BoundedInterval) Get() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.secs
}

func (b *BoundedInterval) Set(secs int) error {
	if secs < b.min || secs > b.max {
		return &ErrOutOfRange{Field: b.name, Value: secs, Min: b.min, Max: b.max}
	}
	b.mu.Lock()
	b.secs = secs
	b.mu.Unlock()
	return nil
}

func (b *BoundedInterval) Bounds() (min, max int) { return b.min, b.max }

// DemoMode gates the synthetic signal generator. Off by default; resets
// on restart.
type DemoMode struct {
	mu      sync.Mutex
	enabled bool
}

func (d *DemoMode) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *DemoMode) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// EmotionBias holds the optional per-modality bias. A set bias makes the
// generator draw that label with probability 0.75.
type EmotionBias struct {
	mu     sync.Mutex
	biases map[emotion.Modality]emotion.Label
}

func NewEmotionBias() *EmotionBias {
	return &EmotionBias{biases: make(map[emotion.Modality]emotion.Label)}
}

// Get returns the bias for a modality, ok=false when none is set.
func (e *EmotionBias) Get(m emotion.Modality) (emotion.Label, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.biases[m]
	return l, ok
}

// Set installs a bias; a nil label clears it.
func (e *EmotionBias) Set(m emotion.Modality, label *emotion.Label) error {
	if label != nil && !label.Valid() {
		return fmt.Errorf("invalid emotion %q: must be one of Angry, Sad, Happy, Fear", *label)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if label == nil {
		delete(e.biases, m)
		return nil
	}
	e.biases[m] = *label
	return nil
}

// All returns the bias per modality; nil entries mean no bias.
func (e *EmotionBias) All() map[emotion.Modality]*emotion.Label {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[emotion.Modality]*emotion.Label, 3)
	for _, m := range emotion.Modalities() {
		if l, ok := e.biases[m]; ok {
			cp := l
			out[m] = &cp
		} else {
			out[m] = nil
		}
	}
	return out
}

// ModalityToggle enables or disables generation per modality. All
// modalities start enabled.
type ModalityToggle struct {
	mu      sync.Mutex
	enabled map[emotion.Modality]bool
}

func NewModalityToggle() *ModalityToggle {
	t := &ModalityToggle{enabled: make(map[emotion.Modality]bool, 3)}
	for _, m := range emotion.Modalities() {
		t.enabled[m] = true
	}
	return t
}

func (t *ModalityToggle) Enabled(m emotion.Modality) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled[m]
}

func (t *ModalityToggle) SetEnabled(m emotion.Modality, enabled bool) {
	t.mu.Lock()
	t.enabled[m] = enabled
	t.mu.Unlock()
}

func (t *ModalityToggle) All() map[emotion.Modality]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[emotion.Modality]bool, len(t.enabled))
	for m, v := range t.enabled {
		out[m] = v
	}
	return out
}

// SynthUser holds the UUID receiving synthetic signals. Seeded from
// configuration, mutable at runtime, resets on restart.
type SynthUser struct {
	mu     sync.Mutex
	userID string
}

func NewSynthUser(userID string) *SynthUser {
	return &SynthUser{userID: userID}
}

func (s *SynthUser) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *SynthUser) Set(userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("invalid UUID %q: %w", userID, err)
	}
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	return nil
}

// Registries bundles the control-plane state constructed once at startup
// and passed to the components that read it.
type Registries struct {
	Demo        *DemoMode
	Bias        *EmotionBias
	Toggles     *ModalityToggle
	SynthUser   *SynthUser
	AggInterval *BoundedInterval
	GenInterval *BoundedInterval
}

// New builds the registries with the given seeds. Bounds are fixed:
// aggregation [60, 3600] s, generation [5, 300] s.
func New(aggIntervalSecs, genIntervalSecs int, synthUserID string) *Registries {
	return &Registries{
		Demo:        &DemoMode{},
		Bias:        NewEmotionBias(),
		Toggles:     NewModalityToggle(),
		SynthUser:   NewSynthUser(synthUserID),
		AggInterval: NewBoundedInterval("aggregation interval", aggIntervalSecs, 60, 3600),
		GenInterval: NewBoundedInterval("generation interval", genIntervalSecs, 5, 300),
	}
}

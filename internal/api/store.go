package api

import (
	"context"
	"time"

	"github.com/eefei22/ser-engine/internal/emotion"
)

// Store is the slice of the store client the HTTP layer reads and writes
// through. *database.DB satisfies it; tests substitute fakes.
type Store interface {
	InsertSyntheticSpeechRaw(ctx context.Context, userID string, t time.Time, rawLabel string, confidence float64) error
	InsertFaceEmotionSynthetic(ctx context.Context, userID string, t time.Time, label emotion.Label, confidence float64) error
	InsertVitalsEmotionSynthetic(ctx context.Context, userID string, t time.Time, label emotion.Label, confidence float64) error
	QueryVoiceEmotionSignals(ctx context.Context, userID string, start, end time.Time, includeSynthetic bool) ([]emotion.Signal, error)
	LastDownstreamConsumption(ctx context.Context, userID string) (time.Time, bool, error)
	HealthCheck(ctx context.Context) error
}

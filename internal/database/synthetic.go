package database

import (
	"context"
	"time"

	"github.com/eefei22/ser-engine/internal/clock"
	"github.com/eefei22/ser-engine/internal/emotion"
)

// The face and vitals tables only ever receive synthetic rows from this
// service; the live models write them through their own deployments.

// InsertFaceEmotionSynthetic writes one synthetic face-modality row.
func (db *DB) InsertFaceEmotionSynthetic(ctx context.Context, userID string, t time.Time, label emotion.Label, confidence float64) error {
	return db.insertModalitySynthetic(ctx, "face_emotion", userID, t, label, confidence)
}

// InsertVitalsEmotionSynthetic writes one synthetic vitals-modality row.
func (db *DB) InsertVitalsEmotionSynthetic(ctx context.Context, userID string, t time.Time, label emotion.Label, confidence float64) error {
	return db.insertModalitySynthetic(ctx, "vitals_emotion", userID, t, label, confidence)
}

func (db *DB) insertModalitySynthetic(ctx context.Context, table, userID string, t time.Time, label emotion.Label, confidence float64) error {
	t = t.In(clock.AppZone)
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO `+table+` (user_id, timestamp, predicted_emotion, emotion_confidence, date, is_synthetic)
		VALUES ($1, $2, $3, $4, $5, true)
	`, userID, t, string(label), confidence, t.Format("2006-01-02"))
	return classify(err)
}

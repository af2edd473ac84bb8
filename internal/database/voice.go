package database

import (
	"context"
	"time"

	"github.com/eefei22/ser-engine/internal/clock"
	"github.com/eefei22/ser-engine/internal/emotion"
)

// VoiceEmotionRow is one row of the speech table. PredictedEmotion stores
// whatever the classifier produced (four-class or raw nine-class for
// injected test signals); readers normalize through emotion.MapRaw.
type VoiceEmotionRow struct {
	ID                  int64
	UserID              string
	Timestamp           time.Time
	SampleRate          int
	FrameSizeMS         float64
	FrameStrideMS       float64
	DurationSec         float64
	PredictedEmotion    string
	EmotionConfidence   float64
	Transcript          *string
	Language            *string
	Sentiment           *string
	SentimentConfidence *float64
	IsSynthetic         bool
}

// InsertVoiceEmotion writes one speech analysis row and returns it with
// the generated id. Timestamps are normalized to UTC+8 before persisting.
func (db *DB) InsertVoiceEmotion(ctx context.Context, row *VoiceEmotionRow) (*VoiceEmotionRow, error) {
	row.Timestamp = row.Timestamp.In(clock.AppZone)
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO voice_emotion (
			user_id, timestamp, sample_rate, frame_size_ms, frame_stride_ms,
			duration_sec, predicted_emotion, emotion_confidence,
			transcript, language, sentiment, sentiment_confidence, is_synthetic
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`,
		row.UserID, row.Timestamp, row.SampleRate, row.FrameSizeMS, row.FrameStrideMS,
		row.DurationSec, row.PredictedEmotion, row.EmotionConfidence,
		row.Transcript, row.Language, row.Sentiment, row.SentimentConfidence, row.IsSynthetic,
	).Scan(&row.ID)
	if err != nil {
		return nil, classify(err)
	}
	return row, nil
}

// InsertSyntheticSpeech writes a generator-produced speech signal. The
// label is stored in its wire form; readers map it back to the enum.
func (db *DB) InsertSyntheticSpeech(ctx context.Context, userID string, t time.Time, label emotion.Label, confidence float64) error {
	return db.insertSyntheticSpeechRaw(ctx, userID, t, string(label), confidence)
}

// InsertSyntheticSpeechRaw is the inject-signals variant: it accepts raw
// nine-class labels as-is so integration tests can exercise the reader's
// normalization path.
func (db *DB) InsertSyntheticSpeechRaw(ctx context.Context, userID string, t time.Time, rawLabel string, confidence float64) error {
	return db.insertSyntheticSpeechRaw(ctx, userID, t, rawLabel, confidence)
}

func (db *DB) insertSyntheticSpeechRaw(ctx context.Context, userID string, t time.Time, label string, confidence float64) error {
	_, err := db.InsertVoiceEmotion(ctx, &VoiceEmotionRow{
		UserID:            userID,
		Timestamp:         t,
		SampleRate:        16000,
		FrameSizeMS:       defaultFrameSizeMS,
		FrameStrideMS:     defaultFrameStrideMS,
		DurationSec:       10.0,
		PredictedEmotion:  label,
		EmotionConfidence: confidence,
		IsSynthetic:       true,
	})
	return err
}

const (
	defaultFrameSizeMS   = 25.0
	defaultFrameStrideMS = 10.0
)

// QueryVoiceEmotionSignals returns the user's speech signals in
// [start, end], ordered by timestamp ascending, normalized to the
// four-class enum. Rows whose stored label does not map are filtered out
// here so downstream consumers never see a fifth class.
func (db *DB) QueryVoiceEmotionSignals(ctx context.Context, userID string, start, end time.Time, includeSynthetic bool) ([]emotion.Signal, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT timestamp, predicted_emotion, emotion_confidence
		FROM voice_emotion
		WHERE user_id = $1
		  AND timestamp >= $2 AND timestamp <= $3
		  AND ($4 OR NOT is_synthetic)
		ORDER BY timestamp ASC
	`, userID, start.In(clock.AppZone), end.In(clock.AppZone), includeSynthetic)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var signals []emotion.Signal
	for rows.Next() {
		var (
			ts   time.Time
			raw  string
			conf float64
		)
		if err := rows.Scan(&ts, &raw, &conf); err != nil {
			return nil, classify(err)
		}
		label, ok := emotion.MapRaw(raw)
		if !ok {
			continue
		}
		signals = append(signals, emotion.Signal{
			UserID:     userID,
			Timestamp:  ts.In(clock.AppZone),
			Modality:   emotion.Speech,
			Label:      label,
			Confidence: conf,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return signals, nil
}

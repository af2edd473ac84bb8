package pipeline

import (
	"encoding/json"
	"fmt"
)

// The sidecar wraps several model runtimes and its response shape drifts
// with them: the payload may sit under "analysis_result", be a single
// object or a one-element list, and name the emotion "label" or "labels"
// (list) with "score"/"scores"/"confidence" to match. Normalize fixes a
// single canonical Analysis here so the rest of the service never sees
// the drift.

type rawAnalysis struct {
	Emotion             *string         `json:"emotion"`
	Label               *string         `json:"label"`
	Labels              []string        `json:"labels"`
	EmotionConfidence   *float64        `json:"emotion_confidence"`
	Score               *float64        `json:"score"`
	Scores              []float64       `json:"scores"`
	Confidence          *float64        `json:"confidence"`
	Transcript          string          `json:"transcript"`
	Language            string          `json:"language"`
	Sentiment           string          `json:"sentiment"`
	SentimentConfidence *float64        `json:"sentiment_confidence"`
	AnalysisResult      json.RawMessage `json:"analysis_result"`
}

// Normalize parses a sidecar response body into the canonical Analysis.
func Normalize(body []byte) (*Analysis, error) {
	raw, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}

	// Unwrap {"analysis_result": ...} once.
	if len(raw.AnalysisResult) > 0 {
		inner, err := decodeEnvelope(raw.AnalysisResult)
		if err != nil {
			return nil, fmt.Errorf("analysis_result: %w", err)
		}
		raw = inner
	}

	a := &Analysis{
		Transcript: raw.Transcript,
		Language:   raw.Language,
		Sentiment:  raw.Sentiment,
	}

	switch {
	case raw.Emotion != nil:
		a.Emotion = *raw.Emotion
	case raw.Label != nil:
		a.Emotion = *raw.Label
	case len(raw.Labels) > 0:
		a.Emotion = raw.Labels[0]
	}

	switch {
	case raw.EmotionConfidence != nil:
		a.EmotionConfidence = *raw.EmotionConfidence
	case len(raw.Scores) > 0:
		a.EmotionConfidence = raw.Scores[0]
	case raw.Score != nil:
		a.EmotionConfidence = *raw.Score
	case raw.Confidence != nil:
		a.EmotionConfidence = *raw.Confidence
	}

	if raw.SentimentConfidence != nil {
		a.SentimentConfidence = *raw.SentimentConfidence
	}
	return a, nil
}

// decodeEnvelope accepts a JSON object or a non-empty list of objects
// (first element wins).
func decodeEnvelope(body []byte) (*rawAnalysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal(body, &raw); err == nil {
		return &raw, nil
	}

	var list []rawAnalysis
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("unrecognized payload shape: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("empty result list")
	}
	return &list[0], nil
}

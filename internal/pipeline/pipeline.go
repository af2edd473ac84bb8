package pipeline

import "context"

// Analysis is the canonical shape of one chunk's inference output. The
// sidecar's wire format is looser (see normalize.go); nothing outside
// this package handles that looseness.
//
// Emotion carries the classifier's raw nine-class label. Mapping onto the
// four-class contract — and dropping neutral/other/unknown — happens at
// the worker, not here.
type Analysis struct {
	Emotion             string
	EmotionConfidence   float64
	Transcript          string
	Language            string
	Sentiment           string
	SentimentConfidence float64
}

// Analyzer runs the full ML pipeline (emotion, transcription, language
// detection, sentiment) on one audio file. Implementations may take
// minutes per call; the worker passes a bounded context. Any error means
// the chunk is skipped — the worker never re-enters the pipeline for the
// same chunk.
type Analyzer interface {
	Analyze(ctx context.Context, audioPath string) (*Analysis, error)
}

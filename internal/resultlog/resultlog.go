package resultlog

import (
	"sync"
	"time"
)

// Ring is a bounded, mutex-guarded ring buffer. Append is O(1); Recent
// walks newest-first. Entries do not survive a restart — losing the last
// few hundred display rows on redeploy is acceptable.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int // next write position
	count int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// Recent returns up to limit entries newest-first. keep filters entries
// when non-nil. limit <= 0 means no limit.
func (r *Ring[T]) Recent(limit int, keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []T
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + len(r.buf)*2) % len(r.buf)
		v := r.buf[idx]
		if keep != nil && !keep(v) {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// ChunkEntry is the display copy of one processed chunk kept for the
// dashboard and /ser/status. Persisted records whether the store insert
// succeeded.
type ChunkEntry struct {
	UserID              string    `json:"user_id"`
	SessionID           string    `json:"session_id"`
	Timestamp           time.Time `json:"timestamp"`
	ProcessedAt         time.Time `json:"processed_at"`
	Emotion             string    `json:"emotion"`
	EmotionConfidence   float64   `json:"emotion_confidence"`
	Transcript          string    `json:"transcript,omitempty"`
	Language            string    `json:"language,omitempty"`
	Sentiment           string    `json:"sentiment,omitempty"`
	SentimentConfidence float64   `json:"sentiment_confidence,omitempty"`
	Persisted           bool      `json:"persisted"`
}

// AggregateEntry is the display copy of one emitted aggregation.
type AggregateEntry struct {
	EmittedAt           time.Time `json:"timestamp"`
	UserID              string    `json:"user_id"`
	SessionID           string    `json:"session_id"`
	WindowStart         time.Time `json:"window_start"`
	WindowEnd           time.Time `json:"window_end"`
	ChunkCount          int       `json:"chunk_count"`
	Emotion             string    `json:"emotion"`
	EmotionConfidence   float64   `json:"emotion_confidence"`
	Sentiment           string    `json:"sentiment,omitempty"`
	SentimentConfidence float64   `json:"sentiment_confidence,omitempty"`
}

// Log holds the two recent-result rings.
type Log struct {
	chunks     *Ring[ChunkEntry]
	aggregates *Ring[AggregateEntry]
}

const (
	minChunkCapacity     = 500
	minAggregateCapacity = 1000
)

// New builds a Log. Capacities below the documented minimums are raised
// to them.
func New(chunkCapacity, aggregateCapacity int) *Log {
	if chunkCapacity < minChunkCapacity {
		chunkCapacity = minChunkCapacity
	}
	if aggregateCapacity < minAggregateCapacity {
		aggregateCapacity = minAggregateCapacity
	}
	return &Log{
		chunks:     NewRing[ChunkEntry](chunkCapacity),
		aggregates: NewRing[AggregateEntry](aggregateCapacity),
	}
}

func (l *Log) AddChunk(e ChunkEntry)         { l.chunks.Append(e) }
func (l *Log) AddAggregate(e AggregateEntry) { l.aggregates.Append(e) }

// RecentChunks returns up to limit chunk entries newest-first, optionally
// filtered by user.
func (l *Log) RecentChunks(limit int, userID string) []ChunkEntry {
	var keep func(ChunkEntry) bool
	if userID != "" {
		keep = func(e ChunkEntry) bool { return e.UserID == userID }
	}
	return l.chunks.Recent(limit, keep)
}

// RecentAggregates returns up to limit aggregate entries newest-first,
// optionally filtered by user.
func (l *Log) RecentAggregates(limit int, userID string) []AggregateEntry {
	var keep func(AggregateEntry) bool
	if userID != "" {
		keep = func(e AggregateEntry) bool { return e.UserID == userID }
	}
	return l.aggregates.Recent(limit, keep)
}

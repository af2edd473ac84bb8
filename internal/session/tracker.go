package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/eefei22/ser-engine/internal/clock"
	"github.com/eefei22/ser-engine/internal/emotion"
	"github.com/rs/zerolog"
)

// Result is one chunk's inference outcome as held in memory. The emotion
// is always one of the four canonical labels — the worker drops anything
// else before it reaches the tracker.
type Result struct {
	Timestamp           time.Time
	Emotion             emotion.Label
	EmotionConfidence   float64
	Transcript          string
	Language            string
	Sentiment           string
	SentimentConfidence float64
}

// Meta carries a session's boundary timestamps.
type Meta struct {
	Start     time.Time
	LastChunk time.Time
}

type userSessions struct {
	mu       sync.Mutex
	sessions map[string][]Result
	meta     map[string]*Meta
}

// Tracker groups chunk results into per-user sessions split on
// inter-arrival gaps. A coarse top-level mutex guards user-map creation;
// a per-user mutex serializes all appends and reads for that user.
type Tracker struct {
	mu    sync.Mutex
	users map[string]*userSessions
	gap   time.Duration
	log   zerolog.Logger
}

func NewTracker(gap time.Duration, log zerolog.Logger) *Tracker {
	return &Tracker{
		users: make(map[string]*userSessions),
		gap:   gap,
		log:   log.With().Str("component", "sessions").Logger(),
	}
}

func (t *Tracker) user(userID string) *userSessions {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		u = &userSessions{
			sessions: make(map[string][]Result),
			meta:     make(map[string]*Meta),
		}
		t.users[userID] = u
	}
	return u
}

// sessionID derives the deterministic id from the first chunk's wall
// time. Two sessions of one user started within the same second collide;
// the collision is tolerated by reusing the existing session (known
// limitation inherited from the session contract).
func sessionID(userID string, ts time.Time) string {
	return fmt.Sprintf("%s_%s", userID, ts.In(clock.AppZone).Format("20060102_150405"))
}

// AddResult appends the result to the user's most recent session, or
// starts a new session when the gap since that session's last chunk
// exceeds the threshold. A gap exactly at the threshold stays in the same
// session. Returns the session id.
func (t *Tracker) AddResult(userID string, r Result) string {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	id := u.detectSession(userID, r.Timestamp, t.gap)

	if _, ok := u.sessions[id]; !ok {
		u.sessions[id] = nil
		u.meta[id] = &Meta{Start: r.Timestamp, LastChunk: r.Timestamp}
		t.log.Debug().Str("user_id", userID).Str("session_id", id).Msg("session created")
	}

	u.sessions[id] = append(u.sessions[id], r)
	// Out-of-order arrivals may not advance the watermark.
	if m := u.meta[id]; r.Timestamp.After(m.LastChunk) {
		m.LastChunk = r.Timestamp
	}
	return id
}

// detectSession finds the session with the greatest last-chunk time and
// decides whether the new timestamp belongs to it. Caller holds u.mu.
func (u *userSessions) detectSession(userID string, ts time.Time, gap time.Duration) string {
	var recentID string
	var recentLast time.Time
	for id, m := range u.meta {
		if recentID == "" || m.LastChunk.After(recentLast) {
			recentID = id
			recentLast = m.LastChunk
		}
	}
	if recentID == "" {
		return sessionID(userID, ts)
	}
	if ts.Sub(recentLast) > gap {
		return sessionID(userID, ts)
	}
	return recentID
}

// ActiveSessionsInWindow returns, per user and session, copies of the
// results whose timestamps fall within [start, end]. The snapshot is
// independent of the live state: later appends do not mutate it.
func (t *Tracker) ActiveSessionsInWindow(start, end time.Time) map[string]map[string][]Result {
	t.mu.Lock()
	userIDs := make([]string, 0, len(t.users))
	for id := range t.users {
		userIDs = append(userIDs, id)
	}
	t.mu.Unlock()

	active := make(map[string]map[string][]Result)
	for _, userID := range userIDs {
		u := t.user(userID)
		u.mu.Lock()
		for id, results := range u.sessions {
			var inWindow []Result
			for _, r := range results {
				if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
					inWindow = append(inWindow, r)
				}
			}
			if len(inWindow) > 0 {
				if active[userID] == nil {
					active[userID] = make(map[string][]Result)
				}
				active[userID][id] = inWindow
			}
		}
		u.mu.Unlock()
	}
	return active
}

// Sessions returns copies of all sessions for one user.
func (t *Tracker) Sessions(userID string) map[string][]Result {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[string][]Result, len(u.sessions))
	for id, results := range u.sessions {
		cp := make([]Result, len(results))
		copy(cp, results)
		out[id] = cp
	}
	return out
}

// SessionMeta returns copies of the session metadata for one user.
func (t *Tracker) SessionMeta(userID string) map[string]Meta {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[string]Meta, len(u.meta))
	for id, m := range u.meta {
		out[id] = *m
	}
	return out
}

// CleanupOlderThan drops the user's sessions whose last chunk is strictly
// before cutoff. A session last touched exactly at cutoff survives,
// matching the window end's inclusiveness.
func (t *Tracker) CleanupOlderThan(userID string, cutoff time.Time) {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	for id, m := range u.meta {
		if m.LastChunk.Before(cutoff) {
			chunks := len(u.sessions[id])
			delete(u.sessions, id)
			delete(u.meta, id)
			t.log.Debug().Str("user_id", userID).Str("session_id", id).
				Int("chunks", chunks).Msg("session cleaned up")
		}
	}
}

// ClearUser drops all sessions for one user.
func (t *Tracker) ClearUser(userID string) int {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	n := len(u.sessions)
	u.sessions = make(map[string][]Result)
	u.meta = make(map[string]*Meta)
	if n > 0 {
		t.log.Info().Str("user_id", userID).Int("sessions", n).Msg("sessions cleared")
	}
	return n
}

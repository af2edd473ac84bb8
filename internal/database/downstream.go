package database

import (
	"context"
	"time"

	"github.com/eefei22/ser-engine/internal/clock"
)

// LastDownstreamConsumption returns the most recent timestamp the fusion
// service logged for this user, or ok=false when it has never run. Used
// only as a dashboard low-water mark; a query failure also yields
// ok=false so a flaky downstream table can never break a read path.
func (db *DB) LastDownstreamConsumption(ctx context.Context, userID string) (time.Time, bool, error) {
	var ts *time.Time
	err := db.Pool.QueryRow(ctx, `
		SELECT MAX(timestamp) FROM emotional_log WHERE user_id = $1
	`, userID).Scan(&ts)
	if err != nil {
		return time.Time{}, false, classify(err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.In(clock.AppZone), true, nil
}

package database

import "context"

// InitSchema applies the embedded schema on a fresh database. The
// voice_emotion table stands proxy for the whole schema. A no-op when the
// tables already exist; the shared production database is migrated out of
// band and this path only fires on local/dev instances.
func (db *DB) InitSchema(ctx context.Context, schemaSQL []byte) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'voice_emotion')`,
	).Scan(&exists)
	if err != nil {
		return classify(err)
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected — applying schema")
	if _, err := db.Pool.Exec(ctx, string(schemaSQL)); err != nil {
		return classify(err)
	}
	db.log.Info().Msg("schema applied")
	return nil
}

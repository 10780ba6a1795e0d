package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Bootstrap creates the event store, projection and checkpoint tables.
// Idempotent; safe to run on every startup.
func Bootstrap(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS account_event (
			global_position BIGSERIAL PRIMARY KEY,
			event_id        UUID NOT NULL UNIQUE,
			stream_id       TEXT NOT NULL,
			revision        BIGINT NOT NULL,
			event_type      TEXT NOT NULL,
			payload         JSONB NOT NULL,
			occurred_on     TIMESTAMPTZ NOT NULL,
			UNIQUE (stream_id, revision)
		)`,
		`CREATE TABLE IF NOT EXISTS account_projection (
			id                           UUID PRIMARY KEY,
			customer_id                  UUID NOT NULL,
			currency                     TEXT NOT NULL,
			type                         TEXT NOT NULL,
			status                       TEXT NOT NULL,
			balance                      NUMERIC(19, 4) NOT NULL,
			revision                     BIGINT NOT NULL,
			pending_out_of_order_updates INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency_key (
			key UUID PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS feed_checkpoint (
			name     TEXT PRIMARY KEY,
			position BIGINT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}

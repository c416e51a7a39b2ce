package dedupe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Tracker is a ledger of ingested images. Each submission of the same
// object key bumps its seen count, which surfaces redelivered or re-uploaded images.
type Tracker struct {
	db      *sql.DB
	dialect string
}

// NewTracker creates a new dedupe tracker on a postgres or sqlite3 database
func NewTracker(db *sql.DB, dialect string) (*Tracker, error) {
	switch dialect {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported dedupe dialect %q", dialect)
	}
	tracker := &Tracker{db: db, dialect: dialect}

	if err := tracker.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure dedupe table: %w", err)
	}

	return tracker, nil
}

// bind rewrites $n placeholders for drivers that use ?
func (t *Tracker) bind(query string) string {
	if t.dialect == "postgres" {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", i), "?")
	}
	return query
}

// ensureTable creates the image_ingest_dedupe table if it doesn't exist
func (t *Tracker) ensureTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS image_ingest_dedupe (
			object_key TEXT PRIMARY KEY,
			pipeline TEXT,
			pipeline_version INTEGER,
			first_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			seen_count INTEGER DEFAULT 1
		)
	`

	if _, err := t.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create image_ingest_dedupe table: %w", err)
	}

	log.Printf("✓ image_ingest_dedupe table ready")
	return nil
}

// Record records an image submission and returns its seen count
func (t *Tracker) Record(ctx context.Context, objectKey string, pipeline string, pipelineVersion int) (int, error) {
	query := t.bind(`
		INSERT INTO image_ingest_dedupe (object_key, pipeline, pipeline_version, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 1)
		ON CONFLICT (object_key) DO UPDATE
		SET last_seen_at = CURRENT_TIMESTAMP,
		    seen_count = image_ingest_dedupe.seen_count + 1,
		    pipeline = excluded.pipeline,
		    pipeline_version = excluded.pipeline_version
		RETURNING seen_count
	`)

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, objectKey, pipeline, pipelineVersion).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}

	return seenCount, nil
}

// GetSeenCount retrieves the seen count for an object key
func (t *Tracker) GetSeenCount(ctx context.Context, objectKey string) (int, error) {
	query := t.bind(`SELECT seen_count FROM image_ingest_dedupe WHERE object_key = $1`)

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, objectKey).Scan(&seenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}

	return seenCount, nil
}

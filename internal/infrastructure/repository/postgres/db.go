package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockID int64 = 2024030101

// EnsureSchema creates the survey tables. api and worker both call it on startup, so the
// DDL runs under a transaction-scoped advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS surveys (
	id TEXT PRIMARY KEY,
	field_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	capture_date TEXT,
	source TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	tree_count INTEGER,
	trees_per_acre DOUBLE PRECISION,
	average_ndvi DOUBLE PRECISION,
	canopy_coverage_percent DOUBLE PRECISION,
	average_confidence DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_surveys_field_created ON surveys(field_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_surveys_status ON surveys(status);

CREATE TABLE IF NOT EXISTS survey_trees (
	survey_id TEXT NOT NULL REFERENCES surveys(id) ON DELETE CASCADE,
	ordinal INTEGER NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (survey_id, ordinal)
);

CREATE TABLE IF NOT EXISTS survey_summaries (
	survey_id TEXT PRIMARY KEY REFERENCES surveys(id) ON DELETE CASCADE,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

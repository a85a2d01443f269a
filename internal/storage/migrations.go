package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order on startup. Statements are idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS observers (
		id         TEXT NOT NULL,
		version    BIGINT NOT NULL,
		definition JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (id, version)
	)`,

	`CREATE TABLE IF NOT EXISTS streams (
		observer_id TEXT NOT NULL,
		stream_id   TEXT NOT NULL,
		version     BIGINT NOT NULL,
		definition  JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (observer_id, stream_id, version)
	)`,

	`CREATE TABLE IF NOT EXISTS stream_points (
		added_id       BIGSERIAL PRIMARY KEY,
		username       TEXT NOT NULL,
		observer_id    TEXT NOT NULL,
		stream_id      TEXT NOT NULL,
		stream_version BIGINT NOT NULL,
		point_id       TEXT,
		observed_at    TIMESTAMPTZ NOT NULL,
		data           JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_stream_points_dedup
		ON stream_points (username, observer_id, stream_id, stream_version, point_id)
		WHERE point_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS invalid_points (
		added_id         BIGSERIAL PRIMARY KEY,
		username         TEXT NOT NULL,
		observer_id      TEXT NOT NULL,
		observer_version BIGINT NOT NULL,
		point_index      BIGINT NOT NULL,
		data             TEXT NOT NULL,
		reason           TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS response_rows (
		added_id                 BIGSERIAL PRIMARY KEY,
		username                 TEXT NOT NULL,
		observed_at              TIMESTAMPTZ NOT NULL,
		survey_id                TEXT NOT NULL,
		repeatable_set_id        TEXT,
		repeatable_set_iteration INT,
		prompt_id                TEXT NOT NULL,
		prompt_type              TEXT NOT NULL,
		display_label            TEXT,
		unit                     TEXT,
		response                 TEXT NOT NULL,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_response_rows_survey
		ON response_rows (survey_id, observed_at)`,

	`CREATE INDEX IF NOT EXISTS idx_response_rows_username
		ON response_rows (username, observed_at)`,
}

// RunMigrations creates all tables and indexes the store needs.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

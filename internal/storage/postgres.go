package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mhealthlab/collector/internal/observer"
	"github.com/mhealthlab/collector/internal/rollup"
)

// defaultResponseLimit caps a response-row query when the caller does not
// set one.
const defaultResponseLimit = 10000

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresStore creates a Store backed by the given pool. queryTimeout
// sets the per-query context deadline; zero means no timeout.
func NewPostgresStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, queryTimeout: queryTimeout}
}

// withTimeout derives a child context with the configured query timeout.
// If queryTimeout is zero, the parent context is returned unchanged.
func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *PostgresStore) SaveObserver(ctx context.Context, o *observer.Observer) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	definition, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal observer: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save observer: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO observers (id, version, definition)
		VALUES ($1, $2, $3)
	`, o.ID, o.Version, definition)
	if err != nil {
		return fmt.Errorf("insert observer: %w", err)
	}

	for _, id := range o.StreamIDs() {
		stream := o.Streams[id]
		streamDef, err := json.Marshal(stream)
		if err != nil {
			return fmt.Errorf("marshal stream %q: %w", id, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO streams (observer_id, stream_id, version, definition)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (observer_id, stream_id, version) DO NOTHING
		`, o.ID, id, stream.Version, streamDef)
		if err != nil {
			return fmt.Errorf("insert stream %q: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save observer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Observer(ctx context.Context, id string) (*observer.Observer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.scanObserver(s.pool.QueryRow(ctx, `
		SELECT definition FROM observers
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1
	`, id))
}

func (s *PostgresStore) ObserverAt(ctx context.Context, id string, version int64) (*observer.Observer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.scanObserver(s.pool.QueryRow(ctx, `
		SELECT definition FROM observers
		WHERE id = $1 AND version = $2
	`, id, version))
}

func (s *PostgresStore) scanObserver(row pgx.Row) (*observer.Observer, error) {
	var definition []byte
	if err := row.Scan(&definition); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrObserverNotFound
		}
		return nil, fmt.Errorf("get observer: %w", err)
	}
	var o observer.Observer
	if err := json.Unmarshal(definition, &o); err != nil {
		return nil, fmt.Errorf("unmarshal observer: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) GreatestObserverVersion(ctx context.Context, id string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var version int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM observers WHERE id = $1
	`, id).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("greatest observer version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) GreatestStreamVersion(ctx context.Context, observerID, streamID string) (int64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var version *int64
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(version) FROM streams
		WHERE observer_id = $1 AND stream_id = $2
	`, observerID, streamID).Scan(&version)
	if err != nil {
		return 0, false, fmt.Errorf("greatest stream version: %w", err)
	}
	if version == nil {
		return 0, false, nil
	}
	return *version, true, nil
}

func (s *PostgresStore) StreamDefinition(ctx context.Context, observerID, streamID string, version int64) (*observer.Stream, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var definition []byte
	err := s.pool.QueryRow(ctx, `
		SELECT definition FROM streams
		WHERE observer_id = $1 AND stream_id = $2 AND version = $3
	`, observerID, streamID, version).Scan(&definition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStreamNotFound
		}
		return nil, fmt.Errorf("get stream definition: %w", err)
	}
	var stream observer.Stream
	if err := json.Unmarshal(definition, &stream); err != nil {
		return nil, fmt.Errorf("unmarshal stream: %w", err)
	}
	return &stream, nil
}

func (s *PostgresStore) DuplicateIDs(ctx context.Context, username, observerID, streamID string, streamVersion int64, ids []string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT point_id FROM stream_points
		WHERE username = $1 AND observer_id = $2
			AND stream_id = $3 AND stream_version = $4
			AND point_id = ANY($5)
	`, username, observerID, streamID, streamVersion, ids)
	if err != nil {
		return nil, fmt.Errorf("duplicate ids: %w", err)
	}
	defer rows.Close()

	var duplicates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("duplicate ids scan: %w", err)
		}
		duplicates = append(duplicates, id)
	}
	return duplicates, rows.Err()
}

func (s *PostgresStore) StorePoints(ctx context.Context, username, observerID string, points []observer.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, p := range points {
		data, err := json.Marshal(p.Responses)
		if err != nil {
			return fmt.Errorf("marshal point data: %w", err)
		}
		var pointID *string
		if p.PointID != "" {
			pointID = &p.PointID
		}
		batch.Queue(`
			INSERT INTO stream_points
				(username, observer_id, stream_id, stream_version, point_id, observed_at, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, username, observerID, p.StreamID, p.StreamVersion, pointID, p.Timestamp, data)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store points: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) StoreInvalidPoints(ctx context.Context, username, observerID string, observerVersion int64, points []observer.InvalidPoint) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO invalid_points
				(username, observer_id, observer_version, point_index, data, reason)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, username, observerID, observerVersion, p.Index, p.Data, p.Reason)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store invalid points: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) InvalidPoints(ctx context.Context, username, observerID string, limit int) ([]observer.InvalidPoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = defaultResponseLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT point_index, data, reason FROM invalid_points
		WHERE username = $1 AND observer_id = $2
		ORDER BY added_id ASC
		LIMIT $3
	`, username, observerID, limit)
	if err != nil {
		return nil, fmt.Errorf("invalid points: %w", err)
	}
	defer rows.Close()

	var points []observer.InvalidPoint
	for rows.Next() {
		var p observer.InvalidPoint
		if err := rows.Scan(&p.Index, &p.Data, &p.Reason); err != nil {
			return nil, fmt.Errorf("invalid points scan: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) StoreResponseRows(ctx context.Context, responseRows []rollup.Row) error {
	if len(responseRows) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, r := range responseRows {
		batch.Queue(`
			INSERT INTO response_rows
				(username, observed_at, survey_id, repeatable_set_id,
				 repeatable_set_iteration, prompt_id, prompt_type,
				 display_label, unit, response)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, r.Username, r.Timestamp, r.SurveyID, r.RepeatableSetID,
			r.RepeatableSetIteration, r.PromptID, r.Metadata.PromptType,
			r.Metadata.DisplayLabel, r.Metadata.Unit, r.Response)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range responseRows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store response rows: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ResponseRows(ctx context.Context, q ResponseQuery) ([]rollup.Row, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT username, observed_at, survey_id, repeatable_set_id,
			repeatable_set_iteration, prompt_id, prompt_type,
			COALESCE(display_label, ''), COALESCE(unit, ''), response
		FROM response_rows
		WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(q.SurveyIDs) > 0 {
		query += " AND survey_id = ANY(" + arg(q.SurveyIDs) + ")"
	}
	if len(q.Usernames) > 0 {
		query += " AND username = ANY(" + arg(q.Usernames) + ")"
	}
	if !q.StartAt.IsZero() {
		query += " AND observed_at >= " + arg(q.StartAt)
	}
	if !q.EndAt.IsZero() {
		query += " AND observed_at <= " + arg(q.EndAt)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultResponseLimit
	}
	query += " ORDER BY added_id ASC LIMIT " + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("response rows: %w", err)
	}
	defer rows.Close()

	var out []rollup.Row
	for rows.Next() {
		var r rollup.Row
		if err := rows.Scan(&r.Username, &r.Timestamp, &r.SurveyID,
			&r.RepeatableSetID, &r.RepeatableSetIteration, &r.PromptID,
			&r.Metadata.PromptType, &r.Metadata.DisplayLabel,
			&r.Metadata.Unit, &r.Response); err != nil {
			return nil, fmt.Errorf("response rows scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

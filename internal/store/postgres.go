package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/db"
	"github.com/sells-group/venue-fusion/internal/geo"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"find_venue_by_name": `SELECT ` + venueColumns + ` FROM venues WHERE name_key = $1 ORDER BY updated_at DESC LIMIT 1`,
	"upsert_venue":       upsertVenueSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// The tables may not exist before the first migrate.
				if strings.Contains(err.Error(), "does not exist") {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// The location column holds the EWKB point (SRID 4326); PostGIS reads it
// with ST_GeomFromEWKB.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS venues (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	name_key     TEXT NOT NULL,
	address      TEXT NOT NULL,
	address_key  TEXT NOT NULL,
	data         JSONB NOT NULL,
	location     BYTEA,
	source       TEXT NOT NULL DEFAULT '',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	data_quality DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name_key, address_key)
);

CREATE INDEX IF NOT EXISTS idx_venues_name_key ON venues(name_key);
CREATE INDEX IF NOT EXISTS idx_venues_updated_at ON venues(updated_at);
CREATE INDEX IF NOT EXISTS idx_venues_data_quality ON venues(data_quality);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	state        TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	success      INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	total        INTEGER NOT NULL DEFAULT 0,
	avg_quality  DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_sample JSONB
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	entity         JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'unknown',
	source         TEXT NOT NULL DEFAULT '',
	run_id         TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_last_failed ON dead_letter_queue(last_failed_at DESC);
`

const venueColumns = `id, data, location, created_at, updated_at`

const upsertVenueSQL = `INSERT INTO venues
	(name, name_key, address, address_key, data, location, source, confidence, data_quality, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (name_key, address_key) DO UPDATE SET
	  name = EXCLUDED.name, address = EXCLUDED.address, data = EXCLUDED.data,
	  location = EXCLUDED.location, source = EXCLUDED.source,
	  confidence = EXCLUDED.confidence, data_quality = EXCLUDED.data_quality,
	  updated_at = EXCLUDED.updated_at
	RETURNING id, created_at, updated_at`

const updateVenueSQL = `UPDATE venues SET
	  name = $2, name_key = $3, address = $4, address_key = $5, data = $6, location = $7,
	  source = $8, confidence = $9, data_quality = $10, updated_at = $11
	WHERE id = $1
	RETURNING id, created_at, updated_at`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// venueRow is the column projection shared by the Postgres and SQLite stores.
type venueRow struct {
	name, nameKey, address, addressKey string
	data                               []byte
	location                           []byte
}

func encodeVenue(rec *model.MergedRecord) (venueRow, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return venueRow{}, eris.Wrap(err, "store: marshal venue")
	}
	row := venueRow{
		name:       rec.Name,
		nameKey:    NameKey(rec.Name),
		address:    rec.Address,
		addressKey: AddressKey(rec.Address),
		data:       data,
	}
	if rec.HasCoordinates() {
		if row.location, err = geo.EncodePoint(rec.Latitude, rec.Longitude); err != nil {
			return venueRow{}, err
		}
	}
	return row, nil
}

func decodeVenue(id int64, data, location []byte, created, updated time.Time) (*model.MergedRecord, error) {
	var rec model.MergedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal venue %d", id)
	}
	if len(location) > 0 {
		lat, lng, err := geo.DecodePoint(location)
		if err != nil {
			return nil, eris.Wrapf(err, "store: venue %d location", id)
		}
		rec.Latitude, rec.Longitude = lat, lng
	}
	rec.ID = id
	rec.CreatedAt = created
	rec.UpdatedAt = updated
	return &rec, nil
}

// FindByName returns the most recently updated venue with the given name,
// or nil when there is none.
func (s *PostgresStore) FindByName(ctx context.Context, name string) (*model.MergedRecord, error) {
	var (
		id               int64
		data, location   []byte
		created, updated time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+venueColumns+` FROM venues WHERE name_key = $1 ORDER BY updated_at DESC LIMIT 1`,
		NameKey(name),
	).Scan(&id, &data, &location, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find venue %q", name)
	}
	return decodeVenue(id, data, location, created, updated)
}

// Upsert writes rec. With an ID the venue is updated in place, following any
// change of name or address; a vanished ID falls back to an insert. Without
// one, the venue with the same name and address is updated or a new one
// inserted. CreatedAt of an existing venue is preserved.
func (s *PostgresStore) Upsert(ctx context.Context, rec *model.MergedRecord) (*model.MergedRecord, error) {
	row, err := encodeVenue(rec)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if rec.ID == 0 {
		return upsertByKey(ctx, s.pool, rec, row, now)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	out, err := updateByID(ctx, tx, rec, row, now)
	if errors.Is(err, errVenueGone) {
		tx.Rollback(ctx) //nolint:errcheck
		return upsertByKey(ctx, s.pool, rec, row, now)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert: commit")
	}
	return out, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertByKey(ctx context.Context, q rowQuerier, rec *model.MergedRecord, row venueRow, now time.Time) (*model.MergedRecord, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	out := *rec
	err := q.QueryRow(ctx, upsertVenueSQL,
		row.name, row.nameKey, row.address, row.addressKey, row.data, row.location,
		rec.Source, rec.Confidence, rec.DataQuality, created, now,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert venue %q", rec.Name)
	}
	return &out, nil
}

// updateByID rewrites venue rec.ID. Another row already holding the new name
// and address keys is the same venue and is removed first.
func updateByID(ctx context.Context, tx pgx.Tx, rec *model.MergedRecord, row venueRow, now time.Time) (*model.MergedRecord, error) {
	if _, err := tx.Exec(ctx,
		`DELETE FROM venues WHERE name_key = $1 AND address_key = $2 AND id <> $3`,
		row.nameKey, row.addressKey, rec.ID,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: drop duplicate of venue %d", rec.ID)
	}

	out := *rec
	err := tx.QueryRow(ctx, updateVenueSQL,
		rec.ID, row.name, row.nameKey, row.address, row.addressKey, row.data, row.location,
		rec.Source, rec.Confidence, rec.DataQuality, now,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errVenueGone
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update venue %d", rec.ID)
	}
	return &out, nil
}

// UpsertMany bulk-loads records through a temp table. A record's UpdatedAt
// is kept when set.
func (s *PostgresStore) UpsertMany(ctx context.Context, recs []model.MergedRecord) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		row, err := encodeVenue(&recs[i])
		if err != nil {
			return 0, err
		}
		created := recs[i].CreatedAt
		if created.IsZero() {
			created = now
		}
		rows = append(rows, []any{
			row.name, row.nameKey, row.address, row.addressKey, row.data, row.location,
			recs[i].Source, recs[i].Confidence, recs[i].DataQuality, created, updatedOr(&recs[i], now),
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "venues",
		Columns: []string{
			"name", "name_key", "address", "address_key", "data", "location",
			"source", "confidence", "data_quality", "created_at", "updated_at",
		},
		ConflictKeys: []string{"name_key", "address_key"},
		UpdateCols: []string{
			"name", "address", "data", "location", "source", "confidence", "data_quality", "updated_at",
		},
		LatestBy: "updated_at",
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert many")
}

// List returns venues matching filter ordered by id.
func (s *PostgresStore) List(ctx context.Context, filter VenueFilter) ([]model.MergedRecord, error) {
	query := `SELECT ` + venueColumns + ` FROM venues WHERE 1=1`
	var args []any
	argIdx := 1

	if !filter.UpdatedBefore.IsZero() {
		query += fmt.Sprintf(` AND updated_at < $%d`, argIdx)
		args = append(args, filter.UpdatedBefore)
		argIdx++
	}
	if filter.MaxQuality > 0 {
		query += fmt.Sprintf(` AND data_quality <= $%d`, argIdx)
		args = append(args, filter.MaxQuality)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list venues")
	}
	defer rows.Close()

	var out []model.MergedRecord
	for rows.Next() {
		var (
			id               int64
			data, location   []byte
			created, updated time.Time
		)
		if err := rows.Scan(&id, &data, &location, &created, &updated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan venue")
		}
		rec, err := decodeVenue(id, data, location, created, updated)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list venues iterate")
}

// Stats aggregates over all venues.
func (s *PostgresStore) Stats(ctx context.Context) (*model.VenueStats, error) {
	st := &model.VenueStats{BySource: make(map[string]int)}
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(data_quality), 0), COALESCE(AVG(confidence), 0), MAX(updated_at) FROM venues`,
	).Scan(&st.Total, &st.AvgQuality, &st.AvgConf, &last)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: venue stats")
	}
	if last != nil {
		st.LastUpdated = *last
	}

	rows, err := s.pool.Query(ctx, `SELECT source, COUNT(*) FROM venues GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: venue stats by source")
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		st.BySource[src] = n
	}
	return st, eris.Wrap(rows.Err(), "postgres: venue stats iterate")
}

// FreshnessStats counts venues updated within freshWithin and venues not
// updated for longer than overdueAfter.
func (s *PostgresStore) FreshnessStats(ctx context.Context, freshWithin, overdueAfter time.Duration) (*model.FreshnessStats, error) {
	now := time.Now().UTC()
	var fs model.FreshnessStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE updated_at >= $1),
		        COUNT(*) FILTER (WHERE updated_at < $2)
		 FROM venues`,
		now.Add(-freshWithin), now.Add(-overdueAfter),
	).Scan(&fs.Total, &fs.Fresh, &fs.Overdue)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: freshness stats")
	}
	return &fs, nil
}

// SaveRun inserts or replaces a run report.
func (s *PostgresStore) SaveRun(ctx context.Context, rep *model.RunReport) error {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	sample, err := json.Marshal(rep.ErrorSample)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal error sample")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, type, state, started_at, duration_ms, success, failed, total, avg_quality, error_sample)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   state = $3, duration_ms = $5, success = $6, failed = $7, total = $8,
		   avg_quality = $9, error_sample = $10`,
		rep.ID, string(rep.Type), string(rep.State), rep.StartedAt, rep.Duration.Milliseconds(),
		rep.Success, rep.Failed, rep.Total, rep.AvgQuality, sample,
	)
	return eris.Wrapf(err, "postgres: save run %s", rep.ID)
}

// ListRuns returns run reports, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunReport, error) {
	query := `SELECT id, type, state, started_at, duration_ms, success, failed, total, avg_quality, error_sample FROM runs WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunReport
	for rows.Next() {
		var (
			r          model.RunReport
			typ, state string
			durMS      int64
			sample     []byte
		)
		if err := rows.Scan(&r.ID, &typ, &state, &r.StartedAt, &durMS,
			&r.Success, &r.Failed, &r.Total, &r.AvgQuality, &sample); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Type = model.UpdateType(typ)
		r.State = model.RunState(state)
		r.Duration = time.Duration(durMS) * time.Millisecond
		if len(sample) > 0 {
			if err := json.Unmarshal(sample, &r.ErrorSample); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal error sample for run %s", r.ID)
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// Dead letter queue methods

// EnqueueDLQ stores a failed entity.
func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	entityJSON, err := json.Marshal(entry.Entity)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq entity")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, entity, error, error_type, source, run_id, retry_count, max_retries, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $3, error_type = $4, source = $5, run_id = $6, retry_count = $7,
		   last_failed_at = $10`,
		entry.ID, entityJSON, entry.Error, string(entry.ErrorType), entry.Source, entry.RunID,
		entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

// ListDLQ returns dead letter entries, most recent failure first.
func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, entity, error, error_type, source, run_id, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, string(filter.ErrorType))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY last_failed_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var (
			e          resilience.DLQEntry
			entityJSON []byte
			errType    string
		)
		if err := rows.Scan(&e.ID, &entityJSON, &e.Error, &errType, &e.Source, &e.RunID,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.ErrorType = resilience.ErrorType(errType)
		if err := json.Unmarshal(entityJSON, &e.Entity); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq entity")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

// CountDLQ returns the number of dead letter entries.
func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

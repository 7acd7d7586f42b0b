package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS venues (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	name_key     TEXT NOT NULL,
	address      TEXT NOT NULL,
	address_key  TEXT NOT NULL,
	data         TEXT NOT NULL,
	location     BLOB,
	source       TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL DEFAULT 0,
	data_quality REAL NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE (name_key, address_key)
);

CREATE INDEX IF NOT EXISTS idx_venues_name_key ON venues(name_key);
CREATE INDEX IF NOT EXISTS idx_venues_updated_at ON venues(updated_at);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	state        TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	success      INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	total        INTEGER NOT NULL DEFAULT 0,
	avg_quality  REAL NOT NULL DEFAULT 0,
	error_sample TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	entity         TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'unknown',
	source         TEXT NOT NULL DEFAULT '',
	run_id         TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

const sqliteUpsertVenue = `INSERT INTO venues
	(name, name_key, address, address_key, data, location, source, confidence, data_quality, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (name_key, address_key) DO UPDATE SET
	  name = excluded.name, address = excluded.address, data = excluded.data,
	  location = excluded.location, source = excluded.source,
	  confidence = excluded.confidence, data_quality = excluded.data_quality,
	  updated_at = excluded.updated_at
	RETURNING id`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanVenue(row scannable) (*model.MergedRecord, error) {
	var (
		id               int64
		data             string
		location         []byte
		created, updated time.Time
	)
	if err := row.Scan(&id, &data, &location, &created, &updated); err != nil {
		return nil, err
	}
	return decodeVenue(id, []byte(data), location, created, updated)
}

// FindByName returns the most recently updated venue with the given name,
// or nil when there is none.
func (s *SQLiteStore) FindByName(ctx context.Context, name string) (*model.MergedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+venueColumns+` FROM venues WHERE name_key = ? ORDER BY updated_at DESC LIMIT 1`,
		NameKey(name),
	)
	rec, err := scanVenue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find venue %q", name)
	}
	return rec, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteUpsert(ctx context.Context, q execQuerier, rec *model.MergedRecord, now time.Time) (*model.MergedRecord, error) {
	row, err := encodeVenue(rec)
	if err != nil {
		return nil, err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	out := *rec
	err = q.QueryRowContext(ctx, sqliteUpsertVenue,
		row.name, row.nameKey, row.address, row.addressKey, string(row.data), row.location,
		rec.Source, rec.Confidence, rec.DataQuality, created.UTC(), now,
	).Scan(&out.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert venue %q", rec.Name)
	}
	// RETURNING columns carry no declared type, so timestamps are re-read.
	err = q.QueryRowContext(ctx, `SELECT created_at, updated_at FROM venues WHERE id = ?`, out.ID).
		Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read back venue %d", out.ID)
	}
	return &out, nil
}

const sqliteUpdateVenue = `UPDATE venues SET
	  name = ?, name_key = ?, address = ?, address_key = ?, data = ?, location = ?,
	  source = ?, confidence = ?, data_quality = ?, updated_at = ?
	WHERE id = ?
	RETURNING id`

// sqliteUpdate rewrites venue rec.ID in place. Another row already holding
// the new name and address keys is the same venue and is removed first.
func sqliteUpdate(ctx context.Context, tx *sql.Tx, rec *model.MergedRecord, now time.Time) (*model.MergedRecord, error) {
	row, err := encodeVenue(rec)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM venues WHERE name_key = ? AND address_key = ? AND id <> ?`,
		row.nameKey, row.addressKey, rec.ID,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: drop duplicate of venue %d", rec.ID)
	}

	out := *rec
	err = tx.QueryRowContext(ctx, sqliteUpdateVenue,
		row.name, row.nameKey, row.address, row.addressKey, string(row.data), row.location,
		rec.Source, rec.Confidence, rec.DataQuality, now, rec.ID,
	).Scan(&out.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errVenueGone
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update venue %d", rec.ID)
	}
	err = tx.QueryRowContext(ctx, `SELECT created_at, updated_at FROM venues WHERE id = ?`, out.ID).
		Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read back venue %d", out.ID)
	}
	return &out, nil
}

// Upsert writes rec. With an ID the venue is updated in place, following any
// change of name or address; a vanished ID falls back to an insert. Without
// one, the venue with the same name and address is updated or a new one
// inserted. CreatedAt of an existing venue is preserved.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *model.MergedRecord) (*model.MergedRecord, error) {
	now := time.Now().UTC()
	if rec.ID == 0 {
		return sqliteUpsert(ctx, s.db, rec, now)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	out, err := sqliteUpdate(ctx, tx, rec, now)
	if errors.Is(err, errVenueGone) {
		tx.Rollback() //nolint:errcheck
		return sqliteUpsert(ctx, s.db, rec, now)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert: commit")
	}
	return out, nil
}

// UpsertMany upserts recs in one transaction. A record's UpdatedAt is kept
// when set.
func (s *SQLiteStore) UpsertMany(ctx context.Context, recs []model.MergedRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert many: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range recs {
		if _, err := sqliteUpsert(ctx, tx, &recs[i], updatedOr(&recs[i], now)); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert many: commit")
	}
	return int64(len(recs)), nil
}

// List returns venues matching filter ordered by id.
func (s *SQLiteStore) List(ctx context.Context, filter VenueFilter) ([]model.MergedRecord, error) {
	query := `SELECT ` + venueColumns + ` FROM venues WHERE 1=1`
	var args []any
	if !filter.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, filter.UpdatedBefore.UTC())
	}
	if filter.MaxQuality > 0 {
		query += ` AND data_quality <= ?`
		args = append(args, filter.MaxQuality)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list venues")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MergedRecord
	for rows.Next() {
		rec, err := scanVenue(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan venue")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list venues iterate")
}

// Stats aggregates over all venues.
func (s *SQLiteStore) Stats(ctx context.Context) (*model.VenueStats, error) {
	st := &model.VenueStats{BySource: make(map[string]int)}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(data_quality), 0), COALESCE(AVG(confidence), 0) FROM venues`,
	).Scan(&st.Total, &st.AvgQuality, &st.AvgConf)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: venue stats")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM venues ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&st.LastUpdated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(err, "sqlite: last updated")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM venues GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: venue stats by source")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		st.BySource[src] = n
	}
	return st, eris.Wrap(rows.Err(), "sqlite: venue stats iterate")
}

// FreshnessStats counts venues updated within freshWithin and venues not
// updated for longer than overdueAfter.
func (s *SQLiteStore) FreshnessStats(ctx context.Context, freshWithin, overdueAfter time.Duration) (*model.FreshnessStats, error) {
	now := time.Now().UTC()
	var fs model.FreshnessStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN updated_at >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN updated_at < ? THEN 1 ELSE 0 END), 0)
		 FROM venues`,
		now.Add(-freshWithin), now.Add(-overdueAfter),
	).Scan(&fs.Total, &fs.Fresh, &fs.Overdue)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: freshness stats")
	}
	return &fs, nil
}

// SaveRun inserts or replaces a run report.
func (s *SQLiteStore) SaveRun(ctx context.Context, rep *model.RunReport) error {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	sample, err := json.Marshal(rep.ErrorSample)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal error sample")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, type, state, started_at, duration_ms, success, failed, total, avg_quality, error_sample)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   state = excluded.state, duration_ms = excluded.duration_ms,
		   success = excluded.success, failed = excluded.failed, total = excluded.total,
		   avg_quality = excluded.avg_quality, error_sample = excluded.error_sample`,
		rep.ID, string(rep.Type), string(rep.State), rep.StartedAt.UTC(), rep.Duration.Milliseconds(),
		rep.Success, rep.Failed, rep.Total, rep.AvgQuality, string(sample),
	)
	return eris.Wrapf(err, "sqlite: save run %s", rep.ID)
}

// ListRuns returns run reports, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunReport, error) {
	query := `SELECT id, type, state, started_at, duration_ms, success, failed, total, avg_quality, error_sample FROM runs WHERE 1=1`
	var args []any
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RunReport
	for rows.Next() {
		var (
			r          model.RunReport
			typ, state string
			durMS      int64
			sample     sql.NullString
		)
		if err := rows.Scan(&r.ID, &typ, &state, &r.StartedAt, &durMS,
			&r.Success, &r.Failed, &r.Total, &r.AvgQuality, &sample); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Type = model.UpdateType(typ)
		r.State = model.RunState(state)
		r.Duration = time.Duration(durMS) * time.Millisecond
		if sample.Valid && sample.String != "" {
			if err := json.Unmarshal([]byte(sample.String), &r.ErrorSample); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal error sample for run %s", r.ID)
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// EnqueueDLQ stores a failed entity.
func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	entityJSON, err := json.Marshal(entry.Entity)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq entity")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, entity, error, error_type, source, run_id, retry_count, max_retries, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, source = excluded.source,
		   run_id = excluded.run_id, retry_count = excluded.retry_count,
		   last_failed_at = excluded.last_failed_at`,
		entry.ID, string(entityJSON), entry.Error, string(entry.ErrorType), entry.Source, entry.RunID,
		entry.RetryCount, entry.MaxRetries, entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

// ListDLQ returns dead letter entries, most recent failure first.
func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, entity, error, error_type, source, run_id, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, string(filter.ErrorType))
	}
	query += ` ORDER BY last_failed_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var (
			e                   resilience.DLQEntry
			entityJSON, errType string
		)
		if err := rows.Scan(&e.ID, &entityJSON, &e.Error, &errType, &e.Source, &e.RunID,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.ErrorType = resilience.ErrorType(errType)
		if err := json.Unmarshal([]byte(entityJSON), &e.Entity); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq entity")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

// CountDLQ returns the number of dead letter entries.
func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

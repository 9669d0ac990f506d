package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/HrishiK1107/AuthGuard/pkg/clock"
)

// SQLEventLog implements EventLog over database/sql. It supports both
// SQLite and Postgres; only the id column of the schema differs.
type SQLEventLog struct {
	db     *sql.DB
	driver string
	clock  clock.Clock
}

// NewSQLEventLog wraps an opened handle. driver must be DriverSQLite or
// DriverPostgres; clk may be nil for the wall clock.
func NewSQLEventLog(db *sql.DB, driver string, clk clock.Clock) *SQLEventLog {
	if clk == nil {
		clk = clock.Wall{}
	}
	return &SQLEventLog{db: db, driver: driver, clock: clk}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS event_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts BIGINT NOT NULL,
	entity TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	outcome TEXT NOT NULL,
	decision TEXT NOT NULL,
	risk REAL NOT NULL,
	enforcement_allowed BOOLEAN NOT NULL,
	enforcement_reason TEXT,
	raw_event TEXT
);
CREATE INDEX IF NOT EXISTS idx_event_log_ts ON event_log(ts);
CREATE INDEX IF NOT EXISTS idx_event_log_entity ON event_log(entity);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS event_log (
	id BIGSERIAL PRIMARY KEY,
	ts BIGINT NOT NULL,
	entity TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	outcome TEXT NOT NULL,
	decision TEXT NOT NULL,
	risk DOUBLE PRECISION NOT NULL,
	enforcement_allowed BOOLEAN NOT NULL,
	enforcement_reason TEXT,
	raw_event TEXT
);
CREATE INDEX IF NOT EXISTS idx_event_log_ts ON event_log(ts);
CREATE INDEX IF NOT EXISTS idx_event_log_entity ON event_log(entity);
`

func (s *SQLEventLog) Init(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init event log: %w", err)
	}
	return nil
}

// normalizeTs clamps a write timestamp into the past: non-positive and
// future values both become now.
func normalizeTs(tsMs, nowMs int64) int64 {
	if tsMs <= 0 || tsMs > nowMs {
		return nowMs
	}
	return tsMs
}

// Append inserts one record and returns its id. The record's timestamp is
// normalized against the store clock before the write.
func (s *SQLEventLog) Append(ctx context.Context, rec EventRecord) (int64, error) {
	rec.TsMs = normalizeTs(rec.TsMs, clock.NowMillis(s.clock))

	query := `
		INSERT INTO event_log (ts, entity, endpoint, outcome, decision, risk, enforcement_allowed, enforcement_reason, raw_event)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.TsMs, rec.Entity, rec.Endpoint, rec.Outcome, rec.Decision, rec.Risk,
		rec.EnforcementAllowed, rec.EnforcementReason, string(rec.RawEvent),
	)
	if err != nil {
		return 0, fmt.Errorf("append event log: %w", err)
	}
	// Postgres drivers may not support LastInsertId; the id is advisory.
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}

const selectCols = `id, ts, entity, endpoint, outcome, decision, risk, enforcement_allowed, enforcement_reason, raw_event`

func scanRecord(rows *sql.Rows) (EventRecord, error) {
	var rec EventRecord
	var reason, raw sql.NullString
	err := rows.Scan(&rec.ID, &rec.TsMs, &rec.Entity, &rec.Endpoint, &rec.Outcome,
		&rec.Decision, &rec.Risk, &rec.EnforcementAllowed, &reason, &raw)
	if err != nil {
		return EventRecord{}, err
	}
	rec.EnforcementReason = reason.String
	if raw.Valid && raw.String != "" {
		rec.RawEvent = []byte(raw.String)
	}
	return rec, nil
}

func (s *SQLEventLog) collect(ctx context.Context, query string, args ...any) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]EventRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// List returns records newest-first under the filter.
func (s *SQLEventLog) List(ctx context.Context, f LogFilter) ([]EventRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + selectCols + ` FROM event_log`
	var conds []string
	var args []any
	if f.Decision != "" {
		args = append(args, f.Decision)
		conds = append(conds, fmt.Sprintf("decision = $%d", len(args)))
	}
	if f.Entity != "" {
		args = append(args, f.Entity)
		conds = append(conds, fmt.Sprintf("entity = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ts DESC, id DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	recs, err := s.collect(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list event log: %w", err)
	}
	return recs, nil
}

// ListByEntity returns an entity's records since sinceMs, newest-first.
func (s *SQLEventLog) ListByEntity(ctx context.Context, entity string, sinceMs int64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + selectCols + ` FROM event_log WHERE entity = $1 AND ts >= $2 ORDER BY ts DESC, id DESC LIMIT $3`
	recs, err := s.collect(ctx, query, entity, sinceMs, limit)
	if err != nil {
		return nil, fmt.Errorf("list event log by entity: %w", err)
	}
	return recs, nil
}

// ListBefore returns records strictly older than cutoffMs, oldest-first.
// The archive exporter drains segments through this.
func (s *SQLEventLog) ListBefore(ctx context.Context, cutoffMs int64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + selectCols + ` FROM event_log WHERE ts < $1 ORDER BY ts ASC, id ASC LIMIT $2`
	recs, err := s.collect(ctx, query, cutoffMs, limit)
	if err != nil {
		return nil, fmt.Errorf("list event log before cutoff: %w", err)
	}
	return recs, nil
}

// Summary aggregates records with ts >= sinceMs into the dashboard shape.
// Timeline buckets are bucketMs wide, keyed by bucket start.
func (s *SQLEventLog) Summary(ctx context.Context, sinceMs, bucketMs int64) (Summary, error) {
	sum := Summary{
		DecisionBreakdown: make(map[string]int64),
		TopEntities:       make([]EntityCount, 0),
		Timeline:          make([]TimeBucket, 0),
	}
	if bucketMs <= 0 {
		bucketMs = 60_000
	}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log WHERE ts >= $1`, sinceMs)
	if err := row.Scan(&sum.TotalEvents); err != nil {
		return Summary{}, fmt.Errorf("summary total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT decision, COUNT(*) FROM event_log WHERE ts >= $1 GROUP BY decision`, sinceMs)
	if err != nil {
		return Summary{}, fmt.Errorf("summary breakdown: %w", err)
	}
	for rows.Next() {
		var decision string
		var n int64
		if err := rows.Scan(&decision, &n); err != nil {
			_ = rows.Close()
			return Summary{}, fmt.Errorf("summary breakdown: %w", err)
		}
		sum.DecisionBreakdown[decision] = n
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Summary{}, fmt.Errorf("summary breakdown: %w", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT entity, COUNT(*) AS n FROM event_log WHERE ts >= $1 AND entity <> '' GROUP BY entity ORDER BY n DESC, entity ASC LIMIT 10`, sinceMs)
	if err != nil {
		return Summary{}, fmt.Errorf("summary top entities: %w", err)
	}
	for rows.Next() {
		var ec EntityCount
		if err := rows.Scan(&ec.Entity, &ec.Count); err != nil {
			_ = rows.Close()
			return Summary{}, fmt.Errorf("summary top entities: %w", err)
		}
		sum.TopEntities = append(sum.TopEntities, ec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Summary{}, fmt.Errorf("summary top entities: %w", err)
	}
	_ = rows.Close()

	// Params appear in query order exactly once: sqlite indexes $-named
	// parameters by first occurrence, so reordering or reuse would misbind.
	rows, err = s.db.QueryContext(ctx,
		`SELECT ts - (ts % $1) AS bucket, COUNT(*) FROM event_log WHERE ts >= $2 GROUP BY bucket ORDER BY bucket ASC`, bucketMs, sinceMs)
	if err != nil {
		return Summary{}, fmt.Errorf("summary timeline: %w", err)
	}
	for rows.Next() {
		var tb TimeBucket
		if err := rows.Scan(&tb.BucketMs, &tb.Count); err != nil {
			_ = rows.Close()
			return Summary{}, fmt.Errorf("summary timeline: %w", err)
		}
		sum.Timeline = append(sum.Timeline, tb)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Summary{}, fmt.Errorf("summary timeline: %w", err)
	}
	_ = rows.Close()

	return sum, nil
}

// LastEventTs returns the newest write timestamp; ok=false on an empty log.
func (s *SQLEventLog) LastEventTs(ctx context.Context) (int64, bool, error) {
	var ts sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM event_log`)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("last event ts: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

func (s *SQLEventLog) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLEventLog) Close() error {
	return s.db.Close()
}

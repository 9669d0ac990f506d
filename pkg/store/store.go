// Package store holds the durable state: the append-only event log (SQLite
// or Postgres), and the JSON-file registries for blocks, settings, and
// campaigns.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("store: not found")

// DriverSQLite and DriverPostgres are the supported event-log backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EventRecord is one appended row of the event log.
type EventRecord struct {
	ID                 int64           `json:"id"`
	TsMs               int64           `json:"ts"`
	Entity             string          `json:"entity"`
	Endpoint           string          `json:"endpoint"`
	Outcome            string          `json:"outcome"`
	Decision           string          `json:"decision"`
	Risk               float64         `json:"risk"`
	EnforcementAllowed bool            `json:"enforcement_allowed"`
	EnforcementReason  string          `json:"enforcement_reason,omitempty"`
	RawEvent           json.RawMessage `json:"raw_event,omitempty"`
}

// LogFilter narrows List. Zero values mean "no constraint"; Limit defaults
// to 100 and is capped at 1000.
type LogFilter struct {
	Decision string
	Entity   string
	Limit    int
	Offset   int
}

// EntityCount is one row of the top-entities aggregate.
type EntityCount struct {
	Entity string `json:"entity"`
	Count  int64  `json:"count"`
}

// TimeBucket is one timeline bucket (bucket start in epoch ms).
type TimeBucket struct {
	BucketMs int64 `json:"bucket_ms"`
	Count    int64 `json:"count"`
}

// Summary is the dashboard aggregate over a time window.
type Summary struct {
	TotalEvents       int64            `json:"total_events"`
	DecisionBreakdown map[string]int64 `json:"decision_breakdown"`
	TopEntities       []EntityCount    `json:"top_entities"`
	Timeline          []TimeBucket     `json:"timeline"`
}

// EventLog is the durable append-only record of processed events.
type EventLog interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, rec EventRecord) (int64, error)
	List(ctx context.Context, f LogFilter) ([]EventRecord, error)
	ListByEntity(ctx context.Context, entity string, sinceMs int64, limit int) ([]EventRecord, error)
	ListBefore(ctx context.Context, cutoffMs int64, limit int) ([]EventRecord, error)
	Summary(ctx context.Context, sinceMs, bucketMs int64) (Summary, error)
	LastEventTs(ctx context.Context) (int64, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open opens a database handle for the given driver. The DSN is a file path
// for sqlite and a connection URL for postgres.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite:
		return sql.Open("sqlite", dsn)
	case DriverPostgres:
		return sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unknown event log driver %q", driver)
	}
}

package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// maxSegmentRows caps one export call; older rows left behind come out on
// the next call.
const maxSegmentRows = 10_000

// Exporter drains event-log rows older than a cutoff into one
// content-addressed gzip JSONL segment.
type Exporter struct {
	log      store.EventLog
	segments Store
	logger   *slog.Logger
}

// NewExporter wires an exporter over the event log and a segment store.
func NewExporter(log store.EventLog, segments Store) *Exporter {
	return &Exporter{
		log:      log,
		segments: segments,
		logger:   slog.Default().With("component", "archive"),
	}
}

// Export serializes rows with ts < beforeMs (up to maxSegmentRows) into a
// gzip JSONL segment and persists it. Returns the row count and segment
// hash; zero matching rows returns (0, "", nil) without touching storage.
func (e *Exporter) Export(ctx context.Context, beforeMs int64) (int, string, error) {
	recs, err := e.log.ListBefore(ctx, beforeMs, maxSegmentRows)
	if err != nil {
		return 0, "", fmt.Errorf("archive export: %w", err)
	}
	if len(recs) == 0 {
		return 0, "", nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return 0, "", fmt.Errorf("encode segment row: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return 0, "", fmt.Errorf("close segment writer: %w", err)
	}

	hash, err := e.segments.Put(ctx, buf.Bytes())
	if err != nil {
		return 0, "", fmt.Errorf("persist segment: %w", err)
	}

	e.logger.InfoContext(ctx, "archived event log segment",
		"rows", len(recs), "before_ms", beforeMs, "segment", hash)

	return len(recs), hash, nil
}

// DecodeSegment parses a gzip JSONL segment back into event records.
func DecodeSegment(data []byte) ([]store.EventRecord, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	defer func() { _ = gz.Close() }()

	var recs []store.EventRecord
	dec := json.NewDecoder(gz)
	for dec.More() {
		var rec store.EventRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode segment row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

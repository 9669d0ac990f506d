package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte(`{"entity":"203.0.113.7"}` + "\n")

	hash, err := fs.Put(ctx, data)
	require.NoError(t, err)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, hash)

	ok, err := fs.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := fs.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileStorePutIsIdempotent(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("segment body")

	h1, err := fs.Put(ctx, data)
	require.NoError(t, err)
	h2, err := fs.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestFileStoreMissingSegment(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	const absent = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	ok, err := fs.Exists(ctx, absent)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fs.Get(ctx, absent)
	require.Error(t, err)
}

func TestFileStoreRejectsMalformedHash(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	for _, bad := range []string{"", "deadbeef", "sha256:nothex", "md5:abcd"} {
		_, err := fs.Get(ctx, bad)
		assert.Error(t, err, "hash %q", bad)
		_, err = fs.Exists(ctx, bad)
		assert.Error(t, err, "hash %q", bad)
	}
}

func TestNewStoreFromEnvDefaultsToFS(t *testing.T) {
	t.Setenv("ARCHIVE_STORAGE_TYPE", "")
	t.Setenv("DATA_DIR", t.TempDir())

	st, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	_, ok := st.(*FileStore)
	assert.True(t, ok)
}

func TestNewStoreFromEnvRejectsUnknownType(t *testing.T) {
	t.Setenv("ARCHIVE_STORAGE_TYPE", "tape")

	_, err := NewStoreFromEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive storage type")
}

func TestNewStoreFromEnvS3RequiresBucket(t *testing.T) {
	t.Setenv("ARCHIVE_STORAGE_TYPE", "s3")
	t.Setenv("ARCHIVE_S3_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARCHIVE_S3_BUCKET")
}

// stubLog implements store.EventLog for exporter tests; only ListBefore
// does real work.
type stubLog struct {
	recs []store.EventRecord
	err  error
}

func (s *stubLog) Init(context.Context) error { return nil }
func (s *stubLog) Append(context.Context, store.EventRecord) (int64, error) {
	return 0, errors.New("not implemented")
}
func (s *stubLog) List(context.Context, store.LogFilter) ([]store.EventRecord, error) {
	return nil, errors.New("not implemented")
}
func (s *stubLog) ListByEntity(context.Context, string, int64, int) ([]store.EventRecord, error) {
	return nil, errors.New("not implemented")
}
func (s *stubLog) ListBefore(_ context.Context, cutoffMs int64, _ int) ([]store.EventRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []store.EventRecord
	for _, rec := range s.recs {
		if rec.TsMs < cutoffMs {
			out = append(out, rec)
		}
	}
	return out, nil
}
func (s *stubLog) Summary(context.Context, int64, int64) (store.Summary, error) {
	return store.Summary{}, errors.New("not implemented")
}
func (s *stubLog) LastEventTs(context.Context) (int64, bool, error) { return 0, false, nil }
func (s *stubLog) Ping(context.Context) error                      { return nil }
func (s *stubLog) Close() error                                    { return nil }

func TestExporterRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	log := &stubLog{recs: []store.EventRecord{
		{ID: 1, TsMs: 1000, Entity: "203.0.113.7", Decision: "BLOCK", Risk: 70, RawEvent: json.RawMessage(`{"event_id":"e1"}`)},
		{ID: 2, TsMs: 2000, Entity: "alice", Decision: "ALLOW", Risk: 0},
		{ID: 3, TsMs: 9000, Entity: "203.0.113.8", Decision: "MONITOR", Risk: 12},
	}}

	exp := NewExporter(log, fs)
	ctx := context.Background()

	archived, hash, err := exp.Export(ctx, 5000)
	require.NoError(t, err)
	assert.Equal(t, 2, archived)
	require.NotEmpty(t, hash)

	data, err := fs.Get(ctx, hash)
	require.NoError(t, err)

	recs, err := DecodeSegment(data)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "203.0.113.7", recs[0].Entity)
	assert.Equal(t, float64(70), recs[0].Risk)
	assert.JSONEq(t, `{"event_id":"e1"}`, string(recs[0].RawEvent))
	assert.Equal(t, "alice", recs[1].Entity)
}

func TestExporterNothingToArchive(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	exp := NewExporter(&stubLog{}, fs)
	archived, hash, err := exp.Export(context.Background(), 5000)
	require.NoError(t, err)
	assert.Zero(t, archived)
	assert.Empty(t, hash)
}

func TestExporterPropagatesLogError(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	exp := NewExporter(&stubLog{err: errors.New("db gone")}, fs)
	_, _, err = exp.Export(context.Background(), 5000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}

func TestExporterIsIdempotentPerCutoff(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	log := &stubLog{recs: []store.EventRecord{
		{ID: 1, TsMs: 1000, Entity: "203.0.113.7", Decision: "BLOCK", Risk: 70},
	}}
	exp := NewExporter(log, fs)
	ctx := context.Background()

	_, h1, err := exp.Export(ctx, 5000)
	require.NoError(t, err)
	_, h2, err := exp.Export(ctx, 5000)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

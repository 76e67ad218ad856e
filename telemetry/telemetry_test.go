package telemetry

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineRecorder(t *testing.T) {
	var buf bytes.Buffer

	rec := NewLineRecorder(&buf)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rec.Record(Record{Time: ts, Kind: KindShardLoad, Latency: 1500 * time.Millisecond, Shard: 7, BatchSize: 3})
	rec.Record(Record{Time: ts, Kind: KindShardSearch, Latency: time.Millisecond, Shard: 2, BatchSize: 10})
	require.NoError(t, rec.Err())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, LineHeader, lines[0])
	assert.Equal(t, "2024-01-02T03:04:05Z,shard_load,1.500000,7,3", lines[1])
	assert.Equal(t, "2024-01-02T03:04:05Z,shard_search,0.001000,2,10", lines[2])
}

func TestMultiAndCollector(t *testing.T) {
	a, b := &Collector{}, &Collector{}
	m := Multi{a, nil, b}

	m.Record(Since(KindShardLoad, time.Now(), 1, 0))
	m.Record(Since(KindShardSearch, time.Now(), 1, 4))

	assert.Equal(t, 1, a.Count(KindShardLoad))
	assert.Equal(t, 1, b.Count(KindShardSearch))
	assert.Len(t, a.Records(), 2)
}

func TestSQLRecorder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.db")

	rec, err := OpenSQLite(ctx, path, WithFlushSize(2), WithRunID("run-1"))
	require.NoError(t, err)

	assert.Equal(t, "run-1", rec.RunID())

	rec.Record(Since(KindShardLoad, time.Now(), 0, 0))
	rec.Record(Since(KindShardLoad, time.Now(), 1, 0))
	rec.Record(Since(KindShardSearch, time.Now(), 1, 5))

	// Two records were flushed automatically, the third is still buffered.
	n, err := rec.Count(ctx, KindShardLoad)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, rec.Flush(ctx))

	n, err = rec.Count(ctx, KindShardSearch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, rec.Close())
}

func TestNewRunIDUnique(t *testing.T) {
	assert.NotEqual(t, NewRunID(), NewRunID())
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/db"
	"github.com/banshee-data/lidarscan/internal/lidar/pipeline"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
	"github.com/banshee-data/lidarscan/internal/lidar/scene"
	"github.com/banshee-data/lidarscan/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *ScanStore {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewScanStore(database.DB)
}

func TestScanStore_SessionLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	sess := &Session{ScannerID: "front", Pattern: "disc", Capacity: 1024, ConfigJSON: []byte(`{"pattern":"disc"}`)}
	require.NoError(t, store.StartSession(ctx, sess))
	assert.NotEmpty(t, sess.SessionID)
	assert.NotZero(t, sess.StartedAt)

	got, err := store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "front", got.ScannerID)
	assert.JSONEq(t, `{"pattern":"disc"}`, string(got.ConfigJSON))
	assert.Nil(t, got.EndedAt)

	require.NoError(t, store.EndSession(ctx, sess.SessionID))
	got, err = store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)

	assert.ErrorIs(t, store.EndSession(ctx, "missing"), ErrSessionNotFound)
	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRecorder_TicksAndSweeps(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	sess := &Session{ScannerID: "front", Pattern: "disc", Capacity: 64}
	require.NoError(t, store.StartSession(ctx, sess))
	rec := store.Recorder(sess.SessionID)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, rec.RecordTick(ctx, pipeline.TickRecord{
			ScannerID: "front",
			Seq:       i,
			Pattern:   "disc",
			Samples:   10,
			Hits:      8,
			Duration:  2 * time.Millisecond,
			At:        epoch.Add(time.Duration(i) * time.Second),
			Written:   8 * i,
		}))
	}
	require.NoError(t, rec.RecordTick(ctx, pipeline.TickRecord{
		ScannerID: "front", SweepID: "sw-1", Seq: 4, Pattern: "widesweep",
		Samples: 10, Skipped: true, Err: "scene unavailable", At: epoch.Add(4 * time.Second), Written: 24,
	}))
	require.NoError(t, rec.RecordSweep(ctx, pipeline.SweepRecord{
		ID: "sw-1", ScannerID: "front", Rows: 4, RowsCompleted: 1, Cancelled: true,
		MinDuration: time.Second, StartedAt: epoch, FinishedAt: epoch.Add(250 * time.Millisecond),
	}))

	ticks, err := store.ListTicks(ctx, sess.SessionID, 2)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, uint64(3), ticks[0].Seq, "most recent ticks, ascending")
	assert.Equal(t, uint64(4), ticks[1].Seq)
	assert.True(t, ticks[1].Skipped)
	assert.Equal(t, "scene unavailable", ticks[1].Err)
	assert.Equal(t, "sw-1", ticks[1].SweepID)
	assert.Equal(t, epoch.Add(3*time.Second), ticks[0].At)
	assert.Equal(t, 2*time.Millisecond, ticks[0].Duration)

	sweeps, err := store.ListSweeps(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.True(t, sweeps[0].Cancelled)
	assert.Equal(t, 4, sweeps[0].Rows)
	assert.Equal(t, time.Second, sweeps[0].MinDuration)

	sums, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	s := sums[0]
	assert.Equal(t, int64(4), s.Ticks)
	assert.Equal(t, int64(1), s.Skipped)
	assert.Equal(t, int64(40), s.Samples)
	assert.Equal(t, int64(24), s.Hits)
	assert.Equal(t, int64(1), s.Sweeps)
	assert.Equal(t, int64(24), s.LastWritten)
	assert.InDelta(t, 1.5, s.MeanTickMs, 1e-9)
}

func TestScanStore_DeleteCascades(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	sess := &Session{ScannerID: "front", Pattern: "line", Capacity: 8}
	require.NoError(t, store.StartSession(ctx, sess))
	require.NoError(t, store.Recorder(sess.SessionID).RecordTick(ctx, pipeline.TickRecord{Seq: 1, Pattern: "line", At: epoch}))

	require.NoError(t, store.DeleteSession(ctx, sess.SessionID))
	ticks, err := store.ListTicks(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, ticks)
	assert.ErrorIs(t, store.DeleteSession(ctx, sess.SessionID), ErrSessionNotFound)
}

func TestScanStore_ListSessionsNewestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.StartSession(ctx, &Session{SessionID: id, Pattern: "disc", StartedAt: int64(i + 1)}))
	}
	sums, err := store.ListSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "c", sums[0].SessionID)
	assert.Equal(t, "b", sums[1].SessionID)
	assert.Zero(t, sums[0].Ticks)
}

func TestSessionRecorder_WithScanner(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	buf, err := pointbuffer.New(pointbuffer.Options{Capacity: 4096})
	require.NoError(t, err)
	sess := &Session{ScannerID: "demo", Pattern: "disc", Capacity: buf.Capacity()}
	require.NoError(t, store.StartSession(ctx, sess))

	scn, err := pipeline.NewScanner(pipeline.DefaultConfig(), scene.Demo(), buf, pipeline.Options{
		ID:       "demo",
		Clock:    timeutil.NewMockClock(epoch),
		Recorder: store.Recorder(sess.SessionID),
	})
	require.NoError(t, err)
	defer scn.Close()

	frame := sampling.LookFrame(scene.DemoOrigin, r3.Vec{Z: 1})
	for i := 0; i < 5; i++ {
		_, err := scn.Tick(ctx, frame, 1.0/60)
		require.NoError(t, err)
	}

	ticks, err := store.ListTicks(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, ticks, 5)
	for i, tk := range ticks {
		assert.Equal(t, uint64(i+1), tk.Seq)
		assert.Equal(t, "demo", tk.ScannerID)
		assert.Positive(t, tk.Hits, "the courtyard surrounds the origin")
	}
	assert.Equal(t, buf.Written(), ticks[4].Written)
}

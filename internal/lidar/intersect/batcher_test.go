package intersect

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// indexProvider hits every sample whose X coordinate is not a multiple of
// three. The hit point echoes the direction so tests can recover order.
func indexProvider() ProviderFunc {
	return func(_ context.Context, origin, dir r3.Vec, maxDistance float64, _ lidar.LayerMask) (Hit, bool, error) {
		i := int(math.Round(dir.X))
		if i%3 == 0 {
			return Hit{}, false, nil
		}
		return Hit{Point: r3.Add(origin, dir), Distance: float64(i), Normal: r3.Vec{Y: 1}}, true, nil
	}
}

func indexedSamples(n int) []r3.Vec {
	s := make([]r3.Vec, n)
	for i := range s {
		s[i] = r3.Vec{X: float64(i + 1)}
	}
	return s
}

func TestBatcher_CompactsInInputOrder(t *testing.T) {
	t.Parallel()
	b := NewBatcher(indexProvider(), WithWorkers(4), WithChunkSize(7))

	samples := indexedSamples(1000)
	got, err := b.Resolve(context.Background(), BatchRequest{Samples: samples})
	require.NoError(t, err)

	want := 0
	for i := 1; i <= 1000; i++ {
		if i%3 != 0 {
			want++
		}
	}
	require.Len(t, got, want)

	prev := 0.0
	for _, h := range got {
		assert.True(t, h.Valid)
		assert.Greater(t, h.Position.X, prev, "order must follow input")
		assert.NotZero(t, int(h.Position.X)%3)
		prev = h.Position.X
	}

	st := b.Stats()
	assert.Equal(t, uint64(1), st.Batches)
	assert.Equal(t, uint64(1000), st.Queries)
	assert.Equal(t, uint64(want), st.Hits)
	assert.Zero(t, st.Failures)
}

func TestBatcher_DropsNonPositiveDistance(t *testing.T) {
	t.Parallel()
	p := ProviderFunc(func(_ context.Context, _, dir r3.Vec, _ float64, _ lidar.LayerMask) (Hit, bool, error) {
		// Report a "hit" at distance zero for even samples.
		if int(dir.X)%2 == 0 {
			return Hit{Point: dir, Distance: 0}, true, nil
		}
		return Hit{Point: dir, Distance: 1}, true, nil
	})
	got, err := NewBatcher(p).Resolve(context.Background(), BatchRequest{Samples: indexedSamples(10)})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for _, h := range got {
		assert.Equal(t, 1, int(h.Position.X)%2)
	}
}

func TestBatcher_ZeroDirectionIsMiss(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p := ProviderFunc(func(_ context.Context, _, dir r3.Vec, _ float64, _ lidar.LayerMask) (Hit, bool, error) {
		calls.Add(1)
		return Hit{Point: dir, Distance: 1}, true, nil
	})
	got, err := NewBatcher(p).Resolve(context.Background(), BatchRequest{
		Direction: r3.Vec{Z: 1},
		Samples:   []r3.Vec{{Z: -1}, {X: 1}},
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBatcher_PassesRequestThrough(t *testing.T) {
	t.Parallel()
	origin := r3.Vec{X: 1, Y: 2, Z: 3}
	var sawMax atomic.Value
	p := ProviderFunc(func(_ context.Context, o, dir r3.Vec, maxDistance float64, mask lidar.LayerMask) (Hit, bool, error) {
		assert.Equal(t, origin, o)
		assert.Equal(t, r3.Vec{X: 0.5, Z: 1}, dir)
		assert.Equal(t, lidar.Layer(2), mask)
		sawMax.Store(maxDistance)
		return Hit{}, false, nil
	})
	_, err := NewBatcher(p).Resolve(context.Background(), BatchRequest{
		Origin:    origin,
		Direction: r3.Vec{Z: 1},
		Samples:   []r3.Vec{{X: 0.5}},
		Mask:      lidar.Layer(2),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDistance, sawMax.Load())
}

func TestBatcher_ProviderErrorAbandonsBatch(t *testing.T) {
	t.Parallel()
	boom := errors.New("scene unavailable")
	p := ProviderFunc(func(_ context.Context, _, dir r3.Vec, _ float64, _ lidar.LayerMask) (Hit, bool, error) {
		if int(dir.X) == 500 {
			return Hit{}, false, boom
		}
		return Hit{Point: dir, Distance: 1}, true, nil
	})
	b := NewBatcher(p, WithChunkSize(16))
	got, err := b.Resolve(context.Background(), BatchRequest{Samples: indexedSamples(1000)})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, lidar.ErrIntersectionProvider)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), b.Stats().Failures)
	assert.Zero(t, b.Stats().Hits)
}

func TestBatcher_ProviderPanicRecovered(t *testing.T) {
	t.Parallel()
	p := ProviderFunc(func(context.Context, r3.Vec, r3.Vec, float64, lidar.LayerMask) (Hit, bool, error) {
		panic("collider went away")
	})
	got, err := NewBatcher(p).Resolve(context.Background(), BatchRequest{Samples: indexedSamples(3)})
	assert.Nil(t, got)
	require.Error(t, err)
	assert.ErrorIs(t, err, lidar.ErrIntersectionProvider)
	assert.Contains(t, err.Error(), "collider went away")
}

func TestBatcher_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := NewBatcher(indexProvider()).Resolve(ctx, BatchRequest{Samples: indexedSamples(10)})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, lidar.ErrIntersectionProvider)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatcher_NilProvider(t *testing.T) {
	t.Parallel()
	_, err := NewBatcher(nil).Resolve(context.Background(), BatchRequest{Samples: indexedSamples(1)})
	assert.ErrorIs(t, err, lidar.ErrIntersectionProvider)

	got, err := NewBatcher(nil).Resolve(context.Background(), BatchRequest{})
	assert.NoError(t, err, "empty batch never reaches the provider")
	assert.Empty(t, got)
}

type batchOnly struct {
	ProviderFunc
	batches atomic.Int32
	err     error
}

func (p *batchOnly) CastBatch(_ context.Context, queries []Query, out []Result) error {
	p.batches.Add(1)
	if p.err != nil {
		return p.err
	}
	for i, q := range queries {
		if int(q.Direction.X)%2 == 0 {
			continue
		}
		out[i] = Result{Hit: Hit{Point: q.Direction, Distance: 2}, OK: true}
	}
	return nil
}

func TestBatcher_UsesBatchProvider(t *testing.T) {
	t.Parallel()
	p := &batchOnly{ProviderFunc: func(context.Context, r3.Vec, r3.Vec, float64, lidar.LayerMask) (Hit, bool, error) {
		t.Fatal("Cast must not be called when CastBatch is available")
		return Hit{}, false, nil
	}}
	got, err := NewBatcher(p).Resolve(context.Background(), BatchRequest{Samples: indexedSamples(9)})
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, int32(1), p.batches.Load())
	assert.Equal(t, 1.0, got[0].Position.X)
	assert.Equal(t, 9.0, got[4].Position.X)

	p.err = errors.New("batch rejected")
	got, err = NewBatcher(p).Resolve(context.Background(), BatchRequest{Samples: indexedSamples(9)})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, lidar.ErrIntersectionProvider)
}

func TestBatcher_ColoursHits(t *testing.T) {
	t.Parallel()
	res := NewAttributeResolver(ModeHeight, nil)
	p := ProviderFunc(func(_ context.Context, _, dir r3.Vec, _ float64, _ lidar.LayerMask) (Hit, bool, error) {
		return Hit{Point: r3.Vec{Y: 10}, Distance: 1}, true, nil
	})
	got, err := NewBatcher(p).Resolve(context.Background(), BatchRequest{Samples: indexedSamples(2), Colors: res})
	require.NoError(t, err)
	for _, h := range got {
		assert.Equal(t, lidar.Red, h.Color)
	}
}

package intersect

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

const (
	// DefaultMaxDistance is the query range used when a request leaves
	// MaxDistance unset.
	DefaultMaxDistance = 100.0

	defaultChunkSize = 256
)

// BatchRequest describes one tick's worth of queries.
type BatchRequest struct {
	Origin      r3.Vec
	Direction   r3.Vec   // base facing; zero for omnidirectional scans
	Samples     []r3.Vec // each query casts along Direction + sample
	MaxDistance float64
	Mask        lidar.LayerMask
	Colors      *AttributeResolver // nil colours hits white
}

// BatcherStats is a point-in-time copy of the batcher counters.
type BatcherStats struct {
	Batches  uint64
	Queries  uint64
	Hits     uint64
	Failures uint64
}

// Batcher fans queries out across a bounded set of goroutines and
// compacts the results back into input order.
type Batcher struct {
	provider  Provider
	workers   int
	chunkSize int

	batches  atomic.Uint64
	queries  atomic.Uint64
	hits     atomic.Uint64
	failures atomic.Uint64
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithWorkers caps the number of concurrent query goroutines.
func WithWorkers(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithChunkSize sets how many consecutive samples one goroutine handles.
func WithChunkSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// NewBatcher creates a Batcher over p.
func NewBatcher(p Provider, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		provider:  p,
		workers:   runtime.GOMAXPROCS(0),
		chunkSize: defaultChunkSize,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Stats returns the cumulative counters.
func (b *Batcher) Stats() BatcherStats {
	return BatcherStats{
		Batches:  b.batches.Load(),
		Queries:  b.queries.Load(),
		Hits:     b.hits.Load(),
		Failures: b.failures.Load(),
	}
}

type slot struct {
	rec lidar.HitRecord
	ok  bool
}

// Resolve casts one ray per sample and returns the hits in sample order
// with misses removed. A result with non-positive distance counts as a
// miss. Any provider failure abandons the whole batch: the returned
// error wraps lidar.ErrIntersectionProvider and no records are returned.
func (b *Batcher) Resolve(ctx context.Context, req BatchRequest) ([]lidar.HitRecord, error) {
	n := len(req.Samples)
	b.batches.Add(1)
	if n == 0 {
		return nil, nil
	}
	if b.provider == nil {
		b.failures.Add(1)
		return nil, fmt.Errorf("%w: no provider configured", lidar.ErrIntersectionProvider)
	}
	if req.MaxDistance <= 0 {
		req.MaxDistance = DefaultMaxDistance
	}
	colors := req.Colors
	if colors == nil {
		colors = &AttributeResolver{Mode: ModeOverride, Override: lidar.White}
	}

	slots := make([]slot, n)
	var err error
	if bp, ok := b.provider.(BatchProvider); ok {
		err = b.castBatch(ctx, bp, req, colors, slots)
	} else {
		err = b.castParallel(ctx, req, colors, slots)
	}
	b.queries.Add(uint64(n))
	if err != nil {
		b.failures.Add(1)
		if !errors.Is(err, lidar.ErrIntersectionProvider) {
			err = fmt.Errorf("%w: %w", lidar.ErrIntersectionProvider, err)
		}
		return nil, err
	}

	out := compact(slots)
	b.hits.Add(uint64(len(out)))
	return out, nil
}

// compact copies the successful slots, in order, into a dense slice.
func compact(slots []slot) []lidar.HitRecord {
	count := 0
	for i := range slots {
		if slots[i].ok {
			count++
		}
	}
	out := make([]lidar.HitRecord, 0, count)
	for i := range slots {
		if slots[i].ok {
			out = append(out, slots[i].rec)
		}
	}
	return out
}

func (b *Batcher) castParallel(ctx context.Context, req BatchRequest, colors *AttributeResolver, slots []slot) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for start := 0; start < len(slots); start += b.chunkSize {
		end := min(start+b.chunkSize, len(slots))
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: provider panic: %v", lidar.ErrIntersectionProvider, r)
				}
			}()
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				dir := r3.Add(req.Direction, req.Samples[i])
				if r3.Norm(dir) == 0 {
					continue
				}
				hit, ok, err := b.provider.Cast(gctx, req.Origin, dir, req.MaxDistance, req.Mask)
				if err != nil {
					return err
				}
				slots[i] = toSlot(hit, ok, colors)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Batcher) castBatch(ctx context.Context, bp BatchProvider, req BatchRequest, colors *AttributeResolver, slots []slot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: provider panic: %v", lidar.ErrIntersectionProvider, r)
		}
	}()

	queries := make([]Query, len(slots))
	for i, s := range req.Samples {
		queries[i] = Query{
			Origin:      req.Origin,
			Direction:   r3.Add(req.Direction, s),
			MaxDistance: req.MaxDistance,
			Mask:        req.Mask,
		}
	}
	results := make([]Result, len(slots))
	if err := bp.CastBatch(ctx, queries, results); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, r := range results {
		if r3.Norm(queries[i].Direction) == 0 {
			continue
		}
		slots[i] = toSlot(r.Hit, r.OK, colors)
	}
	return nil
}

func toSlot(hit Hit, ok bool, colors *AttributeResolver) slot {
	if !ok || !(hit.Distance > 0) {
		return slot{}
	}
	return slot{
		ok: true,
		rec: lidar.HitRecord{
			Position: hit.Point,
			Normal:   hit.Normal,
			Color:    colors.Color(hit),
			Valid:    true,
		},
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
)

const (
	// DefaultSweepRows is the row count, and samples per row, of a sweep.
	DefaultSweepRows = 200
	// DefaultSweepDuration is the minimum wall-clock time a sweep takes.
	DefaultSweepDuration = time.Second
)

// ErrScannerClosed is returned when a sweep is requested after Close.
var ErrScannerClosed = errors.New("scanner closed")

// WideSweepOptions configures a paced wide sweep.
type WideSweepOptions struct {
	Rows        int           // rows, and samples per row; default 200
	MinDuration time.Duration // the sweep never finishes sooner; default 1s
	Aspect      float64       // horizontal stretch of each row; default 1

	// OnRow, if set, is called after each row has been ingested and
	// before the inter-row wait.
	OnRow func(row int, res TickResult)
}

func (o WideSweepOptions) withDefaults() WideSweepOptions {
	if o.Rows <= 0 {
		o.Rows = DefaultSweepRows
	}
	if o.MinDuration <= 0 {
		o.MinDuration = DefaultSweepDuration
	}
	if !(o.Aspect > 0) {
		o.Aspect = 1
	}
	return o
}

// SweepPhase is the wide sweep state.
type SweepPhase int

const (
	SweepIdle SweepPhase = iota
	SweepRunning
)

func (p SweepPhase) String() string {
	if p == SweepRunning {
		return "running"
	}
	return "idle"
}

// WideSweepStatus reports the scanner's sweep progress.
type WideSweepStatus struct {
	Phase     SweepPhase `json:"-"`
	State     string     `json:"state"`
	ID        string     `json:"id,omitempty"`
	Row       int        `json:"row"` // rows completed
	Rows      int        `json:"rows"`
	StartedAt time.Time  `json:"started_at,omitempty"`
}

// SweepResult is the outcome of a finished or abandoned sweep.
type SweepResult struct {
	ID            string
	Rows          int
	RowsCompleted int
	RowsSkipped   int
	Hits          int
	Cancelled     bool
	Elapsed       time.Duration
}

// WideSweep is a handle on one running sweep.
type WideSweep struct {
	id      string
	rows    int
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	row    int
	result SweepResult
}

// ID returns the sweep identifier.
func (w *WideSweep) ID() string { return w.id }

// Cancel abandons the sweep after the row in flight.
func (w *WideSweep) Cancel() { w.cancel() }

// Done is closed when the sweep has finished or been abandoned.
func (w *WideSweep) Done() <-chan struct{} { return w.done }

// Wait blocks until the sweep ends and returns its result.
func (w *WideSweep) Wait() SweepResult {
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

func (w *WideSweep) rowsDone() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.row
}

// StartWideSweep starts a paced sweep from frame and returns at once.
// Row i of N is a full row of N samples at elevation i; after each row
// the sweep waits until MinDuration/N has passed since the row began.
// Starting a sweep while one is running abandons the old one once its
// current row has been ingested. Cancelling ctx also abandons the sweep.
func (s *Scanner) StartWideSweep(ctx context.Context, frame sampling.Frame, opts WideSweepOptions) (*WideSweep, error) {
	opts = opts.withDefaults()
	if !nonZeroFrame(frame) {
		return nil, lidar.ErrInvalidDirection
	}

	s.wideMu.Lock()
	defer s.wideMu.Unlock()
	if s.closed {
		return nil, ErrScannerClosed
	}
	prev := s.wide
	if prev != nil {
		prev.Cancel()
	}

	sctx, cancel := context.WithCancel(ctx)
	w := &WideSweep{
		id:      uuid.New().String(),
		rows:    opts.Rows,
		started: s.clock.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.wide = w
	s.sweeps.Add(1)
	diagf("scanner %s: wide sweep %s started: %d rows over >= %s", s.id, w.id, opts.Rows, opts.MinDuration)

	go s.runWideSweep(sctx, prev, w, frame, opts)
	return w, nil
}

func (s *Scanner) runWideSweep(ctx context.Context, prev, w *WideSweep, frame sampling.Frame, opts WideSweepOptions) {
	defer close(w.done)
	defer w.cancel()

	if prev != nil {
		<-prev.done
	}

	perRow := opts.MinDuration / time.Duration(opts.Rows)
	res := SweepResult{ID: w.id, Rows: opts.Rows}
	// Rows run to completion even if ctx is cancelled mid-row.
	rowCtx := context.WithoutCancel(ctx)

	for i := 0; i < opts.Rows; i++ {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		rowStart := s.clock.Now()
		rr, err := s.sweepRow(rowCtx, w.id, frame, opts, i, rowStart)
		if err != nil && !rr.Skipped {
			// A degenerate frame cannot get better on the next row.
			opsf("scanner %s: wide sweep %s aborted at row %d: %v", s.id, w.id, i, err)
			res.Cancelled = true
			break
		}
		res.RowsCompleted++
		res.Hits += rr.Hits
		if rr.Skipped {
			res.RowsSkipped++
		}
		w.mu.Lock()
		w.row = i + 1
		w.mu.Unlock()
		if opts.OnRow != nil {
			opts.OnRow(i, rr)
		}

		if wait := perRow - s.clock.Since(rowStart); wait > 0 {
			t := s.clock.NewTimer(wait)
			select {
			case <-t.C():
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
	if !res.Cancelled && ctx.Err() != nil && res.RowsCompleted < opts.Rows {
		res.Cancelled = true
	}
	res.Elapsed = s.clock.Since(w.started)

	w.mu.Lock()
	w.result = res
	w.mu.Unlock()

	s.wideMu.Lock()
	if s.wide == w {
		s.wide = nil
	}
	s.wideMu.Unlock()

	if res.Cancelled {
		opsf("scanner %s: wide sweep %s abandoned after %d/%d rows", s.id, w.id, res.RowsCompleted, res.Rows)
	} else {
		diagf("scanner %s: wide sweep %s finished: %d rows, %d hits in %s", s.id, w.id, res.RowsCompleted, res.Hits, res.Elapsed)
	}
	if s.recorder != nil {
		rec := SweepRecord{
			ID:            w.id,
			ScannerID:     s.id,
			Rows:          res.Rows,
			RowsCompleted: res.RowsCompleted,
			Cancelled:     res.Cancelled,
			MinDuration:   opts.MinDuration,
			StartedAt:     w.started,
			FinishedAt:    s.clock.Now(),
		}
		if err := s.recorder.RecordSweep(context.WithoutCancel(ctx), rec); err != nil {
			opsf("scanner %s: record sweep %s: %v", s.id, w.id, err)
		}
	}
}

func (s *Scanner) sweepRow(ctx context.Context, sweepID string, frame sampling.Frame, opts WideSweepOptions, row int, start time.Time) (TickResult, error) {
	cfg := s.Config()
	samples := sampling.SweepRow(frame, opts.Rows, row, opts.Aspect)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := TickResult{Seq: s.seq.Add(1)}
	res, err := s.resolveAndIngest(ctx, cfg, frame.Origin, frame.Forward, samples, res, start)
	s.record(ctx, sweepID, "widesweep", res, err, start)
	if err != nil {
		return res, fmt.Errorf("sweep row %d: %w", row, err)
	}
	return res, nil
}

// WideSweepStatus returns the state of the current sweep.
func (s *Scanner) WideSweepStatus() WideSweepStatus {
	s.wideMu.Lock()
	w := s.wide
	s.wideMu.Unlock()
	if w == nil {
		return WideSweepStatus{Phase: SweepIdle, State: SweepIdle.String()}
	}
	return WideSweepStatus{
		Phase:     SweepRunning,
		State:     SweepRunning.String(),
		ID:        w.id,
		Row:       w.rowsDone(),
		Rows:      w.rows,
		StartedAt: w.started,
	}
}

// CancelWideSweep abandons the running sweep, if any, and reports whether
// there was one.
func (s *Scanner) CancelWideSweep() bool {
	s.wideMu.Lock()
	w := s.wide
	s.wideMu.Unlock()
	if w == nil {
		return false
	}
	w.Cancel()
	return true
}

// Close abandons any running sweep, waits for it to stop and refuses new
// sweeps. Ticks remain usable.
func (s *Scanner) Close() error {
	s.wideMu.Lock()
	s.closed = true
	w := s.wide
	s.wideMu.Unlock()
	if w != nil {
		w.Cancel()
		<-w.done
	}
	return nil
}

func nonZeroFrame(f sampling.Frame) bool {
	return r3.Norm(f.Forward) > 0 && r3.Norm(f.Up) > 0
}

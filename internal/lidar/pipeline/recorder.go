package pipeline

import (
	"context"
	"time"
)

// TickRecord is the persisted summary of one tick or sweep row.
type TickRecord struct {
	ScannerID string
	SweepID   string // empty for ordinary ticks
	Seq       uint64
	Pattern   string
	Samples   int
	Hits      int
	Skipped   bool
	Err       string
	Duration  time.Duration
	At        time.Time
	Written   uint64 // buffer W after the tick
}

// SweepRecord is the persisted summary of a wide sweep.
type SweepRecord struct {
	ID            string
	ScannerID     string
	Rows          int
	RowsCompleted int
	Cancelled     bool
	MinDuration   time.Duration
	StartedAt     time.Time
	FinishedAt    time.Time
}

// TickRecorder receives tick and sweep summaries. Errors are logged and
// never fail the scan.
type TickRecorder interface {
	RecordTick(ctx context.Context, rec TickRecord) error
	RecordSweep(ctx context.Context, rec SweepRecord) error
}

// Recorders fans summaries out to several recorders. Every recorder is
// called; the first error is returned.
type Recorders []TickRecorder

func (rs Recorders) RecordTick(ctx context.Context, rec TickRecord) error {
	var first error
	for _, r := range rs {
		if err := r.RecordTick(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (rs Recorders) RecordSweep(ctx context.Context, rec SweepRecord) error {
	var first error
	for _, r := range rs {
		if err := r.RecordSweep(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

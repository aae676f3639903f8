package pipeline

import (
	"io"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

var logs = lidar.NewStreams("[scan] ")

// SetLogWriters configures the three logging streams for the scan
// pipeline. Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs.SetWriters(lidar.LogWriters{Ops: ops, Diag: diag, Trace: trace})
}

// opsf: skipped ticks, abandoned sweeps, recorder failures.
func opsf(format string, args ...interface{}) { logs.Logf(lidar.StreamOps, format, args...) }

// diagf: config changes, sweep start and finish.
func diagf(format string, args ...interface{}) { logs.Logf(lidar.StreamDiag, format, args...) }

// tracef: per-tick sample and hit counts.
func tracef(format string, args ...interface{}) { logs.Logf(lidar.StreamTrace, format, args...) }

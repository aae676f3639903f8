// Package monitoring holds the periodic status reporting shared by the
// scan binaries.
package monitoring

import (
	"context"
	"log"
	"time"

	"github.com/banshee-data/lidarscan/internal/timeutil"
)

// Logf receives status lines; SetLogger swaps it, nil mutes it.
var Logf = log.Printf

func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}

// Reporter logs the line returned by Report every Interval until its
// context is cancelled. An empty line is not logged.
type Reporter struct {
	Interval time.Duration
	Report   func() string
	Clock    timeutil.Clock // defaults to RealClock
}

// Run blocks until ctx is done.
func (r Reporter) Run(ctx context.Context) {
	if r.Interval <= 0 || r.Report == nil {
		<-ctx.Done()
		return
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := clock.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if line := r.Report(); line != "" {
				Logf("%s", line)
			}
		}
	}
}

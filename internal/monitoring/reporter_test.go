package monitoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/banshee-data/lidarscan/internal/timeutil"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	Logf("points %d", 3)
	if len(lines) != 1 || lines[0] != "points 3" {
		t.Fatalf("lines = %q, want [points 3]", lines)
	}

	SetLogger(nil)
	Logf("muted")
	if len(lines) != 1 {
		t.Errorf("nil logger still delivered: %q", lines)
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1K"},
		{1234, "1.23K"},
		{12345, "12.3K"},
		{123456, "123K"},
		{1_230_000, "1.23M"},
		{8_388_608, "8.39M"},
		{16_777_216, "16.8M"},
		{4_500_000_000, "4.5B"},
	}
	for _, tt := range tests {
		if got := FormatCount(tt.in); got != tt.want {
			t.Errorf("FormatCount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatWithCommas(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}
	for _, tt := range tests {
		if got := FormatWithCommas(tt.in); got != tt.want {
			t.Errorf("FormatWithCommas(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReporter_LogsEachInterval(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	lines := make(chan string, 4)
	SetLogger(func(format string, v ...interface{}) {
		lines <- fmt.Sprintf(format, v...)
	})

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	n := 0
	go func() {
		defer close(done)
		Reporter{Interval: time.Second, Clock: clock, Report: func() string {
			n++
			return fmt.Sprintf("report %d", n)
		}}.Run(ctx)
	}()

	// The ticker is registered asynchronously; keep advancing until it fires.
	deadline := time.After(5 * time.Second)
	for {
		clock.Advance(time.Second)
		select {
		case line := <-lines:
			if line != "report 1" {
				t.Errorf("got %q, want %q", line, "report 1")
			}
			cancel()
			<-done
			return
		case <-deadline:
			t.Fatal("reporter never logged")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

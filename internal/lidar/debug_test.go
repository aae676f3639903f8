package lidar

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters_RoutesStreams(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})
	defer SetLogWriters(LogWriters{})

	Opsf("tick skipped: %d", 7)
	Diagf("capacity adjusted to %d", 1024)
	Tracef("hits=%d", 12)

	if !strings.Contains(ops.String(), "tick skipped: 7") {
		t.Errorf("ops = %q, want tick message", ops.String())
	}
	if !strings.Contains(diag.String(), "capacity adjusted to 1024") {
		t.Errorf("diag = %q, want capacity message", diag.String())
	}
	if !strings.Contains(trace.String(), "hits=12") {
		t.Errorf("trace = %q, want hits message", trace.String())
	}
	if !strings.HasPrefix(ops.String(), "[lidar] ") {
		t.Errorf("ops = %q, want [lidar] prefix", ops.String())
	}
}

func TestSetLogWriters_NilDisablesStream(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops})
	defer SetLogWriters(LogWriters{})

	Diagf("should not panic")
	Tracef("should not panic")
	Opsf("visible")

	if strings.Count(ops.String(), "\n") != 1 {
		t.Errorf("ops = %q, want exactly one line", ops.String())
	}
}

func TestStreams_Enabled(t *testing.T) {
	s := NewStreams("[x] ")
	if s.Enabled(StreamOps) || s.Enabled(StreamTrace) {
		t.Fatal("new streams should be silent")
	}
	var buf bytes.Buffer
	s.SetWriters(LogWriters{Trace: &buf})
	if !s.Enabled(StreamTrace) || s.Enabled(StreamOps) {
		t.Fatal("only trace should be enabled")
	}
	if s.Enabled(Stream(-1)) || s.Enabled(numStreams) {
		t.Fatal("out of range streams are never enabled")
	}
	s.Logf(numStreams, "ignored")
	s.Logf(StreamTrace, "ring %d", 4)
	if !strings.HasPrefix(buf.String(), "[x] ") || !strings.Contains(buf.String(), "ring 4") {
		t.Errorf("trace = %q", buf.String())
	}
}

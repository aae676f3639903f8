// Package sqlite persists scan sessions, tick summaries and wide sweeps.
//
// The domain packages never see SQL: the scanner writes through the
// pipeline.TickRecorder interface and the monitor reads back through
// ScanStore's query methods.
package sqlite

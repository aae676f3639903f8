// Package pipeline drives scans: each tick generates samples, resolves
// them against the scene and ingests the hits into the point buffer. It
// also runs the paced wide sweep, a row-by-row scan spread over a minimum
// wall-clock duration.
//
// A Scanner is the single writer of its buffer. Ticks and sweep rows are
// serialised; queries inside one tick or row run in parallel.
package pipeline

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarscan/internal/lidar/pipeline"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("scan session not found")

// Session is one run of one scanner.
type Session struct {
	SessionID  string          `json:"session_id"`
	ScannerID  string          `json:"scanner_id"`
	Pattern    string          `json:"pattern"`
	Capacity   int             `json:"capacity"`
	ConfigJSON json.RawMessage `json:"config,omitempty"`
	StartedAt  int64           `json:"started_at"`
	EndedAt    *int64          `json:"ended_at,omitempty"`
}

// SessionSummary aggregates a session's ticks.
type SessionSummary struct {
	Session
	Ticks       int64   `json:"ticks"`
	Skipped     int64   `json:"skipped"`
	Samples     int64   `json:"samples"`
	Hits        int64   `json:"hits"`
	Sweeps      int64   `json:"sweeps"`
	MeanTickMs  float64 `json:"mean_tick_ms"`
	LastWritten int64   `json:"last_written"`
}

// Tick is a persisted tick record.
type Tick struct {
	SessionID string `json:"session_id"`
	pipeline.TickRecord
}

// ScanStore reads and writes the scan recorder tables.
type ScanStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewScanStore creates a store over a migrated database.
func NewScanStore(db *sql.DB) *ScanStore {
	return &ScanStore{db: db, now: time.Now}
}

// StartSession inserts s, generating an ID and start time when unset.
func (s *ScanStore) StartSession(ctx context.Context, sess *Session) error {
	if sess.SessionID == "" {
		sess.SessionID = uuid.New().String()
	}
	if sess.StartedAt == 0 {
		sess.StartedAt = s.now().UnixNano()
	}
	var cfg interface{}
	if len(sess.ConfigJSON) > 0 {
		cfg = string(sess.ConfigJSON)
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scan_sessions (session_id, scanner_id, pattern, capacity, config_json, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sess.SessionID, sess.ScannerID, sess.Pattern, sess.Capacity, cfg, sess.StartedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// EndSession stamps the session's end time.
func (s *ScanStore) EndSession(ctx context.Context, sessionID string) error {
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE scan_sessions SET ended_at = ? WHERE session_id = ?`,
			s.now().UnixNano(), sessionID)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil
	})
}

// GetSession returns one session.
func (s *ScanStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, scanner_id, pattern, capacity, config_json, started_at, ended_at
		FROM scan_sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, err
}

// ListSessions returns up to limit session summaries, newest first.
func (s *ScanStore) ListSessions(ctx context.Context, limit int) ([]*SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.scanner_id, s.pattern, s.capacity, s.config_json, s.started_at, s.ended_at,
		       COUNT(t.tick_id),
		       COALESCE(SUM(t.skipped), 0),
		       COALESCE(SUM(t.samples), 0),
		       COALESCE(SUM(t.hits), 0),
		       COALESCE(AVG(t.duration_ns), 0),
		       COALESCE(MAX(t.written), 0),
		       (SELECT COUNT(*) FROM scan_sweeps w WHERE w.session_id = s.session_id)
		FROM scan_sessions s
		LEFT JOIN scan_ticks t ON t.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionSummary
	for rows.Next() {
		var (
			sum    SessionSummary
			cfg    sql.NullString
			ended  sql.NullInt64
			meanNs float64
		)
		if err := rows.Scan(
			&sum.SessionID, &sum.ScannerID, &sum.Pattern, &sum.Capacity, &cfg, &sum.StartedAt, &ended,
			&sum.Ticks, &sum.Skipped, &sum.Samples, &sum.Hits, &meanNs, &sum.LastWritten, &sum.Sweeps,
		); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		if cfg.Valid {
			sum.ConfigJSON = json.RawMessage(cfg.String)
		}
		if ended.Valid {
			sum.EndedAt = &ended.Int64
		}
		sum.MeanTickMs = meanNs / float64(time.Millisecond)
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// ListTicks returns up to limit of the session's most recent ticks, in
// ascending sequence order.
func (s *ScanStore) ListTicks(ctx context.Context, sessionID string, limit int) ([]*Tick, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, scanner_id, sweep_id, seq, pattern, samples, hits, skipped, error, duration_ns, at_ns, written
		FROM (
			SELECT * FROM scan_ticks WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []*Tick
	for rows.Next() {
		var (
			t        Tick
			sweepID  sql.NullString
			errText  sql.NullString
			skipped  bool
			duration int64
			at       int64
			written  int64
		)
		if err := rows.Scan(&t.SessionID, &t.ScannerID, &sweepID, &t.Seq, &t.Pattern, &t.Samples, &t.Hits,
			&skipped, &errText, &duration, &at, &written); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.SweepID = sweepID.String
		t.Err = errText.String
		t.Skipped = skipped
		t.Duration = time.Duration(duration)
		t.At = time.Unix(0, at).UTC()
		t.Written = uint64(written)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ListSweeps returns the session's sweeps, oldest first.
func (s *ScanStore) ListSweeps(ctx context.Context, sessionID string) ([]pipeline.SweepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sweep_id, scanner_id, row_count, rows_completed, cancelled, min_duration_ns, started_at, finished_at
		FROM scan_sweeps WHERE session_id = ? ORDER BY started_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query sweeps: %w", err)
	}
	defer rows.Close()

	var out []pipeline.SweepRecord
	for rows.Next() {
		var (
			rec               pipeline.SweepRecord
			minDur            int64
			started, finished int64
		)
		if err := rows.Scan(&rec.ID, &rec.ScannerID, &rec.Rows, &rec.RowsCompleted, &rec.Cancelled,
			&minDur, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		rec.MinDuration = time.Duration(minDur)
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and, by cascade, its ticks and sweeps.
func (s *ScanStore) DeleteSession(ctx context.Context, sessionID string) error {
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM scan_sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil
	})
}

// Recorder returns a pipeline.TickRecorder writing into sessionID.
func (s *ScanStore) Recorder(sessionID string) *SessionRecorder {
	return &SessionRecorder{store: s, sessionID: sessionID}
}

// SessionRecorder writes tick and sweep records for one session.
type SessionRecorder struct {
	store     *ScanStore
	sessionID string
}

var _ pipeline.TickRecorder = (*SessionRecorder)(nil)

// SessionID returns the session being recorded.
func (r *SessionRecorder) SessionID() string { return r.sessionID }

func (r *SessionRecorder) RecordTick(ctx context.Context, rec pipeline.TickRecord) error {
	return retryOnBusy(ctx, func() error {
		_, err := r.store.db.ExecContext(ctx, `
			INSERT INTO scan_ticks (session_id, scanner_id, sweep_id, seq, pattern, samples, hits, skipped, error, duration_ns, at_ns, written)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.sessionID, rec.ScannerID, nullString(rec.SweepID), rec.Seq, rec.Pattern, rec.Samples, rec.Hits,
			rec.Skipped, nullString(rec.Err), int64(rec.Duration), rec.At.UnixNano(), int64(rec.Written))
		if err != nil {
			return fmt.Errorf("insert tick %d: %w", rec.Seq, err)
		}
		return nil
	})
}

func (r *SessionRecorder) RecordSweep(ctx context.Context, rec pipeline.SweepRecord) error {
	return retryOnBusy(ctx, func() error {
		_, err := r.store.db.ExecContext(ctx, `
			INSERT INTO scan_sweeps (sweep_id, session_id, scanner_id, row_count, rows_completed, cancelled, min_duration_ns, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, r.sessionID, rec.ScannerID, rec.Rows, rec.RowsCompleted, rec.Cancelled,
			int64(rec.MinDuration), rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert sweep %s: %w", rec.ID, err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess  Session
		cfg   sql.NullString
		ended sql.NullInt64
	)
	if err := row.Scan(&sess.SessionID, &sess.ScannerID, &sess.Pattern, &sess.Capacity, &cfg, &sess.StartedAt, &ended); err != nil {
		return nil, err
	}
	if cfg.Valid {
		sess.ConfigJSON = json.RawMessage(cfg.String)
	}
	if ended.Valid {
		sess.EndedAt = &ended.Int64
	}
	return &sess, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// retryOnBusy retries fn while SQLite reports the database locked.
func retryOnBusy(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(busyBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

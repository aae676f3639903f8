package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range statTables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}

	// Running again is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='scan_ticks'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
}

func TestOpenDB_Pragmas(t *testing.T) {
	db := newTestDB(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestGetDatabaseStats(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec(`INSERT INTO scan_sessions (session_id, scanner_id, pattern, capacity, started_at) VALUES ('s1', 'front', 'disc', 1024, 1)`)
	require.NoError(t, err)

	stats, err := db.GetDatabaseStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, db.Path(), stats.Path)
	assert.Positive(t, stats.SizeBytes)
	require.Len(t, stats.Tables, 3)
	assert.Equal(t, TableStats{Name: "scan_sessions", Rows: 1}, stats.Tables[0])
	assert.Equal(t, int64(0), stats.Tables[1].Rows)
}

func TestAttachAdminRoutes_Registered(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	// They may answer 403 to a non-local caller, but never 404.
	for _, endpoint := range []string{"/debug/db-stats", "/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}
}

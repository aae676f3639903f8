// Package monitor serves the HTTP status and control surface of a running
// scanner: JSON status and session history, sweep and clear controls,
// live configuration, and debug charts of the point buffer.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/lidarscan/internal/config"
	"github.com/banshee-data/lidarscan/internal/db"
	"github.com/banshee-data/lidarscan/internal/lidar/intersect"
	"github.com/banshee-data/lidarscan/internal/lidar/network"
	"github.com/banshee-data/lidarscan/internal/lidar/pipeline"
	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
	sqlite "github.com/banshee-data/lidarscan/internal/lidar/storage/sqlite"
	"github.com/banshee-data/lidarscan/internal/lidar/visualiser"
)

// WebServer handles the HTTP interface for one scanner.
type WebServer struct {
	address   string
	scanner   *pipeline.Scanner
	lookup    intersect.SurfaceColorLookup
	frame     func() sampling.Frame
	store     *sqlite.ScanStore
	sessionID string
	db        *db.DB
	publisher *visualiser.Publisher
	sink      *network.PacketSink
	server    *http.Server

	mu     sync.Mutex
	tuning *config.ScanTuning
}

// WebServerConfig contains configuration options for the web server.
// Scanner, Tuning and Frame are required; the rest are optional.
type WebServerConfig struct {
	Address string
	Scanner *pipeline.Scanner
	Tuning  *config.ScanTuning
	// Frame returns the scanner pose that wide sweeps start from.
	Frame  func() sampling.Frame
	Lookup intersect.SurfaceColorLookup

	Store     *sqlite.ScanStore
	SessionID string
	DB        *db.DB
	Publisher *visualiser.Publisher
	Sink      *network.PacketSink
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	if cfg.Scanner == nil || cfg.Tuning == nil || cfg.Frame == nil {
		return nil, errors.New("monitor: scanner, tuning and frame are required")
	}
	ws := &WebServer{
		address:   cfg.Address,
		scanner:   cfg.Scanner,
		lookup:    cfg.Lookup,
		frame:     cfg.Frame,
		store:     cfg.Store,
		sessionID: cfg.SessionID,
		db:        cfg.DB,
		publisher: cfg.Publisher,
		sink:      cfg.Sink,
		tuning:    cfg.Tuning,
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the route mux, for tests and embedding.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/lidar/status", ws.handleStatus)
	mux.HandleFunc("/api/lidar/sessions", ws.handleSessions)
	mux.HandleFunc("/api/lidar/sweep", ws.handleSweep)
	mux.HandleFunc("/api/lidar/clear", ws.handleClear)
	mux.HandleFunc("/api/lidar/config", ws.handleConfig)
	mux.HandleFunc("/debug/lidar/points", ws.handlePointsChart)
	mux.HandleFunc("/debug/lidar/preview.png", ws.handlePreview)

	if ws.db != nil {
		ws.db.AttachAdminRoutes(mux)
	}
	return mux
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("monitor: encode response: %v", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/banshee-data/lidarscan/internal/config"
	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/intersect"
	"github.com/banshee-data/lidarscan/internal/lidar/network"
	"github.com/banshee-data/lidarscan/internal/lidar/pipeline"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
	sqlite "github.com/banshee-data/lidarscan/internal/lidar/storage/sqlite"
	"github.com/banshee-data/lidarscan/internal/lidar/visualiser"
	"github.com/banshee-data/lidarscan/internal/monitoring"
)

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scanner": ws.scanner.ID()})
}

// StatusResponse is the body of /api/lidar/status.
type StatusResponse struct {
	ScannerID string                    `json:"scanner_id"`
	SessionID string                    `json:"session_id,omitempty"`
	Pattern   string                    `json:"pattern"`
	Scanner   pipeline.Stats            `json:"scanner"`
	Batcher   intersect.BatcherStats    `json:"batcher"`
	Buffer    pointbuffer.Stats         `json:"buffer"`
	Summary   map[string]string         `json:"summary"`
	Sweep     pipeline.WideSweepStatus  `json:"sweep"`
	Publisher *visualiser.PublisherStats `json:"publisher,omitempty"`
	Packets   *network.PacketSinkStats  `json:"packets,omitempty"`
}

func (ws *WebServer) status() StatusResponse {
	buf := ws.scanner.Buffer().Stats()
	st := StatusResponse{
		ScannerID: ws.scanner.ID(),
		SessionID: ws.sessionID,
		Pattern:   ws.scanner.Config().Scan.Pattern.String(),
		Scanner:   ws.scanner.Stats(),
		Batcher:   ws.scanner.Batcher().Stats(),
		Buffer:    buf,
		Sweep:     ws.scanner.WideSweepStatus(),
		Summary: map[string]string{
			"points":   fmt.Sprintf("%s / %s", monitoring.FormatCount(uint64(buf.Live)), monitoring.FormatCount(uint64(buf.Capacity))),
			"written":  monitoring.FormatCount(buf.Written),
			"memory":   fmt.Sprintf("%s of %s", monitoring.FormatMB(buf.UsedMB), monitoring.FormatMB(buf.AllocatedMB)),
			"used_pct": fmt.Sprintf("%.1f%%", buf.UsedFraction*100),
		},
	}
	if buf.Warning {
		st.Summary["warning"] = "point buffer memory use is dangerously high"
	}
	if ws.publisher != nil {
		ps := ws.publisher.Stats()
		st.Publisher = &ps
	}
	if ws.sink != nil {
		ps := ws.sink.Stats()
		st.Packets = &ps
	}
	return st
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.writeJSON(w, http.StatusOK, ws.status())
}

// handleSessions lists recorded sessions, or with session_id returns that
// session's recent ticks and sweeps.
// Query params:
//
//	session_id (optional)
//	limit (optional, default 20 sessions or 100 ticks, max 1000)
func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "recorder not enabled")
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 || v > 1000 {
			ws.writeJSONError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	id := r.URL.Query().Get("session_id")
	if id == "" {
		if limit == 0 {
			limit = 20
		}
		sessions, err := ws.store.ListSessions(r.Context(), limit)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ws.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
		return
	}

	sess, err := ws.store.GetSession(r.Context(), id)
	if errors.Is(err, sqlite.ErrSessionNotFound) {
		ws.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ticks, err := ws.store.ListTicks(r.Context(), id, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sweeps, err := ws.store.ListSweeps(r.Context(), id)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"ticks":   ticks,
		"sweeps":  sweeps,
	})
}

// handleSweep reports the sweep state on GET. POST starts a wide sweep
// from the current pose, abandoning any sweep in progress; POST with
// action=cancel abandons it.
func (ws *WebServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.writeJSON(w, http.StatusOK, ws.scanner.WideSweepStatus())
	case http.MethodPost:
		if r.URL.Query().Get("action") == "cancel" {
			ws.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ws.scanner.CancelWideSweep()})
			return
		}
		ws.mu.Lock()
		opts := ws.tuning.WideSweepOptions()
		ws.mu.Unlock()
		// The sweep outlives this request.
		sweep, err := ws.scanner.StartWideSweep(context.WithoutCancel(r.Context()), ws.frame(), opts)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, lidar.ErrConfiguration) {
				status = http.StatusBadRequest
			} else if errors.Is(err, pipeline.ErrScannerClosed) {
				status = http.StatusServiceUnavailable
			}
			ws.writeJSONError(w, status, err.Error())
			return
		}
		ws.writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": sweep.ID(), "rows": opts.Rows})
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (ws *WebServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.scanner.Buffer().Clear()
	lidar.Diagf("scanner %s: buffer cleared via API", ws.scanner.ID())
	ws.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleConfig returns the live tuning on GET. POST merges a partial
// tuning document into it and applies it from the next tick; POST with
// scroll=<delta> widens or narrows the scan area instead. A changed
// memory budget resizes, and so clears, the buffer. Channel changes need
// a restart and are rejected.
func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.mu.Lock()
		defer ws.mu.Unlock()
		ws.writeJSON(w, http.StatusOK, ws.tuning)
	case http.MethodPost:
		if s := r.URL.Query().Get("scroll"); s != "" {
			ws.handleScroll(w, s)
			return
		}
		ws.handleConfigUpdate(w, r)
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (ws *WebServer) handleScroll(w http.ResponseWriter, s string) {
	delta, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(delta) || math.IsInf(delta, 0) {
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid scroll delta %q", s))
		return
	}
	sc := ws.scanner.AdjustScanArea(delta)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.tuning.ConeAngleDeg = &sc.ConeAngleDeg
	ws.tuning.SquareHalfExtent = &sc.SquareHalfExtent
	ws.writeJSON(w, http.StatusOK, map[string]float64{
		"cone_angle_deg":     sc.ConeAngleDeg,
		"square_half_extent": sc.SquareHalfExtent,
	})
}

func (ws *WebServer) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch, err := config.ParseScanTuning(body)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	if (patch.Normals != nil && *patch.Normals != ws.tuning.GetNormals()) ||
		(patch.Timestamps != nil && *patch.Timestamps != ws.tuning.GetTimestamps()) {
		ws.writeJSONError(w, http.StatusBadRequest, "buffer channels cannot change while running")
		return
	}

	// Merge into a copy so a rejected patch leaves the live tuning alone.
	next := config.EmptyScanTuning()
	next.Merge(ws.tuning)
	next.Merge(patch)
	if err := next.Validate(); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := next.PipelineConfig(ws.lookup)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := 0
	if next.GetMemoryBudgetMB() != ws.tuning.GetMemoryBudgetMB() {
		c, err := next.BufferBudget().Capacity()
		if err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		records = c.Records
	}
	resized, err := ws.applyConfig(cfg, records)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ws.tuning = next
	lidar.Diagf("scanner %s: config updated via API (resized=%t)", ws.scanner.ID(), resized)

	out, err := json.Marshal(next)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"config":   json.RawMessage(out),
		"resized":  resized,
		"capacity": ws.scanner.Buffer().Capacity(),
	})
}

// applyConfig installs cfg and then, when records is positive and differs from
// the live capacity, resizes the buffer. The buffer is only cleared once the
// scanner has accepted cfg; a failed resize restores the previous config.
func (ws *WebServer) applyConfig(cfg pipeline.Config, records int) (bool, error) {
	prev := ws.scanner.Config()
	if err := ws.scanner.SetConfig(cfg); err != nil {
		return false, err
	}
	if records == 0 || records == ws.scanner.Buffer().Capacity() {
		return false, nil
	}
	if err := ws.scanner.Buffer().Resize(records); err != nil {
		if rerr := ws.scanner.SetConfig(prev); rerr != nil {
			lidar.Opsf("scanner %s: restore config after failed resize: %v", ws.scanner.ID(), rerr)
		}
		return false, err
	}
	return true, nil
}

package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
	"github.com/banshee-data/lidarscan/internal/lidar/visualiser"
)

// handlePointsChart renders a top-down scatter (HTML) of the live points
// using go-echarts, coloured by height. Debug only.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handlePointsChart(w http.ResponseWriter, r *http.Request) {
	maxPoints := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	var (
		data       []opts.ScatterData
		stride     int
		maxAbs     float64
		minY, maxY = math.Inf(1), math.Inf(-1)
		live       int
	)
	ws.scanner.Buffer().View(func(v pointbuffer.View) {
		live = v.Count
		stride = 1
		if v.Count > maxPoints {
			stride = int(math.Ceil(float64(v.Count) / float64(maxPoints)))
		}
		data = make([]opts.ScatterData, 0, v.Count/stride+1)
		for k := 0; k < v.Count; k += stride {
			p := v.Positions[v.Slot(k)]
			x, y, z := float64(p[0]), float64(p[1]), float64(p[2])
			maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(z)))
			minY = math.Min(minY, y)
			maxY = math.Max(maxY, y)
			data = append(data, opts.ScatterData{Value: []interface{}{x, z, y}})
		}
	})
	if live == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no points in buffer")
		return
	}

	// Pad so points at the edges stay visible.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxY <= minY {
		maxY = minY + 1
	}

	// Square plot with symmetric axes so distances are not distorted.
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "LiDAR Scan Points", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Scan Points (top-down)", Subtitle: fmt.Sprintf("scanner=%s points=%d stride=%d", ws.scanner.ID(), len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minY),
			Max:        float32(maxY),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#313695", "#4575b4", "#74add1", "#abd9e9", "#fee090", "#fdae61", "#f46d43", "#d73027"}},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePreview rasterises the live points to PNG.
// Query params:
//   - projection: top (default) or side
//   - size: square image size in pixels, 16..2048 (default 512)
//   - extent: world half-size in metres (default: fit)
//   - normals=1: colour by normal
//   - far=#rrggbb and far_distance: blend towards a far colour
func (ws *WebServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	po := visualiser.DefaultPreviewOptions()

	proj, err := visualiser.ParseProjection(q.Get("projection"))
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	po.Projection = proj
	if s := q.Get("size"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 16 || v > 2048 {
			ws.writeJSONError(w, http.StatusBadRequest, "size must be between 16 and 2048")
			return
		}
		po.Width, po.Height = v, v
	}
	if s := q.Get("extent"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			ws.writeJSONError(w, http.StatusBadRequest, "extent must be a positive number")
			return
		}
		po.Extent = v
	}
	po.ColorByNormal = q.Get("normals") == "1"
	if s := q.Get("far"); s != "" {
		c, err := lidar.ParseHexColor(s)
		if err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		po.FarColor = &c
		po.FarDistance = 50
		if d := q.Get("far_distance"); d != "" {
			if v, err := strconv.ParseFloat(d, 64); err == nil && v > 0 {
				po.FarDistance = v
			}
		}
	}
	frame := ws.frame()
	po.Center = [3]float32{float32(frame.Origin.X), float32(frame.Origin.Y), float32(frame.Origin.Z)}

	var buf bytes.Buffer
	if _, err := visualiser.RenderPreview(&buf, ws.scanner.Buffer().Snapshot(), po); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

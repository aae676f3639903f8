// Command scanview drives a scanner interactively in the terminal and
// draws a live top-down view of the point buffer.
//
// Keys: space toggles scanning, y starts a wide sweep, c clears, + and -
// widen or narrow the scan area, p cycles the pattern, arrow keys turn
// and move, q or Esc quits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/config"
	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/pipeline"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
	"github.com/banshee-data/lidarscan/internal/lidar/scene"
	"github.com/banshee-data/lidarscan/internal/monitoring"
)

var (
	configFile = flag.String("config", config.DefaultConfigPath, "Scan tuning JSON file")
	logFile    = flag.String("log", "", "Write the ops log here (the terminal is in use)")
)

type app struct {
	screen  tcell.Screen
	scanner *pipeline.Scanner
	driver  *pipeline.Driver
	tuning  *config.ScanTuning

	scanning bool
	yawDeg   float64
	origin   r3.Vec
	extent   float64
	message  string
}

func main() {
	flag.Parse()
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
		lidar.SetLogWriters(lidar.LogWriters{Ops: f})
		pipeline.SetLogWriters(f, nil, nil)
	}

	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.screen.Fini()
	defer a.scanner.Close()
	a.run()
}

func newApp() (*app, error) {
	tuning, err := config.LoadScanTuning(*configFile)
	if err != nil {
		return nil, err
	}
	demo := scene.Demo()
	cfg, err := tuning.PipelineConfig(demo)
	if err != nil {
		return nil, err
	}
	buf, _, err := pointbuffer.NewFromBudget(tuning.BufferBudget(), tuning.BufferOptions())
	if err != nil {
		return nil, err
	}
	scanner, err := pipeline.NewScanner(cfg, demo, buf, pipeline.Options{ID: "scanview"})
	if err != nil {
		return nil, err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}

	a := &app{
		screen:   screen,
		scanner:  scanner,
		tuning:   tuning,
		scanning: true,
		origin:   scene.DemoOrigin,
		extent:   scene.DemoHalfWidth * 1.1,
	}
	a.driver = pipeline.NewDriver(scanner, a.frame(), pipeline.DriverOptions{
		TickRate:    tuning.GetTickRate(),
		SpinRateDeg: tuning.GetSpinRateDeg(),
	})
	return a, nil
}

func (a *app) frame() sampling.Frame {
	return sampling.LookFrame(a.origin, r3.Vec{Z: 1}).RotateYaw(a.yawDeg)
}

func (a *app) run() {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / a.tuning.GetTickRate()))
	defer ticker.Stop()

	eventChan := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := a.screen.PollEvent()
			if ev == nil {
				return
			}
			eventChan <- ev
		}
	}()

	ctx := context.Background()
	for {
		select {
		case ev := <-eventChan:
			if !a.handleInput(ctx, ev) {
				return
			}
		case <-ticker.C:
			if a.scanning {
				if _, err := a.driver.Step(ctx); err != nil {
					a.message = err.Error()
				}
			}
			a.draw()
		}
	}
}

func (a *app) handleInput(ctx context.Context, ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			return false
		case tcell.KeyLeft:
			a.turn(-5)
		case tcell.KeyRight:
			a.turn(5)
		case tcell.KeyUp:
			a.move(0.5)
		case tcell.KeyDown:
			a.move(-0.5)
		case tcell.KeyRune:
			return a.handleRune(ctx, ev.Rune())
		}
	case *tcell.EventResize:
		a.screen.Sync()
	}
	return true
}

func (a *app) handleRune(ctx context.Context, r rune) bool {
	switch r {
	case 'q':
		return false
	case ' ':
		a.scanning = !a.scanning
	case 'y':
		if _, err := a.scanner.StartWideSweep(ctx, a.driver.Frame(), a.tuning.WideSweepOptions()); err != nil {
			a.message = err.Error()
		} else {
			a.message = "wide sweep started"
		}
	case 'c':
		a.scanner.Buffer().Clear()
		a.message = "cleared"
	case '+', '=':
		sc := a.scanner.AdjustScanArea(1)
		a.message = fmt.Sprintf("cone %.0f°, square %.2f", sc.ConeAngleDeg, sc.SquareHalfExtent)
	case '-':
		sc := a.scanner.AdjustScanArea(-1)
		a.message = fmt.Sprintf("cone %.0f°, square %.2f", sc.ConeAngleDeg, sc.SquareHalfExtent)
	case 'p':
		cfg := a.scanner.Config()
		cfg.Scan.Pattern = cfg.Scan.Pattern.Next()
		if err := a.scanner.SetConfig(cfg); err != nil {
			a.message = err.Error()
		} else {
			a.message = "pattern " + cfg.Scan.Pattern.String()
		}
	}
	return true
}

func (a *app) turn(deg float64) {
	a.yawDeg += deg
	a.driver.SetFrame(a.frame())
}

func (a *app) move(step float64) {
	f := a.frame()
	next := r3.Add(a.origin, r3.Scale(step, r3.Vec{X: f.Forward.X, Z: f.Forward.Z}))
	limit := scene.DemoHalfWidth - 0.5
	if next.X > -limit && next.X < limit && next.Z > -limit && next.Z < limit {
		a.origin = next
		a.driver.SetFrame(a.frame())
	}
}

func (a *app) draw() {
	a.screen.Clear()
	w, h := a.screen.Size()
	if h < 2 || w < 1 {
		a.screen.Show()
		return
	}
	var grid [][]cell
	a.scanner.Buffer().View(func(v pointbuffer.View) {
		grid = rasterise(v, w, h-1, a.origin, a.extent)
	})
	for y, row := range grid {
		for x, c := range row {
			if !c.set {
				continue
			}
			style := tcell.StyleDefault.Foreground(tcell.NewRGBColor(c.r, c.g, c.b))
			a.screen.SetContent(x, y, '•', nil, style)
		}
	}
	if cx, cy, ok := project(a.origin, w, h-1, a.origin, a.extent); ok {
		a.screen.SetContent(cx, cy, '@', nil, tcell.StyleDefault.Foreground(tcell.ColorRed).Reverse(true))
	}

	st := a.scanner.Stats()
	bs := a.scanner.Buffer().Stats()
	state := "paused"
	if a.scanning {
		state = "scanning"
	}
	status := fmt.Sprintf(" %s %s | points %s/%s | hits %s | sweep %s | %s",
		state, a.scanner.Config().Scan.Pattern, monitoring.FormatCount(uint64(bs.Live)),
		monitoring.FormatCount(uint64(bs.Capacity)), monitoring.FormatCount(st.Hits),
		a.scanner.WideSweepStatus().State, a.message)
	drawText(a.screen, 0, h-1, status, tcell.StyleDefault.Reverse(true))
	a.screen.Show()
}

func drawText(s tcell.Screen, x, y int, text string, style tcell.Style) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

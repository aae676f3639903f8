// Command lidarsim runs a scanner headless against the demo courtyard.
// It serves the monitor, records sessions to SQLite and can export the
// point stream as pcap or UDP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"

	"github.com/banshee-data/lidarscan/internal/config"
	"github.com/banshee-data/lidarscan/internal/db"
	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/monitor"
	"github.com/banshee-data/lidarscan/internal/lidar/network"
	"github.com/banshee-data/lidarscan/internal/lidar/pipeline"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
	"github.com/banshee-data/lidarscan/internal/lidar/scanplot"
	"github.com/banshee-data/lidarscan/internal/lidar/scene"
	sqlite "github.com/banshee-data/lidarscan/internal/lidar/storage/sqlite"
	"github.com/banshee-data/lidarscan/internal/lidar/visualiser"
	"github.com/banshee-data/lidarscan/internal/monitoring"
	"github.com/banshee-data/lidarscan/internal/version"
)

var (
	listen      = flag.String("listen", ":8081", "HTTP listen address (empty disables the monitor)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC point stream listen address (empty disables it)")
	configFile  = flag.String("config", config.DefaultConfigPath, "Scan tuning JSON file")
	dbFile      = flag.String("db", "scan_sessions.db", "SQLite recorder database (empty disables recording)")
	pattern     = flag.String("pattern", "", "Override the scan pattern (disc, square, line, sphere, sweep)")
	pcapFile    = flag.String("pcap", "", "Write the point stream to this pcap file")
	forward     = flag.Bool("forward", false, "Forward the point stream as UDP packets")
	forwardAddr = flag.String("forward-addr", "localhost", "Address to forward UDP packets to")
	forwardPort = flag.Int("forward-port", network.DefaultPort, "Port to forward UDP packets to")
	duration    = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	logInterval = flag.Int("log-interval", 2, "Statistics logging interval in seconds")
	logOps      = flag.String("log-ops", "stderr", "Ops log stream: stderr, stdout, off or a file path")
	logDiag     = flag.String("log-diag", "off", "Diagnostic log stream: stderr, stdout, off or a file path")
	logTrace    = flag.String("log-trace", "off", "Per-tick trace log stream: stderr, stdout, off or a file path")
	plotDir     = flag.String("plot-dir", "", "Write tick and point cloud plots here on shutdown")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	closeLogs, err := configureLogging()
	if err != nil {
		log.Fatalf("lidarsim: %v", err)
	}
	defer closeLogs()

	if err := run(); err != nil {
		log.Fatalf("lidarsim: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func configureLogging() (func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	open := func(dest string) (io.Writer, error) {
		switch dest {
		case "", "off":
			return nil, nil
		case "stderr":
			return os.Stderr, nil
		case "stdout":
			return os.Stdout, nil
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log %s: %w", dest, err)
		}
		files = append(files, f)
		return f, nil
	}

	var w lidar.LogWriters
	for _, s := range []struct {
		dest string
		dst  *io.Writer
	}{{*logOps, &w.Ops}, {*logDiag, &w.Diag}, {*logTrace, &w.Trace}} {
		out, err := open(s.dest)
		if err != nil {
			closeAll()
			return nil, err
		}
		*s.dst = out
	}
	lidar.SetLogWriters(w)
	pipeline.SetLogWriters(w.Ops, w.Diag, w.Trace)
	return closeAll, nil
}

func run() error {
	tuning, err := config.LoadScanTuning(*configFile)
	if err != nil {
		return err
	}
	if *pattern != "" {
		tuning.Merge(&config.ScanTuning{Pattern: pattern})
		if err := tuning.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	demo := scene.Demo()
	cfg, err := tuning.PipelineConfig(demo)
	if err != nil {
		return err
	}

	// Render sinks: the in-process publisher always, packets on request.
	publisher := visualiser.NewPublisher()
	defer publisher.Close()
	sinks := pointbuffer.MultiSink{publisher}

	var packetSink *network.PacketSink
	var pcapW *network.PcapWriter
	var forwarder *network.PacketForwarder
	if *pcapFile != "" {
		f, err := os.Create(*pcapFile)
		if err != nil {
			return fmt.Errorf("create pcap: %w", err)
		}
		defer f.Close()
		if pcapW, err = network.NewPcapWriter(f, network.DefaultPcapOptions()); err != nil {
			return err
		}
	}
	if *forward {
		forwarder, err = network.NewPacketForwarder(*forwardAddr, *forwardPort, time.Duration(*logInterval)*time.Second)
		if err != nil {
			return err
		}
		defer forwarder.Close()
		forwarder.Start(ctx)
	}
	if pcapW != nil || forwarder != nil {
		packetSink = network.NewPacketSink(pcapW, forwarder, nil)
		sinks = append(sinks, packetSink)
	}

	opts := tuning.BufferOptions()
	opts.Sink = sinks
	buf, capacity, err := pointbuffer.NewFromBudget(tuning.BufferBudget(), opts)
	if err != nil {
		return err
	}
	log.Printf("Point buffer: %s records (%s, %s)", monitoring.FormatCount(uint64(capacity.Records)),
		buf.Channels(), monitoring.FormatMB(capacity.EffectiveMB))

	var (
		database  *db.DB
		store     *sqlite.ScanStore
		sessionID string
		popts     = pipeline.Options{ID: "lidarsim"}
		recorders pipeline.Recorders
		plotter   *scanplot.TickPlotter
	)
	if *dbFile != "" {
		database, err = db.NewDB(*dbFile)
		if err != nil {
			return fmt.Errorf("open recorder: %w", err)
		}
		defer database.Close()
		store = sqlite.NewScanStore(database.DB)
		cfgJSON, _ := json.Marshal(tuning)
		sess := &sqlite.Session{ScannerID: popts.ID, Pattern: tuning.GetPattern(), Capacity: buf.Capacity(), ConfigJSON: cfgJSON}
		if err := store.StartSession(ctx, sess); err != nil {
			return err
		}
		sessionID = sess.SessionID
		recorders = append(recorders, store.Recorder(sessionID))
		defer func() {
			if err := store.EndSession(context.Background(), sessionID); err != nil {
				log.Printf("end session: %v", err)
			}
		}()
		log.Printf("Recording session %s to %s", sessionID, *dbFile)
	}

	if *plotDir != "" {
		plotter = scanplot.NewTickPlotter(0)
		recorders = append(recorders, plotter)
	}
	switch len(recorders) {
	case 0:
	case 1:
		popts.Recorder = recorders[0]
	default:
		popts.Recorder = recorders
	}

	scanner, err := pipeline.NewScanner(cfg, demo, buf, popts)
	if err != nil {
		return err
	}
	defer scanner.Close()

	driver := pipeline.NewDriver(scanner, sampling.LookFrame(scene.DemoOrigin, r3.Vec{Z: 1}), pipeline.DriverOptions{
		TickRate:    tuning.GetTickRate(),
		SpinRateDeg: tuning.GetSpinRateDeg(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := driver.Run(gctx)
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil
		}
		return err
	})
	g.Go(func() error {
		monitoring.Reporter{
			Interval: time.Duration(*logInterval) * time.Second,
			Report:   func() string { return statsLine(scanner, publisher, packetSink) },
		}.Run(gctx)
		return nil
	})
	if *listen != "" {
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{
			Address:   *listen,
			Scanner:   scanner,
			Tuning:    tuning,
			Frame:     driver.Frame,
			Lookup:    demo,
			Store:     store,
			SessionID: sessionID,
			DB:        database,
			Publisher: publisher,
			Sink:      packetSink,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return ws.Start(gctx) })
	}

	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer := grpc.NewServer()
		visualiser.RegisterPointStream(grpcServer, visualiser.NewStreamServer(publisher))
		g.Go(func() error {
			log.Printf("Starting gRPC point stream on %s", lis.Addr())
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			// Streams end only when the publisher closes; GracefulStop would block.
			grpcServer.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Print(statsLine(scanner, publisher, packetSink))
	if plotter != nil {
		n, err := plotter.GeneratePlots(*plotDir, buf.Snapshot(), scanplot.PlotOptions{Origin: scene.DemoOrigin})
		if err != nil {
			return fmt.Errorf("generate plots: %w", err)
		}
		log.Printf("Wrote %d plots to %s", n, *plotDir)
	}
	return nil
}

func statsLine(s *pipeline.Scanner, pub *visualiser.Publisher, ps *network.PacketSink) string {
	st := s.Stats()
	bs := s.Buffer().Stats()
	line := fmt.Sprintf("Scan stats: ticks=%s skipped=%d hits=%s live=%s/%s (%.1f%%) sweep=%s subscribers=%d",
		monitoring.FormatCount(st.Ticks), st.Skipped, monitoring.FormatCount(st.Hits),
		monitoring.FormatCount(uint64(bs.Live)), monitoring.FormatCount(uint64(bs.Capacity)),
		bs.UsedFraction*100, s.WideSweepStatus().State, pub.Stats().Subscribers)
	if ps != nil {
		p := ps.Stats()
		line += fmt.Sprintf(" packets=%s", monitoring.FormatCount(p.Packets))
	}
	if bs.Warning {
		line += " WARNING: memory use dangerously high"
	}
	return line
}

// Command sensorsim drives a small simulated scene: a vehicle carrying an
// ideal lidar and a multi-sample model of it drives past a spinning block,
// and the mean difference between the two point clouds is reported.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/sensorsim/internal/config"
	"github.com/banshee-data/sensorsim/internal/fsutil"
	"github.com/banshee-data/sensorsim/internal/monitoring"
	"github.com/banshee-data/sensorsim/internal/observability"
	"github.com/banshee-data/sensorsim/internal/simsensor/body"
	"github.com/banshee-data/sensorsim/internal/simsensor/catalog"
	"github.com/banshee-data/sensorsim/internal/simsensor/manager"
	"github.com/banshee-data/sensorsim/internal/simsensor/raycast"
	"github.com/banshee-data/sensorsim/internal/simsensor/sensor"
	"github.com/banshee-data/sensorsim/internal/timeutil"
	"github.com/banshee-data/sensorsim/internal/version"
)

var (
	configFile  = flag.String("config", "", "Scene configuration file (JSON, YAML or TOML); empty runs the built-in demo")
	logLevel    = flag.String("log-level", "ops", "Most verbose log stream to enable: off, ops, diag or trace")
	realtime    = flag.Float64("realtime", 0, "Pace the simulation at this multiple of wall-clock time (0 runs as fast as possible)")
	outputDir   = flag.String("output", "", "Directory for plots and persisted frames (overrides the config)")
	catalogPath = flag.String("catalog", "", "SQLite capture catalog (overrides the config)")
	metricsAddr = flag.String("metrics", "", "Serve /metrics and /sensors on this address, e.g. :9100 (overrides the config)")
	duration    = flag.Float64("duration", 0, "Simulated seconds to run (overrides the config)")
	visualize   = flag.Bool("visualize", false, "Render range images in the built-in demo")
	persist     = flag.Bool("persist", false, "Write XYZI frames to disk in the built-in demo")
	noise       = flag.Bool("noise", false, "Add range and angle noise to the model lidar in the built-in demo")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("sensorsim"))
		return
	}

	writers, err := monitoring.WritersFor(monitoring.Level(*logLevel), os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	monitoring.SetLogWriters(writers)

	cfg, err := loadScene()
	if err != nil {
		log.Fatalf("failed to load scene: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, cfg, *realtime)
	if err != nil {
		log.Fatalf("simulation failed: %v", err)
	}
	res.print(os.Stdout)
}

// loadScene reads the configured scene or falls back to the demo, then
// applies command-line overrides.
func loadScene() (*config.SceneConfig, error) {
	var cfg *config.SceneConfig
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		cfg.Name = "demo"
		cfg.Sensors = demoSensors(demoOptions{visualize: *visualize, persist: *persist, noise: *noise})
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *catalogPath != "" {
		cfg.Catalog = *catalogPath
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *duration > 0 {
		cfg.Duration = *duration
	}
	return cfg, cfg.Validate()
}

type sensorSummary struct {
	Name  string
	State string
	Stats sensor.Stats
}

type result struct {
	Scene       string
	Steps       uint64
	SimTime     float64
	Sensors     []sensorSummary
	Diagnostics int
	Delta       pointDelta
	Compared    bool
	Elapsed     time.Duration
}

func (r result) print(w io.Writer) {
	fmt.Fprintf(w, "scene %q: %d steps, %.3fs simulated in %v\n", r.Scene, r.Steps, r.SimTime, r.Elapsed.Round(time.Millisecond))
	for _, s := range r.Sensors {
		fmt.Fprintf(w, "  %-8s issued=%d published=%d dropped=%d abandoned=%d state=%s\n",
			s.Name, s.Stats.Issued, s.Stats.Published, s.Stats.Dropped, s.Stats.Abandoned, s.State)
	}
	if r.Diagnostics > 0 {
		fmt.Fprintf(w, "  %d contained cycle failures\n", r.Diagnostics)
	}
	if r.Compared {
		fmt.Fprintf(w, "mean |dy| %.4f m  |dz| %.4f m  |dI| %.4f over %d beams\n",
			r.Delta.Y, r.Delta.Z, r.Delta.Intensity, r.Delta.Beams)
	}
}

// run builds the pipeline for cfg over the demo scene and steps it to the
// configured duration. realtimeFactor > 0 paces stepping against the wall
// clock.
func run(ctx context.Context, cfg *config.SceneConfig, realtimeFactor float64) (result, error) {
	res := result{Scene: cfg.Name}
	started := time.Now()

	outputs := config.Outputs{Dir: cfg.OutputDir, FS: fsutil.OSFileSystem{}}
	if cfg.Catalog != "" {
		store, err := catalog.Open(cfg.Catalog)
		if err != nil {
			return res, err
		}
		defer store.Close()
		rec, err := store.BeginRun(ctx, cfg.Name, cfg.Step)
		if err != nil {
			return res, err
		}
		defer func() {
			if err := rec.Finish(context.Background()); err != nil {
				log.Printf("failed to finish catalog run: %v", err)
			}
		}()
		outputs.Recorder = rec
	}

	reg := prometheus.NewRegistry()
	collector, err := observability.NewSensorCollector(reg)
	if err != nil {
		return res, err
	}

	tracer := raycast.New(demoScene(), raycast.WithAccelerators(int64(cfg.Accelerators)))
	mgr, err := manager.New(tracer,
		manager.WithObserver(collector),
		manager.WithDiagnosticsBuffer(cfg.DiagnosticsBuffer),
	)
	if err != nil {
		return res, err
	}
	if cfg.MetricsAddr != "" {
		stopStatus := serveStatus(cfg.MetricsAddr, statusMux(collector.Handler(), mgr))
		defer stopStatus()
	}

	vehicle := body.New("vehicle", 0, vehicleFrame(0), body.WithHistory(cfg.PoseHistory()))
	for _, sc := range cfg.Sensors {
		s, err := outputs.BuildLidar(sc, vehicle)
		if err != nil {
			mgr.Close()
			return res, err
		}
		if err := mgr.AddSensor(s); err != nil {
			mgr.Close()
			return res, err
		}
	}

	clock := timeutil.NewStepClock(0, cfg.Step)
	pacer := timeutil.NewPacer(timeutil.RealClock{}, realtimeFactor, clock.Now())
	for t := clock.Now(); t <= cfg.Duration && ctx.Err() == nil; t = clock.Advance() {
		if err := vehicle.SetPose(t, vehicleFrame(t)); err != nil {
			mgr.Close()
			return res, err
		}
		mgr.Update(t)
		res.Diagnostics += drainDiagnostics(mgr.Diagnostics())
		pacer.Wait(t)
		res.SimTime = t
	}
	res.Steps = clock.Steps()

	mgr.Wait()
	sensors := mgr.Sensors()
	for _, s := range sensors {
		res.Sensors = append(res.Sensors, sensorSummary{Name: s.Name(), State: s.State().String(), Stats: s.Stats()})
	}
	if len(sensors) >= 2 {
		res.Delta, res.Compared = comparePoints(sensors[0].MostRecentXYZI(), sensors[1].MostRecentXYZI())
	}

	if err := mgr.Close(); err != nil {
		return res, err
	}
	for d := range mgr.Diagnostics() {
		log.Printf("diagnostic: %s", d)
		res.Diagnostics++
	}
	res.Elapsed = time.Since(started)
	return res, nil
}

// drainDiagnostics logs every diagnostic currently queued without blocking.
func drainDiagnostics(ch <-chan manager.Diagnostic) int {
	n := 0
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return n
			}
			log.Printf("diagnostic: %s", d)
			n++
		default:
			return n
		}
	}
}

// serveStatus starts an HTTP server for h and returns a function that shuts
// it down.
func serveStatus(addr string, h http.Handler) func() {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("status server failed: %v", err)
		}
	}()
	log.Printf("serving /metrics and /sensors on %s", addr)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("status server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("status server force close error: %v", err)
			}
		}
	}
}

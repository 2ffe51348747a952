// Command egomotiond runs the live estimator: it reads the sensor bridge,
// steps the estimator every control cycle, stores the run and serves the
// result over HTTP, websocket and gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/egomotion/internal/api"
	"github.com/banshee-data/egomotion/internal/config"
	"github.com/banshee-data/egomotion/internal/db"
	"github.com/banshee-data/egomotion/internal/egomotion"
	"github.com/banshee-data/egomotion/internal/instance"
	"github.com/banshee-data/egomotion/internal/monitoring"
	"github.com/banshee-data/egomotion/internal/pipeline"
	"github.com/banshee-data/egomotion/internal/publisher"
	"github.com/banshee-data/egomotion/internal/samples"
	"github.com/banshee-data/egomotion/internal/serialmux"
	"github.com/banshee-data/egomotion/internal/sim"
	"github.com/banshee-data/egomotion/internal/timeutil"
	"github.com/banshee-data/egomotion/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen    = flag.String("grpc-listen", "localhost:50061", "gRPC publisher listen address (empty to disable)")
	port          = flag.String("port", "/dev/ttyUSB0", "Sensor bridge serial port")
	baudRate      = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	disableSerial = flag.Bool("disable-serial", false, "Run without a sensor bridge (API and replay only)")
	devMode       = flag.Bool("dev", false, "Feed the estimator from a simulated drive instead of the serial port")
	devScenario   = flag.String("dev-scenario", string(sim.Cruise), "Simulated scenario used with --dev")
	dataDir       = flag.String("data-dir", ".", "Directory for the database and instance lock")
	dbFile        = flag.String("db", "egomotion.db", "Database file name, relative to --data-dir")
	tuningPath    = flag.String("tuning", "", "Tuning config JSON (defaults when empty)")
	bridgeTicks   = flag.Bool("bridge-ticks", false, "Stamp cycles with bridge tick time instead of the host clock")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// newFeed picks the sensor bridge: a disabled mux, a simulated drive looped
// forever, or the real serial port.
func newFeed(clock timeutil.Clock, interval time.Duration) (serialmux.SerialMuxInterface, string, error) {
	switch {
	case *disableSerial:
		return serialmux.NewDisabledSerialMux(), "disabled", nil
	case *devMode:
		scenario, err := sim.ParseScenario(*devScenario)
		if err != nil {
			return nil, "", err
		}
		rows, _, err := sim.Generate(sim.DefaultOptions(scenario))
		if err != nil {
			return nil, "", fmt.Errorf("failed to simulate %s: %w", scenario, err)
		}
		return serialmux.NewMockSerialMux(serialmux.ReplayRows(rows), clock, interval), "sim:" + string(scenario), nil
	default:
		m, err := serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baudRate})
		if err != nil {
			return nil, "", err
		}
		return m, "serial:" + *port, nil
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning, err := loadTuning(*tuningPath)
	if err != nil {
		log.Fatalf("failed to load tuning: %v", err)
	}
	tuningJSON, err := tuning.JSON()
	if err != nil {
		log.Fatalf("failed to encode tuning: %v", err)
	}

	lock, err := instance.Acquire(*dataDir)
	if err != nil {
		log.Fatalf("failed to acquire instance lock: %v", err)
	}
	defer lock.Release()

	store, err := db.NewDB(filepath.Join(*dataDir, *dbFile))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	clock := timeutil.RealClock{}
	interval := tuning.GetCycleInterval()

	bridge, source, err := newFeed(clock, interval)
	if err != nil {
		log.Fatalf("failed to open sensor bridge: %v", err)
	}
	defer bridge.Close()

	if err := bridge.Initialize(); err != nil {
		log.Fatalf("failed to initialize sensor bridge: %v", err)
	}
	log.Printf("egomotiond %s, feed %s", version.String(), source)

	run, err := store.CreateRun(source, tuningJSON)
	if err != nil {
		log.Fatalf("failed to create run: %v", err)
	}
	log.Printf("[pipeline] recording run %s", run.ID)

	runStore := db.NewRunStore(store, run.ID, tuning.GetPersistEvery())
	broadcaster := pipeline.NewBroadcaster(0)
	throttle := monitoring.NewThrottle(5 * time.Second)

	sinks := []pipeline.Sink{runStore, broadcaster}
	var pub *publisher.Publisher
	if *grpcListen != "" {
		cfg := publisher.DefaultConfig()
		cfg.ListenAddr = *grpcListen
		cfg.StaleAfter = tuning.GetStaleAfter()
		pub = publisher.NewPublisher(cfg, clock)
		sinks = append(sinks, pub)
	}

	loop := pipeline.NewLoop(pipeline.Options{
		Estimator:      egomotion.New(egomotion.ConfigFromTuning(tuning)),
		Clock:          clock,
		Interval:       interval,
		UseBridgeTicks: *bridgeTicks,
		RunID:          run.ID,
		Sinks:          sinks,
		Throttle:       throttle,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridgeState := serialmux.NewBridgeState()
	events := make(chan samples.Event, 256)

	// serial IO
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// decode bridge lines into events
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serialmux.Feed(ctx, bridge, events, bridgeState, throttle); err != nil && err != context.Canceled {
			log.Printf("[pipeline] feed stopped: %v", err)
		}
	}()

	// estimator loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx, events); err != nil && err != context.Canceled {
			log.Printf("[pipeline] loop stopped: %v", err)
		}
		stats := loop.Stats()
		log.Printf("[pipeline] loop stopped after %d cycles, %d applied, %d GPS corrections, %d spikes",
			stats.Cycles, stats.Applied, stats.GpsCorrected, stats.SpikeRejections)
	}()

	if pub != nil {
		if err := pub.Start(); err != nil {
			log.Fatalf("failed to start gRPC publisher: %v", err)
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Options{
			Estimator:   loop,
			DB:          store,
			Broadcaster: broadcaster,
			Bridge:      bridgeState,
			RunID:       run.ID,
			Clock:       clock,
			StaleAfter:  tuning.GetStaleAfter(),
		}).ServeMux()

		bridge.AttachAdminRoutes(mux)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// The loop has stopped publishing; drain the sinks.
	if pub != nil {
		pub.Stop()
	}
	broadcaster.Close()
	if err := runStore.Close(); err != nil {
		log.Printf("[pipeline] failed to finish run %s: %v", run.ID, err)
	}
	if n := runStore.Dropped(); n > 0 {
		log.Printf("[pipeline] run store dropped %d estimates", n)
	}
	log.Printf("Graceful shutdown complete")
}

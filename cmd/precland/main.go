package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/avioncargo/precland/internal/api"
	"github.com/avioncargo/precland/internal/camera"
	"github.com/avioncargo/precland/internal/config"
	"github.com/avioncargo/precland/internal/flightlog"
	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/telemetry"
	"github.com/avioncargo/precland/internal/version"
	"github.com/avioncargo/precland/internal/vision"
)

var (
	configPath = flag.String("config", "", "Path to landing config JSON (defaults used when empty)")
	devMode    = flag.Bool("dev", false, "Run in dev mode: replay frames, mock telemetry")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	notes      = flag.String("notes", "", "Session notes stored in the flight log")
)

func buildSource(cfg *config.LandingConfig, dev bool) (loop.FrameSource, error) {
	if dir := cfg.GetReplayDir(); dir != "" {
		src, err := camera.NewReplayDirSource(dir)
		if err != nil {
			return nil, err
		}
		src.Loop = true
		return src, nil
	}
	if dev {
		src, err := camera.NewReplayDirSource("fixtures/frames")
		if err != nil {
			return nil, err
		}
		src.Loop = true
		return src, nil
	}
	return camera.NewCaptureSource(cfg.GetCameraDevice()), nil
}

func buildSink(cfg *config.LandingConfig, dev bool) loop.CommandSink {
	if dev {
		return telemetry.NewMockSerialSink(&telemetry.MockPort{})
	}
	if cfg.GetSink() == "udp" {
		return telemetry.NewUDPSink(cfg.GetUDPAddr())
	}
	return telemetry.NewSerialSink(cfg.GetSerialPort(), cfg.GetBaudRate())
}

func main() {
	flag.Parse()

	log.Printf("precland %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := config.EmptyLandingConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadLandingConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}

	calib, err := cfg.Calibration()
	if err != nil {
		log.Fatalf("failed to load calibration: %v", err)
	}

	detector, err := vision.NewDetector(cfg.DetectorConfig())
	if err != nil {
		log.Fatalf("failed to build detector: %v", err)
	}

	estimator := vision.NewEstimator(calib, cfg.EstimatorConfig())

	source, err := buildSource(cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to build frame source: %v", err)
	}
	sink := buildSink(cfg, *devMode)

	session := loop.NewSession(cfg.LoopConfig(), source, sink, detector, estimator)

	var fdb *flightlog.FlightDB
	if path := cfg.GetDBPath(); path != "" {
		fdb, err = flightlog.NewFlightDB(path)
		if err != nil {
			log.Fatalf("failed to open flight log: %v", err)
		}
		defer fdb.Close()
		if err := fdb.StartSession(session.ID(), *notes); err != nil {
			log.Fatalf("failed to start flight log session: %v", err)
		}
	}

	if err := session.Start(); err != nil {
		log.Fatalf("failed to start landing session: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// drain pipeline snapshots into the flight log
	var recorderSub string
	if fdb != nil {
		id, ch := session.Subscribe()
		recorderSub = id
		recorder := flightlog.NewRecorder(fdb)
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ch)
			log.Print("flight log recorder terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(session, fdb).ServeMux()
		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	<-ctx.Done()

	if err := session.Stop(); err != nil {
		log.Printf("session stop error: %v", err)
	}
	if recorderSub != "" {
		// closing the subscription ends the recorder
		session.Unsubscribe(recorderSub)
	}
	if fdb != nil {
		if err := fdb.EndSession(session.ID(), session.Stats()); err != nil {
			log.Printf("failed to finalize flight log session: %v", err)
		}
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// The surface.report service fuses camera detections with a 360 degree
// range scan to find, track and grade road surface defects. It records
// finalized defects to SQLite and serves the live API, the annotated
// video feed and the admin debugging routes over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wyvern-data/surface.report/api"
	"github.com/wyvern-data/surface.report/internal/config"
	"github.com/wyvern-data/surface.report/internal/db"
	"github.com/wyvern-data/surface.report/internal/fusion"
	"github.com/wyvern-data/surface.report/internal/monitor"
	"github.com/wyvern-data/surface.report/internal/scan"
	"github.com/wyvern-data/surface.report/internal/track"
	"github.com/wyvern-data/surface.report/internal/version"
	"github.com/wyvern-data/surface.report/internal/vision"
)

var (
	devMode    = flag.Bool("dev", false, "Run with the synthetic scan source instead of the serial range sensor")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen = flag.String("grpc-listen", "", "gRPC health listen address for deploy probes (empty: disabled)")
	dbFile     = flag.String("db", "survey_data.db", "Path to the SQLite database file")
	configFile = flag.String("config", "", "Path to a tuning config JSON file (empty: built-in defaults)")

	serialPort = flag.String("serial-port", "/dev/ttyUSB0", "Serial port of the range sensor")
	udpPort    = flag.Int("udp-port", 0, "Receive scan datagrams on this UDP port instead of the serial sensor")
	udpAddress = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	rcvBuf     = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")

	forwardScan = flag.Bool("forward", false, "Forward received scan datagrams to another port (UDP source only)")
	forwardAddr = flag.String("forward-addr", "localhost", "Address to forward scan datagrams to")
	forwardPort = flag.Int("forward-port", 2369, "Port to forward scan datagrams to")

	cameraURL   = flag.String("camera-url", "http://127.0.0.1:8081/stream", "MJPEG camera stream URL")
	framesDir   = flag.String("frames-dir", "", "Replay still images from this directory instead of the camera")
	detectorURL = flag.String("detector-url", "", "Inference sidecar URL (empty: built-in luminance detector)")

	sessionNotes = flag.String("session-notes", "", "Free-form notes to record on the survey session")
	logInterval  = flag.Int("log-interval", 10, "Statistics logging interval in seconds")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("surface.report %s\n", version.String())
		return
	}

	tuning := config.DefaultTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		tuning = loaded
	}

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open survey database: %v", err)
	}
	defer database.Close()

	// Every service run is one survey session. Defect records reference
	// it, and the session row keeps the tuning snapshot that produced
	// them.
	session, err := database.StartSession(context.Background(), buildSessionNotes(*sessionNotes, tuning))
	if err != nil {
		log.Fatalf("Failed to start survey session: %v", err)
	}
	log.Printf("Survey session %s started", session.ID)

	// State shared between the goroutines. Everything else is owned by
	// exactly one of them.
	frames := &vision.FrameBuffer{}
	board := &vision.AnnotationBoard{}
	aggregator := scan.NewAggregator(tuning.GetSectorWidthDeg(), tuning.GetScanStaleAfter(), nil)
	scanStats := scan.NewPacketStats()
	cycleStats := fusion.NewCycleStats()

	pipeline := &fusion.Pipeline{
		Frames:   frames,
		Detector: newDetector(*detectorURL, tuning),
		Tracker: track.NewTracker(track.Config{
			IoUThreshold:   tuning.GetIoUThreshold(),
			SmoothingAlpha: tuning.GetSmoothingAlpha(),
			MaxAge:         tuning.GetTrackMaxAge(),
			ConfirmHits:    tuning.GetTrackConfirmHits(),
		}),
		Sectors: aggregator,
		Analyzer: &vision.Analyzer{
			FOVDeg:           tuning.GetHorizontalFOVDeg(),
			MinContourAreaPx: tuning.GetMinContourAreaPx(),
		},
		Store:         database,
		Board:         board,
		Stats:         cycleStats,
		FOVDeg:        tuning.GetHorizontalFOVDeg(),
		Interval:      tuning.GetFusionInterval(),
		DisplayWindow: tuning.GetTrackStaleAfter(),
		SessionID:     session.ID,
		Severity: track.Thresholds{
			SmallAreaM2:     tuning.GetSeveritySmallAreaM2(),
			LargeAreaM2:     tuning.GetSeverityLargeAreaM2(),
			LowCircularity:  tuning.GetSeverityLowCircularity(),
			HighCircularity: tuning.GetSeverityHighCircularity(),
			RepairLight:     tuning.GetReportLightDefects(),
		},
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scan ingest goroutine: source samples into the sector aggregator.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runScanIngest(ctx, aggregator, scanStats); err != nil && err != context.Canceled {
			log.Printf("Scan ingest error: %v", err)
		}
		log.Print("scan ingest routine terminated")
	}()

	// Frame goroutine: camera frames into the frame buffer at the
	// camera's native rate. The fusion cycle reads the latest frame and
	// never waits for a fresh one.
	wg.Add(1)
	go func() {
		defer wg.Done()
		src := newFrameSource(*framesDir, *cameraURL)
		if err := vision.RunSource(ctx, src, frames, nil); err != nil && err != context.Canceled {
			log.Printf("Frame source error: %v", err)
		}
		log.Print("frame routine terminated")
	}()

	// Fusion goroutine: the detection, tracking and persistence cycle.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipeline.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Fusion pipeline error: %v", err)
		}
		log.Print("fusion routine terminated")
	}()

	// Periodic statistics logging. The UDP listener logs its own ingest
	// rates, so scan stats are reported here only for the serial and
	// synthetic paths.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(*logInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if *udpPort <= 0 {
					scanStats.LogStats()
				}
				cycleStats.LogStats()
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)
		monitor.New(database, aggregator, session.ID).AttachRoutes(mux)

		srv := api.NewServer(database, frames, board, aggregator, cycleStats, tuning)
		mux.Handle("/", srv.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Optional gRPC health endpoint for deploy probes.
	if *grpcListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveHealthRPC(ctx, *grpcListen); err != nil {
				log.Printf("gRPC health server error: %v", err)
			}
			log.Print("gRPC health routine terminated")
		}()
	}

	// Wait for all goroutines to finish
	wg.Wait()

	endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.EndSession(endCtx, session.ID); err != nil {
		log.Printf("Failed to close survey session: %v", err)
	} else {
		log.Printf("Survey session %s closed", session.ID)
	}
	log.Printf("Graceful shutdown complete")
}

// runScanIngest runs the configured scan source until the context ends:
// the synthetic source in dev mode, a UDP bridge when -udp-port is set,
// the serial sensor otherwise. The serial and synthetic sources
// reconnect with backoff through the ingestor; the UDP listener manages
// its own socket.
func runScanIngest(ctx context.Context, sink scan.Sink, stats *scan.PacketStats) error {
	if *devMode {
		log.Print("Dev mode: using the synthetic scan source")
		ing := &scan.Ingestor{
			Open: func() (scan.PortInterface, error) {
				return scan.NewSyntheticSource(scan.SyntheticConfig{
					Dips: []scan.SyntheticDip{
						{CenterDeg: 335, WidthDeg: 12, DepthM: 0.3},
						{CenterDeg: 40, WidthDeg: 20, DepthM: 0.12},
					},
				}), nil
			},
			Sink:  sink,
			Stats: stats,
		}
		return ing.Run(ctx)
	}

	if *udpPort > 0 {
		var forwarder *scan.PacketForwarder
		if *forwardScan {
			fw, err := scan.NewPacketForwarder(*forwardAddr, *forwardPort, stats, time.Duration(*logInterval)*time.Second)
			if err != nil {
				return fmt.Errorf("failed to create packet forwarder: %w", err)
			}
			defer fw.Close()
			forwarder = fw
		}

		listener := scan.NewUDPListener(scan.UDPListenerConfig{
			Address:     fmt.Sprintf("%s:%d", *udpAddress, *udpPort),
			RcvBuf:      *rcvBuf,
			LogInterval: time.Duration(*logInterval) * time.Second,
			Stats:       stats,
			Forwarder:   forwarder,
			Sink:        sink,
		})
		return listener.Start(ctx)
	}

	ing := &scan.Ingestor{
		Open:  func() (scan.PortInterface, error) { return scan.NewPort(*serialPort) },
		Sink:  sink,
		Stats: stats,
	}
	return ing.Run(ctx)
}

// newFrameSource picks the camera: directory replay when a directory is
// given, the network camera stream otherwise.
func newFrameSource(dir, url string) vision.FrameSource {
	if dir != "" {
		log.Printf("Replaying frames from %s", dir)
		return &vision.DirectorySource{Dir: dir}
	}
	log.Printf("Streaming frames from %s", url)
	return &vision.MJPEGSource{URL: url}
}

// newDetector picks the detection collaborator: the inference sidecar
// when a URL is given, the luminance fallback otherwise.
func newDetector(url string, tuning *config.TuningConfig) vision.Detector {
	if url != "" {
		log.Printf("Using inference sidecar at %s", url)
		return &vision.HTTPDetector{
			URL:           url,
			Timeout:       tuning.GetDetectorTimeout(),
			MinConfidence: tuning.GetDetectorMinConfidence(),
		}
	}
	log.Print("No inference sidecar configured, using the luminance detector")
	return &vision.LuminanceDetector{MinArea: tuning.GetMinContourAreaPx()}
}

// buildSessionNotes stamps the session row with the operator's notes and
// the tuning snapshot in effect, so a recorded survey can be traced back
// to the parameters that produced it.
func buildSessionNotes(userNotes string, tuning *config.TuningConfig) string {
	snapshot, err := json.Marshal(tuning)
	if err != nil {
		return userNotes
	}
	if userNotes == "" {
		return string(snapshot)
	}
	return userNotes + "\n" + string(snapshot)
}

// serveHealthRPC exposes the standard gRPC health service so deploy
// probes that speak grpc_health_v1 can watch the process.
func serveHealthRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting gRPC health server on %s", addr)
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		server.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

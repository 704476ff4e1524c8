// Command percnav runs the navigation service: it ingests tracker poses,
// keeps the frame graph current, and serves the session over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/api"
	"github.com/dgmato/PercutaneousNavigation/internal/config"
	"github.com/dgmato/PercutaneousNavigation/internal/db"
	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/navigation"
	"github.com/dgmato/PercutaneousNavigation/internal/stream"
	"github.com/dgmato/PercutaneousNavigation/internal/timeutil"
	"github.com/dgmato/PercutaneousNavigation/internal/tracking"
	"github.com/dgmato/PercutaneousNavigation/internal/version"
	"google.golang.org/grpc"
)

var (
	configFile     = flag.String("config", "", "Navigation config JSON (defaults built in)")
	listen         = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen     = flag.String("grpc-listen", "", "gRPC listen address (overrides config)")
	dbPath         = flag.String("db-path", "", "SQLite session store (overrides config)")
	serialPort     = flag.String("serial-port", "", "Tracker serial port (overrides config)")
	udpListen      = flag.String("udp-listen", "", "UDP pose listen address (overrides config)")
	pcapFile       = flag.String("pcap-file", "", "Replay poses from a capture (requires -tags=pcap)")
	pcapPort       = flag.Int("pcap-port", 0, "UDP port to filter in -pcap-file (default: port of -udp-listen)")
	replayFile     = flag.String("replay", "", "Replay a pose recording in a loop instead of a tracker")
	replayInterval = flag.Duration("replay-interval", 50*time.Millisecond, "Delay between replayed lines")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// adminRouter is a tracking source with /debug/ routes.
type adminRouter interface {
	AttachAdminRoutes(mux *http.ServeMux)
	Monitor(ctx context.Context) error
	Close() error
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n       %s migrate <action> [args]\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlagOverrides(cfg)

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*config.NavigationConfig, error) {
	if *configFile == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(*configFile)
}

func applyFlagOverrides(cfg *config.NavigationConfig) {
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&cfg.Listen, *listen)
	set(&cfg.GRPCListen, *grpcListen)
	set(&cfg.DBPath, *dbPath)
	set(&cfg.SerialPort, *serialPort)
	set(&cfg.UDPListen, *udpListen)
	set(&cfg.PCAPFile, *pcapFile)
}

// udpPortOf returns the port of a listen address such as ":7600".
func udpPortOf(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

func run(cfg *config.NavigationConfig) error {
	clock := timeutil.RealClock{}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer database.Close()

	sessionID, err := database.StartSession(clock.Now())
	if err != nil {
		return err
	}
	log.Printf("session %s started (%s)", sessionID, version.String())
	defer func() {
		if err := database.EndSession(sessionID, clock.Now()); err != nil {
			log.Printf("failed to end session: %v", err)
		}
	}()

	graph := frames.NewGraph()
	sess, err := navigation.NewSession(navigation.Options{
		Config:   cfg,
		Graph:    graph,
		Clock:    clock,
		Recorder: database.NewRecorder(sessionID),
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	hub := stream.NewHub(0)
	sess.Monitor().AddListener(hub)

	pump := tracking.NewPump(graph, tracking.PumpConfig{
		Clock: clock,
		OnNewFrame: func(_ frames.ID, name string) {
			log.Printf("tracking: new frame %q", name)
			sess.Refresh()
		},
		Writable: sess.Writable,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// the pump is the only writer of tracked matrices
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pump.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("pump stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pump.LogStatsEvery(ctx, cfg.GetStatsInterval())
	}()

	var sources []adminRouter
	if *replayFile != "" {
		f, err := os.Open(*replayFile)
		if err != nil {
			return fmt.Errorf("failed to open replay file: %w", err)
		}
		port, err := tracking.NewReplayPort(f, *replayInterval, clock)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to read replay file: %w", err)
		}
		sources = append(sources, tracking.NewMux(port, pump))
		log.Printf("replaying %s every %v", *replayFile, *replayInterval)
	} else if path := cfg.GetSerialPort(); path != "" {
		m, err := tracking.OpenSerial(path, tracking.PortOptions{BaudRate: cfg.GetSerialBaud()}, pump)
		if err != nil {
			return fmt.Errorf("failed to open tracker serial port: %w", err)
		}
		sources = append(sources, m)
		log.Printf("reading tracker on %s", path)
	}
	for _, src := range sources {
		defer src.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("tracking source stopped: %v", err)
			}
		}()
	}

	if addr := cfg.GetUDPListen(); addr != "" {
		l := tracking.NewUDPListener(tracking.UDPListenerConfig{Address: addr, Sink: pump})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP listener stopped: %v", err)
			}
		}()
	}

	if file := cfg.GetPCAPFile(); file != "" {
		port := *pcapPort
		if port == 0 {
			if port, err = udpPortOf(cfg.GetUDPListen()); err != nil {
				return fmt.Errorf("-pcap-port is required when no UDP listen address is set: %w", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracking.ReadPCAPFile(ctx, file, port, pump); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("PCAP replay stopped: %v", err)
			}
		}()
	}

	// gRPC proximity feed
	lis, err := net.Listen("tcp", cfg.GetGRPCListen())
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	grpcServer := grpc.NewServer()
	stream.RegisterService(grpcServer, stream.NewServer(hub))
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("gRPC proximity feed listening on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		hub.Close()
		grpcServer.GracefulStop()
		log.Printf("gRPC server stopped")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Options{
			Session:     sess,
			DB:          database,
			SessionID:   sessionID,
			Pump:        pump,
			Hub:         hub,
			SampleLimit: cfg.GetChartSamples(),
		}).ServeMux()
		database.AttachAdminRoutes(mux)
		for _, src := range sources {
			src.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP API listening on %s", server.Addr)
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
	pump.LogStats()
	log.Printf("Graceful shutdown complete")
	return nil
}

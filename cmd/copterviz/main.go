package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/OCAP2/copterviz/internal/api"
	"github.com/OCAP2/copterviz/internal/config"
	"github.com/OCAP2/copterviz/internal/dispatcher"
	"github.com/OCAP2/copterviz/internal/geometry"
	"github.com/OCAP2/copterviz/internal/influx"
	"github.com/OCAP2/copterviz/internal/logging"
	"github.com/OCAP2/copterviz/internal/monitor"
	intOtel "github.com/OCAP2/copterviz/internal/otel"
	"github.com/OCAP2/copterviz/internal/parser"
	"github.com/OCAP2/copterviz/internal/render"
	"github.com/OCAP2/copterviz/internal/session"
	"github.com/OCAP2/copterviz/internal/statusserver"
	"github.com/OCAP2/copterviz/internal/storage"
	"github.com/OCAP2/copterviz/internal/storage/memory"
	"github.com/OCAP2/copterviz/internal/worker"
	"github.com/OCAP2/copterviz/pkg/feed"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "copterviz"
)

// global variables
var (
	// ConfigDir holds copterviz.cfg.json; first CLI arg, defaults to the working dir.
	ConfigDir string = "."

	// RunPaths names this run's log, status and influx backup files.
	RunPaths logging.RunPaths
	LogFile  *os.File

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	// GraylogWriter is the GELF writer, nil unless graylog.enabled
	GraylogWriter *gelf.Writer

	SessionStartTime time.Time = time.Now()

	// Services
	sessionContext  *session.Context
	workerManager   *worker.Manager
	monitorService  *monitor.Service
	statusServer    *statusserver.Service
	influxManager   *influx.Manager
	eventDispatcher *dispatcher.Dispatcher
	storageBackend  storage.Backend
)

func main() {
	if len(os.Args) > 1 {
		ConfigDir = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil {
		if Logger != nil {
			Logger.Error("Exiting with error", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "copterviz: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	sessionContext = session.NewContext()
	setupLogging()
	defer shutdownLogging()

	Logger.Info("Starting up...", "version", CurrentVersion, "buildDate", BuildDate)

	if err := setupServices(); err != nil {
		return errors.Join(err, shutdownServices())
	}

	server := feed.New(eventDispatcher,
		feed.WithVersion(CurrentVersion),
		feed.WithLogger(Logger.With("component", "feed")),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx, in, out)
	}()

	var err error
	select {
	case err = <-serveErr:
		Logger.Info("End of feed input")
	case <-ctx.Done():
		Logger.Info("Received shutdown signal")
	}

	return errors.Join(err, shutdownServices())
}

func setupLogging() {
	// load config
	configErr := config.Load(ConfigDir)

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		_ = os.MkdirAll(logsDir, 0755)
	}
	RunPaths = logging.NewRunPaths(logsDir, AppName, SessionStartTime)

	var err error
	LogFile, err = os.OpenFile(RunPaths.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log file %s: %v\n", RunPaths.Log, err)
		LogFile = nil
	}

	// Initialize OTel provider (no-op when disabled)
	otelCfg := config.GetOTelConfig()
	var otelWriter io.Writer = io.Discard
	if LogFile != nil {
		otelWriter = LogFile
	}
	frameCfg, vehicleCfg := config.GetFrameConfig(), config.GetVehicleConfig()
	OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		ServiceVersion: CurrentVersion,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      otelWriter,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
		Vehicle: map[string]string{
			"frame.fixed": frameCfg.Fixed,
			"frame.child": frameCfg.Child,
			"rotors":      strconv.Itoa(vehicleCfg.NumRotors),
		},
	})
	otelErr := err
	if err != nil {
		OTelProvider, _ = intOtel.New(intOtel.Config{Enabled: false})
	}

	opts := []logging.SetupOption{logging.WithSession(sessionContext)}
	graylogCfg := config.GetGraylogConfig()
	var graylogErr error
	if graylogCfg.Enabled {
		GraylogWriter, graylogErr = gelf.NewWriter(graylogCfg.Address)
		if graylogErr == nil {
			opts = append(opts, logging.WithGraylog(GraylogWriter))
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider.Enabled() {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	var file io.Writer
	if LogFile != nil {
		file = LogFile
	}
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(file, viper.GetString("logLevel"), otelLogProvider, opts...)
	Logger = SlogManager.Logger()

	if configErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		Logger.Info("Loaded config", "dir", ConfigDir)
	}
	Logger.Info("Begin logging in logs directory", "path", RunPaths.Log)
	if otelErr != nil {
		Logger.Error("Failed to initialize OTel provider", "error", otelErr)
	} else if OTelProvider.Enabled() {
		Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
	}
	if graylogErr != nil {
		Logger.Error("Failed to connect GELF writer", "error", graylogErr, "address", graylogCfg.Address)
	} else if GraylogWriter != nil {
		Logger.Info("Logging to Graylog", "address", graylogCfg.Address)
	}
}

func setupServices() error {
	frameCfg := config.GetFrameConfig()
	vehicleCfg := config.GetVehicleConfig()
	trackCfg := config.GetTrackConfig()
	streamCfg := config.GetStreamConfig()

	// Vehicle geometry is built once, before any pose arrives
	vehicle := geometry.NewCache(geometry.Params{
		RotorCount: vehicleCfg.NumRotors,
		ArmLength:  vehicleCfg.ArmLen,
		BodyWidth:  vehicleCfg.BodyWidth,
		BodyHeight: vehicleCfg.BodyHeight,
		Scale:      vehicleCfg.MarkerScale,
		FrameID:    frameCfg.Child,
	})
	Logger.Info("Vehicle geometry built", "primitives", vehicle.Len(), "rotors", vehicle.Params().RotorCount)

	assembler := render.NewAssembler(render.Options{
		TrackCapacity:      trackCfg.MaxSize,
		MarkerScale:        vehicleCfg.MarkerScale,
		ShapeTrailCapacity: trackCfg.ShapeTrailCapacity,
	}, vehicle)

	checkViewerStatus()

	var err error
	storageBackend, err = createStorageBackend(config.GetStorageConfig(), streamCfg, frameCfg)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return err
	}
	if err := storageBackend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "error", err)
		return err
	}

	sess := sessionContext.Start(fmt.Sprintf("%s_%s", AppName, SessionStartTime.Format("20060102_150405")), frameCfg.Fixed, frameCfg.Child)
	if err := storageBackend.StartSession(sess, vehicle.Primitives()); err != nil {
		Logger.Error("Failed to start session in storage backend", "error", err)
		return err
	}
	Logger.Info("Session started", "id", sess.ID, "fixedFrame", sess.FixedFrame)

	// Dispatcher traffic is logged through zerolog into the session log
	var dispatcherOut io.Writer = os.Stderr
	if LogFile != nil {
		dispatcherOut = LogFile
	}
	eventDispatcher, err = dispatcher.New(logging.NewFeedLogger(
		logging.NewZerolog(dispatcherOut, viper.GetString("logLevel"), "dispatcher"),
		sessionContext,
	))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	workerManager, err = worker.NewManager(worker.Dependencies{
		Assembler: assembler,
		Parser:    parser.NewParser(Logger.With("component", "parser"), frameCfg.Fixed),
		Session:   sessionContext,
		Logger:    Logger.With("component", "worker"),
	}, storageBackend, OTelProvider.Meter("worker"))
	if err != nil {
		return fmt.Errorf("failed to create worker manager: %w", err)
	}

	Logger.Debug("Registering worker handlers with dispatcher")
	workerManager.RegisterHandlers(eventDispatcher, streamCfg.PoseQueue)
	Logger.Info("Worker handlers registered with dispatcher")

	setupMonitor(dispatcherOut)
	setupStatusServer(dispatcherOut)
	return nil
}

func setupStatusServer(accessLog io.Writer) {
	addr := config.GetStatusListenAddr()
	if addr == "" {
		return
	}

	deps := statusserver.Dependencies{
		Status:    workerManager.Status,
		Logger:    Logger.With("component", "statusserver"),
		AccessLog: accessLog,
	}
	if mem, ok := storageBackend.(*memory.Backend); ok {
		deps.Latest = mem.Latest
	}

	statusServer = statusserver.NewService(addr, deps)
	if err := statusServer.Start(); err != nil {
		Logger.Error("Failed to start status server", "error", err, "addr", addr)
		statusServer = nil
	}
}

// checkViewerStatus logs whether the viewer answers its healthcheck.
func checkViewerStatus() {
	viewerURL := config.GetViewerURL()
	if viewerURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.New(viewerURL).Healthcheck(ctx); err != nil {
		Logger.Info("Viewer is offline", "url", viewerURL, "error", err)
	} else {
		Logger.Info("Viewer is online", "url", viewerURL)
	}
}

func setupMonitor(zerologOut io.Writer) {
	deps := monitor.Dependencies{
		Logger:     Logger.With("component", "monitor"),
		Session:    sessionContext,
		Worker:     workerManager,
		StatusPath: RunPaths.Status,
		Interval:   config.GetMonitorInterval(),
	}

	influxCfg := config.GetInfluxConfig()
	influxManager = influx.NewManager(
		influxCfg,
		logging.NewZerolog(zerologOut, viper.GetString("logLevel"), "influx"),
		RunPaths.InfluxBackup,
	)
	err := influxManager.Connect(context.Background())
	switch {
	case errors.Is(err, influx.ErrDisabled):
		Logger.Debug("InfluxDB disabled")
	case err != nil:
		Logger.Error("Failed to set up InfluxDB", "error", err)
	default:
		deps.Influx = influxManager
	}

	monitorService = monitor.NewService(deps)
	if err := monitorService.Start(); err != nil {
		Logger.Error("Failed to start status monitor", "error", err)
	}
}

func shutdownServices() error {
	var errs []error

	// Close drains the pose queue, so every frame is published before the session ends
	if eventDispatcher != nil {
		eventDispatcher.Close()
	}
	if monitorService != nil {
		monitorService.Stop()
	}
	if statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusServer.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down status server", "error", err)
		}
		cancel()
	}

	if sess, ok := sessionContext.End(); ok && storageBackend != nil {
		if err := storageBackend.EndSession(sess); err != nil {
			Logger.Error("Failed to end session in storage backend", "error", err)
			errs = append(errs, err)
		} else {
			Logger.Info("Session ended", "id", sess.ID)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := OTelProvider.Flush(ctx); err != nil {
			Logger.Warn("Failed to flush OTel data", "error", err)
		}
	}
	if storageBackend != nil {
		if err := storageBackend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing storage backend: %w", err))
		}
	}
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing influx: %w", err))
		}
	}

	return errors.Join(errs...)
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shut down OTel provider: %v\n", err)
		}
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

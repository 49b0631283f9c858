package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"delayed-mirror/internal/camera"
	"delayed-mirror/internal/config"
	"delayed-mirror/internal/control"
	"delayed-mirror/internal/perf"
	"delayed-mirror/internal/pipeline"
	"delayed-mirror/internal/render"
	"delayed-mirror/internal/ui"

	"fyne.io/fyne/v2/app"
)

// Version information - set by linker flags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

func main() {
	// Command line flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	configPath := flag.String("config", "", "Path to config.ini or config.yaml (default: ./config.ini or $DELAYED_MIRROR_CONFIG)")
	delaySec := flag.Float64("delay", 10, "Playback delay in seconds (0-60)")
	source := flag.Int("source", 0, "Preferred camera index")
	flip := flag.Bool("flip", false, "Mirror the image horizontally")
	fps := flag.Int("fps", 30, "Display frame rate")
	fallback := flag.Int("fallback", 0, "Camera tried when -source fails (-1 disables)")
	backend := flag.String("backend", "ffmpeg", "Capture backend: ffmpeg, pattern or gocv")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Delayed Mirror %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", GoVersion)
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("[Main] WARNING: Config load error: %v (using defaults)", err)
		cfg = config.DefaultConfig()
	}

	// Flags given explicitly win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "delay":
			cfg.SetDelaySec(*delaySec)
		case "source":
			cfg.Source = *source
		case "flip":
			cfg.Flip = *flip
		case "fps":
			cfg.DisplayFPS = *fps
		case "fallback":
			cfg.Fallback = *fallback
		case "backend":
			cfg.Backend = *backend
		}
	})

	// Configure logging (rotating file + optional stdout)
	logCleanup, err := config.ConfigureLogging(cfg)
	if err != nil {
		log.Printf("[Main] WARNING: Logging setup error: %v", err)
	}
	if logCleanup != nil {
		defer logCleanup()
	}

	log.Printf("[Main] Delayed Mirror %s starting...", Version)
	log.Printf("[Main] Config: backend=%s source=%d fallback=%d delay=%.1fs capture=%dx%d@%d display=%d FPS",
		cfg.Backend, cfg.Source, cfg.Fallback, cfg.DelaySec,
		cfg.CaptureWidth, cfg.CaptureHeight, cfg.CaptureFPS, cfg.DisplayFPS)

	// Validate config
	ok, warnings := cfg.Validate()
	for _, w := range warnings {
		log.Printf("[Main] WARNING: %s", w)
	}
	if !ok {
		log.Printf("[Main] ERROR: Config validation failed")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Printf("[Main] ERROR: %v", err)
		if logCleanup != nil {
			logCleanup()
		}
		os.Exit(1)
	}
	log.Println("[Main] Exited cleanly")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	request := camera.Format{Width: cfg.CaptureWidth, Height: cfg.CaptureHeight, FPS: float64(cfg.CaptureFPS)}
	src, err := camera.NewSource(cfg.Backend, camera.BackendOptions{
		Request:        request,
		ReadTimeout:    cfg.ReadTimeout(),
		InputFormat:    cfg.CaptureFormat,
		FFmpegBinary:   cfg.FFmpegBinary,
		KillHolders:    cfg.KillDeviceHolders,
		PatternDevices: cfg.PatternDevices,
	})
	if err != nil {
		return err
	}

	var enum camera.Enumerator = camera.NewSysfsEnumerator()
	if pattern, ok := src.(*camera.PatternSource); ok {
		enum = pattern
	}
	devices := camera.SafeList(ctx, enum)
	log.Printf("[Main] Found %d camera(s)", len(devices))
	for _, d := range devices {
		log.Printf("[Main]   %s (%s)", d, d.Path)
	}

	quality, known := render.ParseQuality(cfg.ScaleQuality)
	if !known {
		log.Printf("[Main] WARNING: Unknown scale_quality %q, using balanced", cfg.ScaleQuality)
	}

	var monitor *perf.Monitor
	var governor *perf.Governor
	if cfg.DynamicFPSEnabled || cfg.HealthLogIntervalSec > 0 {
		monitor = perf.NewMonitor()
	}
	if cfg.DynamicFPSEnabled {
		governor = perf.NewGovernor(monitor, perf.GovernorConfig{
			TargetFPS:     cfg.DisplayFPS,
			MinFPS:        cfg.MinDynamicUIFPS,
			Step:          cfg.UIFPSStep,
			LoadThreshold: cfg.CPULoadThreshold,
			TempThreshold: cfg.CPUTempThresholdC,
			StressHold:    cfg.StressHoldCount,
			RecoverHold:   cfg.RecoverHoldCount,
			Interval:      time.Duration(cfg.PerfCheckIntervalMS) * time.Millisecond,
		})
	}

	fyneApp := app.New()
	display := ui.NewApp(fyneApp, cfg, devices, cfg.Source)

	pipe := pipeline.New(src, display, pipeline.Settings{
		Delay:       cfg.Delay(),
		DeviceIndex: cfg.Source,
		Flip:        cfg.Flip,
	}, pipeline.Options{
		DisplayFPS:     cfg.DisplayFPS,
		Capture:        request,
		Fallback:       cfg.Fallback,
		QueueCapacity:  cfg.QueueCapacity,
		ConvertColor:   cfg.ConvertColor,
		Quality:        quality,
		ShowOverlay:    cfg.ShowOverlay,
		Governor:       governor,
		Monitor:        monitor,
		HealthInterval: time.Duration(cfg.HealthLogIntervalSec * float64(time.Second)),
		StaleAge:       time.Duration(cfg.StaleFrameTimeoutSec * float64(time.Second)),
	})
	if err := pipe.Start(ctx); err != nil {
		display.Close()
		return fmt.Errorf("start capture: %w", err)
	}

	device := pipe.Settings().DeviceIndex
	display.SelectDevice(device)

	ctl := control.New(pipe, display, control.Config{
		MaxDelay:     cfg.MaxDelay(),
		PreviewScale: cfg.PreviewScale,
		Device:       device,
		Devices:      devices,
	})

	ctlDone := make(chan error, 1)
	go func() {
		ctlDone <- ctl.Run(ctx, display.Events())
	}()

	if cfg.WatchHotplug {
		if _, isPattern := src.(*camera.PatternSource); !isPattern {
			go watchDevices(ctx, enum, display)
		}
	}

	// Setup signal handling for clean shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[Main] Received signal %v, cleaning up...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	display.Run()

	// The window loop is gone; make sure the controller has stopped the
	// pipeline before returning.
	cancel()
	if err := <-ctlDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Main] WARNING: Controller: %v", err)
	}
	return pipe.Err()
}

// watchDevices feeds hot-plug changes into the control loop through the
// display's event stream.
func watchDevices(ctx context.Context, enum camera.Enumerator, display *ui.App) {
	w := camera.NewWatcher(enum, "/dev")
	err := w.Run(ctx, func(devices []camera.Device) {
		display.Notify(control.DevicesChanged{Devices: devices})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Hotplug] WARNING: Device watcher stopped: %v", err)
	}
}

// Command voxrelay is the entry point for the VoxRelay speech relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxrelay/internal/api"
	"github.com/MrWong99/voxrelay/internal/app"
	"github.com/MrWong99/voxrelay/internal/calibrate"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
	"github.com/MrWong99/voxrelay/pkg/audio/device/portaudio"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file with provider credentials")
	listDevices := flag.Bool("list-devices", false, "print the audio devices and exit")
	calibrateOnly := flag.Bool("calibrate", false, "measure the input noise floor, print the threshold and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxrelay: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxrelay starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Audio host ────────────────────────────────────────────────────────────
	host, err := portaudio.New()
	if err != nil {
		slog.Error("failed to initialise audio host", "err", err)
		return 1
	}
	defer host.Close()

	if *listDevices {
		return printDevices(host)
	}
	if *calibrateOnly {
		return runCalibration(ctx, host, cfg)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	built, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{app.WithMetrics(metrics)}
	for _, c := range built.closers {
		opts = append(opts, app.WithCloser(c))
	}
	application, err := app.New(ctx, cfg, host, built.providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if old.Server.LogLevel != new.Server.LogLevel {
			level.Set(slogLevel(new.Server.LogLevel))
			slog.Info("config reload: log level changed", "log_level", new.Server.LogLevel)
		}
		application.ApplyConfig(old, new)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP control surface ──────────────────────────────────────────────────
	checks := built.checks
	if p, ok := application.Store().(health.Pinger); ok {
		checks = append(checks, health.PingCheck("store", p))
	}
	handler := api.New(application,
		api.WithHealth(health.New(checks...)),
		api.WithMetricsHandler(tel.MetricsHandler()),
		api.WithMetrics(metrics),
	).Handler()

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("server ready, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server error", "err", err)
			exitCode = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Device utilities ──────────────────────────────────────────────────────────

func printDevices(host device.Host) int {
	inputs, outputs, err := device.List(host)
	if err != nil {
		slog.Error("failed to list devices", "err", err)
		return 1
	}
	fmt.Println("Input devices:")
	for _, name := range inputs {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("Output devices:")
	for _, name := range outputs {
		fmt.Printf("  %s\n", name)
	}
	return 0
}

// runCalibration measures the configured input device once and prints the
// threshold a session would use.
func runCalibration(ctx context.Context, host device.Host, cfg *config.Config) int {
	in, err := device.SelectInput(host, cfg.Audio.InputDevice)
	if err != nil {
		slog.Error("failed to select input device", "err", err)
		return 1
	}
	sc := device.StreamConfig{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
	}
	stream, err := host.OpenInput(in, sc)
	if err != nil {
		slog.Error("failed to open input device", "device", in.Name, "err", err)
		return 1
	}
	capture := device.NewCapture(stream, sc)
	defer capture.Close()

	fmt.Printf("Calibrating %q for %s, stay quiet…\n", in.Name, cfg.Audio.CalibrationWindow)
	res, err := calibrate.Measure(ctx, capture, calibrate.Config{
		Window:           cfg.Audio.CalibrationWindow,
		Margin:           cfg.Audio.Margin(),
		DefaultThreshold: cfg.Audio.DefaultThreshold,
	})
	if err != nil {
		slog.Error("calibration interrupted", "err", err)
		return 1
	}
	fmt.Printf("Noise floor: %.1f dBFS\n", res.MeasuredDBFS)
	fmt.Printf("Threshold:   %.1f dBFS\n", res.ThresholdDBFS)
	if res.Fallback {
		fmt.Println("Nothing to measure (no audio or digital silence), the default threshold applies.")
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        VoxRelay — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("TTS", providerLabel(cfg.Providers.TTS))
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("Translate", providerLabel(cfg.Providers.Translate))
	printRow("Input", deviceLabel(cfg.Audio.InputDevice))
	printRow("Output", deviceLabel(cfg.Audio.OutputDevice))
	printRow("Voice", cfg.Voices.Selected)
	if target := cfg.Translation.EffectiveTarget(); target != "" {
		printRow("Target lang", target)
	} else {
		printRow("Target lang", "(disabled)")
	}
	printRow("Storage", string(cfg.Storage.Backend))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func deviceLabel(selector string) string {
	if selector == "" {
		return "(system default)"
	}
	return selector
}

func printRow(kind, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

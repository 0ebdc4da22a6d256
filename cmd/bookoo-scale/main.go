// Command bookoo-scale connects to a Bookoo BLE scale and streams live
// weight, flow-rate, and timer readings to the terminal. With -demo it first
// walks the scale through a tare/timer command sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/bookoo-scale/internal/ble"
	"github.com/chaz8081/bookoo-scale/internal/config"
	"github.com/chaz8081/bookoo-scale/internal/scale"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/bookoo-scale/config.yaml)")
	addr := flag.String("addr", "", "device address (skips discovery)")
	demo := flag.Bool("demo", false, "run a tare/timer command sequence before streaming")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Device.Address = *addr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	setupLogging(cfg.LogLevel)
	printBanner(cfg)

	s := scale.New(ble.NewTinygoAdapter(), scale.Options{
		NamePrefix:     cfg.Device.NamePrefix,
		Address:        cfg.Device.Address,
		ScanTimeout:    cfg.Device.ScanTimeout.Std(),
		ConnectTimeout: cfg.Device.ConnectTimeout.Std(),
		Filter:         filterFor(cfg.Smoothing),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Connecting...")
	if err := s.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer func() {
		if err := s.Disconnect(); err != nil {
			log.Printf("disconnect: %v", err)
		}
	}()

	if *demo {
		if err := runDemo(ctx, s); err != nil {
			log.Printf("demo: %v", err)
		}
	}

	log.Println("Streaming readings. Ctrl+C to quit.")
	stream(ctx, s)
	log.Println("Goodbye!")
}

// runDemo tares the scale, runs the timer for three seconds, then resets.
func runDemo(ctx context.Context, s *scale.Scale) error {
	log.Println("Demo: tare and start timer")
	if err := s.TareAndStartTimer(ctx); err != nil {
		return err
	}
	if !sleepCtx(ctx, 3*time.Second) {
		return ctx.Err()
	}

	log.Println("Demo: stop timer")
	if err := s.StopTimer(ctx); err != nil {
		return err
	}
	log.Printf("Demo: timer read %.1fs", s.ElapsedTime().Seconds())
	if !sleepCtx(ctx, 3*time.Second) {
		return ctx.Err()
	}

	log.Println("Demo: reset timer")
	return s.ResetTimer(ctx)
}

// stream prints readings at the scale's 10 Hz telemetry cadence.
func stream(ctx context.Context, s *scale.Scale) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			timer := " "
			if s.TimerRunning() {
				timer = "*"
			}
			fmt.Printf("\r%8.2f g  %6.2f g/s  %s%6.1f s  batt %3d%%   ",
				s.Weight(), s.FlowRate(), timer, s.ElapsedTime().Seconds(), s.BatteryPercent())
		}
	}
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func filterFor(cfg config.SmoothingConfig) scale.FilterFunc {
	if cfg.Filter == "mean" {
		return scale.MeanFilter(cfg.Window)
	}
	return scale.MedianFilter(cfg.Window)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== bookoo-scale ===")
	if cfg.Device.Address != "" {
		fmt.Printf("  Device:    %s\n", cfg.Device.Address)
	} else {
		fmt.Printf("  Device:    name prefix %q\n", cfg.Device.NamePrefix)
	}
	fmt.Printf("  Scan:      %s timeout\n", cfg.Device.ScanTimeout.Std())
	fmt.Printf("  Smoothing: %s, window %d\n", cfg.Smoothing.Filter, cfg.Smoothing.Window)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("====================")
}

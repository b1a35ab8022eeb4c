package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/miretskiy/delaycam"
	"github.com/miretskiy/delaycam/compression"
	"github.com/miretskiy/delaycam/config"
	"github.com/miretskiy/delaycam/history"
	"github.com/miretskiy/delaycam/settings"
	"github.com/miretskiy/delaycam/sim"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "delaycam: %v\n", err)
		os.Exit(1)
	}
}

// app is the running program: one pipeline fed by the simulated sensor.
type app struct {
	log      *slog.Logger
	out      io.Writer
	pipeline *delaycam.Pipeline
	gate     *delaycam.RealtimeGate
	store    *settings.Store

	mu  sync.Mutex
	cfg config.File
}

func run(args []string) error {
	flags := pflag.NewFlagSet("delaycam", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "YAML configuration file (reloaded on change)")
	delay := flags.DurationP("delay", "d", 0, "display delay, 0 for passthrough")
	fps := flags.Float64P("fps", "r", 0, "capture frame rate")
	buffers := flags.Int("buffers", 0, "hardware buffers to cycle")
	metricsAddr := flags.String("metrics", "", "serve Prometheus metrics on this address")
	settingsDir := flags.String("settings", "", "directory for persisted settings")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	interactive := flags.BoolP("interactive", "i", true, "read commands from stdin")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if flags.Changed("metrics") {
		cfg.MetricsAddr = *metricsAddr
	}
	if flags.Changed("settings") {
		cfg.SettingsDir = *settingsDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("buffers") {
		cfg.BufferCount = *buffers
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	a := &app{log: logger, out: os.Stdout}

	// Persisted settings override the file; flags override both
	if cfg.SettingsDir != "" {
		if a.store, err = settings.Open(cfg.SettingsDir, logger); err != nil {
			return err
		}
		defer a.store.Close()
		focus, _ := settings.ParseFocusMode(cfg.Focus)
		saved, err := a.store.Load(settings.Settings{Delay: cfg.Delay, FrameRate: cfg.FrameRate, Focus: focus})
		if err != nil {
			return err
		}
		cfg.Delay, cfg.FrameRate, cfg.Focus = saved.Delay, saved.FrameRate, saved.Focus.String()
	}
	if flags.Changed("delay") {
		cfg.Delay = *delay
	}
	if flags.Changed("fps") {
		cfg.FrameRate = *fps
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	dev, err := sim.NewDevice(append(cfg.SensorOptions(), sim.WithLogger(logger))...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.gate = delaycam.NewRealtimeGate(cfg.RealtimeGrace)
	opts := append(cfg.Options(),
		delaycam.WithLogger(logger),
		delaycam.WithRegisterer(reg),
		delaycam.WithRealtimeSignal(a.gate))
	if a.pipeline, err = delaycam.New(dev, newLogSink(logger, time.Second), opts...); err != nil {
		return err
	}
	defer a.pipeline.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	a.pipeline.TriggerAutofocus()
	if err := a.pipeline.Start(ctx); err != nil {
		var rex *delaycam.ResourceExhaustedError
		if errors.As(err, &rex) {
			return fmt.Errorf("%w; try a shorter --delay or lower --fps", err)
		}
		return err
	}

	g.Go(func() error { return a.pipeline.Run(ctx) })

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	if *configPath != "" {
		holder := config.NewHolder(*configPath, cfg, logger)
		if err := holder.Watch(ctx); err != nil {
			return err
		}
		defer holder.Close()
		updates := make(chan config.File, 1)
		holder.Subscribe(updates)
		g.Go(func() error { return a.watchConfig(ctx, updates) })
	}

	if *interactive {
		in := make(chan command)
		go readCommands(os.Stdin, in)
		g.Go(func() error { return a.handleCommands(ctx, in) })
		fmt.Fprintln(a.out, helpText)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return a.pipeline.Close()
}

func (a *app) current() config.File {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// watchConfig applies reloaded configuration to the running pipeline.
func (a *app) watchConfig(ctx context.Context, updates <-chan config.File) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-updates:
			// Timing changes only take effect through reconfigure
			a.mu.Lock()
			prev := a.cfg
			a.cfg = next
			a.cfg.Delay, a.cfg.FrameRate = prev.Delay, prev.FrameRate
			a.mu.Unlock()

			if !prev.CaptureChanged(next) {
				continue
			}
			if err := a.reconfigure(ctx, next.Delay, next.FrameRate); err != nil {
				a.log.Error("apply reloaded config", "error", err)
			}
		}
	}
}

// reconfigure restarts capture with new timing and persists the choice.
func (a *app) reconfigure(ctx context.Context, delay time.Duration, fps float64) error {
	focus, _ := settings.ParseFocusMode(a.current().Focus)
	if focus == settings.FocusEverytime {
		a.pipeline.TriggerAutofocus()
	}
	if err := a.pipeline.Reconfigure(ctx, delay, fps); err != nil {
		return err
	}

	a.mu.Lock()
	a.cfg.Delay, a.cfg.FrameRate = delay, fps
	a.mu.Unlock()

	if a.store != nil {
		return a.store.Save(settings.Settings{Delay: delay, FrameRate: fps, Focus: focus})
	}
	return nil
}

func (a *app) export(path string) error {
	h := a.current().History
	codec, err := compression.ParseCodec(h.Codec)
	if err != nil {
		return err
	}
	n, err := a.pipeline.ExportHistory(path,
		history.WithCodec(codec, compression.LevelDefault),
		history.WithDirectIO(h.DirectIO))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exported %d frames to %s\n", n, path)
	return nil
}

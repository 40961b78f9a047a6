// Package main runs the telemetry sidecar as a standalone foreground
// process. It reads newline-delimited JSON events from stdin, feeds them
// through the sidecar runtime, and periodically dumps the metric registry
// in Prometheus text format to stdout.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/forgerun/sidecar/internal/config"
	"github.com/forgerun/sidecar/internal/sidecar"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath     = flag.String("config", "", "Path to configuration file (auto-discovered when empty)")
	showVersion    = flag.Bool("version", false, "Show version and exit")
	exposeInterval = flag.Duration("expose-interval", 30*time.Second, "How often to dump metrics to stdout")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("sidecar %s\n", version)
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = config.Locate()
	}

	// Load configuration
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting telemetry sidecar",
		zap.String("version", version),
		zap.String("config", path))

	// Construction is the one place that fails loudly on bad configuration.
	rt, err := sidecar.New(cfg, logger)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down",
			zap.String("signal", sig.String()))
		cancel()
	}()

	// Hot-reload sampling rates when the config file changes on disk.
	if path != "" {
		watcher, err := config.Watch(path, logger, func(updated *config.Config) {
			if err := rt.Reload(updated); err != nil {
				logger.Warn("Config reload rejected", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	err = rt.Run(ctx, func(ctx context.Context) error {
		return runProducers(ctx, rt, logger, *exposeInterval)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Sidecar exited with error", zap.Error(err))
	}

	stats := rt.Stats()
	logger.Info("Sidecar stopped",
		zap.Int64("received", stats.Received),
		zap.Int64("sampled", stats.Sampled),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("processed", stats.Processed),
		zap.Int64("errors", stats.Errors))
}

// runProducers drives the two foreground loops: the stdin event feed and the
// periodic metrics dump. It blocks until both exit or the context is
// cancelled.
func runProducers(ctx context.Context, rt *sidecar.Runtime, logger *zap.Logger, interval time.Duration) error {
	logger.Info("Sidecar running",
		zap.Duration("expose_interval", interval))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feedEvents(ctx, rt, os.Stdin, logger)
	})
	g.Go(func() error {
		return exposeMetrics(ctx, rt, os.Stdout, interval)
	})
	return g.Wait()
}

// eventLine is the wire shape of one stdin event.
type eventLine struct {
	Type        string         `json:"type"`
	Data        map[string]any `json:"data"`
	ExecutionID string         `json:"execution_id"`
	TestID      string         `json:"test_id"`
	RunID       string         `json:"run_id"`
}

// feedEvents reads newline-delimited JSON events from in and hands them to
// the runtime. Malformed lines are skipped. EOF ends the feed without
// stopping the sidecar; shutdown stays signal-driven.
func feedEvents(ctx context.Context, rt *sidecar.Runtime, in io.Reader, logger *zap.Logger) error {
	lines := make(chan []byte)

	// Scanner.Scan blocks with no context support, so reading happens on its
	// own goroutine and the consumer below stays cancellable.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("Event feed read failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				logger.Info("Event feed closed")
				return nil
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var ev eventLine
			if err := json.Unmarshal(line, &ev); err != nil {
				logger.Debug("Skipping malformed event line", zap.Error(err))
				continue
			}
			if ev.Type == "" {
				logger.Debug("Skipping event without type")
				continue
			}

			var opts []sidecar.EventOption
			if ev.ExecutionID != "" {
				opts = append(opts, sidecar.WithExecutionID(ev.ExecutionID))
			}
			if ev.TestID != "" {
				opts = append(opts, sidecar.WithTestID(ev.TestID))
			}
			if ev.RunID != "" {
				opts = append(opts, sidecar.WithRunID(ev.RunID))
			}
			rt.Observe(ev.Type, ev.Data, opts...)
		}
	}
}

// exposeMetrics writes the Prometheus text exposition to w on every tick.
func exposeMetrics(ctx context.Context, rt *sidecar.Runtime, w io.Writer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprint(w, rt.ExportMetrics())
		}
	}
}

// initLogger creates a zap logger based on the configuration.
// Console output goes to stderr so it never interleaves with the metrics
// exposition on stdout; a JSON log file is added when configured.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	// File output (structured JSON, if configured)
	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}

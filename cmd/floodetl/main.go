package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"flood_etl/internal/config"
	"flood_etl/internal/domain"
	"flood_etl/internal/observability"
	"flood_etl/internal/scheduler"
	"flood_etl/internal/server"
)

const usage = `usage: floodetl [-config path] <command>

commands:
  full         re-extract everything and rebuild all tables
  incremental  extract readings since the last watermark (full when none)
  status       print per-table row and column counts and the watermark
  serve        run on the configured schedule with health and metrics endpoints
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := setupLogger("info", "json")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Arg(0), cfg, logger); err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg *config.Config, logger *slog.Logger) error {
	var withOutputs bool
	switch command {
	case "full", "incremental", "serve":
		withOutputs = true
	case "status":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	metrics := observability.NewMetrics()
	a, err := buildApp(ctx, cfg, metrics, logger, withOutputs)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	switch command {
	case "full":
		ctx, cancel := context.WithTimeout(ctx, cfg.Sync.RunTimeout)
		defer cancel()
		_, err := a.pipeline.RunFull(ctx)
		return err
	case "incremental":
		ctx, cancel := context.WithTimeout(ctx, cfg.Sync.RunTimeout)
		defer cancel()
		_, err := a.pipeline.RunIncremental(ctx)
		return err
	case "status":
		status, err := a.pipeline.Status(ctx)
		if err != nil {
			return err
		}
		return printStatus(os.Stdout, status)
	default:
		return serve(ctx, a, cfg, logger)
	}
}

func serve(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) error {
	srv := server.NewServer(cfg.HTTP.Addr, a.pipeline, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	sched := scheduler.NewScheduler(a.pipeline, cfg.Sync.CronSpec(), cfg.Sync.RunTimeout, logger)

	logger.Info("starting flood etl",
		"schedule", cfg.Sync.CronSpec(),
		"tables", cfg.Storage.Tables,
		"raw", cfg.Storage.Raw,
		"watermark", cfg.Storage.Watermark,
	)

	err := sched.Start(ctx)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("http server shutdown error", "error", serr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printStatus(out io.Writer, status *domain.Status) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS\tCOLUMNS")
	for _, t := range status.Tables {
		if !t.Exists {
			fmt.Fprintf(tw, "%s\t-\t-\n", t.Name)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\n", t.Name, t.Rows, t.Columns)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	last := "never"
	if status.Watermark != nil {
		last = status.Watermark.UTC().Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(out, "\nlast extraction: %s\n", last)
	return err
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

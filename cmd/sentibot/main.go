package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/alejandrodnm/sentibot/config"
	"github.com/alejandrodnm/sentibot/internal/adapters/notify"
	"github.com/alejandrodnm/sentibot/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one tick and exit")
	dryRun := flag.Bool("dry-run", false, "keep state in memory instead of SQLite")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables each tick (default: compact 1-line)")
	inspectTicker := flag.String("inspect", "", "print the stored history of a ticker and exit")
	window := flag.Duration("window", 24*time.Hour, "history window for -inspect")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *dryRun {
		cfg.Storage.DSN = ":memory:"
	}
	setupLogger(cfg.Log)

	slog.Info("sentibot starting",
		"config", *configPath,
		"enabled", cfg.Agent.Enabled,
		"tick", cfg.TickInterval(),
		"research", cfg.ResearchEnabled(),
		"dsn", cfg.Storage.DSN,
		"once", *once,
	)

	app, err := build(cfg, *table)
	if err != nil {
		slog.Error("failed to build agent", "err", err)
		os.Exit(1)
	}
	defer app.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *inspectTicker != "" {
		if err := inspect(ctx, app.store, app.store, *inspectTicker, *window, notify.NewConsole(true)); err != nil {
			slog.Error("inspect failed", "ticker", *inspectTicker, "err", err)
			app.close()
			os.Exit(1)
		}
		return
	}

	if *once {
		if err := app.agent.Load(ctx); err != nil {
			slog.Error("failed to restore state", "err", err)
			app.close()
			os.Exit(1)
		}
		app.agent.Tick(ctx, time.Now())
		return
	}

	if err := app.agent.Run(ctx); err != nil {
		if errors.Is(err, domain.ErrStateCorrupt) {
			slog.Error("persisted state is corrupt, refusing to trade", "err", err, "dsn", cfg.Storage.DSN)
		} else {
			slog.Error("agent exited with error", "err", err)
		}
		app.close()
		os.Exit(1)
	}

	slog.Info("sentibot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

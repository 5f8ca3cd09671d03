package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"lifeos/internal/config"
	"lifeos/internal/ical"
	"lifeos/internal/logging"
	"lifeos/internal/settings"
	"lifeos/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		logging.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(conf.Log.Level)
	if err != nil {
		logging.Error("invalid log level", err)
		os.Exit(1)
	}
	format, err := logging.ParseFormat(conf.Log.Format)
	if err != nil {
		logging.Error("invalid log format", err)
		os.Exit(1)
	}
	logging.Init(level, format)
	defer logging.Sync()

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	logging.Info("lifeos starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"horizon_days", conf.HorizonDays,
		"refresh", conf.RefreshCron,
		"store_path", conf.StorePath,
	)

	loc := resolveLocation(conf.Timezone)

	store, err := settings.Open(conf.StorePath)
	if err != nil {
		logging.Error("failed to open settings store", err, "path", conf.StorePath)
		os.Exit(1)
	}
	defer store.Close()

	normalizer := ical.NewNormalizer(ical.NewFetcher(conf.CacheDir), loc, conf.HorizonDays)
	server := web.NewServer(conf, store, normalizer)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// Background refresh loop. The widget caches skip a refresh that is
	// already in flight, so overlapping runs are harmless.
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		server.Refresh(ctx)
	}); err != nil {
		logging.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	// Warm the caches once at startup so the first dashboard load is fast.
	go server.Refresh(ctx)

	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("HTTP shutdown failed", err)
		}
	}()

	logging.Info("starting HTTP server", "listen", "http://"+conf.Listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("HTTP server failed", err)
		os.Exit(1)
	}

	logging.Info("lifeos exiting")
}

func resolveLocation(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logging.Error("failed to load timezone, falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	return cfg
}

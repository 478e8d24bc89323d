package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ownclock/internal/backend"
	"ownclock/internal/battery"
	"ownclock/internal/config"
	"ownclock/internal/dashboard"
	"ownclock/internal/ics"
	appLog "ownclock/internal/log"
	"ownclock/internal/watch"
	"ownclock/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("ownclock starting", "version", version)

	conf, err := config.Load(flags.configPath)
	switch {
	case err != nil && conf == nil:
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	case err != nil:
		// First run on a read-only path: keep the in-memory defaults.
		appLog.Warn("could not write default config", "config_path", flags.configPath, "err", err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	applyLogLevel(conf, flags.debug)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"backend_url", conf.BackendURL,
		"poll_interval", conf.PollInterval().String(),
		"calendar_refresh", conf.CalendarRefresh,
		"battery_source", conf.Battery.Source,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	client := backend.NewClient(conf.BackendURL)
	watcher := watch.New(client, watch.Options{
		FetchTimeout: 10 * time.Second,
		Local:        watch.NewLocalCopy(nil, conf.LocalConfigPath),
	})

	// The first answer is the baseline, not a change.
	if _, err := watcher.Poll(ctx); err != nil {
		restored, rerr := watcher.Restore()
		switch {
		case rerr != nil:
			appLog.Error("local config copy unreadable", rerr, "path", conf.LocalConfigPath)
		case restored:
			appLog.Warn("backend config not reachable yet; starting from local copy", "err", err)
		default:
			appLog.Warn("backend config not reachable yet; starting with defaults", "err", err)
		}
	}

	var extra dashboard.EventSource
	if feeds := icsFeeds(conf); feeds != nil {
		extra = feeds
	}

	dash := dashboard.New(dashboard.Options{
		Watcher:         watcher,
		Weather:         client,
		Calendar:        client,
		Extra:           extra,
		Battery:         battery.NewReader(ctx, conf.Battery, client),
		CalendarRefresh: conf.CalendarRefresh,
		BatteryInterval: conf.BatteryInterval(),
	})

	if flags.once {
		code := runOnce(ctx, dash)
		cancel()
		os.Exit(code)
	}

	if err := dash.Start(ctx); err != nil {
		appLog.Error("failed to start dashboard", err)
		os.Exit(1)
	}
	defer dash.Stop()

	if err := watcher.Start(conf.PollInterval()); err != nil {
		appLog.Error("failed to start config watcher", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	pollInterval := conf.PollInterval()
	fw, err := config.WatchFile(flags.configPath, 0, func(next *config.Config) {
		applyLogLevel(next, flags.debug)
		if next.PollInterval() == pollInterval {
			return
		}
		appLog.Info("poll interval changed; restarting config watcher",
			"from", pollInterval.String(), "to", next.PollInterval().String())
		watcher.Stop()
		if err := watcher.Start(next.PollInterval()); err != nil {
			appLog.Error("failed to restart config watcher", err)
			return
		}
		pollInterval = next.PollInterval()
	})
	if err != nil {
		appLog.Warn("config file watch disabled", "err", err)
	} else {
		defer fw.Close()
	}

	srv := web.NewServer(conf, dash).HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLog.Error("server stopped with error", err)
	}
	appLog.Info("ownclock exiting")
}

// runOnce refreshes every module once and prints the state as JSON.
func runOnce(ctx context.Context, dash *dashboard.Dashboard) int {
	if err := dash.Start(ctx); err != nil {
		appLog.Error("single-shot refresh failed", err)
		return 1
	}
	dash.Stop()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dash.State()); err != nil {
		appLog.Error("failed to encode state", err)
		return 1
	}
	return 0
}

func icsFeeds(conf *config.Config) *ics.Feeds {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			if c.Name != "" {
				id = c.Name
			} else {
				id = c.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, Name: c.Name, URL: c.URL})
	}
	if len(sources) == 0 {
		return nil
	}
	return ics.NewFeeds(ics.NewFetcher(nil, conf.CacheDir), sources)
}

func applyLogLevel(conf *config.Config, debug bool) {
	if debug {
		return
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/ownclock/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh every module once, print the state as JSON and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging (overrides log_level)")

	flag.Parse()

	return cfg
}

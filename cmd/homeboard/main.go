// Command homeboard runs the dashboard server: it loads the widget
// configuration, starts one runner per integration, and serves the HTTP and
// websocket surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"homeboard/server/api"
	"homeboard/server/cache"
	"homeboard/server/config"
	"homeboard/server/hub"
	"homeboard/server/integration"
	"homeboard/server/metrics"

	// Register built-in integration factories.
	_ "homeboard/server/integrations/clock"
	_ "homeboard/server/integrations/mqttsensor"
	_ "homeboard/server/integrations/todoist"
	_ "homeboard/server/integrations/weather"
)

const shutdownTimeout = 10 * time.Second

func main() {
	host := flag.String("host", "0.0.0.0", "host to bind to")
	port := flag.Int("port", 9753, "port to bind to")
	configDir := flag.String("config", "config", "configuration directory")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *host, *port, *configDir); err != nil {
		logger.Error("server failed", "error", err.Error())
		os.Exit(1)
	}
}

// publisher is the pipeline every runner publishes through: cache write
// first (stale snapshots stop here), then metrics, then hub fan-out. The
// cache-before-hub order is what keeps the cache from ever being older than
// anything a session has seen.
type publisher struct {
	store   *cache.Store
	hub     *hub.Hub
	metrics *metrics.Metrics
}

func (p *publisher) Publish(snap integration.Snapshot) {
	if !p.store.Put(snap) {
		return
	}
	p.metrics.ObserveSnapshot(snap.Integration, snap.OK())
	p.hub.Publish(snap)
}

func run(logger *slog.Logger, host string, port int, configDir string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	creds, err := config.LoadCredentials(configDir)
	if err != nil {
		return errors.Wrap(err, "failed to load credentials")
	}

	store := cache.New()
	h := hub.New(store, logger)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	h.SetDropListener(func(string) { m.SessionsDropped.Inc() })

	pub := &publisher{store: store, hub: h, metrics: m}

	registry, err := buildRegistry(cfg, creds, pub, logger)
	if err != nil {
		return err
	}
	if registry.Count() == 0 {
		logger.Warn("no integrations loaded, dashboard will be empty")
	}

	for _, entry := range registry.List() {
		if err := entry.Runner.Start(); err != nil {
			logger.Error("failed to start runner",
				"integration", entry.Descriptor.Name, "error", err.Error())
		}
	}

	apiServer := api.New(registry, store, h, m, promReg, logger)
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	apiServer.SetReady(true)
	logger.Info("dashboard server listening", "addr", addr,
		"integrations", registry.Count())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listener failed")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	apiServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err.Error())
	}
	if err := registry.StopAll(); err != nil {
		logger.Warn("runner shutdown incomplete", "error", err.Error())
	}
	h.CloseAll()

	return nil
}

// buildRegistry creates and registers a source and runner per enabled
// widget. A failure to create any one integration excludes just that
// integration and the rest of the dashboard comes up without it.
func buildRegistry(cfg *config.Config, creds config.Credentials,
	pub integration.Publisher, logger *slog.Logger) (*integration.Registry, error) {
	widgets := cfg.EnabledWidgets()

	sourceCfgs := make([]integration.Config, 0, len(widgets))
	for _, w := range widgets {
		sourceCfgs = append(sourceCfgs, integration.Config{
			Integration:     w.Integration,
			DisplayName:     w.DisplayName,
			RefreshInterval: w.RefreshInterval(),
			Settings:        w.Settings,
			Credentials:     creds.For(w.Integration),
		})
	}

	if err := integration.ValidateConfigs(sourceCfgs); err != nil {
		return nil, errors.Wrap(err, "invalid widget configuration")
	}

	registry := integration.NewRegistry()
	for _, sc := range sourceCfgs {
		src, err := integration.NewSource(sc, logger)
		if err != nil {
			logger.Error("failed to load integration, skipping",
				"integration", sc.Integration, "error", err.Error())
			continue
		}
		desc := src.Descriptor()
		if err := integration.ValidateDescriptor(desc); err != nil {
			logger.Error("invalid integration descriptor, skipping",
				"integration", sc.Integration, "error", err.Error())
			continue
		}

		runner := integration.NewRunner(src, pub, logger)
		if err := registry.Register(&integration.Entry{Descriptor: desc, Runner: runner}); err != nil {
			logger.Error("failed to register integration, skipping",
				"integration", desc.Name, "error", err.Error())
			continue
		}
		logger.Info("integration registered", "integration", desc.Name,
			"capability", desc.Capability.String())
	}

	return registry, nil
}

// Package main is the entry point for the airouter service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/howard-nolan/airouter/internal/auth"
	"github.com/howard-nolan/airouter/internal/config"
	"github.com/howard-nolan/airouter/internal/metrics"
	"github.com/howard-nolan/airouter/internal/provider"
	"github.com/howard-nolan/airouter/internal/server"
	"github.com/howard-nolan/airouter/internal/storage"
	"github.com/howard-nolan/airouter/internal/storage/rest"
	"github.com/howard-nolan/airouter/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Model table ---
	extra, err := cfg.ModelEntries()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid models section")
	}
	catalog, err := provider.NewCatalog(extra...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build model catalog")
	}

	// --- Providers ---
	// One shared client; the per-request upstream timeout lives in the
	// handler, so the client itself has none (it would cut streams).
	httpClient := &http.Client{}
	providers := buildProviders(cfg, httpClient)
	for _, m := range catalog.Models() {
		if _, err := providers.For(m.Provider); err != nil {
			log.Warn().Str("model", m.Key).Str("provider", m.Provider.String()).Msg("model has no configured provider")
		}
	}

	// --- Metrics ---
	// A private registry keeps the exposition to our collectors plus the
	// standard Go and process ones.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Telemetry ---
	var dispatcher *telemetry.Dispatcher
	var closers []io.Closer
	if cfg.Telemetry.Enabled && cfg.Telemetry.Store != "none" {
		store, closer, err := openStore(ctx, cfg.Telemetry)
		if err != nil {
			log.Fatal().Err(err).Str("store", cfg.Telemetry.Store).Msg("failed to open telemetry store")
		}
		if closer != nil {
			closers = append(closers, closer)
		}

		cache, closer, err := openCache(ctx, cfg.Telemetry.Cache)
		if err != nil {
			log.Fatal().Err(err).Str("cache", cfg.Telemetry.Cache.Kind).Msg("failed to open session cache")
		}
		if closer != nil {
			closers = append(closers, closer)
		}

		sink := telemetry.NewSink(telemetry.SinkConfig{
			Store:      store,
			Cache:      cache,
			Logger:     log.Logger.With().Str("component", "telemetry").Logger(),
			Metrics:    m,
			SummaryCap: cfg.Telemetry.SummaryCap,
		})
		dispatcher = telemetry.NewDispatcher(telemetry.DispatcherConfig{
			Recorder:  sink,
			Workers:   cfg.Telemetry.Workers,
			QueueSize: cfg.Telemetry.QueueSize,
			Timeout:   cfg.Telemetry.Timeout,
			Logger:    log.Logger.With().Str("component", "telemetry").Logger(),
			Metrics:   m,
		})
		dispatcher.Start()
		log.Info().
			Str("store", cfg.Telemetry.Store).
			Str("cache", cfg.Telemetry.Cache.Kind).
			Int("workers", cfg.Telemetry.Workers).
			Msg("telemetry enabled")
	}

	opts := server.Options{
		Catalog:         catalog,
		Providers:       providers,
		Verifier:        auth.NewVerifier(cfg.Auth.JWTSecret),
		Metrics:         m,
		Logger:          log.Logger,
		DefaultModel:    cfg.DefaultModel,
		UpstreamTimeout: cfg.Server.UpstreamTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	}
	// A nil *Dispatcher stored in the interface would not compare equal
	// to nil, so only set it when telemetry is on.
	if dispatcher != nil {
		opts.Telemetry = dispatcher
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
		opts.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.New(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Int("models", len(catalog.Models())).
			Str("default_model", cfg.DefaultModel).
			Bool("jwt_check", opts.Verifier != nil).
			Msg("airouter listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	// Stop taking requests first, then let queued telemetry drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("telemetry did not drain")
		}
	}
	for _, c := range closers {
		_ = c.Close()
	}

	log.Info().Msg("stopped")
}

// buildProviders creates an adapter for every provider section present in
// config. A provider without a section (or without a key) stays nil, and
// requests for its models fail with a clear error.
func buildProviders(cfg *config.Config, client *http.Client) provider.Set {
	var set provider.Set

	if g := cfg.Provider(provider.KindGoogle); g.APIKey != "" {
		set.Google = provider.NewGoogleProvider(g.APIKey, g.BaseURL, client)
	}
	if o := cfg.Provider(provider.KindOpenRouter); o.APIKey != "" {
		set.OpenRouter = provider.NewOpenRouterProvider(o.APIKey, o.BaseURL, o.AppURL, o.AppName, client)
	}
	return set
}

// openStore picks the telemetry store named in config. The returned
// closer is nil when there is nothing to release.
func openStore(ctx context.Context, tc config.TelemetryConfig) (telemetry.Store, io.Closer, error) {
	switch tc.Store {
	case "memory":
		return telemetry.NewMemoryStore(telemetry.SystemClock{}), nil, nil
	case "rest":
		return rest.New(tc.REST.URL, tc.REST.ServiceKey, &http.Client{Timeout: tc.Timeout}), nil, nil
	case "postgres", "sqlite":
		driver := tc.Store
		if tc.Database.Driver != "" {
			driver = tc.Database.Driver
		}
		s, err := storage.Open(ctx, driver, tc.Database.DSN, tc.Database.AutoMigrate)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown telemetry store %q", tc.Store)
	}
}

// openCache builds the session-id cache. Redis is pinged once so that a
// bad address fails at startup rather than on every event.
func openCache(ctx context.Context, cc config.CacheConfig) (telemetry.SessionCache, io.Closer, error) {
	switch cc.Kind {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return telemetry.NewRedisCache(rdb, "", cc.TTL), rdb, nil
	default:
		c, err := telemetry.NewMemoryCache(cc.Size)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	}
}

func setupLogger(lc config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(lc.Level))

	var out io.Writer = os.Stdout
	if lc.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

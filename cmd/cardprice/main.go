package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/StrathCole/cardprice/pkg/config"
	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/metrics"
	"github.com/StrathCole/cardprice/pkg/server/aggregator"
	"github.com/StrathCole/cardprice/pkg/server/api"
	"github.com/StrathCole/cardprice/pkg/server/refresh"
	"github.com/StrathCole/cardprice/pkg/server/sources"
	"github.com/StrathCole/cardprice/pkg/store"
	"github.com/StrathCole/cardprice/pkg/store/redisstore"
	"github.com/StrathCole/cardprice/pkg/store/sqlstore"
	"github.com/StrathCole/cardprice/pkg/version"

	// Import sources to register them
	_ "github.com/StrathCole/cardprice/pkg/server/sources/cards"
)

var (
	configFile     = flag.String("config", "config/config.yaml", "Path to configuration file")
	envFile        = flag.String("env", ".env", "Optional dotenv file with provider credentials")
	showVer        = flag.Bool("version", false, "Show version and exit")
	refreshMissing = flag.Bool("refresh-missing", false, "Price every stored item without a price once, then exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("cardprice version %s\n", version.Version)
		os.Exit(0)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load env file %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read credentials: %v\n", err)
		os.Exit(1)
	}
	config.ApplyCredentials(cfg, creds)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting cardprice", "version", version.Version, "cache", cfg.Cache.Backend)

	if cfg.Metrics.Enabled {
		metrics.Init()
		if !*refreshMissing {
			go func() {
				logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
				if err := metrics.ServeHTTP(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
					logger.Error("Metrics server failed", "error", err)
				}
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", "backend", cfg.Cache.Backend, "error", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}()

	agg, err := aggregator.New(buildSources(cfg, logger), st, aggregatorConfig(cfg), logger)
	if err != nil {
		logger.Fatal("Failed to create aggregator", "error", err)
	}

	refresher := refresh.New(agg, st, refresh.Config{
		BatchSize:  cfg.Refresh.BatchSize,
		BatchDelay: cfg.Refresh.BatchDelay.ToDuration(),
		Limit:      cfg.Refresh.Limit,
	}, logger)

	if *refreshMissing {
		go func() {
			<-sigChan
			cancel()
		}()
		summary, err := refresher.Run(ctx)
		logger.Info("Refresh finished",
			"scanned", summary.Scanned,
			"priced", summary.Priced,
			"unpriced", summary.Unpriced,
			"failed", summary.Failed,
			"duration", summary.Duration.String(),
		)
		if err != nil {
			logger.Error("Refresh ended early", "error", err)
			os.Exit(1)
		}
		return
	}

	errChan := make(chan error, 1)
	server := runServer(ctx, cfg, agg, refresher, logger, errChan)

	if cfg.Refresh.Enabled {
		if _, err := refresher.Schedule(ctx, cfg.Refresh.Schedule); err != nil {
			logger.Fatal("Failed to schedule refresh", "schedule", cfg.Refresh.Schedule, "error", err)
		}
	}

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		if err != nil {
			logger.Error("Component failed", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down gracefully...")
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
}

func runServer(ctx context.Context, cfg *config.Config, agg *aggregator.Aggregator, refresher *refresh.Refresher, logger *logging.Logger, errChan chan<- error) *api.Server {
	apiCfg := api.Config{
		Addr:           cfg.Server.HTTP.Addr,
		RequestTimeout: cfg.Server.RequestTimeout.ToDuration(),
		RateLimit:      cfg.Server.RateLimit.RequestsPerSecond,
		RateBurst:      cfg.Server.RateLimit.Burst,
		TrustProxy:     cfg.Server.TrustProxy,
	}
	if cfg.Server.HTTP.TLS.Enabled {
		apiCfg.TLSCert = cfg.Server.HTTP.TLS.Cert
		apiCfg.TLSKey = cfg.Server.HTTP.TLS.Key
	}

	server := api.NewServer(apiCfg, agg, logger)
	server.SetRefresher(refresher)

	if cfg.Server.WebSocket.Enabled {
		hub := api.NewStreamHub(logger)
		agg.OnUpdate(hub.Publish)
		server.SetStream(hub)
		go hub.Run(ctx)
	}

	go func() {
		errChan <- server.Start()
	}()
	return server
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.Store, error) {
	switch cfg.Cache.Backend {
	case config.BackendPostgres:
		st, err := sqlstore.OpenPostgres(ctx, cfg.Cache.DSN, cfg.Cache.MaxConns, logger)
		if err != nil {
			return nil, err
		}
		return st, ensureSchema(ctx, cfg, st)
	case config.BackendSQLite:
		st, err := sqlstore.OpenSQLite(ctx, cfg.Cache.Path, logger)
		if err != nil {
			return nil, err
		}
		return st, ensureSchema(ctx, cfg, st)
	case config.BackendRedis:
		return redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		}, logger)
	default:
		logger.Warn("Using in-memory store; prices are lost on restart")
		return store.NewMemoryStore(), nil
	}
}

func ensureSchema(ctx context.Context, cfg *config.Config, st *sqlstore.Store) error {
	if !cfg.Cache.EnsureSchema && cfg.Cache.Backend != config.BackendSQLite {
		return nil
	}
	return st.EnsureSchema(ctx)
}

func buildSources(cfg *config.Config, logger *logging.Logger) []sources.Source {
	policy := cfg.Retry.Policy()

	var out []sources.Source
	for _, sourceCfg := range cfg.EnabledSources() {
		factoryCfg := sourceCfg.FactoryConfig()
		factoryCfg["logger"] = logger
		factoryCfg["retry"] = policy
		if _, ok := factoryCfg["timeout"]; !ok {
			factoryCfg["timeout"] = policy.Timeout
		}

		source, err := sources.Create(sourceCfg.Name, factoryCfg)
		if err != nil {
			logger.Warn("Failed to create source", "name", sourceCfg.Name, "available", sources.List(), "error", err)
			continue
		}
		if !source.Configured() {
			logger.Warn("Source has no credentials and will be skipped", "source", source.Name())
		}
		out = append(out, source)
		logger.Info("Source initialized", "source", source.Name(), "weight", source.Weight())
	}
	return out
}

func aggregatorConfig(cfg *config.Config) aggregator.Config {
	categories := make(map[sources.Category][]string, len(cfg.Aggregator.Categories))
	for cat, names := range cfg.Aggregator.Categories {
		categories[sources.Category(cat)] = names
	}
	return aggregator.Config{
		TTL:             cfg.Cache.TTL.ToDuration(),
		AdapterTimeout:  cfg.Aggregator.AdapterTimeout.ToDuration(),
		MinAIConfidence: cfg.Aggregator.MinAIConfidence,
		DefaultCategory: sources.Category(cfg.Aggregator.DefaultCategory),
		CategorySources: categories,
		FallbackSource:  cfg.Aggregator.FallbackSource,
	}
}

package stakingd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/native/staking"
	"stakeledger/observability"
	"stakeledger/observability/logging"
	telemetry "stakeledger/observability/otel"
	"stakeledger/services/stakingd/journal"
	"stakeledger/services/stakingd/token"
	"stakeledger/storage"
)

// Main initialises and runs the staking daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/stakingd/config.yaml", "path to stakingd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Environment
	if value := strings.TrimSpace(os.Getenv("STAKELEDGER_ENV")); value != "" {
		env = value
	}
	logger := logging.Setup("stakingd", env, logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})

	endpoint := cfg.Telemetry.Endpoint
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); value != "" {
		endpoint = value
	}
	headers := telemetry.ParseHeaders(cfg.Telemetry.Headers)
	for key, value := range telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")) {
		headers[key] = value
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "stakingd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	var db storage.Database
	if cfg.Database.InMemory {
		db = storage.NewMemDB()
	} else {
		if err := os.MkdirAll(cfg.Database.Path, 0o750); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		ldb, err := storage.NewLevelDB(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open state db: %w", err)
		}
		db = ldb
	}
	defer db.Close()

	metrics := observability.Stakingd()
	pool := common.HexToAddress(strings.TrimSpace(cfg.PoolAddress))

	tokenClient, err := token.NewClient(token.Config{
		Endpoint: cfg.Token.Endpoint,
		APIKey:   cfg.Token.APIKey,
		Timeout:  cfg.Token.Timeout.Duration,
		Pool:     pool,
	})
	if err != nil {
		return fmt.Errorf("token client: %w", err)
	}
	logger.Info("token service configured",
		slog.String("endpoint", cfg.Token.Endpoint),
		slog.Duration("timeout", cfg.Token.Timeout.Duration),
		logging.MaskField("api_key", cfg.Token.APIKey))

	opts := []staking.Option{
		staking.WithTransferPort(tokenClient),
		staking.WithStore(staking.NewKVStore(db)),
		staking.WithMetrics(metrics),
		staking.WithLogger(logger),
	}
	var eventJournal *journal.Journal
	if dsn := strings.TrimSpace(cfg.Journal.DSN); dsn != "" {
		journalDB, err := journal.Open(dsn)
		if err != nil {
			return err
		}
		if sqlDB, err := journalDB.DB(); err == nil {
			defer sqlDB.Close()
		}
		eventJournal = journal.New(journalDB, metrics, logger)
		opts = append(opts, staking.WithEmitter(eventJournal))
	}

	engine := staking.NewEngine(pool, opts...)
	if err := engine.Load(); err != nil {
		return fmt.Errorf("restore staking state: %w", err)
	}
	if path := strings.TrimSpace(cfg.InitFile); path != "" {
		payload, err := LoadInitPayload(path)
		if err != nil {
			return err
		}
		if err := Bootstrap(context.Background(), engine, payload); err != nil {
			return fmt.Errorf("initialise pool: %w", err)
		}
	}
	if !engine.Pool().Initialized {
		logger.Warn("staking pool not initialised; mutating requests will be refused until an init file is supplied")
	}

	auth, err := NewAuthenticator(cfg.Auth.Tokens)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	limiter := NewRateLimiter(cfg.RateLimit.RatePerSecond, cfg.RateLimit.Burst, cfg.RateLimit.TTL.Duration)
	server, err := NewServer(ServerConfig{
		Service:     engine,
		Auth:        auth,
		RateLimiter: limiter,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	janitor := NewJanitor(engine, limiter, cfg.Housekeeping, metrics, logger)
	if eventJournal != nil {
		janitor.WithJournal(eventJournal)
	}
	go janitor.Run(stopCtx)

	errs := make(chan error, 1)
	go func() {
		logger.Info("stakingd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("pool", pool.Hex()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

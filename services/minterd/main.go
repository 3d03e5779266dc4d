package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	genesisconfig "ovenmint/config"
	"ovenmint/core/state"
	nativecommon "ovenmint/native/common"
	"ovenmint/native/minter"
	"ovenmint/observability/logging"
	"ovenmint/observability/metrics"
	telemetry "ovenmint/observability/otel"
	"ovenmint/services/minterd/config"
	"ovenmint/services/minterd/journal"
	"ovenmint/services/minterd/server"
	"ovenmint/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/minterd/config.yaml", "path to minterd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("OVENMINT_ENV"))
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "minterd",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	endpoint := cfg.Telemetry.Endpoint
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	headers := cfg.Telemetry.Headers
	if len(headers) == 0 {
		headers = telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Attributes:  map[string]string{"ovenmint.module": "minter"},
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		log.Fatalf("open state database: %v", err)
	}
	defer db.Close()
	ledger := state.NewLedger(db)

	genesis, err := genesisconfig.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}
	genesisState, err := genesis.State()
	if err != nil {
		log.Fatalf("genesis state: %v", err)
	}

	if err := seedAllocations(ledger, genesis); err != nil {
		log.Fatalf("seed genesis allocations: %v", err)
	}

	pauses := nativecommon.NewPauseSet(cfg.PausedModules...)
	engine := minter.NewEngine()
	engine.SetPauses(pauses)
	minterMetrics := metrics.Minter()
	module, err := minter.NewModule(engine, ledger, genesisState,
		minter.WithLogger(logger.With(slog.String("module", "minter"))),
		minter.WithObserver(minterMetrics))
	if err != nil {
		log.Fatalf("init minter: %v", err)
	}

	journalDB, err := journal.Open(cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	if sqlDB, err := journalDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	srv := server.New(server.Config{
		Minter:    module,
		Ledger:    ledger,
		Journal:   journal.New(journalDB),
		Pauses:    pauses,
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
		Metrics:   minterMetrics,
		Logger:    logger,
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext minterd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if cfg.TLS.Enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("minterd listening",
			slog.String("address", cfg.ListenAddress),
			slog.Bool("tls", cfg.TLS.Enabled()))
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// openDatabase opens LevelDB under dir, or an in-memory store when dir is
// empty.
func openDatabase(dir string) (storage.Database, error) {
	if dir == "" {
		db, err := storage.NewMemLevelDB()
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(dir, "state"))
	if err != nil {
		return nil, err
	}
	return db, nil
}

// seedAllocations funds the genesis allocations on first start, before the
// minter state is persisted.
func seedAllocations(ledger *state.Ledger, genesis *genesisconfig.Genesis) error {
	_, initialised, err := ledger.LoadState()
	if err != nil || initialised {
		return err
	}
	allocations, err := genesis.NativeAllocations()
	if err != nil {
		return err
	}
	for _, alloc := range allocations {
		if err := ledger.Fund(alloc.Address, alloc.Amount); err != nil {
			return fmt.Errorf("fund %s: %w", alloc.Address, err)
		}
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spot-trade-worker/internal/api"
	"spot-trade-worker/internal/config"
	"spot-trade-worker/internal/core"
	"spot-trade-worker/internal/logger"
	"spot-trade-worker/internal/metrics"
	"spot-trade-worker/internal/repository"
	"spot-trade-worker/internal/repository/postgres"
	"spot-trade-worker/internal/service"
)

// Process exit codes read by the Manager.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

var (
	_ core.Exchange         = (*api.BinanceGateway)(nil)
	_ core.Ledger           = (*repository.TradeRepository)(nil)
	_ core.Ledger           = (*postgres.TradeStore)(nil)
	_ core.Notifier         = (*service.TelegramNotifier)(nil)
	_ core.OutcomePublisher = (*service.OutcomePublisher)(nil)
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitConfig
	}

	log, logCloser, err := logger.New(logger.Options{
		App:     cfg.AppName,
		Dir:     cfg.LogDir,
		Level:   cfg.LogLevel,
		Console: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitConfig
	}
	defer logCloser.Close()

	log.Info("Configuration loaded successfully",
		"market", cfg.Market.String(),
		"budget", cfg.Budget.String(),
		"poll_interval", cfg.PollInterval.String(),
		"check_balance", cfg.CheckBalance,
		"ledger", cfg.LedgerDriver,
		"testnet", cfg.BinanceTestnet,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("spot_trade_worker", cfg.AppName)
	defer func() {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Push(pushCtx, cfg.PushgatewayURL, "spot_trade_worker", cfg.AppName); err != nil {
			log.Warn("⚠️ Failed to push metrics", "error", err)
		}
	}()

	gateway := api.NewBinanceGateway(api.BinanceOptions{
		APIKey:    cfg.BinanceApiKey,
		SecretKey: cfg.BinanceSecretKey,
		BaseURL:   cfg.BinanceBaseURL,
		Testnet:   cfg.BinanceTestnet,
		FeeRate:   cfg.FeeRate,
		Logger:    log,
	})
	if err := gateway.SyncTime(ctx); err != nil {
		log.Warn("⚠️ Failed to synchronize time with Binance, using local time", "error", err)
	}

	ledger, closeLedger, err := openLedger(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open ledger", "driver", cfg.LedgerDriver, "error", err)
		return exitFatal
	}
	defer closeLedger()

	notifier := service.NewTelegramNotifier(cfg.AppName, cfg.TelegramToken, cfg.TelegramChatID, log)
	defer notifier.Wait()

	var publisher core.OutcomePublisher
	if cfg.NatsURL != "" {
		p, err := service.NewOutcomePublisher(cfg.NatsURL, cfg.NatsStream, cfg.OutcomeSubjectPrefix, cfg.AppName, log)
		if err != nil {
			log.Error("Failed to connect outcome publisher", "url", cfg.NatsURL, "error", err)
			return exitFatal
		}
		defer p.Close()
		publisher = p
	} else {
		log.Warn("NATS_URL not set, outcome is only logged")
	}

	engine, err := core.New(core.Options{
		AppName:      cfg.AppName,
		Market:       cfg.Market,
		Budget:       cfg.Budget,
		Phases:       cfg.Phases,
		PollInterval: cfg.PollInterval,
		CheckBalance: cfg.CheckBalance,
		Exchange:     gateway,
		Ledger:       ledger,
		Notifier:     notifier,
		Publisher:    publisher,
		Logger:       log,
		Metrics:      m,
	})
	if err != nil {
		log.Error("Invalid engine configuration", "error", err)
		return exitConfig
	}

	outcome, err := engine.Run(ctx)
	if err != nil {
		log.Error("❌ Trade worker failed", "error", err)
		return exitFatal
	}

	log.Info("✅ Trade worker finished",
		"trade_id", outcome.TradeID,
		"sell_type", string(outcome.SellType),
		"profit", outcome.Profit.String(),
		"elapsed_ms", outcome.ElapsedMs,
	)
	return exitOK
}

func openLedger(ctx context.Context, cfg *config.Config, log *slog.Logger) (core.Ledger, func(), error) {
	switch cfg.LedgerDriver {
	case config.LedgerPostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewTradeStore(pool), pool.Close, nil
	default:
		repo := repository.NewTradeRepository(repository.NewStorage(), cfg.LedgerDir, log)
		if err := repo.Load(); err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
}

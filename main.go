package main

import (
	"context"
	"log" // Standard log only for fatal errors before the logger is ready
	"os/signal"
	"syscall"
	"time"

	"tradebot/config"
	"tradebot/internal/adapters/binance"
	"tradebot/internal/adapters/logger"
	"tradebot/internal/adapters/paper"
	"tradebot/internal/adapters/sqlite"
	"tradebot/internal/engine"
	"tradebot/internal/notify"
	"tradebot/internal/ports"
	"tradebot/internal/retry"
	"tradebot/internal/server"
	"tradebot/internal/strategy"
	"tradebot/internal/wallet"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})

	// 4. Initialize Exchange Gateway
	exchange, err := binance.New(binance.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.UseTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	var gateway ports.ExchangeGateway = exchange
	if cfg.DryRun {
		// Dry-run trades against a simulated wallet, priced from the real
		// exchange ticker stream.
		sim, err := paper.New(paper.Config{
			Logger:        appLogger,
			StakeCurrency: cfg.StakeCurrency,
			WalletBalance: cfg.DryRunWallet,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize paper gateway: %v", err)
		}
		go feedPrices(ctx, appLogger, exchange, sim, cfg.PairWhitelist, cfg.ProcessThrottle)
		gateway = sim
		appLogger.Info(ctx, "Dry-run mode active", map[string]interface{}{"wallet": cfg.DryRunWallet})
	}

	// 5. Initialize Strategy
	strat, err := strategy.New(cfg.StrategyName, strategy.Config{
		Stoploss: cfg.Stoploss,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
	}
	appLogger.Info(ctx, "Trading strategy initialized", map[string]interface{}{"strategy": strat.Name()})

	// 6. Initialize Wallets and Retry Policy
	wallets, err := wallet.New(wallet.Config{
		StakeCurrency:        cfg.StakeCurrency,
		StakeAmount:          cfg.StakeAmount,
		Unlimited:            cfg.StakeUnlimited,
		MaxOpenTrades:        cfg.MaxOpenTrades,
		TradableBalanceRatio: cfg.TradableBalanceRatio,
		AvailableCapital:     cfg.AvailableCapital,
		RefreshInterval:      cfg.WalletRefreshInterval,
	}, appLogger, gateway, repo)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize wallets: %v", err)
	}
	retryPolicy := retry.New(cfg.RetryAttempts, cfg.RetryBackoffMin, cfg.RetryBackoffMax, appLogger)

	// 7. Initialize Engine
	var notifier engine.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL, appLogger)
	}
	eng, err := engine.New(engine.Deps{
		Config:   cfg,
		Logger:   appLogger,
		Gateway:  gateway,
		Trades:   repo,
		Locks:    repo.Locks(),
		Strategy: strat,
		Wallets:  wallets,
		Retry:    retryPolicy,
		Notifier: notifier,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	// 8. Start the API server when configured
	if cfg.APIListenAddr != "" {
		api, err := server.New(server.Config{
			ListenAddr: cfg.APIListenAddr,
			Engine:     eng,
			Logger:     appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize API server: %v", err)
		}
		go func() {
			if err := api.Start(); err != nil {
				appLogger.Error(ctx, err, "API server exited with error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				appLogger.Error(ctx, err, "API server shutdown failed")
			}
		}()
	}

	// 9. Run until interrupted
	if err := eng.Run(ctx); err != nil {
		appLogger.Error(ctx, err, "Engine exited with error")
		log.Fatalf("FATAL: Engine exited with error: %v", err)
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}

// feedPrices mirrors live tickers into the paper gateway so dry-run fills
// track the real market.
func feedPrices(ctx context.Context, lg ports.Logger, src *binance.Client, dst *paper.Gateway, pairs []string, interval time.Duration) {
	refresh := func() {
		for _, pair := range pairs {
			tick, err := src.FetchTicker(ctx, pair)
			if err != nil {
				lg.Warn(ctx, "Price feed fetch failed", map[string]interface{}{
					"pair": pair, "error": err.Error(),
				})
				continue
			}
			dst.SetPrice(pair, tick.Last)
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

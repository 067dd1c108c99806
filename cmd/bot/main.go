// Polyarb — a latency-arbitrage bot for binary prediction markets.
//
// Architecture:
//
//	main.go            — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	feed/              — primary-source pollers (economic releases, game finals, crypto spot)
//	market/scanner.go  — polls Gamma for event-linked markets, tracks live opportunities
//	strategy/          — match → prioritize → evaluate → size pipeline (pure, no I/O)
//	engine/engine.go   — one serialized turn per feed event: pipeline → risk gates → execution
//	risk/              — pre-trade gates, position/P&L ledger, kill switch, oracle monitor
//	exchange/          — CLOB REST client, L1/L2 auth, rate limiting, pre-signed order pool
//	paper/             — simulated fills against live books for zero-capital validation
//	replay/            — recorded-scenario harness that reruns the pipeline deterministically
//	alert/             — operator notifications (telegram, log) and the decision audit log
//	metrics/           — trade, P&L, latency, and fill-quality counters
//	api/               — read-only JSON status endpoints
//
// How it makes money:
//
//	Prediction markets reprice slowly after scheduled information events.
//	The bot watches primary sources directly — economic data releases,
//	sports finals, spot crypto prices — works out what a market's outcome
//	must now be, and lifts quotes that have not caught up yet. The edge is
//	latency, not inventory: positions are opened at stale prices and exit
//	at the post-release consensus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"polyarb/internal/alert"
	"polyarb/internal/api"
	"polyarb/internal/config"
	"polyarb/internal/engine"
	"polyarb/internal/exchange"
	"polyarb/internal/feed"
	"polyarb/internal/market"
	"polyarb/internal/metrics"
	"polyarb/internal/paper"
	"polyarb/internal/risk"
	"polyarb/pkg/types"
)

func main() {
	// .env is optional; deployments set env vars directly.
	_ = godotenv.Load()

	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	clock := types.RealClock()

	// Venue client. Keyless paper runs skip the signer entirely: reads are
	// public endpoints and writes never leave the simulator.
	var auth *exchange.Auth
	if cfg.Wallet.PrivateKey != "" {
		auth, err = exchange.NewAuth(*cfg)
		if err != nil {
			logger.Error("failed to initialize signer", "error", err)
			os.Exit(1)
		}
	}
	client := exchange.NewClient(*cfg, auth, logger)

	var adapter exchange.Adapter = client
	var sim *paper.Simulator
	if cfg.Paper.Enabled {
		sim = paper.NewSimulator(cfg.Paper, clock, logger)
		adapter = paper.NewAdapter(client, sim, cfg.Paper, logger)
	}

	riskMon := risk.NewMonitor(cfg.Risk, cfg.Oracle, clock, logger)
	scanner := market.NewScanner(adapter, cfg.Scanner, clock, logger)
	eng := engine.New(cfg.Strategy, adapter, scanner, riskMon, clock, logger)

	// Pre-signed order pool, live mode only: the simulator never posts
	// signed payloads, so signing ahead would be wasted work.
	var pool *exchange.Pool
	if cfg.Presign.Enabled && !cfg.Paper.Enabled {
		params := exchange.NewParamsCache(client, cfg.Presign.ParamsTTL, clock, logger)
		signer := exchange.NewPreSigner(auth, params, cfg.Presign.ExpirationSecs, clock, logger)
		pool = exchange.NewPool(signer, cfg.Presign.StalenessThreshold, cfg.Presign.RefreshInterval, clock, logger)
		eng.UsePresignPool(pool, client)
		scanner.OnEvent(seedPresign(pool, cfg.Strategy, logger))
	}

	collector := metrics.NewCollector(cfg.Metrics, clock, logger)
	eng.OnEvent(collector.OnArbEvent)

	// Alerts
	var decisions *alert.DecisionLog
	if cfg.Alerts.DecisionLogPath != "" {
		decisions, err = alert.OpenDecisionLog(cfg.Alerts.DecisionLogPath)
		if err != nil {
			logger.Error("failed to open decision log", "error", err, "path", cfg.Alerts.DecisionLogPath)
			os.Exit(1)
		}
	}
	dispatcher := alert.NewDispatcher(cfg.Alerts, decisions, cfg.Paper.Enabled, clock, logger)
	dispatcher.AddChannel(alert.NewLogChannel(logger))
	if cfg.Alerts.TelegramEnabled {
		tg, err := alert.NewTelegram(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID)
		if err != nil {
			logger.Error("failed to connect telegram", "error", err)
			os.Exit(1)
		}
		dispatcher.AddChannel(tg)
	}
	eng.OnEvent(dispatcher.OnArbEvent)
	riskMon.OnEvent(dispatcher.OnRiskEvent)
	riskMon.Oracle().OnEvent(dispatcher.OnOracleEvent)
	scheduler := alert.NewScheduler(cfg.Alerts, dispatcher, riskMon, collector, clock, logger)

	// Feeds
	var feeds []*feed.Runner
	if cfg.Feeds.Economic.Enabled {
		feeds = append(feeds, feed.NewEconomic(cfg.Feeds.Economic, clock, logger))
	}
	if cfg.Feeds.Sports.Enabled {
		feeds = append(feeds, feed.NewSports(cfg.Feeds.Sports, clock, logger))
	}
	if cfg.Feeds.Crypto.Enabled {
		feeds = append(feeds, feed.NewCrypto(cfg.Feeds.Crypto, clock, logger))
	}
	for _, f := range feeds {
		f.OnEvent(eng.OnFeedEvent)
		f.OnEvent(dispatcher.OnFeedEvent)
	}

	var apiServer *api.Server
	if cfg.Status.Enabled {
		apiServer = api.NewServer(cfg.Status, api.Sources{
			Stats:   eng,
			Risk:    riskMon,
			Opps:    scanner,
			Metrics: collector,
		}, cfg.Paper.Enabled, clock, logger)
	}

	// Startup: venue first, discovery before feeds, so the first release
	// event already has opportunities to match against.
	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = adapter.Connect(connectCtx)
	cancel()
	if err != nil {
		logger.Error("failed to connect to venue", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		pool.Start()
	}
	if err := scanner.Start(ctx); err != nil {
		logger.Error("failed to start scanner", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	for _, f := range feeds {
		if err := f.Start(ctx); err != nil {
			logger.Error("failed to start feed", "feed", f.FeedType(), "error", err)
			os.Exit(1)
		}
	}
	if apiServer != nil {
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("status API failed", "error", err)
			}
		}()
		logger.Info("status API started", "url", fmt.Sprintf("http://localhost:%d", cfg.Status.Port))
	}

	if cfg.Paper.Enabled {
		logger.Warn("PAPER MODE — orders fill in the simulator, not on the venue")
	}

	logger.Info("polyarb started",
		"paper", cfg.Paper.Enabled,
		"feeds", len(feeds),
		"presign", pool != nil,
		"base_size_usd", cfg.Strategy.BaseSizeUSD,
		"max_daily_loss_usd", cfg.Risk.MaxDailyLossUSD,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop producers before consumers so nothing fires into a stopped
	// component.
	for _, f := range feeds {
		f.Stop()
	}
	scheduler.Stop()
	eng.Stop()
	scanner.Stop()
	if pool != nil {
		pool.Stop()
	}
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop status API", "error", err)
		}
	}
	if err := adapter.Close(); err != nil {
		logger.Error("failed to close venue client", "error", err)
	}
	if decisions != nil {
		if err := decisions.Close(); err != nil {
			logger.Error("failed to close decision log", "error", err)
		}
	}
}

// seedPresign keeps the pool warm: every scanner sighting of an opportunity
// signs a flat-base-size buy at the price the engine would send for it, so
// the hot path can skip EIP-712 signing when the release lands. Kelly-sized
// and depth-capped actions miss the pool and sign live; the engine puts near
// misses back.
func seedPresign(pool *exchange.Pool, cfg config.StrategyConfig, logger *slog.Logger) types.OpportunityCallback {
	base := decimal.NewFromFloat(cfg.BaseSizeUSD)
	slippage := decimal.NewFromFloat(cfg.MaxSlippage)
	orderType := types.OrderType(cfg.OrderTypeOrDefault())

	return func(ev types.OpportunityEvent) error {
		if ev.Type == types.OpportunityLost || ev.Opportunity == nil {
			return nil
		}
		opp := ev.Opportunity
		if !opp.BestAsk.Valid || !opp.BestAsk.Decimal.IsPositive() {
			return nil
		}
		ask := opp.BestAsk.Decimal

		// Mirror the engine's order construction exactly or the pool key
		// will never match: FOK goes out at the slippage-padded worst
		// price, everything else at the raw ask.
		price := ask
		if orderType == types.OrderTypeFOK {
			price = price.Add(slippage)
		}
		size := base.Div(ask)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pool.PreSign(ctx, opp.TokenID, types.BUY, price, size, orderType); err != nil {
			logger.Debug("pre-sign failed", "token_id", opp.TokenID, "error", err)
		}
		return nil
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

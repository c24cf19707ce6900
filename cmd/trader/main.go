// Command trader is the composition root: it wires configuration,
// transport, risk, the order pipeline, the bracket manager, and the
// maintenance scheduler together and runs them until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitfinex-trader/internal/bootstrap"
	"bitfinex-trader/internal/bracket"
	"bitfinex-trader/internal/breaker"
	"bitfinex-trader/internal/core"
	"bitfinex-trader/internal/exchange/bitfinex"
	"bitfinex-trader/internal/idempotency"
	"bitfinex-trader/internal/infrastructure/health"
	"bitfinex-trader/internal/infrastructure/metrics"
	"bitfinex-trader/internal/marketdata"
	"bitfinex-trader/internal/nonce"
	"bitfinex-trader/internal/orderpipeline"
	"bitfinex-trader/internal/persistence"
	"bitfinex-trader/internal/ratelimit"
	"bitfinex-trader/internal/restclient"
	"bitfinex-trader/internal/risk"
	"bitfinex-trader/internal/scheduler"
	"bitfinex-trader/internal/signal"
	"bitfinex-trader/internal/wsclient"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}

	if err := run(app); err != nil {
		app.Logger.Error("trader exited with error", "error", err)
		os.Exit(1)
	}
}

func run(app *bootstrap.App) error {
	cfg := app.Cfg
	logger := app.Logger

	nonces, err := nonce.NewService(cfg.Persistence.NoncePath)
	if err != nil {
		return fmt.Errorf("nonce service: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.Patterns)
	breakerDefault := breaker.Config{FailureThreshold: 5, FailureWindow: 10, SuccessThreshold: 3, Cooldown: 60 * time.Second}
	breakerClasses := map[string]breaker.Config{
		"public":       {FailureThreshold: 5, FailureWindow: 10, SuccessThreshold: 3, Cooldown: 60 * time.Second},
		"order_submit": {FailureThreshold: 5, FailureWindow: 10, SuccessThreshold: 3, Cooldown: 300 * time.Second},
		"order_cancel": {FailureThreshold: 5, FailureWindow: 10, SuccessThreshold: 3, Cooldown: 300 * time.Second},
		"account":      {FailureThreshold: 5, FailureWindow: 10, SuccessThreshold: 3, Cooldown: 300 * time.Second},
	}
	breakers := breaker.NewRegistry(breakerClasses, breakerDefault, logger)

	rest := restclient.New(cfg.Exchange.BaseRESTURL, string(cfg.Exchange.APIKey), string(cfg.Exchange.APISecret), 10*time.Second, nonces, limiter, breakers)
	ws := wsclient.New(cfg.Exchange.BaseWSURL, cfg.Exchange.BaseWSURL, string(cfg.Exchange.APIKey), string(cfg.Exchange.APISecret), logger)

	tickerStale := time.Duration(cfg.MarketData.TickerStaleSecs) * time.Second
	candleStale := time.Duration(cfg.MarketData.CandleStaleSecs) * time.Second

	var exchangeClient core.IExchangeClient = bitfinex.New(rest, ws, nil, logger)
	md := marketdata.New(exchangeClient, logger, tickerStale, candleStale)
	adapter := bitfinex.New(rest, ws, md, logger)
	exchangeClient = adapter

	signalEngine := signal.New(cfg.Signal, md, logger, cfg.Persistence.ProbModelFile)

	ws.OnTicker(md.OnTicker)
	ws.OnCandle(func(candle core.Candle) {
		md.OnCandle(candle)
		signalEngine.OnCandleClose(candle.Symbol, candle.Timeframe, candle)
	})

	store, err := persistence.Open(cfg.Persistence.AuditDBPath)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}

	idem := idempotency.New(10 * time.Minute)
	riskEngine := risk.NewEngine(cfg.Risk, logger)

	if equity, err := exchangeClient.GetEquity(context.Background()); err == nil {
		riskEngine.SetStartOfDayEquity(equity)
	} else {
		logger.Warn("failed to fetch starting equity, risk gates will seed at zero", "error", err)
	}

	pipeline := orderpipeline.New(exchangeClient, idem, riskEngine, store, logger)

	bracketMgr, err := bracket.New(pipeline, exchangeClient, cfg.Persistence.BracketSnapshotPath, logger)
	if err != nil {
		return fmt.Errorf("bracket manager: %w", err)
	}

	sched := scheduler.New(logger)
	registerMaintenanceJobs(sched, store, bracketMgr, riskEngine, exchangeClient, idem)

	healthMgr := health.NewHealthManager(logger)
	healthMgr.Register("exchange", func() error {
		_, err := exchangeClient.GetEquity(context.Background())
		return err
	})
	healthServer := health.NewServer(cfg.Telemetry.HealthPort, healthMgr)

	var metricsServer *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
	}

	ws.OnOrderUpdate(func(order core.Order) {
		if order.Status == core.OrderStatusFilled || order.Status == core.OrderStatusPartiallyFilled {
			_ = bracketMgr.OnFill(context.Background(), order.ExchangeOrderID, order.FilledAmount)
		}
	})

	for _, symbol := range cfg.MarketData.Symbols {
		if err := ws.SubscribeTicker(symbol); err != nil {
			logger.Warn("failed to subscribe ticker", "symbol", symbol, "error", err)
		}
	}

	runners := []bootstrap.Runner{
		runnerFunc(ws.Start),
		runnerFunc(sched.Run),
		runnerFunc(healthServer.Run),
	}
	if metricsServer != nil {
		runners = append(runners, runnerFunc(metricsServer.Run))
	}

	defer store.Close()
	return app.Run(runners...)
}

// registerMaintenanceJobs wires the periodic upkeep work onto the
// scheduler: idempotency cache sweep and equity snapshot run frequently
// under the low-priority pool, bracket reconciliation runs under the
// high-priority pool since a stale bracket state risks a runaway
// position.
func registerMaintenanceJobs(sched *scheduler.Scheduler, store core.IPersistence, bracketMgr *bracket.Manager, riskEngine *risk.Engine, exchangeClient core.IExchangeClient, idem *idempotency.Cache) {
	_ = sched.RegisterInterval("idempotency_sweep", 5*time.Minute, scheduler.PriorityLow, func(ctx context.Context) error {
		idem.Sweep()
		return nil
	})

	_ = sched.RegisterInterval("equity_snapshot", time.Minute, scheduler.PriorityLow, func(ctx context.Context) error {
		equity, err := exchangeClient.GetEquity(ctx)
		if err != nil {
			return err
		}
		return store.RecordEquitySnapshot(ctx, core.EquitySnapshot{
			Equity:  equity,
			Source:  core.DataSourceREST,
			TakenAt: time.Now().UTC(),
		})
	})

	_ = sched.RegisterInterval("bracket_reconcile", 30*time.Second, scheduler.PriorityHigh, func(ctx context.Context) error {
		return bracketMgr.Reconcile(ctx)
	})

	_ = sched.RegisterCron("daily_risk_reset", "0 0 0 * * *", scheduler.PriorityHigh, func(ctx context.Context) error {
		riskEngine.ResetDaily()
		return nil
	})
}

// runnerFunc adapts a plain func(context.Context) error to
// bootstrap.Runner.
type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

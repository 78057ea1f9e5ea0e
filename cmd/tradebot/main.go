// Command tradebot runs the live BTC/USD 15-minute binary-options
// market-making loop: it loads the active probability matrix, wires the
// spot feed and Polymarket adapter, and drives the decision engine until
// signaled to stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/btc15m/internal/config"
	"github.com/web3guy0/btc15m/internal/database"
	"github.com/web3guy0/btc15m/internal/decision"
	"github.com/web3guy0/btc15m/internal/execution"
	"github.com/web3guy0/btc15m/internal/feeds"
	"github.com/web3guy0/btc15m/internal/market"
	"github.com/web3guy0/btc15m/internal/matrixstore"
	"github.com/web3guy0/btc15m/internal/notify"
	"github.com/web3guy0/btc15m/internal/riskacct"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	db, err := database.New(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open position/execution database")
	}

	matrixDB, err := matrixstore.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open matrix store")
	}
	matrix, err := matrixstore.LoadAtStartup(matrixDB, cfg.MatrixSnapshotFile)
	if err != nil {
		log.Fatal().Err(err).Msg("no usable probability matrix at startup")
	}

	spotFeed := feeds.NewBinanceSpotFeed(cfg.BinanceSymbol)

	var predictionMarket market.PredictionMarket
	if cfg.PolymarketPrivateKey != "" {
		adapter, err := market.NewPolymarketAdapter(
			cfg.PolymarketPrivateKey, cfg.PolymarketAPIKey, cfg.PolymarketAPISecret, cfg.PolymarketPassphrase,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct polymarket adapter")
		}
		bookFeed := feeds.NewPolymarketBookFeed()
		if err := bookFeed.Connect(); err != nil {
			log.Warn().Err(err).Msg("polymarket book websocket unavailable at startup, falling back to REST polling")
		}
		predictionMarket = feeds.NewPolymarketPredictionMarket(adapter, bookFeed)
	} else {
		log.Fatal().Msg("POLYMARKET_PRIVATE_KEY not set, cannot trade live")
	}

	execCfg := execution.DefaultConfig()
	execCfg.SlippageBps = cfg.SlippageBps
	execCfg.MaxRetries = cfg.MaxRetries
	execMachine := execution.New(predictionMarket, execCfg)

	riskGate := riskacct.NewGate(cfg.Bankroll, cfg.DailyLossLimitPct, cfg.MaxBetsPerWindow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciled, err := execution.Reconcile(ctx, db, predictionMarket)
	if err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed, continuing with on-disk position state")
	} else if reconciled > 0 {
		log.Info().Int("count", reconciled).Msg("reconciled in-flight positions against the exchange")
	}

	engine := decision.New(cfg, matrix, spotFeed, predictionMarket, execMachine, riskGate, db)

	notifier, err := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("telegram notifier unavailable, continuing without alerts")
	} else {
		engine.SetNotifier(notifier)
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("decision engine stopped with error")
		}
	}()

	log.Info().Msg("tradebot running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Dur("shutdown_grace", cfg.ShutdownGrace).Msg("shutting down")
	cancel()
	select {
	case <-engineDone:
	case <-time.After(cfg.ShutdownGrace):
		log.Warn().Msg("shutdown grace elapsed before the decision engine stopped")
	}
}

// Command matrixbuilder folds historical BTC candles into the probability
// matrix the live bot queries at decision time, and offers ad-hoc query and
// health-check subcommands against whatever matrix is currently active.
//
// Exit codes: 0 success, 1 configuration error, 2 data insufficient,
// 3 persistence error.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/bucket"
	"github.com/web3guy0/btc15m/internal/candles"
	"github.com/web3guy0/btc15m/internal/config"
	"github.com/web3guy0/btc15m/internal/edge"
	"github.com/web3guy0/btc15m/internal/kelly"
	"github.com/web3guy0/btc15m/internal/matrixbuilder"
	"github.com/web3guy0/btc15m/internal/matrixstore"
	"github.com/web3guy0/btc15m/internal/stats"
)

const (
	exitOK               = 0
	exitConfigError      = 1
	exitDataInsufficient = 2
	exitPersistenceError = 3
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: matrixbuilder <build|query|stats> [flags]")
		os.Exit(exitConfigError)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(exitConfigError)
	}

	switch os.Args[1] {
	case "build":
		os.Exit(runBuild(cfg))
	case "query":
		os.Exit(runQuery(cfg, os.Args[2:]))
	case "stats":
		os.Exit(runStats(cfg))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(exitConfigError)
	}
}

func runBuild(cfg *config.Config) int {
	input, err := candles.LoadFile(cfg.CandleHistoryFile)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.CandleHistoryFile).Msg("failed to load candle history")
		return exitConfigError
	}

	m, report := matrixbuilder.Build(input)
	if report.WindowsBuilt == 0 {
		log.Error().Msg("no complete windows in candle history, refusing to persist an empty matrix")
		return exitDataInsufficient
	}

	store, err := matrixstore.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Error().Err(err).Msg("failed to open matrix store")
		return exitPersistenceError
	}
	if _, err := store.Save(m); err != nil {
		log.Error().Err(err).Msg("failed to persist matrix snapshot")
		return exitPersistenceError
	}
	if err := matrixstore.SaveFile(cfg.MatrixSnapshotFile, m); err != nil {
		log.Warn().Err(err).Msg("failed to write local fallback snapshot file")
	}

	fmt.Printf("windows_built=%d windows_disqualified=%d candles_consumed=%d\n",
		report.WindowsBuilt, report.WindowsDisqualified, report.CandlesConsumed)
	return exitOK
}

func runQuery(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	secondsIntoWindow := fs.Float64("t", 0, "seconds into the 15-minute window")
	delta := fs.Float64("p", 0, "signed USD delta from window open")
	marketPrice := fs.Float64("m", 0, "market price in (0,1) for the evaluated direction")
	bankroll := fs.Float64("b", 0, "bankroll in USDC, overrides BANKROLL if > 0")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *marketPrice <= 0 || *marketPrice >= 1 {
		fmt.Fprintln(os.Stderr, "market price (-m) must be in (0,1)")
		return exitConfigError
	}

	m, err := loadActiveMatrix(cfg)
	if err != nil {
		log.Error().Err(err).Msg("no active matrix available")
		return exitDataInsufficient
	}

	coord := bucket.Locate(*secondsIntoWindow, *delta)
	cell := m.Cell(coord.TimeBucket, coord.DeltaBucket)

	direction := edge.Up
	if *delta < 0 {
		direction = edge.Down
	}
	thresholds := edge.Thresholds(cfg.EdgeMinStrong, cfg.EdgeMinModerate, cfg.EdgeMinWeak)
	rec := edge.Evaluate(cell, direction, *marketPrice, thresholds)

	bankrollDec := cfg.Bankroll
	if *bankroll > 0 {
		bankrollDec = decimal.NewFromFloat(*bankroll)
	}
	kellyCfg := kelly.Config{
		FractionCap:       cfg.MaxBetPct,
		MaxBetUSDC:        cfg.MaxBetUSDC,
		MinBetUSDC:        cfg.MinBetUSDC,
		DailyLossLimitPct: cfg.DailyLossLimitPct,
		Scale:             kelly.Scale(cfg.KellyFractionStrong, cfg.KellyFractionModerate, cfg.KellyFractionWeak),
	}
	size := kelly.Size(rec.OurProbability, rec.MarketProbability, rec.Confidence, bankrollDec, kellyCfg, decimal.Zero)

	fmt.Printf("direction=%s n=%d confidence=%s our_probability=%.4f edge=%.4f should_bet=%t size=%s reason=%q\n",
		rec.Direction, cell.N(), rec.Confidence, rec.OurProbability, rec.Edge, rec.ShouldBet, size.String(), rec.Reason)
	return exitOK
}

func runStats(cfg *config.Config) int {
	m, err := loadActiveMatrix(cfg)
	if err != nil {
		log.Error().Err(err).Msg("no active matrix available")
		return exitDataInsufficient
	}

	total := bucket.TimeBucketCount * bucket.DeltaBucketCount
	var thin int
	type biasedCell struct {
		t, d int
		n    int
		pUp  float64
	}
	var biased []biasedCell

	for t := 0; t < bucket.TimeBucketCount; t++ {
		for d := 0; d < bucket.DeltaBucketCount; d++ {
			cell := m.Cell(t, d)
			if cell.Confidence == stats.Unreliable {
				thin++
				continue
			}
			biased = append(biased, biasedCell{t: t, d: d, n: cell.N(), pUp: cell.PUp})
		}
	}

	sort.Slice(biased, func(i, j int) bool {
		di := biased[i].pUp - 0.5
		dj := biased[j].pUp - 0.5
		if di < 0 {
			di = -di
		}
		if dj < 0 {
			dj = -dj
		}
		return di > dj
	})

	fmt.Printf("total_cells=%d thin_cells_n_lt_10=%d total_windows_observed=%d\n",
		total, thin, m.TotalWindowsObserved)
	fmt.Println("most_biased_cells (time_bucket, delta_bucket, n, p_up):")
	limit := 10
	if len(biased) < limit {
		limit = len(biased)
	}
	for _, c := range biased[:limit] {
		fmt.Printf("  t=%d d=%d n=%d p_up=%.4f\n", c.t, c.d, c.n, c.pUp)
	}
	return exitOK
}

func loadActiveMatrix(cfg *config.Config) (*matrixbuilder.Matrix, error) {
	store, err := matrixstore.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening matrix store: %w", err)
	}
	return matrixstore.LoadAtStartup(store, cfg.MatrixSnapshotFile)
}

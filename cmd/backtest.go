package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/backtest"
	"github.com/staarb/staarb/internal/bus"
	"github.com/staarb/staarb/internal/config"
	"github.com/staarb/staarb/internal/domain"
	"github.com/staarb/staarb/internal/exchange"
	"github.com/staarb/staarb/internal/executor"
	"github.com/staarb/staarb/internal/portfolio"
	"github.com/staarb/staarb/internal/storage"
	"github.com/staarb/staarb/internal/strategy"
	"github.com/staarb/staarb/pkg/formatters"
)

const dateLayout = "2006-01-02"

func init() {
	backtestCmd.Flags().String("strategy", "", "strategy YAML file")
	backtestCmd.Flags().StringSlice("symbols", []string{}, "basket symbols (first is the regressed asset)")
	backtestCmd.Flags().String("interval", "", "bar interval (default from config)")
	backtestCmd.Flags().String("start", "", "history start date (YYYY-MM-DD, default 2 years back)")
	backtestCmd.Flags().String("end", "", "history end date (YYYY-MM-DD, default today)")
	backtestCmd.Flags().Float64("split", 0.7, "fraction of history used to fit the model")
	backtestCmd.Flags().Float64("deposit", 10000, "starting quote-asset deposit")
	backtestCmd.Flags().Float64("entry", 1.0, "z-score entry threshold")
	backtestCmd.Flags().Float64("exit", 0.0, "z-score exit threshold")
	backtestCmd.Flags().Bool("long-only", false, "suppress short entries")

	rootCmd.AddCommand(backtestCmd)
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars through the trading pipeline",
	Long: `Fetches historical klines for a basket, fits the cointegration
model on the training split, then replays the validation split through
the full signal/sizing/execution pipeline against a simulated margin
account.`,
	RunE: runBacktest,
}

// backtestParams are the resolved strategy settings for one run.
type backtestParams struct {
	symbols    []string
	interval   string
	entry      float64
	exit       float64
	longOnly   bool
	leverage   float64
	quoteAsset string
}

func resolveParams(cmd *cobra.Command, cfg *config.Config) (backtestParams, error) {
	params := backtestParams{
		interval:   cfg.DefaultInterval,
		leverage:   cfg.Leverage,
		quoteAsset: cfg.QuoteAsset,
	}
	params.entry, _ = cmd.Flags().GetFloat64("entry")
	params.exit, _ = cmd.Flags().GetFloat64("exit")
	params.longOnly, _ = cmd.Flags().GetBool("long-only")

	if file, _ := cmd.Flags().GetString("strategy"); file != "" {
		sf, err := config.LoadStrategyFile(file)
		if err != nil {
			return backtestParams{}, err
		}
		params.symbols = sf.Symbols
		params.interval = sf.Interval
		params.entry = sf.EntryThreshold
		params.exit = sf.ExitThreshold
		params.longOnly = sf.LongOnly
		params.leverage = sf.Leverage
		params.quoteAsset = sf.QuoteAsset
	} else {
		params.symbols, _ = cmd.Flags().GetStringSlice("symbols")
	}

	if interval, _ := cmd.Flags().GetString("interval"); interval != "" {
		params.interval = interval
	}
	if len(params.symbols) < 2 {
		return backtestParams{}, fmt.Errorf("a basket needs at least two symbols")
	}
	return params, nil
}

func parseRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if s, _ := cmd.Flags().GetString("end"); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse end date: %w", err)
		}
		end = parsed
	}

	start := end.AddDate(-2, 0, 0)
	if s, _ := cmd.Flags().GetString("start"); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse start date: %w", err)
		}
		start = parsed
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date must precede end date")
	}
	return start, end, nil
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	params, err := resolveParams(cmd, cfg)
	if err != nil {
		return err
	}
	start, end, err := parseRange(cmd)
	if err != nil {
		return err
	}
	split, _ := cmd.Flags().GetFloat64("split")
	if split <= 0 || split >= 1 {
		return fmt.Errorf("split must be in (0, 1)")
	}
	deposit, _ := cmd.Flags().GetFloat64("deposit")

	binance := exchange.NewBinanceClient(cfg)
	defer binance.Close()

	infos, err := binance.ExchangeInfo(ctx, params.symbols)
	if err != nil {
		return err
	}

	logger.Info("fetching history",
		zap.Strings("symbols", params.symbols),
		zap.String("interval", params.interval),
		zap.Time("start", start),
		zap.Time("end", end))

	series, err := exchange.FetchSeries(ctx, binance, params.symbols, domain.KlineRequest{
		Interval: params.interval,
		Start:    start,
		End:      end,
	})
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	series, length, err := alignSeries(params.symbols, series)
	if err != nil {
		return err
	}

	trainLen := int(float64(length) * split)
	if trainLen < 3 || trainLen >= length {
		return fmt.Errorf("history too short: %d bars with split %.2f", length, split)
	}

	sim, err := backtest.NewSimClient(backtest.SimConfig{
		Symbols:    infos,
		Series:     series,
		StartIndex: trainLen - 1,
		QuoteAsset: params.quoteAsset,
		Deposit:    decimal.NewFromFloat(deposit),
	}, logger)
	if err != nil {
		return err
	}

	pipe, err := wirePipeline(ctx, pipelineConfig{
		cfg:        cfg,
		client:     sim,
		symbols:    infos,
		interval:   params.interval,
		entry:      params.entry,
		exit:       params.exit,
		longOnly:   params.longOnly,
		leverage:   params.leverage,
		quoteAsset: params.quoteAsset,
		session:    domain.SessionBacktest,
		start:      start,
		end:        end,
	})
	if err != nil {
		return err
	}
	defer pipe.store.Close()

	driver := backtest.NewDriver(sim, pipe.eventBus, params.symbols, logger)
	if err := driver.Run(ctx); err != nil {
		return err
	}

	fmt.Println(formatters.FormatSummaryTable(pipe.portfolio.Summarize()))
	fmt.Println(formatters.FormatPositionsTable(pipe.portfolio.ClosedPositions()))
	return nil
}

// alignSeries truncates every series to the shortest common length so the
// price matrix stays rectangular.
func alignSeries(symbols []string, series map[string]domain.PriceSeries) (map[string]domain.PriceSeries, int, error) {
	shortest := -1
	for _, symbol := range symbols {
		s, ok := series[symbol]
		if !ok || s.Len() == 0 {
			return nil, 0, fmt.Errorf("no history returned for %s", symbol)
		}
		if shortest == -1 || s.Len() < shortest {
			shortest = s.Len()
		}
	}

	aligned := make(map[string]domain.PriceSeries, len(series))
	for symbol, s := range series {
		offset := s.Len() - shortest
		aligned[symbol] = domain.PriceSeries{
			Times: s.Times[offset:],
			Close: s.Close[offset:],
		}
	}
	return aligned, shortest, nil
}

// pipelineConfig collects everything needed to assemble the event pipeline.
type pipelineConfig struct {
	cfg        *config.Config
	client     exchange.Client
	symbols    []domain.Symbol
	interval   string
	entry      float64
	exit       float64
	longOnly   bool
	leverage   float64
	quoteAsset string
	session    domain.SessionType
	start      time.Time
	end        time.Time
}

// pipeline bundles the wired components a command interacts with.
type pipeline struct {
	eventBus  *bus.Bus
	portfolio *portfolio.Portfolio
	strategy  *strategy.StatArb
	store     *storage.Store
}

// wirePipeline subscribes every component and announces the session.
func wirePipeline(ctx context.Context, pc pipelineConfig) (*pipeline, error) {
	eventBus := bus.New(logger)

	store, err := storage.Open(pc.cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	info := exchange.NewInfoProvider(pc.client, pc.cfg.PriceCacheTTL, logger)
	names := make([]string, 0, len(pc.symbols))
	for _, symbol := range pc.symbols {
		names = append(names, symbol.Name)
	}
	if err := info.Warm(ctx, names); err != nil {
		store.Close()
		return nil, err
	}

	strat := strategy.NewStatArb(strategy.Config{
		Interval:       pc.interval,
		EntryThreshold: pc.entry,
		ExitThreshold:  pc.exit,
		LongOnly:       pc.longOnly,
	}, eventBus, logger)

	port := portfolio.New(portfolio.Config{
		Name:       string(pc.session),
		Leverage:   pc.leverage,
		QuoteAsset: pc.quoteAsset,
	}, pc.client, info, eventBus, logger)
	for _, symbol := range pc.symbols {
		if err := port.AddSymbol(symbol); err != nil {
			store.Close()
			return nil, err
		}
	}

	exec := executor.New(pc.client, eventBus, logger)

	eventBus.Subscribe(bus.KindMarketData, strat.OnMarketData)
	eventBus.Subscribe(bus.KindMarketData, port.OnMarketData)
	eventBus.Subscribe(bus.KindSignal, port.OnSignal)
	eventBus.Subscribe(bus.KindOrderCreated, exec.OnOrderCreated)
	eventBus.Subscribe(bus.KindTransactionClosed, port.OnTransactionClosed)
	eventBus.Subscribe(bus.KindTransactionClosed, strat.OnTransactionClosed)
	eventBus.Subscribe(bus.KindPosition, store.OnPosition)
	eventBus.Subscribe(bus.KindSession, store.OnSession)

	if err := eventBus.Publish(ctx, bus.NewSessionEvent(pc.session, pc.start, pc.end)); err != nil {
		store.Close()
		return nil, err
	}

	return &pipeline{
		eventBus:  eventBus,
		portfolio: port,
		strategy:  strat,
		store:     store,
	}, nil
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/bus"
	"github.com/staarb/staarb/internal/config"
	"github.com/staarb/staarb/internal/domain"
	"github.com/staarb/staarb/internal/exchange"
	"github.com/staarb/staarb/internal/stream"
)

func init() {
	liveCmd.Flags().String("strategy", "", "strategy YAML file")
	liveCmd.Flags().StringSlice("symbols", []string{}, "basket symbols (first is the regressed asset)")
	liveCmd.Flags().String("interval", "", "bar interval (default from config)")
	liveCmd.Flags().Int("warmup", 500, "bars of history to fit the model on")
	liveCmd.Flags().Float64("entry", 1.0, "z-score entry threshold")
	liveCmd.Flags().Float64("exit", 0.0, "z-score exit threshold")
	liveCmd.Flags().Bool("long-only", false, "suppress short entries")

	rootCmd.AddCommand(liveCmd)
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Trade the strategy against the live exchange",
	Long: `Fits the model on recent history, then consumes the exchange's
kline stream and runs the full pipeline on every closed bar. Orders are
submitted to the real margin account.`,
	RunE: runLive,
}

func runLive(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	params, err := resolveParams(cmd, cfg)
	if err != nil {
		return err
	}
	warmup, _ := cmd.Flags().GetInt("warmup")
	if warmup < 3 {
		return fmt.Errorf("warmup must be at least 3 bars")
	}

	binance := exchange.NewBinanceClient(cfg)
	defer binance.Close()

	infos, err := binance.ExchangeInfo(ctx, params.symbols)
	if err != nil {
		return err
	}

	series, err := exchange.FetchSeries(ctx, binance, params.symbols, domain.KlineRequest{
		Interval: params.interval,
		Limit:    warmup,
	})
	if err != nil {
		return fmt.Errorf("fetch warmup history: %w", err)
	}
	series, _, err = alignSeries(params.symbols, series)
	if err != nil {
		return err
	}

	pipe, err := wirePipeline(ctx, pipelineConfig{
		cfg:        cfg,
		client:     binance,
		symbols:    infos,
		interval:   params.interval,
		entry:      params.entry,
		exit:       params.exit,
		longOnly:   params.longOnly,
		leverage:   params.leverage,
		quoteAsset: params.quoteAsset,
		session:    domain.SessionLive,
		start:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	defer pipe.store.Close()

	// Warm-up tick fits the model before any live bar arrives.
	if err := pipe.eventBus.Publish(ctx, bus.NewMarketDataEvent(params.symbols, series)); err != nil {
		return err
	}

	collector := newBarCollector(params.symbols, series)
	klines := stream.New(cfg.BinanceStreamURL, params.symbols, params.interval,
		cfg.StreamReconnectWait, logger)

	logger.Info("live trading started",
		zap.Strings("symbols", params.symbols),
		zap.String("interval", params.interval))

	return klines.Run(ctx, func(ctx context.Context, bar stream.Bar) error {
		window, complete := collector.add(bar)
		if !complete {
			return nil
		}
		return pipe.eventBus.Publish(ctx, bus.NewMarketDataEvent(params.symbols, window))
	})
}

// barCollector groups streamed bars by open time and extends the rolling
// history once every basket symbol has reported the same bar.
type barCollector struct {
	symbols []string
	series  map[string]domain.PriceSeries
	pending map[time.Time]map[string]float64
}

func newBarCollector(symbols []string, series map[string]domain.PriceSeries) *barCollector {
	return &barCollector{
		symbols: symbols,
		series:  series,
		pending: make(map[time.Time]map[string]float64),
	}
}

// add records one bar. It returns the extended window and true once the
// bar's open time is complete across the basket.
func (c *barCollector) add(bar stream.Bar) (map[string]domain.PriceSeries, bool) {
	bucket, ok := c.pending[bar.OpenTime]
	if !ok {
		bucket = make(map[string]float64, len(c.symbols))
		c.pending[bar.OpenTime] = bucket
	}
	bucket[bar.Symbol] = bar.Close
	if len(bucket) < len(c.symbols) {
		return nil, false
	}
	delete(c.pending, bar.OpenTime)

	for _, symbol := range c.symbols {
		prev := c.series[symbol]
		c.series[symbol] = domain.PriceSeries{
			Times: append(prev.Times, bar.OpenTime),
			Close: append(prev.Close, bucket[symbol]),
		}
	}
	return c.series, true
}

package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/bus"
	"github.com/staarb/staarb/internal/domain"
)

// StatArb orchestrates the signal model and the signal generator. It fits
// the model once on the first market-data event, then converts every
// subsequent price window into a z-score and publishes the resulting
// decision as a SignalEvent.
type StatArb struct {
	model     SignalModel
	generator *BollingerBand
	eventBus  *bus.Bus
	logger    *zap.Logger
	interval  string

	// mu keeps at most one signal generation logically in flight.
	mu      sync.Mutex
	fitted  bool
	current domain.Decision
}

// Config holds the strategy parameters.
type Config struct {
	Interval       string
	EntryThreshold float64
	ExitThreshold  float64
	LongOnly       bool

	// Optional pre-fitted basket for resuming live sessions.
	HedgeRatio     domain.HedgeRatio
	HalfLifeWindow int
}

// NewStatArb builds the strategy with a cointegration model and a
// Bollinger-band generator.
func NewStatArb(cfg Config, eventBus *bus.Bus, logger *zap.Logger) *StatArb {
	return &StatArb{
		model:     NewCointegrationModel(cfg.HedgeRatio, cfg.HalfLifeWindow),
		generator: NewBollingerBand(cfg.EntryThreshold, cfg.ExitThreshold, cfg.LongOnly),
		eventBus:  eventBus,
		logger:    logger.With(zap.String("component", "strategy")),
		interval:  cfg.Interval,
		current:   domain.DecisionHold,
	}
}

// Interval returns the bar interval the strategy runs on.
func (s *StatArb) Interval() string {
	return s.interval
}

// LookbackWindow returns the fitted half-life window in bars.
func (s *StatArb) LookbackWindow() int {
	return s.model.LookbackWindow()
}

// IsFitted reports whether the model warm-up has happened.
func (s *StatArb) IsFitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fitted
}

// CurrentSignal returns the last emitted decision.
func (s *StatArb) CurrentSignal() domain.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Fit estimates the hedge model from the given training window. Later
// market-data events leave the model fixed.
func (s *StatArb) Fit(symbols []string, data map[string]domain.PriceSeries) error {
	matrix, err := priceMatrix(symbols, data)
	if err != nil {
		return err
	}
	if err := s.model.Fit(matrix, symbols); err != nil {
		return fmt.Errorf("fit signal model: %w", err)
	}

	s.mu.Lock()
	s.fitted = true
	s.mu.Unlock()

	hr, _ := s.model.HedgeRatio()
	fields := []zap.Field{zap.Int("half_life_window", s.model.LookbackWindow())}
	for _, sh := range hr {
		fields = append(fields, zap.Float64("hedge_"+sh.Symbol, sh.HedgeRatio))
	}
	s.logger.Info("signal model fitted", fields...)
	return nil
}

// OnMarketData handles a market-data event: one-time warm-up fit on the
// full payload, then signal generation.
func (s *StatArb) OnMarketData(ctx context.Context, ev bus.Event) error {
	mde, ok := ev.(bus.MarketDataEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on market data handler", ev)
	}
	if !s.IsFitted() {
		if err := s.Fit(mde.Symbols, mde.Data); err != nil {
			return err
		}
	}
	return s.generateSignal(ctx, mde)
}

// OnTransactionClosed feeds the last emitted decision into the generator's
// confirmed position state once fills are acknowledged.
func (s *StatArb) OnTransactionClosed(_ context.Context, ev bus.Event) error {
	if _, ok := ev.(bus.TransactionClosedEvent); !ok {
		return fmt.Errorf("unexpected event %T on transaction handler", ev)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generator.UpdatePosition(s.current)
	return nil
}

func (s *StatArb) generateSignal(ctx context.Context, mde bus.MarketDataEvent) error {
	ev, err := s.decide(mde)
	if err != nil {
		return err
	}
	// Publishing cascades back into OnTransactionClosed, so the lock must
	// not be held across the publish.
	return s.eventBus.Publish(ctx, ev)
}

// decide computes the decision for one market window under the lock.
func (s *StatArb) decide(mde bus.MarketDataEvent) (bus.SignalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matrix, err := priceMatrix(mde.Symbols, mde.Data)
	if err != nil {
		return bus.SignalEvent{}, err
	}
	zscore, err := s.model.Estimate(matrix)
	if err != nil {
		return bus.SignalEvent{}, fmt.Errorf("estimate z-score: %w", err)
	}

	signal := s.generator.GenerateSignal(zscore)
	hedgeRatio, err := s.model.HedgeRatio()
	if err != nil {
		return bus.SignalEvent{}, err
	}

	prices := make(map[string]decimal.Decimal, len(mde.Symbols))
	for _, symbol := range mde.Symbols {
		prices[symbol] = decimal.NewFromFloat(mde.Data[symbol].Last())
	}

	s.current = signal
	if signal != domain.DecisionHold {
		s.logger.Info("signal generated",
			zap.String("signal", string(signal)),
			zap.Float64("zscore", zscore))
	}
	return bus.NewSignalEvent(signal, hedgeRatio, prices), nil
}

// priceMatrix assembles the (assets, samples) matrix in basket order.
func priceMatrix(symbols []string, data map[string]domain.PriceSeries) ([][]float64, error) {
	matrix := make([][]float64, len(symbols))
	for i, symbol := range symbols {
		series, ok := data[symbol]
		if !ok {
			return nil, fmt.Errorf("market data is missing series for %s", symbol)
		}
		matrix[i] = series.Close
	}
	return matrix, nil
}

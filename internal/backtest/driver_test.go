package backtest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/bus"
	"github.com/staarb/staarb/internal/domain"
)

func driverSim(t *testing.T) *SimClient {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := domain.PriceSeries{
		Times: []time.Time{base, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2)},
		Close: []float64{100, 110, 120},
	}
	sim, err := NewSimClient(SimConfig{
		Symbols:    []domain.Symbol{simSymbol()},
		Series:     map[string]domain.PriceSeries{"AUSDC": series},
		StartIndex: 1,
		QuoteAsset: "USDC",
		Deposit:    decimal.NewFromInt(1000),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new sim: %v", err)
	}
	return sim
}

func TestDriverReplaysEveryBar(t *testing.T) {
	sim := driverSim(t)
	eventBus := bus.New(zap.NewNop())

	var windows []int
	eventBus.Subscribe(bus.KindMarketData, func(_ context.Context, ev bus.Event) error {
		mde := ev.(bus.MarketDataEvent)
		windows = append(windows, mde.Data["AUSDC"].Len())
		return nil
	})

	driver := NewDriver(sim, eventBus, []string{"AUSDC"}, zap.NewNop())
	if err := driver.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The first tick carries the warm-up prefix, the last the full history.
	if len(windows) != 2 || windows[0] != 2 || windows[1] != 3 {
		t.Fatalf("window lengths = %v, want [2 3]", windows)
	}
}

func TestDriverStopsOnHandlerError(t *testing.T) {
	sim := driverSim(t)
	eventBus := bus.New(zap.NewNop())

	failure := errors.New("pipeline stalled")
	eventBus.Subscribe(bus.KindMarketData, func(context.Context, bus.Event) error {
		return failure
	})

	driver := NewDriver(sim, eventBus, []string{"AUSDC"}, zap.NewNop())
	err := driver.Run(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("expected the handler failure to propagate, got %v", err)
	}
	if !strings.Contains(err.Error(), "2024-01-02") {
		t.Fatalf("error must name the failing bar, got %q", err)
	}
}

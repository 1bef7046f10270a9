package backtest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/bus"
)

// Driver replays the simulator's history through the bus one bar at a
// time. Each tick publishes the full price window up to the current bar
// and waits for the whole pipeline to settle before advancing, so the
// replay preserves live-mode event ordering.
type Driver struct {
	sim      *SimClient
	eventBus *bus.Bus
	symbols  []string
	logger   *zap.Logger
}

// NewDriver creates a replay driver over a simulator.
func NewDriver(sim *SimClient, eventBus *bus.Bus, symbols []string, logger *zap.Logger) *Driver {
	return &Driver{
		sim:      sim,
		eventBus: eventBus,
		symbols:  symbols,
		logger:   logger.With(zap.String("component", "backtest_driver")),
	}
}

// Run replays every remaining bar. The first tick carries the warm-up
// window the strategy fits on.
func (d *Driver) Run(ctx context.Context) error {
	bars := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev := bus.NewMarketDataEvent(d.symbols, d.sim.Window())
		if err := d.eventBus.Publish(ctx, ev); err != nil {
			return fmt.Errorf("replay bar %s: %w", d.sim.CurrentTime(), err)
		}
		bars++

		if !d.sim.Advance() {
			break
		}
	}

	d.logger.Info("replay finished", zap.Int("bars", bars))
	return nil
}

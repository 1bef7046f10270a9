package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/bus"
	"github.com/staarb/staarb/internal/domain"
	"github.com/staarb/staarb/internal/exchange"
)

// epsilon guards the sizing division when hedge weights net toward zero.
const epsilon = 1e-12

// Portfolio owns symbol membership, account sizing, order construction and
// position bookkeeping. At most one open position exists per symbol; closed
// positions accumulate in an append-only history.
type Portfolio struct {
	name       string
	leverage   float64
	quoteAsset string

	client   exchange.Client
	info     *exchange.InfoProvider
	eventBus *bus.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	symbols map[string]domain.Symbol
	open    map[string]*Position
	closed  map[string][]*Position

	accountSize decimal.Decimal
	accountSet  bool
	// accountReady is refreshed on every balance update so sizing can wait
	// for a balance no older than the latest market tick.
	accountReady chan struct{}
}

// Config holds the portfolio parameters.
type Config struct {
	Name       string
	Leverage   float64
	QuoteAsset string
}

// New creates an empty portfolio.
func New(cfg Config, client exchange.Client, info *exchange.InfoProvider, eventBus *bus.Bus, logger *zap.Logger) *Portfolio {
	return &Portfolio{
		name:         cfg.Name,
		leverage:     cfg.Leverage,
		quoteAsset:   cfg.QuoteAsset,
		client:       client,
		info:         info,
		eventBus:     eventBus,
		logger:       logger.With(zap.String("component", "portfolio")),
		symbols:      make(map[string]domain.Symbol),
		open:         make(map[string]*Position),
		closed:       make(map[string][]*Position),
		accountReady: make(chan struct{}, 1),
	}
}

// Name returns the portfolio name.
func (p *Portfolio) Name() string { return p.name }

// AddSymbol registers a tracked symbol. Symbols are compared by name and
// duplicates are rejected.
func (p *Portfolio) AddSymbol(symbol domain.Symbol) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.symbols[symbol.Name]; exists {
		return fmt.Errorf("symbol %s is already in portfolio %s", symbol, p.name)
	}
	p.symbols[symbol.Name] = symbol
	return nil
}

// Symbol returns a tracked symbol's metadata.
func (p *Portfolio) Symbol(name string) (domain.Symbol, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.symbols[name]
	return s, ok
}

// OnMarketData refreshes the account size from the exchange's quote-asset
// free balance and signals waiting sizing calls.
func (p *Portfolio) OnMarketData(ctx context.Context, ev bus.Event) error {
	if _, ok := ev.(bus.MarketDataEvent); !ok {
		return fmt.Errorf("unexpected event %T on market data handler", ev)
	}

	balances, err := p.client.MarginBalances(ctx)
	if err != nil {
		return fmt.Errorf("refresh account size: %w", err)
	}

	free := decimal.Zero
	for _, b := range balances {
		if b.Asset == p.quoteAsset {
			free = b.Free
			break
		}
	}

	p.mu.Lock()
	p.accountSize = free
	p.accountSet = true
	p.mu.Unlock()

	// Replace any unconsumed token so waiters always observe the freshest
	// balance.
	select {
	case <-p.accountReady:
	default:
	}
	p.accountReady <- struct{}{}

	p.logger.Debug("account size updated", zap.String("free", free.String()))
	return nil
}

// OnSignal converts a signal event into a filtered order batch.
func (p *Portfolio) OnSignal(ctx context.Context, ev bus.Event) error {
	se, ok := ev.(bus.SignalEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on signal handler", ev)
	}
	return p.PublishOrders(ctx, se)
}

// PublishOrders builds, sizes and filters orders for a signal. A HOLD is a
// no-op. An EXIT closes every open position. LONG and SHORT open one leg
// per hedge-ratio entry. Any leg failing an exchange constraint abandons
// the whole batch; a partial multi-leg submission would break the hedge.
func (p *Portfolio) PublishOrders(ctx context.Context, se bus.SignalEvent) error {
	var orders []domain.Order
	var err error

	switch se.Signal {
	case domain.DecisionHold:
		return nil
	case domain.DecisionExit:
		orders = p.closingOrders()
	case domain.DecisionLong, domain.DecisionShort:
		orders, err = p.entryOrders(ctx, se)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown signal %q", se.Signal)
	}

	if len(orders) == 0 {
		return nil
	}

	filtered, err := p.filterAll(ctx, orders)
	if err != nil {
		var ce *domain.ConstraintError
		if errors.As(err, &ce) {
			p.logger.Warn("order batch abandoned",
				zap.String("signal", string(se.Signal)),
				zap.String("symbol", ce.Symbol),
				zap.String("constraint", string(ce.Kind)))
			return nil
		}
		return err
	}

	return p.eventBus.Publish(ctx, bus.NewOrderCreatedEvent(filtered))
}

// closingOrders builds one order per open position reversing its size.
func (p *Portfolio) closingOrders() []domain.Order {
	p.mu.Lock()
	defer p.mu.Unlock()

	orders := make([]domain.Order, 0, len(p.open))
	for _, pos := range p.open {
		side := domain.Sell
		if pos.Size().IsNegative() {
			side = domain.Buy
		}
		orders = append(orders, domain.NewMarketOrder(pos.Symbol(), pos.Size().Abs(), side))
	}
	return orders
}

// entryOrders builds one sized order per hedge-ratio leg.
func (p *Portfolio) entryOrders(ctx context.Context, se bus.SignalEvent) ([]domain.Order, error) {
	total, err := p.leverageSizing(ctx, se)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(se.HedgeRatio))
	for _, leg := range se.HedgeRatio {
		if leg.HedgeRatio == 0 {
			return nil, fmt.Errorf("hedge ratio for %s is zero", leg.Symbol)
		}

		side, err := orderSide(leg.HedgeRatio, se.Signal)
		if err != nil {
			return nil, err
		}

		symbol, ok := p.Symbol(leg.Symbol)
		if !ok {
			return nil, fmt.Errorf("symbol %s is not in portfolio %s", leg.Symbol, p.name)
		}

		// The sizing total already folds prices in through the hedge
		// weights, so scaling by the ratio yields a base quantity.
		quantity := decimal.NewFromFloat(total * absFloat(leg.HedgeRatio))
		orders = append(orders, domain.NewMarketOrder(symbol, quantity, side))
	}
	return orders, nil
}

// orderSide maps a leg's hedge-ratio sign and the decision to a side. A
// positive ratio trades with the signal, a negative ratio against it.
func orderSide(ratio float64, signal domain.Decision) (domain.OrderSide, error) {
	positive := ratio > 0
	switch signal {
	case domain.DecisionLong:
		if positive {
			return domain.Buy, nil
		}
		return domain.Sell, nil
	case domain.DecisionShort:
		if positive {
			return domain.Sell, nil
		}
		return domain.Buy, nil
	}
	return "", fmt.Errorf("no order side for signal %q", signal)
}

// leverageSizing converts the account size into the notional available per
// unit of hedge weight. Positive and negative legs are summed separately
// so opposite-signed ratios cannot cancel each other's exposure.
func (p *Portfolio) leverageSizing(ctx context.Context, se bus.SignalEvent) (float64, error) {
	var posWeight, negWeight float64
	for _, leg := range se.HedgeRatio {
		price, ok := se.Prices[leg.Symbol]
		if !ok {
			return 0, fmt.Errorf("signal carries no price for %s", leg.Symbol)
		}
		weight := price.InexactFloat64() * leg.HedgeRatio
		if weight >= 0 {
			posWeight += weight
		} else {
			negWeight += -weight
		}
	}

	select {
	case <-p.accountReady:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	p.mu.Lock()
	accountSet := p.accountSet
	account := p.accountSize.InexactFloat64()
	p.mu.Unlock()
	if !accountSet {
		return 0, fmt.Errorf("account size has not been established")
	}

	leveraged := account * (p.leverage + 1)
	return leveraged / (posWeight + negWeight + epsilon), nil
}

// filterAll filters every order concurrently and keeps input order in the
// result. The first error wins after all filters settle.
func (p *Portfolio) filterAll(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	type result struct {
		index int
		order domain.Order
		err   error
	}
	results := make(chan result, len(orders))
	for i, order := range orders {
		go func(idx int, o domain.Order) {
			filtered, err := p.FilterOrder(ctx, o)
			results <- result{index: idx, order: filtered, err: err}
		}(i, order)
	}

	filtered := make([]domain.Order, len(orders))
	var firstErr error
	for range orders {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		filtered[r.index] = r.order
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return filtered, nil
}

// FilterOrder validates an order against the symbol's exchange rules.
// Quantity and price are rounded down to their steps; rounding up could
// exceed the account's purchasing power.
func (p *Portfolio) FilterOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	symbol, ok := p.Symbol(order.Symbol.Name)
	if !ok {
		return domain.Order{}, fmt.Errorf("symbol %s is not in portfolio %s", order.Symbol, p.name)
	}
	order.Symbol = symbol

	order.Quantity = domain.RoundStep(order.Quantity, symbol.Filters.LotSize.StepSize)
	if order.Price != nil {
		rounded := domain.RoundStep(*order.Price, symbol.Filters.Price.TickSize)
		order.Price = &rounded
	}

	if order.Quantity.LessThan(symbol.Filters.LotSize.MinQty) {
		return domain.Order{}, &domain.ConstraintError{
			Kind:   domain.ConstraintMinQty,
			Symbol: symbol.Name,
			Detail: fmt.Sprintf("quantity %s below minimum %s",
				order.Quantity, symbol.Filters.LotSize.MinQty),
		}
	}

	price := decimal.Zero
	if order.Price != nil {
		price = *order.Price
	} else {
		avg, err := p.info.AvgPrice(ctx, symbol.Name)
		if err != nil {
			return domain.Order{}, fmt.Errorf("fetch average price for %s: %w", symbol, err)
		}
		price = avg
	}

	notional := price.Mul(order.Quantity)
	if notional.LessThan(symbol.Filters.Notional.MinNotional) {
		return domain.Order{}, &domain.ConstraintError{
			Kind:   domain.ConstraintMinNotional,
			Symbol: symbol.Name,
			Detail: fmt.Sprintf("notional %s below minimum %s",
				notional, symbol.Filters.Notional.MinNotional),
		}
	}

	return order, nil
}

// OnTransactionClosed routes a confirmed transaction to its symbol's open
// position, creating one when absent, and publishes the resulting snapshot.
func (p *Portfolio) OnTransactionClosed(ctx context.Context, ev bus.Event) error {
	tce, ok := ev.(bus.TransactionClosedEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on transaction handler", ev)
	}

	name := tce.Transaction.Order.Symbol.Name

	p.mu.Lock()
	pos, exists := p.open[name]
	if !exists {
		pos = NewPosition(tce.Transaction.Order.Symbol)
		p.open[name] = pos
	}
	if err := pos.Update(tce.Transaction, tce.Direction); err != nil {
		p.mu.Unlock()
		return err
	}
	if pos.IsClosed() {
		delete(p.open, name)
		p.closed[name] = append(p.closed[name], pos)
	}
	snapshot := pos.Snapshot()
	p.mu.Unlock()

	if err := p.eventBus.Publish(ctx, bus.NewPositionEvent(snapshot)); err != nil {
		return err
	}

	p.mu.Lock()
	pos.MarkSaved()
	p.mu.Unlock()

	if pos.IsClosed() {
		p.logger.Info("position closed",
			zap.String("symbol", name),
			zap.String("pnl", snapshot.PnL.String()))
	}
	return nil
}

// OpenPositions returns a copy of the open-position map.
func (p *Portfolio) OpenPositions() map[string]*Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*Position, len(p.open))
	for name, pos := range p.open {
		out[name] = pos
	}
	return out
}

// ClosedPositions returns a copy of the closed-position history.
func (p *Portfolio) ClosedPositions() map[string][]*Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]*Position, len(p.closed))
	for name, history := range p.closed {
		copied := make([]*Position, len(history))
		copy(copied, history)
		out[name] = copied
	}
	return out
}

// Summary aggregates realized results over all closed positions.
type Summary struct {
	TotalPnL decimal.Decimal
	Trades   int
	Wins     int
	Losses   int
	WinRate  float64
}

// Summarize computes the realized trading summary.
func (p *Portfolio) Summarize() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	summary := Summary{TotalPnL: decimal.Zero}
	for _, history := range p.closed {
		for _, pos := range history {
			summary.Trades++
			summary.TotalPnL = summary.TotalPnL.Add(pos.PnL())
			// Flat trades count toward neither side.
			switch {
			case pos.PnL().IsPositive():
				summary.Wins++
			case pos.PnL().IsNegative():
				summary.Losses++
			}
		}
	}
	if summary.Trades > 0 {
		summary.WinRate = float64(summary.Wins) / float64(summary.Trades)
	}
	return summary
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/domain"
	"github.com/staarb/staarb/internal/exchange"
)

// simBalance models one asset in a margin account. Paying beyond the free
// balance borrows the shortfall; gains repay outstanding debt first.
type simBalance struct {
	free     decimal.Decimal
	borrowed decimal.Decimal
}

func (b *simBalance) pay(amount decimal.Decimal) {
	if b.free.GreaterThanOrEqual(amount) {
		b.free = b.free.Sub(amount)
		return
	}
	b.borrowed = b.borrowed.Add(amount.Sub(b.free))
	b.free = decimal.Zero
}

func (b *simBalance) gain(amount decimal.Decimal) {
	repay := decimal.Min(b.borrowed, amount)
	b.borrowed = b.borrowed.Sub(repay)
	b.free = b.free.Add(amount.Sub(repay))
}

// SimClient is an exchange.Client backed by preloaded price history. It
// fills market orders at the current bar's close with fixed slippage and
// commission and simulates auto-borrow margin balances.
type SimClient struct {
	mu       sync.Mutex
	symbols  map[string]domain.Symbol
	series   map[string]domain.PriceSeries
	cursor   int
	length   int
	balances map[string]*simBalance
	logger   *zap.Logger

	slippage   decimal.Decimal
	commission decimal.Decimal
}

// SimConfig seeds the simulator.
type SimConfig struct {
	Symbols    []domain.Symbol
	Series     map[string]domain.PriceSeries
	StartIndex int
	QuoteAsset string
	Deposit    decimal.Decimal
	// Slippage and Commission are fractional rates; zero values fall back
	// to 0.1% each.
	Slippage   decimal.Decimal
	Commission decimal.Decimal
}

// NewSimClient validates the preloaded history and creates the simulator.
func NewSimClient(cfg SimConfig, logger *zap.Logger) (*SimClient, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("simulator needs at least one symbol")
	}

	length := -1
	symbols := make(map[string]domain.Symbol, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		series, ok := cfg.Series[symbol.Name]
		if !ok || series.Len() == 0 {
			return nil, fmt.Errorf("no price history for %s", symbol)
		}
		if length == -1 {
			length = series.Len()
		} else if series.Len() != length {
			return nil, fmt.Errorf("price history lengths differ for %s", symbol)
		}
		symbols[symbol.Name] = symbol
	}
	if cfg.StartIndex < 0 || cfg.StartIndex >= length {
		return nil, fmt.Errorf("start index %d out of range [0, %d)", cfg.StartIndex, length)
	}

	slippage := cfg.Slippage
	if slippage.IsZero() {
		slippage = decimal.NewFromFloat(0.001)
	}
	commission := cfg.Commission
	if commission.IsZero() {
		commission = decimal.NewFromFloat(0.001)
	}

	balances := map[string]*simBalance{
		cfg.QuoteAsset: {free: cfg.Deposit, borrowed: decimal.Zero},
	}
	for _, symbol := range cfg.Symbols {
		if _, ok := balances[symbol.BaseAsset]; !ok {
			balances[symbol.BaseAsset] = &simBalance{free: decimal.Zero, borrowed: decimal.Zero}
		}
	}

	return &SimClient{
		symbols:    symbols,
		series:     cfg.Series,
		cursor:     cfg.StartIndex,
		length:     length,
		balances:   balances,
		logger:     logger.With(zap.String("component", "sim_exchange")),
		slippage:   slippage,
		commission: commission,
	}, nil
}

// Advance moves to the next bar. It returns false once history runs out.
func (s *SimClient) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor+1 >= s.length {
		return false
	}
	s.cursor++
	return true
}

// CurrentTime returns the timestamp of the current bar.
func (s *SimClient) CurrentTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, series := range s.series {
		return series.Times[s.cursor]
	}
	return time.Time{}
}

// Window returns each symbol's history up to and including the current bar.
func (s *SimClient) Window() map[string]domain.PriceSeries {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.PriceSeries, len(s.series))
	for name, series := range s.series {
		out[name] = domain.PriceSeries{
			Times: series.Times[:s.cursor+1],
			Close: series.Close[:s.cursor+1],
		}
	}
	return out
}

func (s *SimClient) currentClose(symbol string) (decimal.Decimal, error) {
	series, ok := s.series[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price history for %s", symbol)
	}
	return decimal.NewFromFloat(series.Close[s.cursor]), nil
}

// ExchangeInfo returns the preloaded metadata for the requested symbols.
func (s *SimClient) ExchangeInfo(_ context.Context, names []string) ([]domain.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Symbol, 0, len(names))
	for _, name := range names {
		symbol, ok := s.symbols[name]
		if !ok {
			return nil, fmt.Errorf("unknown symbol %s", name)
		}
		out = append(out, symbol)
	}
	return out, nil
}

// Klines serves the preloaded history up to the current bar.
func (s *SimClient) Klines(_ context.Context, symbol string, req domain.KlineRequest) (domain.PriceSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.series[symbol]
	if !ok {
		return domain.PriceSeries{}, fmt.Errorf("no price history for %s", symbol)
	}
	end := s.cursor + 1
	start := 0
	if req.Limit > 0 && end-req.Limit > 0 {
		start = end - req.Limit
	}
	return domain.PriceSeries{
		Times: series.Times[start:end],
		Close: series.Close[start:end],
	}, nil
}

// CreateMarginOrder fills a market order at the current close adjusted for
// slippage. Buys are charged commission in the base asset, sells in the
// quote asset.
func (s *SimClient) CreateMarginOrder(_ context.Context, order domain.Order) (*exchange.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol, ok := s.symbols[order.Symbol.Name]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", order.Symbol)
	}
	if order.Quantity.IsZero() || order.Quantity.IsNegative() {
		return nil, fmt.Errorf("invalid order quantity %s for %s", order.Quantity, symbol)
	}

	closePrice, err := s.currentClose(symbol.Name)
	if err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	var fillPrice, commission decimal.Decimal
	var commissionAsset string
	notional := decimal.Zero

	base := s.balances[symbol.BaseAsset]
	quote, ok := s.balances[symbol.QuoteAsset]
	if !ok {
		quote = &simBalance{free: decimal.Zero, borrowed: decimal.Zero}
		s.balances[symbol.QuoteAsset] = quote
	}

	switch order.Side {
	case domain.Buy:
		fillPrice = closePrice.Mul(one.Add(s.slippage))
		notional = fillPrice.Mul(order.Quantity)
		commission = order.Quantity.Mul(s.commission)
		commissionAsset = symbol.BaseAsset
		quote.pay(notional)
		base.gain(order.Quantity.Sub(commission))
	case domain.Sell:
		fillPrice = closePrice.Mul(one.Sub(s.slippage))
		notional = fillPrice.Mul(order.Quantity)
		commission = notional.Mul(s.commission)
		commissionAsset = symbol.QuoteAsset
		base.pay(order.Quantity)
		quote.gain(notional.Sub(commission))
	default:
		return nil, fmt.Errorf("unknown order side %q", order.Side)
	}

	s.logger.Debug("simulated fill",
		zap.String("symbol", symbol.Name),
		zap.String("side", string(order.Side)),
		zap.String("price", fillPrice.String()),
		zap.String("quantity", order.Quantity.String()))

	return &exchange.OrderResponse{
		Symbol:       symbol.Name,
		OrderID:      int64(s.cursor),
		TransactTime: s.series[symbol.Name].Times[s.cursor],
		Status:       "FILLED",
		Fills: []exchange.FillData{{
			Price:           fillPrice,
			Quantity:        order.Quantity,
			Commission:      commission,
			CommissionAsset: commissionAsset,
		}},
	}, nil
}

// MarginBalances returns a snapshot of the simulated account.
func (s *SimClient) MarginBalances(_ context.Context) ([]exchange.AssetBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]exchange.AssetBalance, 0, len(s.balances))
	for asset, balance := range s.balances {
		out = append(out, exchange.AssetBalance{
			Asset:    asset,
			Free:     balance.free,
			Locked:   decimal.Zero,
			Borrowed: balance.borrowed,
			Interest: decimal.Zero,
		})
	}
	return out, nil
}

// AvgPrice returns the current bar's close.
func (s *SimClient) AvgPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentClose(symbol)
}

// Close is a no-op for the simulator.
func (s *SimClient) Close() error { return nil }

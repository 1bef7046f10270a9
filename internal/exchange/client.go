package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/staarb/staarb/internal/domain"
)

// FillData is one raw execution reported by the exchange.
type FillData struct {
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
}

// OrderResponse is the exchange's answer to an order submission.
type OrderResponse struct {
	Symbol       string
	OrderID      int64
	TransactTime time.Time
	Status       string
	Fills        []FillData
}

// AssetBalance is one asset's margin-account balance.
type AssetBalance struct {
	Asset    string
	Free     decimal.Decimal
	Locked   decimal.Decimal
	Borrowed decimal.Decimal
	// Interest is reserved; the engine never accrues it.
	Interest decimal.Decimal
}

// Client is the opaque exchange capability the engine consumes: historical
// bars, margin orders, balances and average prices. Implementations are the
// Binance REST client and the backtest simulator.
type Client interface {
	ExchangeInfo(ctx context.Context, symbols []string) ([]domain.Symbol, error)
	Klines(ctx context.Context, symbol string, req domain.KlineRequest) (domain.PriceSeries, error)
	CreateMarginOrder(ctx context.Context, order domain.Order) (*OrderResponse, error)
	MarginBalances(ctx context.Context) ([]AssetBalance, error)
	AvgPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Close() error
}

// FetchSeries loads one series per symbol concurrently and returns them
// keyed by symbol name.
func FetchSeries(ctx context.Context, client Client, symbols []string, req domain.KlineRequest) (map[string]domain.PriceSeries, error) {
	type result struct {
		symbol string
		series domain.PriceSeries
		err    error
	}
	results := make(chan result, len(symbols))
	for _, symbol := range symbols {
		go func(sym string) {
			series, err := client.Klines(ctx, sym, req)
			results <- result{symbol: sym, series: series, err: err}
		}(symbol)
	}

	out := make(map[string]domain.PriceSeries, len(symbols))
	var firstErr error
	for range symbols {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		out[r.symbol] = r.series
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
